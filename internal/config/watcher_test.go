package config_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/meetagent/internal/config"
)

const watcherUpdatedYAML = minimalYAML + `
server:
  log_level: debug
agent:
  name: Nova
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	// Explicit mtimes keep the test independent of filesystem timestamp
	// granularity.
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

type changeRecorder struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
}

func (r *changeRecorder) record(_, _ *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diffs = append(r.diffs, d)
}

func (r *changeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diffs)
}

func (r *changeRecorder) last() config.ConfigDiff {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.diffs[len(r.diffs)-1]
}

func startWatcher(t *testing.T, path string, rec *changeRecorder) *config.Watcher {
	t.Helper()
	w, err := config.NewWatcher(path, rec.record, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, minimalYAML, time.Now())

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if cfg := w.Current(); cfg == nil || cfg.Server.LogLevel != config.LogInfo {
		t.Fatalf("Current = %+v", cfg)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherInvalidYAML, time.Now())
	if _, err := config.NewWatcher(path, nil); err == nil || !strings.Contains(err.Error(), "initial load") {
		t.Fatalf("err = %v, want initial load failure", err)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	start := time.Now().Add(-time.Hour)
	writeFile(t, path, minimalYAML, start)

	rec := &changeRecorder{}
	w := startWatcher(t, path, rec)

	writeFile(t, path, watcherUpdatedYAML, start.Add(time.Minute))
	waitUntil(t, func() bool { return rec.count() == 1 })

	d := rec.last()
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.AgentNameChanged || d.NewAgentName != "Nova" {
		t.Errorf("agent name diff = %+v", d)
	}
	if w.Current().Agent.Name != "Nova" {
		t.Errorf("Current not updated: %q", w.Current().Agent.Name)
	}
}

func TestWatcher_IgnoresInvalidAndTouch(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	start := time.Now().Add(-time.Hour)
	writeFile(t, path, minimalYAML, start)

	rec := &changeRecorder{}
	w := startWatcher(t, path, rec)

	// Same content, new mtime.
	writeFile(t, path, minimalYAML, start.Add(time.Minute))
	// Invalid content.
	writeFile(t, path, watcherInvalidYAML, start.Add(2*time.Minute))
	time.Sleep(150 * time.Millisecond)

	if n := rec.count(); n != 0 {
		t.Fatalf("onChange called %d times, want 0", n)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Error("invalid config replaced the current one")
	}

	// A valid edit after the invalid one is still picked up.
	writeFile(t, path, watcherUpdatedYAML, start.Add(3*time.Minute))
	waitUntil(t, func() bool { return rec.count() == 1 })
}
