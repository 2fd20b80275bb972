package capture

import (
	"errors"
	"sync"

	"github.com/MrWong99/meetagent/pkg/audio"
)

// FakeDevice is an in-memory Device. Emit delivers blocks as if they came
// from hardware. It is used in tests.
type FakeDevice struct {
	Rate     int
	StartErr error

	mu      sync.Mutex
	onBlock func(audio.Buffer)
	starts  int
	stops   int
}

var _ Device = (*FakeDevice)(nil)

// Start implements Device.
func (f *FakeDevice) Start(onBlock func(audio.Buffer)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	if f.onBlock != nil {
		return errors.New("capture: fake device already started")
	}
	f.onBlock = onBlock
	f.starts++
	return nil
}

// Stop implements Device.
func (f *FakeDevice) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onBlock = nil
	f.stops++
	return nil
}

// SampleRate implements Device.
func (f *FakeDevice) SampleRate() int {
	if f.Rate == 0 {
		return 16000
	}
	return f.Rate
}

// Emit delivers b to the registered callback. It reports false if the
// device is not started.
func (f *FakeDevice) Emit(b audio.Buffer) bool {
	f.mu.Lock()
	fn := f.onBlock
	f.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(b)
	return true
}

// Counts returns how many times Start and Stop succeeded.
func (f *FakeDevice) Counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops
}
