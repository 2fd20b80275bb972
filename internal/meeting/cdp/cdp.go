// Package cdp implements meeting.Controller by driving a Google Meet tab in
// Chrome over the DevTools protocol.
//
// Chrome must be started with --remote-debugging-port; New takes the HTTP
// endpoint of that port (e.g. http://127.0.0.1:9222). The first page target
// is used, or a new one is opened.
package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/meetagent/internal/meeting"
)

// ErrControlNotFound is returned when no selector matched the wanted control.
var ErrControlNotFound = errors.New("cdp: control not found")

// Platform is reported in meeting.Info.
const Platform = "Google Meet"

const (
	defaultLoadTimeout = 15 * time.Second
	defaultStepDelay   = 2 * time.Second
	defaultChatDelay   = time.Second
	pollInterval       = 100 * time.Millisecond
)

// Option configures a Controller.
type Option func(*Controller)

// WithHTTPClient sets the client used for target discovery.
func WithHTTPClient(c *http.Client) Option {
	return func(ctl *Controller) { ctl.http = c }
}

// WithLoadTimeout bounds the wait for the meeting page to load.
func WithLoadTimeout(d time.Duration) Option {
	return func(ctl *Controller) { ctl.loadTimeout = d }
}

// WithStepDelay sets the pause between join steps while the page UI settles.
func WithStepDelay(d time.Duration) Option {
	return func(ctl *Controller) { ctl.stepDelay = d }
}

// WithChatDelay sets the wait for the chat panel to open.
func WithChatDelay(d time.Duration) Option {
	return func(ctl *Controller) { ctl.chatDelay = d }
}

// Controller is a DevTools-driven meeting client. It is safe for concurrent use.
type Controller struct {
	devtools    string
	http        *http.Client
	loadTimeout time.Duration
	stepDelay   time.Duration
	chatDelay   time.Duration

	mu       sync.Mutex
	conn     *conn
	url      string
	name     string
	joined   bool
	joinedAt time.Time
}

var _ meeting.Controller = (*Controller)(nil)

// New returns a Controller for the DevTools endpoint at devtoolsURL. No
// connection is made until Join.
func New(devtoolsURL string, opts ...Option) *Controller {
	c := &Controller{
		devtools:    strings.TrimRight(devtoolsURL, "/"),
		http:        http.DefaultClient,
		loadTimeout: defaultLoadTimeout,
		stepDelay:   defaultStepDelay,
		chatDelay:   defaultChatDelay,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

func (c *Controller) discover(ctx context.Context) (string, error) {
	var targets []target
	if err := c.getJSON(ctx, http.MethodGet, "/json/list", &targets); err != nil {
		return "", err
	}
	for _, t := range targets {
		if t.Type == "page" && t.WebSocketDebuggerURL != "" {
			return t.WebSocketDebuggerURL, nil
		}
	}
	var t target
	if err := c.getJSON(ctx, http.MethodPut, "/json/new?about:blank", &t); err != nil {
		return "", err
	}
	if t.WebSocketDebuggerURL == "" {
		return "", errors.New("cdp: discover: no page target")
	}
	return t.WebSocketDebuggerURL, nil
}

func (c *Controller) getJSON(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.devtools+path, nil)
	if err != nil {
		return fmt.Errorf("cdp: discover: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cdp: discover: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cdp: discover: %s %s: status %d", method, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cdp: discover: decode: %w", err)
	}
	return nil
}

// session returns the live connection, dialing one when needed.
func (c *Controller) session(ctx context.Context) (*conn, error) {
	c.mu.Lock()
	cn := c.conn
	c.mu.Unlock()
	if cn != nil {
		select {
		case <-cn.done:
		default:
			return cn, nil
		}
	}

	wsURL, err := c.discover(ctx)
	if err != nil {
		return nil, err
	}
	cn, err = dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	if err := cn.call(ctx, "Page.enable", nil, nil); err != nil {
		cn.close()
		return nil, err
	}

	c.mu.Lock()
	if c.conn != nil {
		c.conn.close()
	}
	c.conn = cn
	c.mu.Unlock()
	slog.Info("cdp: connected", "target", wsURL)
	return cn, nil
}

// current returns the existing connection without dialing.
func (c *Controller) current() *conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

type evalResult struct {
	Result struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"result"`
	ExceptionDetails *struct {
		Text      string `json:"text"`
		Exception *struct {
			Description string `json:"description"`
		} `json:"exception"`
	} `json:"exceptionDetails"`
}

func evaluate(ctx context.Context, cn *conn, expr string, out any) error {
	var res evalResult
	if err := cn.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expr,
		"returnByValue": true,
		"awaitPromise":  true,
	}, &res); err != nil {
		return err
	}
	if ex := res.ExceptionDetails; ex != nil {
		msg := ex.Text
		if ex.Exception != nil && ex.Exception.Description != "" {
			msg = ex.Exception.Description
		}
		return fmt.Errorf("cdp: evaluate: %s", msg)
	}
	if out == nil || len(res.Result.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Result.Value, out); err != nil {
		return fmt.Errorf("cdp: evaluate: decode: %w", err)
	}
	return nil
}

func evalBool(ctx context.Context, cn *conn, expr string) (bool, error) {
	var ok bool
	err := evaluate(ctx, cn, expr, &ok)
	return ok, err
}

func navigate(ctx context.Context, cn *conn, url string) error {
	var res struct {
		ErrorText string `json:"errorText"`
	}
	if err := cn.call(ctx, "Page.navigate", map[string]any{"url": url}, &res); err != nil {
		return err
	}
	if res.ErrorText != "" {
		return fmt.Errorf("cdp: navigate %s: %s", url, res.ErrorText)
	}
	return nil
}

func pressEnter(ctx context.Context, cn *conn) error {
	for _, typ := range []string{"keyDown", "keyUp"} {
		if err := cn.call(ctx, "Input.dispatchKeyEvent", map[string]any{
			"type":                  typ,
			"key":                   "Enter",
			"code":                  "Enter",
			"windowsVirtualKeyCode": 13,
		}, nil); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Controller) waitLoaded(ctx context.Context, cn *conn) error {
	ctx, cancel := context.WithTimeout(ctx, c.loadTimeout)
	defer cancel()
	for {
		var state string
		if err := evaluate(ctx, cn, readyStateScript, &state); err == nil && state == "complete" {
			return nil
		}
		if err := sleep(ctx, pollInterval); err != nil {
			return fmt.Errorf("cdp: wait for page load: %w", err)
		}
	}
}

// Join implements meeting.Controller. The camera is turned off and the
// microphone muted before joining.
func (c *Controller) Join(ctx context.Context, url, displayName string) error {
	cn, err := c.session(ctx)
	if err != nil {
		return fmt.Errorf("cdp: join: %w", err)
	}
	slog.Info("cdp: joining meeting", "url", url)
	if err := navigate(ctx, cn, url); err != nil {
		return fmt.Errorf("cdp: join: %w", err)
	}
	if err := c.waitLoaded(ctx, cn); err != nil {
		return fmt.Errorf("cdp: join: %w", err)
	}
	if err := sleep(ctx, c.stepDelay); err != nil {
		return fmt.Errorf("cdp: join: %w", err)
	}

	if displayName != "" {
		if ok, err := evalBool(ctx, cn, fillFirst(nameInputs, displayName)); err != nil || !ok {
			slog.Warn("cdp: could not set display name", "err", err)
		}
	}
	if ok, _ := evalBool(ctx, cn, clickFirst(cameraOn)); ok {
		slog.Info("cdp: camera disabled before joining")
	}
	if ok, _ := evalBool(ctx, cn, clickFirst(micOn)); ok {
		slog.Info("cdp: microphone muted before joining")
	}
	if err := sleep(ctx, c.stepDelay); err != nil {
		return fmt.Errorf("cdp: join: %w", err)
	}

	clicked, err := evalBool(ctx, cn, clickButtonText(joinTexts))
	if err == nil && !clicked {
		clicked, err = evalBool(ctx, cn, clickFirst(joinSelectors))
	}
	if err != nil {
		return fmt.Errorf("cdp: join: %w", err)
	}
	if !clicked {
		slog.Info("cdp: no join button, pressing Enter")
		if err := pressEnter(ctx, cn); err != nil {
			return fmt.Errorf("cdp: join: %w", err)
		}
	}
	if err := sleep(ctx, 2*c.stepDelay); err != nil {
		return fmt.Errorf("cdp: join: %w", err)
	}

	c.mu.Lock()
	c.url, c.name, c.joined, c.joinedAt = url, displayName, true, time.Now()
	c.mu.Unlock()
	slog.Info("cdp: joined meeting", "url", url)
	return nil
}

// Leave implements meeting.Controller. When no leave control is found the
// tab navigates away.
func (c *Controller) Leave(ctx context.Context) error {
	c.mu.Lock()
	joined, cn := c.joined, c.conn
	c.mu.Unlock()
	if !joined || cn == nil {
		slog.Debug("cdp: leave while not in a meeting")
		return nil
	}

	ok, err := evalBool(ctx, cn, clickFirst(leaveButtons))
	if err != nil || !ok {
		slog.Warn("cdp: leave control not found, navigating away", "err", err)
		if err := navigate(ctx, cn, "about:blank"); err != nil {
			return fmt.Errorf("cdp: leave: %w", err)
		}
	}
	c.mu.Lock()
	c.joined = false
	c.mu.Unlock()
	slog.Info("cdp: left meeting")
	return nil
}

func (c *Controller) inCall() (*conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.joined || c.conn == nil {
		return nil, meeting.ErrNotInMeeting
	}
	return c.conn, nil
}

func (c *Controller) toggle(ctx context.Context, what string, enabled bool, buttons []string,
	state func(context.Context) (bool, bool)) error {
	cn, err := c.inCall()
	if err != nil {
		return err
	}
	if cur, known := state(ctx); known && cur == enabled {
		return nil
	}
	ok, err := evalBool(ctx, cn, clickFirst(buttons))
	if err != nil {
		return fmt.Errorf("cdp: toggle %s: %w", what, err)
	}
	if !ok {
		return fmt.Errorf("cdp: toggle %s: %w", what, ErrControlNotFound)
	}
	slog.Info("cdp: toggled "+what, "enabled", enabled)
	return nil
}

// ToggleMicrophone implements meeting.Controller.
func (c *Controller) ToggleMicrophone(ctx context.Context, enabled bool) error {
	return c.toggle(ctx, "microphone", enabled, micButtons, c.MicrophoneEnabled)
}

// ToggleCamera implements meeting.Controller.
func (c *Controller) ToggleCamera(ctx context.Context, enabled bool) error {
	return c.toggle(ctx, "camera", enabled, cameraButtons, c.CameraEnabled)
}

func (c *Controller) state(ctx context.Context, off, on []string) (bool, bool) {
	cn := c.current()
	if cn == nil {
		return false, false
	}
	var v *bool
	if err := evaluate(ctx, cn, toggleState(off, on), &v); err != nil || v == nil {
		return false, false
	}
	return *v, true
}

// MicrophoneEnabled implements meeting.Controller.
func (c *Controller) MicrophoneEnabled(ctx context.Context) (bool, bool) {
	return c.state(ctx, micOff, micOn)
}

// CameraEnabled implements meeting.Controller.
func (c *Controller) CameraEnabled(ctx context.Context) (bool, bool) {
	return c.state(ctx, cameraOff, cameraOn)
}

// InMeeting implements meeting.Controller.
func (c *Controller) InMeeting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined && c.conn != nil
}

// Info implements meeting.Controller.
func (c *Controller) Info(ctx context.Context) meeting.Info {
	mic, micKnown := c.MicrophoneEnabled(ctx)
	cam, camKnown := c.CameraEnabled(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	return meeting.Info{
		URL:         c.url,
		Platform:    Platform,
		InMeeting:   c.joined,
		JoinedAt:    c.joinedAt,
		DisplayName: c.name,
		Microphone:  meeting.State(mic, micKnown),
		Camera:      meeting.State(cam, camKnown),
	}
}

// Participants implements meeting.Controller.
func (c *Controller) Participants(ctx context.Context) ([]string, error) {
	cn, err := c.inCall()
	if err != nil {
		return nil, err
	}
	var names []string
	if err := evaluate(ctx, cn, participantsScript, &names); err != nil {
		return nil, fmt.Errorf("cdp: participants: %w", err)
	}
	return names, nil
}

// SendChat implements meeting.Controller.
func (c *Controller) SendChat(ctx context.Context, text string) error {
	cn, err := c.inCall()
	if err != nil {
		return err
	}
	if _, err := evalBool(ctx, cn, clickFirst(chatButtons)); err != nil {
		return fmt.Errorf("cdp: send chat: %w", err)
	}
	if err := sleep(ctx, c.chatDelay); err != nil {
		return fmt.Errorf("cdp: send chat: %w", err)
	}
	ok, err := evalBool(ctx, cn, focusFirst(chatInputs))
	if err != nil {
		return fmt.Errorf("cdp: send chat: %w", err)
	}
	if !ok {
		return fmt.Errorf("cdp: send chat: %w", ErrControlNotFound)
	}
	if err := cn.call(ctx, "Input.insertText", map[string]any{"text": text}, nil); err != nil {
		return fmt.Errorf("cdp: send chat: %w", err)
	}
	if err := pressEnter(ctx, cn); err != nil {
		return fmt.Errorf("cdp: send chat: %w", err)
	}
	slog.Info("cdp: chat sent", "chars", len(text))
	return nil
}

// Close implements meeting.Controller.
func (c *Controller) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Leave(ctx)

	c.mu.Lock()
	cn := c.conn
	c.conn = nil
	c.joined = false
	c.mu.Unlock()
	if cn != nil {
		cn.close()
	}
	return err
}
