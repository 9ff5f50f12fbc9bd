package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-kiosk/core/audio"
	"github.com/koscakluka/ema-kiosk/core/events"
	"github.com/koscakluka/ema-kiosk/core/transport"
)

type fakeCaptureDevice struct {
	mu           sync.Mutex
	onAudio      func([]byte)
	onDeviceLost func(error)
	startErr     error
	starts       atomic.Int32
	stops        atomic.Int32
}

func (d *fakeCaptureDevice) CaptureEncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultEncodingInfo()
}

func (d *fakeCaptureDevice) StartCapture(_ context.Context, onAudio func([]byte)) error {
	if d.startErr != nil {
		return d.startErr
	}
	d.mu.Lock()
	d.onAudio = onAudio
	d.mu.Unlock()
	d.starts.Add(1)
	return nil
}

func (d *fakeCaptureDevice) StopCapture() error {
	d.mu.Lock()
	d.onAudio = nil
	d.mu.Unlock()
	d.stops.Add(1)
	return nil
}

func (d *fakeCaptureDevice) OnDeviceLost(callback func(error)) {
	d.mu.Lock()
	d.onDeviceLost = callback
	d.mu.Unlock()
}

// emit behaves like a device callback: it blocks while the session applies
// backpressure and is a no-op once capture stopped.
func (d *fakeCaptureDevice) emit(data []byte) bool {
	d.mu.Lock()
	onAudio := d.onAudio
	d.mu.Unlock()
	if onAudio == nil {
		return false
	}
	onAudio(data)
	return true
}

func (d *fakeCaptureDevice) lose() {
	d.mu.Lock()
	onDeviceLost := d.onDeviceLost
	d.mu.Unlock()
	if onDeviceLost != nil {
		onDeviceLost(errors.New("device unplugged"))
	}
}

type fakePlaybackDevice struct {
	mu       sync.Mutex
	played   [][]byte
	block    chan struct{}
	cleared  atomic.Int32
	started  atomic.Bool
	startErr error
}

func (d *fakePlaybackDevice) PlaybackEncodingInfo() audio.EncodingInfo {
	return audio.GetDefaultOutputEncodingInfo()
}

func (d *fakePlaybackDevice) StartPlayback(context.Context) error {
	if d.startErr != nil {
		return d.startErr
	}
	d.started.Store(true)
	return nil
}

func (d *fakePlaybackDevice) StopPlayback() error {
	d.started.Store(false)
	return nil
}

func (d *fakePlaybackDevice) SendAudio(data []byte) error {
	d.mu.Lock()
	block := d.block
	d.mu.Unlock()
	if block != nil {
		<-block
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.played = append(d.played, append([]byte(nil), data...))
	return nil
}

// blockSends makes SendAudio wait until ClearBuffer or unblock is called.
func (d *fakePlaybackDevice) blockSends() {
	d.mu.Lock()
	d.block = make(chan struct{})
	d.mu.Unlock()
}

func (d *fakePlaybackDevice) unblock() {
	d.mu.Lock()
	if d.block != nil {
		close(d.block)
		d.block = nil
	}
	d.mu.Unlock()
}

func (d *fakePlaybackDevice) ClearBuffer() {
	d.cleared.Add(1)
	d.unblock()
}

func (d *fakePlaybackDevice) playedFrames() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.played))
	copy(out, d.played)
	return out
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []events.Outbound
	sentSig chan struct{}

	inbound chan events.Inbound
	closed  chan struct{}
	once    sync.Once
	closes  atomic.Int32
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sentSig: make(chan struct{}, 1),
		inbound: make(chan events.Inbound, 64),
		closed:  make(chan struct{}),
	}
}

func (t *fakeTransport) Send(_ context.Context, event events.Outbound) error {
	select {
	case <-t.closed:
		return transport.ErrClosed
	default:
	}

	t.mu.Lock()
	if t.sendErr != nil {
		t.mu.Unlock()
		return t.sendErr
	}
	t.sent = append(t.sent, event)
	t.mu.Unlock()

	select {
	case t.sentSig <- struct{}{}:
	default:
	}
	return nil
}

func (t *fakeTransport) Receive(ctx context.Context) (events.Inbound, error) {
	select {
	case event := <-t.inbound:
		return event, nil
	default:
	}

	select {
	case event := <-t.inbound:
		return event, nil
	case <-t.closed:
		select {
		case event := <-t.inbound:
			return event, nil
		default:
			return nil, transport.ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *fakeTransport) Close() error {
	t.closes.Add(1)
	t.once.Do(func() { close(t.closed) })
	return nil
}

func (t *fakeTransport) push(event events.Inbound) {
	t.inbound <- event
}

// fail mimics a network disconnect: one TransportError, then termination.
func (t *fakeTransport) fail() {
	t.inbound <- events.NewTransportError("connection lost", errors.New("reset by peer"))
	t.once.Do(func() { close(t.closed) })
}

func (t *fakeTransport) sentEvents() []events.Outbound {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]events.Outbound, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	configs    []transport.Config
	openErr    error
}

func (d *fakeDialer) Open(_ context.Context, config transport.Config) (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	tr := newFakeTransport()
	d.transports = append(d.transports, tr)
	d.configs = append(d.configs, config)
	return tr, nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[len(d.transports)-1]
}

type fakeTools struct {
	calls atomic.Int32
}

func (f *fakeTools) Declarations() []transport.ToolDeclaration {
	return []transport.ToolDeclaration{{Name: "echo", Description: "echoes its input"}}
}

func (f *fakeTools) Execute(_ context.Context, call events.FunctionCall) events.ToolResult {
	f.calls.Add(1)
	var args map[string]any
	_ = json.Unmarshal(call.Arguments, &args)
	return events.ToolResult{ID: call.ID, Name: call.Name, Response: map[string]any{"output": args}}
}

// blockingTools holds every call until release is closed or the call's
// context ends.
type blockingTools struct {
	fakeTools
	started  chan struct{}
	release  chan struct{}
	finished atomic.Bool
}

func newBlockingTools() *blockingTools {
	return &blockingTools{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blockingTools) Execute(ctx context.Context, call events.FunctionCall) events.ToolResult {
	select {
	case b.started <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	b.finished.Store(true)
	return b.fakeTools.Execute(ctx, call)
}

func frameBytes(value byte) []byte {
	data := make([]byte, audio.GetDefaultEncodingInfo().FrameBytes(audio.DefaultFrameSamples))
	for i := range data {
		data[i] = value
	}
	return data
}

func waitFor(t *testing.T, timeout time.Duration, message string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", message)
}
