package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/koscakluka/ema-kiosk/core/audio"
	"github.com/koscakluka/ema-kiosk/core/events"
	"github.com/koscakluka/ema-kiosk/core/transport"
)

type testRig struct {
	orchestrator *Orchestrator
	dialer       *fakeDialer
	capture      *fakeCaptureDevice
	playback     *fakePlaybackDevice
}

func newTestRig(opts ...OrchestratorOption) *testRig {
	rig := &testRig{
		dialer:   &fakeDialer{},
		capture:  &fakeCaptureDevice{},
		playback: &fakePlaybackDevice{},
	}
	opts = append([]OrchestratorOption{
		WithAudioCapture(rig.capture),
		WithAudioPlayback(rig.playback),
		WithShutdownTimeout(time.Second),
	}, opts...)
	rig.orchestrator = NewOrchestrator(rig.dialer, opts...)
	return rig
}

func (r *testRig) start(t *testing.T, opts ...SessionOption) (*Session, *fakeTransport) {
	t.Helper()
	session, err := r.orchestrator.StartSession(context.Background(), opts...)
	if err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}
	t.Cleanup(func() { _ = session.Cancel() })
	return session, r.dialer.last()
}

func audioSequences(sent []events.Outbound) []uint64 {
	var sequences []uint64
	for _, event := range sent {
		if chunk, ok := event.(events.OutboundAudioChunk); ok {
			sequences = append(sequences, chunk.Frame.Sequence)
		}
	}
	return sequences
}

func TestSessionForwardsCapturedFramesInOrder(t *testing.T) {
	rig := newTestRig()
	_, tr := rig.start(t)

	for i := range 20 {
		rig.capture.emit(frameBytes(byte(i)))
	}

	waitFor(t, 2*time.Second, "20 frames to be sent", func() bool {
		return len(audioSequences(tr.sentEvents())) == 20
	})

	for i, sequence := range audioSequences(tr.sentEvents()) {
		if sequence != uint64(i) {
			t.Fatalf("expected frame %d at position %d, got %d", i, i, sequence)
		}
	}
}

func TestSendTextIsNotInterleavedWithAudio(t *testing.T) {
	rig := newTestRig()
	session, tr := rig.start(t)

	stop := make(chan struct{})
	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			rig.capture.emit(frameBytes(byte(i)))
		}
	}()

	for range 10 {
		if err := session.SendText(context.Background(), "hello"); err != nil {
			t.Fatalf("expected text to be sent, got %v", err)
		}
	}
	close(stop)
	<-emitted

	waitFor(t, 2*time.Second, "all text turns to be sent", func() bool {
		count := 0
		for _, event := range tr.sentEvents() {
			if event.Kind() == events.KindOutboundEndOfTurn {
				count++
			}
		}
		return count == 10
	})

	sent := tr.sentEvents()
	for i, event := range sent {
		if event.Kind() != events.KindOutboundTextTurn {
			continue
		}
		if i+1 >= len(sent) || sent[i+1].Kind() != events.KindOutboundEndOfTurn {
			t.Fatalf("expected end of turn right after text turn at %d", i)
		}
	}

	transcript := session.Transcript()
	if len(transcript.Turns) != 10 || transcript.Turns[0].Role != TranscriptRoleUser {
		t.Fatalf("expected 10 user turns in transcript, got %+v", transcript.Turns)
	}
}

func TestCancelReleasesEverythingAndRejectsRestart(t *testing.T) {
	rig := newTestRig()
	session, tr := rig.start(t)

	rig.playback.blockSends()
	frame := audio.NewFrame(0, audio.GetDefaultOutputEncodingInfo(), []byte{1, 2})
	for range 3 {
		tr.push(events.NewInboundAudioChunk(frame))
	}
	waitFor(t, time.Second, "audio to reach playback", func() bool {
		return session.playback.Len() > 0
	})

	if err := session.Cancel(); err != nil {
		t.Fatalf("expected cancel to succeed, got %v", err)
	}

	if rig.capture.stops.Load() == 0 {
		t.Fatalf("expected capture to be stopped")
	}
	if !tr.isClosed() {
		t.Fatalf("expected transport to be closed")
	}
	if session.playback.Len() != 0 {
		t.Fatalf("expected playback queue to be empty, got %d", session.playback.Len())
	}
	if rig.playback.cleared.Load() == 0 {
		t.Fatalf("expected playback to be flushed")
	}
	if rig.playback.started.Load() {
		t.Fatalf("expected playback device to be released")
	}

	sent := tr.sentEvents()
	if len(sent) == 0 || sent[len(sent)-1].Kind() != events.KindOutboundCancelSession {
		t.Fatalf("expected cancel session to be the last event sent, got %v", sent)
	}

	if stateOf(session) != stateClosed {
		t.Fatalf("expected closed state, got %s", stateOf(session))
	}
	if err := session.Start(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed on restart, got %v", err)
	}
	if err := session.SendText(context.Background(), "late"); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive after cancel, got %v", err)
	}
	if session.Err() != nil {
		t.Fatalf("expected no error for a requested cancel, got %v", session.Err())
	}
	if err := session.Cancel(); err != nil {
		t.Fatalf("expected repeated cancel to be a no-op, got %v", err)
	}
}

func TestTransportErrorClosesSession(t *testing.T) {
	rig := newTestRig()
	closed := make(chan error, 1)
	session, tr := rig.start(t, WithClosedCallback(func(err error) { closed <- err }))

	tr.fail()

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session to close")
	}

	var transportErr events.TransportError
	if !errors.As(session.Err(), &transportErr) {
		t.Fatalf("expected transport error as cause, got %v", session.Err())
	}
	if err := <-closed; err == nil {
		t.Fatalf("expected closed callback to receive the cause")
	}
	if rig.capture.stops.Load() == 0 {
		t.Fatalf("expected capture to be stopped")
	}
}

func TestCaptureDeviceLossClosesSession(t *testing.T) {
	rig := newTestRig()
	session, tr := rig.start(t)

	rig.capture.lose()

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session to close")
	}
	if !errors.Is(session.Err(), audio.ErrDevice) {
		t.Fatalf("expected ErrDevice as cause, got %v", session.Err())
	}
	if !tr.isClosed() {
		t.Fatalf("expected transport to be closed")
	}
}

func TestInboundTextAndAudioReachTranscriptAndPlayback(t *testing.T) {
	rig := newTestRig()
	partials := make(chan string, 4)
	completed := make(chan TranscriptTurn, 1)
	_, tr := rig.start(t,
		WithPartialTextCallback(func(text string) { partials <- text }),
		WithTurnCompleteCallback(func(turn TranscriptTurn) { completed <- turn }),
	)

	tr.push(events.NewPartialText("Hel"))
	tr.push(events.NewInboundAudioChunk(audio.NewFrame(0, audio.GetDefaultOutputEncodingInfo(), []byte{7, 7})))
	tr.push(events.NewPartialText("lo"))
	tr.push(events.NewTurnComplete())

	select {
	case turn := <-completed:
		if turn.Text != "Hello" || turn.Role != TranscriptRoleModel {
			t.Fatalf("expected completed model turn Hello, got %+v", turn)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for completed turn")
	}

	if first, second := <-partials, <-partials; first != "Hel" || second != "lo" {
		t.Fatalf("expected partials in arrival order, got %q then %q", first, second)
	}

	waitFor(t, time.Second, "audio to be played", func() bool { return len(rig.playback.playedFrames()) == 1 })
}

func TestInterruptionFlushesPlayback(t *testing.T) {
	rig := newTestRig()
	interrupted := make(chan struct{}, 1)
	session, tr := rig.start(t, WithInterruptionCallback(func() { interrupted <- struct{}{} }))

	rig.playback.blockSends()
	frame := audio.NewFrame(0, audio.GetDefaultOutputEncodingInfo(), []byte{1, 2})
	for range 4 {
		tr.push(events.NewInboundAudioChunk(frame))
	}
	tr.push(events.NewPartialText("partial answer"))
	tr.push(events.NewInterrupted())

	select {
	case <-interrupted:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for interruption")
	}

	if session.playback.Len() != 0 {
		t.Fatalf("expected queued audio to be discarded, got %d frames", session.playback.Len())
	}
	turns := session.Transcript().Turns
	if len(turns) != 1 || !turns[0].Interrupted {
		t.Fatalf("expected interrupted model turn in transcript, got %+v", turns)
	}
}

func TestToolCallIsAnsweredThroughOutboundQueue(t *testing.T) {
	tools := &fakeTools{}
	rig := newTestRig(WithTools(tools))
	_, tr := rig.start(t)

	if declarations := rig.dialer.configs[0].Tools; len(declarations) != 1 || declarations[0].Name != "echo" {
		t.Fatalf("expected echo tool to be declared, got %+v", declarations)
	}

	tr.push(events.NewToolCall(events.FunctionCall{ID: "call-1", Name: "echo", Arguments: json.RawMessage(`{"x":1}`)}))

	waitFor(t, 2*time.Second, "tool response to be sent", func() bool {
		for _, event := range tr.sentEvents() {
			if response, ok := event.(events.ToolResponse); ok {
				return len(response.Results) == 1 && response.Results[0].ID == "call-1"
			}
		}
		return false
	})
	if tools.calls.Load() != 1 {
		t.Fatalf("expected tool to run once, got %d", tools.calls.Load())
	}
}

func TestCancelWaitsForRunningTools(t *testing.T) {
	tools := newBlockingTools()
	rig := newTestRig(WithTools(tools))
	session, tr := rig.start(t)

	tr.push(events.NewToolCall(events.FunctionCall{ID: "call-1", Name: "echo"}))
	select {
	case <-tools.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for tool to start")
	}

	cancelled := make(chan error, 1)
	go func() { cancelled <- session.Cancel() }()

	select {
	case <-session.Done():
		t.Fatalf("expected session to stay open while a tool is running")
	case <-time.After(100 * time.Millisecond):
	}

	close(tools.release)
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for cancel")
	}
	if !tools.finished.Load() {
		t.Fatalf("expected tool to finish before the session closed")
	}
	if state := stateOf(session); state != stateClosed {
		t.Fatalf("expected closed state, got %v", state)
	}
}

func TestCancelStopsToolsAfterShutdownTimeout(t *testing.T) {
	tools := newBlockingTools()
	rig := newTestRig(WithTools(tools), WithShutdownTimeout(200*time.Millisecond))
	session, tr := rig.start(t)

	tr.push(events.NewToolCall(events.FunctionCall{ID: "call-1", Name: "echo"}))
	select {
	case <-tools.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for tool to start")
	}

	cancelled := make(chan error, 1)
	go func() { cancelled <- session.Cancel() }()

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected tool context to be cancelled at the shutdown deadline")
	}
	if !tools.finished.Load() {
		t.Fatalf("expected tool to return before the session closed")
	}
}

func TestSendTextFailureLeavesTranscriptUnchanged(t *testing.T) {
	rig := newTestRig()
	session, tr := rig.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := session.SendText(ctx, "hello"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if turns := session.Transcript().Turns; len(turns) != 0 {
		t.Fatalf("expected no transcript turns, got %+v", turns)
	}

	if err := session.Cancel(); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	if err := session.SendText(context.Background(), "late"); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
	if turns := session.Transcript().Turns; len(turns) != 0 {
		t.Fatalf("expected no transcript turns after close, got %+v", turns)
	}
	for _, event := range tr.sentEvents() {
		if _, ok := event.(events.TextTurn); ok {
			t.Fatalf("expected no text turn to be sent")
		}
	}
}

func TestNewSessionRestartsFrameSequence(t *testing.T) {
	rig := newTestRig()
	first, firstTransport := rig.start(t)

	rig.capture.emit(frameBytes(1))
	rig.capture.emit(frameBytes(2))
	waitFor(t, time.Second, "first session frames", func() bool {
		return len(audioSequences(firstTransport.sentEvents())) == 2
	})

	_, secondTransport := rig.start(t)
	select {
	case <-first.Done():
	default:
		t.Fatalf("expected starting a new session to close the previous one")
	}

	rig.capture.emit(frameBytes(3))
	waitFor(t, time.Second, "second session frame", func() bool {
		return len(audioSequences(secondTransport.sentEvents())) == 1
	})
	if sequence := audioSequences(secondTransport.sentEvents())[0]; sequence != 0 {
		t.Fatalf("expected new session to restart at sequence 0, got %d", sequence)
	}
}

func TestStartFailureLeavesSessionIdle(t *testing.T) {
	rig := newTestRig()
	rig.dialer.openErr = errors.New("dial refused")

	session := rig.orchestrator.NewSession()
	if err := session.Start(context.Background()); err == nil {
		t.Fatalf("expected start to fail")
	}
	if stateOf(session) != stateIdle {
		t.Fatalf("expected idle state after failed start, got %s", stateOf(session))
	}

	rig.dialer.openErr = nil
	if err := session.Start(context.Background()); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	defer session.Cancel()
	if stateOf(session) != stateActive {
		t.Fatalf("expected active state, got %s", stateOf(session))
	}
}

func TestCaptureFailureReleasesPlaybackAndTransport(t *testing.T) {
	rig := newTestRig()
	rig.capture.startErr = errors.New("no microphone")

	_, err := rig.orchestrator.StartSession(context.Background())
	if !errors.Is(err, audio.ErrDevice) {
		t.Fatalf("expected ErrDevice, got %v", err)
	}
	if rig.playback.started.Load() {
		t.Fatalf("expected playback to be released")
	}
	if !rig.dialer.last().isClosed() {
		t.Fatalf("expected transport to be closed")
	}
}

func TestContextCancellationClosesSession(t *testing.T) {
	rig := newTestRig()
	ctx, cancel := context.WithCancel(context.Background())
	session, err := rig.orchestrator.StartSession(ctx)
	if err != nil {
		t.Fatalf("expected session to start, got %v", err)
	}

	cancel()

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session to close after context cancellation")
	}
	if !errors.Is(session.Err(), context.Canceled) {
		t.Fatalf("expected context.Canceled as cause, got %v", session.Err())
	}
}

func TestOrchestratorCloseRejectsNewSessions(t *testing.T) {
	rig := newTestRig()
	session, _ := rig.start(t)

	if err := rig.orchestrator.Close(); err != nil {
		t.Fatalf("expected close to succeed, got %v", err)
	}
	select {
	case <-session.Done():
	default:
		t.Fatalf("expected current session to be closed")
	}
	if _, err := rig.orchestrator.StartSession(context.Background()); !errors.Is(err, ErrOrchestratorClosed) {
		t.Fatalf("expected ErrOrchestratorClosed, got %v", err)
	}
}

var _ transport.Dialer = (*fakeDialer)(nil)

func stateOf(session *Session) sessionState {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.state
}
