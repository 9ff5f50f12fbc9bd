package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-kiosk/core/events"
	"github.com/koscakluka/ema-kiosk/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrSessionClosed         = errors.New("session closed")
	ErrSessionNotActive      = errors.New("session not active")
	ErrSessionAlreadyStarted = errors.New("session already started")
)

type sessionState int

const (
	stateIdle sessionState = iota
	stateActive
	stateClosing
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateActive:
		return "active"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is a single live conversation. It is created idle, becomes active
// on Start and is closed exactly once, after which it cannot be restarted.
type Session struct {
	ID string

	dialer          transport.Dialer
	transportConfig transport.Config
	captureDevice   AudioCaptureDevice
	playbackDevice  AudioPlaybackDevice
	tools           ToolExecutor
	metrics         SessionMetrics
	limits          sessionLimits
	options         SessionOptions

	mu    sync.Mutex
	state sessionState

	runCtx    context.Context
	cancelRun context.CancelFunc
	stopHook  chan struct{}

	transport  transport.Transport
	capture    *captureStream
	playback   *audioPlayback
	transcript transcript

	outbound       chan []events.Outbound
	outboundMu     sync.RWMutex
	outboundClosed bool
	stopping       chan struct{}

	forwarderDone chan struct{}
	senderDone    chan struct{}
	receiverDone  chan struct{}
	toolRuns      sync.WaitGroup

	closeOnce  sync.Once
	closeCause error
	closeErr   error
	errMu      sync.Mutex
	workerErr  error
	done       chan struct{}
}

func newSession(o *Orchestrator, options SessionOptions) *Session {
	transportConfig := o.transportConfig
	if o.tools != nil {
		transportConfig.Tools = append(transportConfig.Tools[:len(transportConfig.Tools):len(transportConfig.Tools)], o.tools.Declarations()...)
	}
	if o.capture != nil && transportConfig.InputEncoding.IsZero() {
		transportConfig.InputEncoding = o.capture.CaptureEncodingInfo()
	}
	if o.playback != nil && transportConfig.OutputEncoding.IsZero() {
		transportConfig.OutputEncoding = o.playback.PlaybackEncodingInfo()
	}

	return &Session{
		ID:              uuid.NewString(),
		dialer:          o.dialer,
		transportConfig: transportConfig,
		captureDevice:   o.capture,
		playbackDevice:  o.playback,
		tools:           o.tools,
		metrics:         o.metrics,
		limits:          o.limits,
		options:         options,
		state:           stateIdle,
		outbound:        make(chan []events.Outbound, o.limits.outboundQueueSize),
		stopping:        make(chan struct{}),
		forwarderDone:   make(chan struct{}),
		senderDone:      make(chan struct{}),
		receiverDone:    make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// Start opens the transport, starts capture and playback and launches the
// session workers. Cancelling ctx closes the session.
//
// A failed Start leaves the session idle with every acquired resource
// released. Start on a closed session returns [ErrSessionClosed]; use
// [Orchestrator.StartSession] to begin a fresh session instead.
func (s *Session) Start(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateActive:
		return ErrSessionAlreadyStarted
	case stateClosing, stateClosed:
		return ErrSessionClosed
	}

	ctx, span := tracer.Start(ctx, "start session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))

	tr, err := s.dialer.Open(runCtx, s.transportConfig)
	if err != nil {
		cancelRun()
		return fmt.Errorf("failed to open transport: %w", err)
	}

	var playback *audioPlayback
	if s.playbackDevice != nil {
		if playback, err = newAudioPlayback(runCtx, s.playbackDevice, s.limits, s.metrics); err != nil {
			_ = tr.Close()
			cancelRun()
			return fmt.Errorf("failed to start playback: %w", err)
		}
	}

	var capture *captureStream
	if s.captureDevice != nil {
		if capture, err = newAudioCapture(s.captureDevice, s.limits, s.metrics).Start(runCtx); err != nil {
			if playback != nil {
				playback.closeIntake()
				playback.Flush()
				_ = playback.Close()
			}
			_ = tr.Close()
			cancelRun()
			return fmt.Errorf("failed to start capture: %w", err)
		}
	}

	s.runCtx, s.cancelRun = runCtx, cancelRun
	s.transport, s.playback, s.capture = tr, playback, capture
	s.state = stateActive
	s.metrics.SessionStarted()

	s.launch("capture forwarder", s.forwarderDone, s.forwardCapturedAudio)
	s.launch("outbound sender", s.senderDone, s.sendOutbound)
	s.launch("inbound receiver", s.receiverDone, s.receiveInbound)

	s.stopHook = watchContext(ctx, func() { s.beginClose(context.Cause(ctx)) })
	return nil
}

func (s *Session) launch(name string, done chan struct{}, run func(context.Context) error) {
	worker := guardWorker(name, run)
	go func() {
		defer close(done)
		if err := worker(s.runCtx); err != nil {
			logger.ErrorContext(s.runCtx, "session worker failed", "session", s.ID, "error", err)
			s.addWorkerErr(err)
			s.beginClose(err)
		}
	}()
}

// SendText sends a line of typed text as a complete user turn. The text and
// its end of turn reach the transport back to back, with no captured audio
// between them.
func (s *Session) SendText(ctx context.Context, text string) error {
	if !s.isActive() {
		return ErrSessionNotActive
	}

	if err := s.enqueue(ctx, events.NewTextTurn(text), events.NewEndOfTurn()); err != nil {
		return err
	}
	s.transcript.addUserTurn(text)
	return nil
}

// Cancel closes the session and waits until every resource is released.
// It is safe to call more than once and from any goroutine other than the
// session's own callbacks.
func (s *Session) Cancel() error {
	s.beginClose(nil)
	<-s.done
	return s.closeErr
}

// Done is closed once the session has reached its closed state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the cause that ended the session. It is nil while the session
// runs and when it was cancelled by the caller.
func (s *Session) Err() error {
	select {
	case <-s.done:
	default:
		return nil
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.closeCause == nil {
		return s.workerErr
	}
	return errors.Join(s.closeCause, s.workerErr)
}

// Transcript returns a snapshot of the conversation so far.
func (s *Session) Transcript() Transcript {
	return s.transcript.Snapshot()
}

func (s *Session) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateActive
}

func (s *Session) setState(state sessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// enqueue adds the events to the outbound queue as one batch. The sender
// writes a batch without interleaving anything else.
func (s *Session) enqueue(ctx context.Context, batch ...events.Outbound) error {
	s.outboundMu.RLock()
	defer s.outboundMu.RUnlock()
	if s.outboundClosed {
		return ErrSessionNotActive
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case s.outbound <- batch:
		return nil
	case <-s.stopping:
		return ErrSessionNotActive
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) addWorkerErr(err error) {
	s.errMu.Lock()
	s.workerErr = errors.Join(s.workerErr, err)
	s.errMu.Unlock()
}

func (s *Session) beginClose(cause error) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.closeCause = cause
		s.errMu.Unlock()
		go s.shutdown()
	})
}

func (s *Session) shutdown() {
	s.mu.Lock()
	started := s.state == stateActive
	s.state = stateClosing
	s.mu.Unlock()

	if !started {
		s.setState(stateClosed)
		close(s.done)
		s.notifyClosed()
		return
	}

	ctx, span := tracer.Start(context.WithoutCancel(s.runCtx), "close session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID))

	var closeErr error
	close(s.stopping)
	if s.stopHook != nil {
		close(s.stopHook)
	}

	if s.capture != nil {
		if err := s.capture.Stop(); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}
	<-s.forwarderDone

	s.outboundMu.Lock()
	s.outboundClosed = true
	s.outboundMu.Unlock()

	deadline := time.Now().Add(s.limits.shutdownTimeout)
	select {
	case s.outbound <- []events.Outbound{events.NewCancelSession()}:
	case <-time.After(time.Until(deadline)):
		logger.WarnContext(ctx, "timed out queueing session cancellation", "session", s.ID)
	}
	close(s.outbound)

	select {
	case <-s.senderDone:
	case <-time.After(time.Until(deadline)):
		logger.WarnContext(ctx, "timed out flushing outbound events", "session", s.ID)
	}

	if s.playback != nil {
		s.playback.closeIntake()
		s.playback.Flush()
		if err := s.playback.Close(); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}

	if err := s.transport.Close(); err != nil {
		closeErr = errors.Join(closeErr, fmt.Errorf("failed to close transport: %w", err))
	}
	<-s.receiverDone
	<-s.senderDone

	if !s.awaitTools(deadline) {
		logger.WarnContext(ctx, "timed out waiting for tool calls, cancelling them", "session", s.ID)
	}
	s.cancelRun()
	s.toolRuns.Wait()
	if closeErr != nil {
		span.RecordError(closeErr)
		span.SetStatus(codes.Error, closeErr.Error())
	}
	s.closeErr = closeErr
	s.metrics.SessionClosed()
	s.setState(stateClosed)
	close(s.done)
	s.notifyClosed()
}

// awaitTools waits for running tool calls until deadline and reports
// whether they all finished.
func (s *Session) awaitTools(deadline time.Time) bool {
	finished := make(chan struct{})
	go func() {
		s.toolRuns.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return true
	case <-time.After(time.Until(deadline)):
		return false
	}
}

func (s *Session) notifyClosed() {
	if s.options.onClosed != nil {
		s.options.onClosed(s.Err())
	}
}
