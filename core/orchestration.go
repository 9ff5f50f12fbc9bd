package orchestration

import (
	"context"
	"errors"
	"sync"

	"github.com/koscakluka/ema-kiosk/core/transport"
)

var ErrOrchestratorClosed = errors.New("orchestrator closed")

// Orchestrator builds conversation sessions that share the same devices,
// tools and transport settings. Every session gets its own transport,
// capture stream and playback queue.
type Orchestrator struct {
	dialer          transport.Dialer
	transportConfig transport.Config

	capture  AudioCaptureDevice
	playback AudioPlaybackDevice
	tools    ToolExecutor
	metrics  SessionMetrics
	limits   sessionLimits

	mu      sync.Mutex
	current *Session
	closed  bool
}

func NewOrchestrator(dialer transport.Dialer, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		dialer:  dialer,
		metrics: noopMetrics{},
		limits:  defaultSessionLimits(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// NewSession returns an idle session. Call [Session.Start] to open it.
func (o *Orchestrator) NewSession(opts ...SessionOption) *Session {
	options := SessionOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	return newSession(o, options)
}

// StartSession ends the current session, if any, and starts a new one.
func (o *Orchestrator) StartSession(ctx context.Context, opts ...SessionOption) (*Session, error) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrOrchestratorClosed
	}
	previous := o.current
	o.current = nil
	o.mu.Unlock()

	if previous != nil {
		_ = previous.Cancel()
	}

	session := o.NewSession(opts...)
	if err := session.Start(ctx); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		_ = session.Cancel()
		return nil, ErrOrchestratorClosed
	}
	o.current = session
	return session, nil
}

// Session returns the session most recently started through StartSession.
func (o *Orchestrator) Session() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Close cancels the current session and prevents new ones from starting.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	current := o.current
	o.current = nil
	o.mu.Unlock()

	if current == nil {
		return nil
	}
	return current.Cancel()
}
