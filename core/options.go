package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-kiosk/core/audio"
	"github.com/koscakluka/ema-kiosk/core/events"
	"github.com/koscakluka/ema-kiosk/core/transport"
)

const (
	defaultPlaybackQueueSize      = 32
	defaultPlaybackOverrunTimeout = 2 * time.Second
	defaultCaptureBufferFrames    = 16
	defaultOutboundQueueSize      = 64
	defaultShutdownTimeout        = 3 * time.Second
)

// AudioCaptureDevice delivers raw microphone bytes to onAudio from the
// device's own thread until StopCapture returns.
type AudioCaptureDevice interface {
	CaptureEncodingInfo() audio.EncodingInfo
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

// AudioDeviceLossNotifier is implemented by capture devices that can report
// losing the device mid-stream.
type AudioDeviceLossNotifier interface {
	OnDeviceLost(callback func(err error))
}

// AudioPlaybackDevice renders raw bytes. SendAudio may block while the
// device buffer is full and ClearBuffer must release any blocked sender.
type AudioPlaybackDevice interface {
	PlaybackEncodingInfo() audio.EncodingInfo
	StartPlayback(ctx context.Context) error
	StopPlayback() error
	SendAudio(audio []byte) error
	ClearBuffer()
}

// AudioPlaybackDrainer is implemented by playback devices that can report
// when everything sent so far has been played.
type AudioPlaybackDrainer interface {
	AwaitMark() error
}

// ToolExecutor runs tools the model asks for during a live session.
type ToolExecutor interface {
	Declarations() []transport.ToolDeclaration
	Execute(ctx context.Context, call events.FunctionCall) events.ToolResult
}

type OrchestratorOption func(*Orchestrator)

func WithAudioCapture(device AudioCaptureDevice) OrchestratorOption {
	return func(o *Orchestrator) { o.capture = device }
}

func WithAudioPlayback(device AudioPlaybackDevice) OrchestratorOption {
	return func(o *Orchestrator) { o.playback = device }
}

func WithTools(executor ToolExecutor) OrchestratorOption {
	return func(o *Orchestrator) { o.tools = executor }
}

// WithTransportConfig sets the model, instructions and voice negotiated when
// a session opens its transport. Tool declarations come from [WithTools].
func WithTransportConfig(config transport.Config) OrchestratorOption {
	return func(o *Orchestrator) { o.transportConfig = config }
}

func WithMetrics(metrics SessionMetrics) OrchestratorOption {
	return func(o *Orchestrator) {
		if metrics == nil {
			o.metrics = noopMetrics{}
			return
		}
		o.metrics = metrics
	}
}

// WithPlaybackQueue sets how many frames wait for the playback device and
// how long Enqueue blocks on a full queue before failing with
// [ErrPlaybackOverrun].
func WithPlaybackQueue(size int, overrunTimeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if size > 0 {
			o.limits.playbackQueueSize = size
		}
		if overrunTimeout > 0 {
			o.limits.playbackOverrunTimeout = overrunTimeout
		}
	}
}

// WithCaptureFrames sets the number of samples per captured frame and how
// many frames may wait for the outbound sender.
func WithCaptureFrames(samples, bufferedFrames int) OrchestratorOption {
	return func(o *Orchestrator) {
		if samples > 0 {
			o.limits.captureFrameSamples = samples
		}
		if bufferedFrames > 0 {
			o.limits.captureBufferFrames = bufferedFrames
		}
	}
}

func WithOutboundQueueSize(size int) OrchestratorOption {
	return func(o *Orchestrator) {
		if size > 0 {
			o.limits.outboundQueueSize = size
		}
	}
}

// WithShutdownTimeout bounds how long closing a session waits for queued
// outbound events to be written.
func WithShutdownTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.limits.shutdownTimeout = timeout
		}
	}
}

type sessionLimits struct {
	playbackQueueSize      int
	playbackOverrunTimeout time.Duration
	captureFrameSamples    int
	captureBufferFrames    int
	outboundQueueSize      int
	shutdownTimeout        time.Duration
}

func defaultSessionLimits() sessionLimits {
	return sessionLimits{
		playbackQueueSize:      defaultPlaybackQueueSize,
		playbackOverrunTimeout: defaultPlaybackOverrunTimeout,
		captureFrameSamples:    audio.DefaultFrameSamples,
		captureBufferFrames:    defaultCaptureBufferFrames,
		outboundQueueSize:      defaultOutboundQueueSize,
		shutdownTimeout:        defaultShutdownTimeout,
	}
}

type SessionOptions struct {
	onPartialText  func(text string)
	onTurnComplete func(turn TranscriptTurn)
	onInterrupted  func()
	onToolCall     func(call events.FunctionCall, result events.ToolResult)
	onError        func(err error)
	onClosed       func(err error)
}

type SessionOption func(*SessionOptions)

// WithPartialTextCallback registers a callback for every text fragment the
// model sends, in arrival order.
func WithPartialTextCallback(callback func(text string)) SessionOption {
	return func(o *SessionOptions) { o.onPartialText = callback }
}

// WithTurnCompleteCallback registers a callback for model turns once the
// model marks them complete.
func WithTurnCompleteCallback(callback func(turn TranscriptTurn)) SessionOption {
	return func(o *SessionOptions) { o.onTurnComplete = callback }
}

// WithInterruptionCallback registers a callback for when the model abandons
// its turn and unplayed audio is discarded.
func WithInterruptionCallback(callback func()) SessionOption {
	return func(o *SessionOptions) { o.onInterrupted = callback }
}

// WithToolCallCallback registers a callback invoked after each tool the
// model called has run.
func WithToolCallCallback(callback func(call events.FunctionCall, result events.ToolResult)) SessionOption {
	return func(o *SessionOptions) { o.onToolCall = callback }
}

// WithErrorCallback registers a callback for errors that do not end the
// session, such as playback overruns.
func WithErrorCallback(callback func(err error)) SessionOption {
	return func(o *SessionOptions) { o.onError = callback }
}

// WithClosedCallback registers a callback invoked once the session reaches
// its closed state. err is the cause that ended the session, nil when it was
// cancelled by the caller.
func WithClosedCallback(callback func(err error)) SessionOption {
	return func(o *SessionOptions) { o.onClosed = callback }
}
