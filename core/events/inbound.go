package events

import (
	"encoding/json"

	"github.com/koscakluka/ema-kiosk/core/audio"
)

const (
	// KindInboundPartialText identifies a fragment of model text.
	KindInboundPartialText Kind = "inbound.partial_text"
	// KindInboundAudioChunk identifies synthesized model audio.
	KindInboundAudioChunk Kind = "inbound.audio_chunk"
	// KindInboundTurnComplete identifies the end of a model turn.
	KindInboundTurnComplete Kind = "inbound.turn_complete"
	// KindInboundInterrupted identifies the model abandoning its turn because
	// the user started speaking.
	KindInboundInterrupted Kind = "inbound.interrupted"
	// KindInboundToolCall identifies a request to run local tools.
	KindInboundToolCall Kind = "inbound.tool_call"
	// KindInboundTransportError identifies the terminal failure of the
	// transport.
	KindInboundTransportError Kind = "inbound.transport_error"
)

// Inbound is an event received from the remote model.
type Inbound interface {
	Event
	inbound()
}

// PartialText carries a text fragment of the current model turn.
type PartialText struct {
	Base
	Text string
}

// NewPartialText creates a partial text event.
func NewPartialText(text string) PartialText {
	return PartialText{Base: NewBase(KindInboundPartialText), Text: text}
}

// InboundAudioChunk carries a frame of synthesized model audio.
type InboundAudioChunk struct {
	Base
	Frame audio.Frame
}

// NewInboundAudioChunk creates an inbound audio chunk event.
func NewInboundAudioChunk(frame audio.Frame) InboundAudioChunk {
	return InboundAudioChunk{Base: NewBase(KindInboundAudioChunk), Frame: frame}
}

// TurnComplete marks the end of a model turn.
type TurnComplete struct{ Base }

// NewTurnComplete creates a turn complete event.
func NewTurnComplete() TurnComplete {
	return TurnComplete{Base: NewBase(KindInboundTurnComplete)}
}

// Interrupted marks that the model stopped its turn early.
type Interrupted struct{ Base }

// NewInterrupted creates an interrupted event.
func NewInterrupted() Interrupted {
	return Interrupted{Base: NewBase(KindInboundInterrupted)}
}

// FunctionCall is a single tool invocation requested by the model.
type FunctionCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolCall carries tool invocations requested by the model.
type ToolCall struct {
	Base
	Calls []FunctionCall
}

// NewToolCall creates a tool call event.
func NewToolCall(calls ...FunctionCall) ToolCall {
	return ToolCall{Base: NewBase(KindInboundToolCall), Calls: calls}
}

// TransportError is the last event a transport delivers after it fails.
type TransportError struct {
	Base
	Reason string
	Err    error
}

// NewTransportError creates a transport error event.
func NewTransportError(reason string, err error) TransportError {
	return TransportError{Base: NewBase(KindInboundTransportError), Reason: reason, Err: err}
}

func (e TransportError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e TransportError) Unwrap() error { return e.Err }

func (PartialText) inbound()       {}
func (InboundAudioChunk) inbound() {}
func (TurnComplete) inbound()      {}
func (Interrupted) inbound()       {}
func (ToolCall) inbound()          {}
func (TransportError) inbound()    {}
