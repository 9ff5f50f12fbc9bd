package events

import "github.com/koscakluka/ema-kiosk/core/audio"

const (
	// KindOutboundAudioChunk identifies a captured microphone frame.
	KindOutboundAudioChunk Kind = "outbound.audio_chunk"
	// KindOutboundTextTurn identifies typed user text.
	KindOutboundTextTurn Kind = "outbound.text_turn"
	// KindOutboundEndOfTurn identifies the end of a user turn.
	KindOutboundEndOfTurn Kind = "outbound.end_of_turn"
	// KindOutboundCancelSession identifies a request to end the session.
	KindOutboundCancelSession Kind = "outbound.cancel_session"
	// KindOutboundToolResponse identifies results of tools the model called.
	KindOutboundToolResponse Kind = "outbound.tool_response"
)

// Outbound is an event sent from the session to the remote model.
type Outbound interface {
	Event
	outbound()
}

// OutboundAudioChunk carries one captured frame.
type OutboundAudioChunk struct {
	Base
	Frame audio.Frame
}

// NewOutboundAudioChunk creates an outbound audio chunk event.
func NewOutboundAudioChunk(frame audio.Frame) OutboundAudioChunk {
	return OutboundAudioChunk{Base: NewBase(KindOutboundAudioChunk), Frame: frame}
}

// TextTurn carries a line of typed user text.
type TextTurn struct {
	Base
	Text string
}

// NewTextTurn creates a text turn event.
func NewTextTurn(text string) TextTurn {
	return TextTurn{Base: NewBase(KindOutboundTextTurn), Text: text}
}

// EndOfTurn marks that the user finished their turn.
type EndOfTurn struct{ Base }

// NewEndOfTurn creates an end of turn event.
func NewEndOfTurn() EndOfTurn {
	return EndOfTurn{Base: NewBase(KindOutboundEndOfTurn)}
}

// CancelSession tells the remote side the session is ending.
type CancelSession struct{ Base }

// NewCancelSession creates a cancel session event.
func NewCancelSession() CancelSession {
	return CancelSession{Base: NewBase(KindOutboundCancelSession)}
}

// ToolResult is the outcome of a single tool invocation.
type ToolResult struct {
	ID       string
	Name     string
	Response map[string]any
}

// ToolResponse carries results for a previous ToolCall.
type ToolResponse struct {
	Base
	Results []ToolResult
}

// NewToolResponse creates a tool response event.
func NewToolResponse(results ...ToolResult) ToolResponse {
	return ToolResponse{Base: NewBase(KindOutboundToolResponse), Results: results}
}

func (OutboundAudioChunk) outbound() {}
func (TextTurn) outbound()           {}
func (EndOfTurn) outbound()          {}
func (CancelSession) outbound()      {}
func (ToolResponse) outbound()       {}
