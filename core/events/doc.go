// Package events defines the typed events exchanged between a conversation
// session and the remote model.
//
// Event kinds are grouped by direction:
//
//   - outbound.*
//   - inbound.*
//
// outbound events
//
//   - OutboundAudioChunk (outbound.audio_chunk): captured microphone frame.
//   - TextTurn (outbound.text_turn): typed user text.
//   - EndOfTurn (outbound.end_of_turn): the user finished their turn. A
//     TextTurn is always followed by an EndOfTurn with no audio in between.
//   - CancelSession (outbound.cancel_session): the session is ending.
//   - ToolResponse (outbound.tool_response): results for a ToolCall.
//
// inbound events
//
//   - PartialText (inbound.partial_text): append-only model text fragment.
//   - InboundAudioChunk (inbound.audio_chunk): synthesized model audio.
//   - TurnComplete (inbound.turn_complete): the model turn ended.
//   - Interrupted (inbound.interrupted): the model abandoned its turn; unplayed
//     audio should be discarded.
//   - ToolCall (inbound.tool_call): the model requests local tools.
//   - TransportError (inbound.transport_error): the transport failed. It is
//     the last event a transport delivers.
package events
