package orchestration

import (
	"context"
	"errors"
	"fmt"

	"github.com/koscakluka/ema-kiosk/core/events"
	"github.com/koscakluka/ema-kiosk/core/transport"
)

func (s *Session) forwardCapturedAudio(ctx context.Context) error {
	if s.capture == nil {
		return nil
	}

	for frame := range s.capture.Frames() {
		if err := s.enqueue(ctx, events.NewOutboundAudioChunk(frame)); err != nil {
			return nil
		}
	}

	if err := s.capture.Err(); err != nil {
		logger.WarnContext(ctx, "capture ended unexpectedly", "session", s.ID, "error", err)
		s.beginClose(err)
	}
	return nil
}

// sendOutbound is the only writer to the transport. It keeps draining the
// queue after a failure so producers never block on a dead session.
func (s *Session) sendOutbound(ctx context.Context) error {
	failed := false
	for batch := range s.outbound {
		if failed {
			continue
		}

		for _, event := range batch {
			err := s.transport.Send(ctx, event)
			if err == nil {
				if event.Kind() == events.KindOutboundAudioChunk {
					s.metrics.FrameSent()
				}
				continue
			}

			failed = true
			if !errors.Is(err, transport.ErrClosed) {
				err = fmt.Errorf("failed to send %s: %w", event.Kind(), err)
				s.addWorkerErr(err)
				s.beginClose(err)
			}
			break
		}
	}
	return nil
}

func (s *Session) receiveInbound(ctx context.Context) error {
	for {
		event, err := s.transport.Receive(ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		s.handleInbound(ctx, event)
	}
}

func (s *Session) handleInbound(ctx context.Context, event events.Inbound) {
	switch event := event.(type) {
	case events.PartialText:
		s.transcript.appendModelText(event.Text)
		if s.options.onPartialText != nil {
			s.options.onPartialText(event.Text)
		}

	case events.InboundAudioChunk:
		if s.playback == nil || !s.isActive() {
			return
		}
		if err := s.playback.Enqueue(ctx, event.Frame); err != nil {
			if errors.Is(err, ErrPlaybackClosed) || ctx.Err() != nil {
				return
			}
			logger.WarnContext(ctx, "dropped model audio", "session", s.ID, "sequence", event.Frame.Sequence, "error", err)
			s.reportError(fmt.Errorf("failed to enqueue audio frame %d: %w", event.Frame.Sequence, err))
		}

	case events.TurnComplete:
		if turn, ok := s.transcript.completeModelTurn(); ok && s.options.onTurnComplete != nil {
			s.options.onTurnComplete(turn)
		}

	case events.Interrupted:
		if s.playback != nil {
			s.playback.Flush()
		}
		s.transcript.interruptModelTurn()
		if s.options.onInterrupted != nil {
			s.options.onInterrupted()
		}

	case events.ToolCall:
		s.toolRuns.Add(1)
		go func() {
			defer s.toolRuns.Done()
			s.runTools(ctx, event)
		}()

	case events.TransportError:
		s.metrics.TransportError()
		logger.WarnContext(ctx, "transport failed", "session", s.ID, "reason", event.Reason, "error", event.Err)
		s.beginClose(event)

	default:
		logger.WarnContext(ctx, "unhandled event", "session", s.ID, "direction", event.Kind().Direction(), "kind", string(event.Kind()))
	}
}

// runTools executes the requested tools and queues a single response for
// all of them. It runs off the receive path.
func (s *Session) runTools(ctx context.Context, call events.ToolCall) {
	if s.tools == nil {
		return
	}

	results := make([]events.ToolResult, 0, len(call.Calls))
	for _, functionCall := range call.Calls {
		result := s.tools.Execute(ctx, functionCall)
		_, failed := result.Response["error"]
		s.metrics.ToolCalled(functionCall.Name, failed)
		if s.options.onToolCall != nil {
			s.options.onToolCall(functionCall, result)
		}
		results = append(results, result)
	}

	if err := s.enqueue(ctx, events.NewToolResponse(results...)); err != nil && !errors.Is(err, ErrSessionNotActive) {
		s.reportError(fmt.Errorf("failed to queue tool response: %w", err))
	}
}

func (s *Session) reportError(err error) {
	if s.options.onError != nil {
		s.options.onError(err)
	}
}
