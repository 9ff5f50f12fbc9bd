package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-kiosk/core/audio"
	"github.com/koscakluka/ema-kiosk/core/events"
	"github.com/koscakluka/ema-kiosk/core/transport"
	"go.opentelemetry.io/otel/attribute"
)

var (
	sentMessages, _     = meter.Int64Counter("live_transport.messages_sent")
	receivedMessages, _ = meter.Int64Counter("live_transport.messages_received")
)

var _ transport.Transport = (*conn)(nil)

type connOptions struct {
	writeTimeout   time.Duration
	inputEncoding  audio.EncodingInfo
	outputEncoding audio.EncodingInfo
}

type conn struct {
	ws      *websocket.Conn
	options connOptions

	writeMu     sync.Mutex
	pendingText []string

	inbound    chan events.Inbound
	done       chan struct{}
	readerDone chan struct{}

	closeOnce     sync.Once
	closedLocally atomic.Bool
	audioSequence uint64
}

func newConn(ws *websocket.Conn, options connOptions) *conn {
	c := &conn{
		ws:         ws,
		options:    options,
		inbound:    make(chan events.Inbound, inboundBufferSize),
		done:       make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	go c.processIncomingMessages()
	return c
}

// Send writes the event to the socket. TextTurn is held until the following
// EndOfTurn so the pair goes out as a single clientContent message.
func (c *conn) Send(ctx context.Context, event events.Outbound) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}

	var msg clientMessage
	switch event := event.(type) {
	case events.OutboundAudioChunk:
		encodingInfo := event.Frame.EncodingInfo
		if encodingInfo.IsZero() {
			encodingInfo = c.options.inputEncoding
		}
		msg.RealtimeInput = &realtimeInput{MediaChunks: []blob{{
			MimeType: encodingInfo.MimeType(),
			Data:     base64.StdEncoding.EncodeToString(event.Frame.Bytes()),
		}}}
	case events.TextTurn:
		c.pendingText = append(c.pendingText, event.Text)
		return nil
	case events.EndOfTurn:
		msg.ClientContent = &clientContent{TurnComplete: true}
		if len(c.pendingText) > 0 {
			parts := make([]part, 0, len(c.pendingText))
			for _, text := range c.pendingText {
				parts = append(parts, part{Text: text})
			}
			msg.ClientContent.Turns = []content{{Role: "user", Parts: parts}}
			c.pendingText = nil
		}
	case events.CancelSession:
		msg.RealtimeInput = &realtimeInput{AudioStreamEnd: true}
	case events.ToolResponse:
		responses := make([]functionResponse, 0, len(event.Results))
		for _, result := range event.Results {
			responses = append(responses, functionResponse{ID: result.ID, Name: result.Name, Response: result.Response})
		}
		msg.ToolResponse = &toolResponse{FunctionResponses: responses}
	default:
		return fmt.Errorf("unsupported outbound event %q", event.Kind())
	}

	return c.sendWebsocketMessage(ctx, msg, event.Kind())
}

func (c *conn) sendWebsocketMessage(ctx context.Context, msg clientMessage, kind events.Kind) error {
	deadline := time.Now().Add(c.options.writeTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = c.ws.SetWriteDeadline(deadline)

	if err := c.ws.WriteJSON(msg); err != nil {
		select {
		case <-c.done:
			return transport.ErrClosed
		default:
		}
		return fmt.Errorf("failed to send %s message: %w", kind, err)
	}
	sentMessages.Add(ctx, 1)
	return nil
}

func (c *conn) Receive(ctx context.Context) (events.Inbound, error) {
	select {
	case event, ok := <-c.inbound:
		if !ok {
			return nil, transport.ErrClosed
		}
		return event, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close ends the connection. Receive returns ErrClosed once buffered events
// are consumed and no TransportError is produced.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closedLocally.Store(true)
		close(c.done)

		c.writeMu.Lock()
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		err = c.ws.Close()
		<-c.readerDone
	})
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("failed to close websocket: %w", err)
	}
	return nil
}

func (c *conn) processIncomingMessages() {
	defer close(c.readerDone)
	defer close(c.inbound)

	ctx := context.Background()
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if c.closedLocally.Load() {
				return
			}
			reason := "connection lost"
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "connection closed by server"
			}
			logger.WarnContext(ctx, "live transport terminated", "reason", reason, "error", err)
			c.emit(events.NewTransportError(reason, err))
			return
		}
		receivedMessages.Add(ctx, 1)

		var parsedMsg serverMessage
		if err := json.Unmarshal(msg, &parsedMsg); err != nil {
			logger.WarnContext(ctx, "failed to unmarshal server message", "error", err)
			continue
		}

		if !c.dispatch(ctx, parsedMsg) {
			return
		}
	}
}

func (c *conn) dispatch(ctx context.Context, msg serverMessage) (ok bool) {
	if content := msg.ServerContent; content != nil {
		if content.Interrupted {
			if !c.emit(events.NewInterrupted()) {
				return false
			}
		}
		if content.ModelTurn != nil {
			for _, p := range content.ModelTurn.Parts {
				if p.Text != "" {
					if !c.emit(events.NewPartialText(p.Text)) {
						return false
					}
				}
				if p.InlineData != nil {
					if !c.emitAudio(ctx, p.InlineData) {
						return false
					}
				}
			}
		}
		if content.TurnComplete {
			if !c.emit(events.NewTurnComplete()) {
				return false
			}
		}
	}

	if call := msg.ToolCall; call != nil && len(call.FunctionCalls) > 0 {
		calls := make([]events.FunctionCall, 0, len(call.FunctionCalls))
		for _, functionCall := range call.FunctionCalls {
			id := functionCall.ID
			if id == "" {
				id = uuid.NewString()
			}
			calls = append(calls, events.FunctionCall{ID: id, Name: functionCall.Name, Arguments: functionCall.Args})
		}
		if !c.emit(events.NewToolCall(calls...)) {
			return false
		}
	}

	if msg.ToolCallCancellation != nil {
		logger.InfoContext(ctx, "server cancelled tool calls", "ids", msg.ToolCallCancellation.IDs)
	}
	if msg.GoAway != nil {
		logger.WarnContext(ctx, "server is going away", "time_left", msg.GoAway.TimeLeft)
	}
	return true
}

func (c *conn) emitAudio(ctx context.Context, data *blob) bool {
	decoded, err := base64.StdEncoding.DecodeString(data.Data)
	if err != nil {
		_, span := tracer.Start(ctx, "decode inbound audio")
		span.RecordError(err)
		span.SetAttributes(attribute.String("audio.mime_type", data.MimeType))
		span.End()
		return true
	}

	encodingInfo := audio.ParseMimeType(data.MimeType, c.options.outputEncoding)
	frame := audio.NewFrame(c.audioSequence, encodingInfo, decoded)
	c.audioSequence++
	return c.emit(events.NewInboundAudioChunk(frame))
}

func (c *conn) emit(event events.Inbound) bool {
	select {
	case c.inbound <- event:
		return true
	case <-c.done:
		return false
	}
}
