// Package gemini implements a transport over the Gemini Live bidirectional
// WebSocket API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-kiosk/core/audio"
	"github.com/koscakluka/ema-kiosk/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultModel    = "models/gemini-2.0-flash-exp"

	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	inboundBufferSize       = 64
)

var _ transport.Dialer = (*Dialer)(nil)

type Dialer struct {
	apiKey  string
	options DialerOptions
}

type DialerOptions struct {
	Endpoint         string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

type DialerOption func(*DialerOptions)

// WithEndpoint overrides the WebSocket endpoint, mostly for tests and proxies.
func WithEndpoint(endpoint string) DialerOption {
	return func(o *DialerOptions) { o.Endpoint = endpoint }
}

// WithHandshakeTimeout bounds the time between dialing and receiving
// setupComplete.
func WithHandshakeTimeout(timeout time.Duration) DialerOption {
	return func(o *DialerOptions) { o.HandshakeTimeout = timeout }
}

func WithWriteTimeout(timeout time.Duration) DialerOption {
	return func(o *DialerOptions) { o.WriteTimeout = timeout }
}

func NewDialer(apiKey string, opts ...DialerOption) *Dialer {
	options := DialerOptions{
		Endpoint:         DefaultEndpoint,
		HandshakeTimeout: defaultHandshakeTimeout,
		WriteTimeout:     defaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Dialer{apiKey: apiKey, options: options}
}

// Open dials the endpoint, sends the setup message and waits for the server
// to acknowledge it.
func (d *Dialer) Open(ctx context.Context, config transport.Config) (transport.Transport, error) {
	ctx, span := tracer.Start(ctx, "open live transport")
	defer span.End()

	endpoint, err := url.Parse(d.options.Endpoint)
	if err != nil {
		err = fmt.Errorf("invalid endpoint: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if d.apiKey != "" {
		urlValues := endpoint.Query()
		urlValues.Set("key", d.apiKey)
		endpoint.RawQuery = urlValues.Encode()
	}

	model := modelName(config.Model)
	span.SetAttributes(attribute.String("request.model", model))

	dialCtx, cancel := context.WithTimeout(ctx, d.options.HandshakeTimeout)
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.options.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(dialCtx, endpoint.String(), d.options.Header)
	if err != nil {
		err = fmt.Errorf("failed to open socket connection to gemini: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := handshake(dialCtx, ws, setupFromConfig(model, config)); err != nil {
		_ = ws.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	outputEncoding := config.OutputEncoding
	if outputEncoding.IsZero() {
		outputEncoding = audio.GetDefaultOutputEncodingInfo()
	}
	inputEncoding := config.InputEncoding
	if inputEncoding.IsZero() {
		inputEncoding = audio.GetDefaultEncodingInfo()
	}

	return newConn(ws, connOptions{
		writeTimeout:   d.options.WriteTimeout,
		inputEncoding:  inputEncoding,
		outputEncoding: outputEncoding,
	}), nil
}

func handshake(ctx context.Context, ws *websocket.Conn, setup setupMessage) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetWriteDeadline(deadline)
		_ = ws.SetReadDeadline(deadline)
		defer func() {
			_ = ws.SetWriteDeadline(time.Time{})
			_ = ws.SetReadDeadline(time.Time{})
		}()
	}

	if err := ws.WriteJSON(clientMessage{Setup: &setup}); err != nil {
		return fmt.Errorf("failed to send setup message: %w", err)
	}

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed waiting for setup to complete: %w", err)
		}

		var parsedMsg serverMessage
		if err := json.Unmarshal(msg, &parsedMsg); err != nil {
			logger.WarnContext(ctx, "failed to unmarshal setup response", "error", err)
			continue
		}
		if parsedMsg.SetupComplete != nil {
			return nil
		}
	}
}

func setupFromConfig(model string, config transport.Config) setupMessage {
	setup := setupMessage{Model: model}

	if len(config.ResponseModalities) > 0 || config.Voice != "" {
		setup.GenerationConfig = &generationConfig{ResponseModalities: config.ResponseModalities}
		if config.Voice != "" {
			setup.GenerationConfig.SpeechConfig = &speechConfig{
				VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: config.Voice}},
			}
		}
	}

	if config.SystemInstruction != "" {
		setup.SystemInstruction = &content{Parts: []part{{Text: config.SystemInstruction}}}
	}

	if len(config.Tools) > 0 {
		declarations := make([]functionDeclaration, 0, len(config.Tools))
		for _, declaration := range config.Tools {
			declarations = append(declarations, functionDeclaration{
				Name:        declaration.Name,
				Description: declaration.Description,
				Parameters:  declaration.Parameters,
			})
		}
		setup.Tools = []tool{{FunctionDeclarations: declarations}}
	}

	return setup
}

func modelName(model string) string {
	if model == "" {
		return DefaultModel
	}
	if !strings.HasPrefix(model, "models/") {
		return "models/" + model
	}
	return model
}
