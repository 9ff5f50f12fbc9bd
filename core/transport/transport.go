// Package transport defines the duplex channel between a conversation session
// and the remote model.
package transport

import (
	"context"
	"errors"

	"github.com/invopop/jsonschema"
	"github.com/koscakluka/ema-kiosk/core/audio"
	"github.com/koscakluka/ema-kiosk/core/events"
)

// ErrClosed is returned by Send and Receive once the transport has
// terminated, whether it was closed locally or failed.
var ErrClosed = errors.New("transport closed")

// Transport sends outbound events and receives inbound events.
//
// Send is safe for concurrent use and frames are written in call order.
// Receive returns events in the order they arrived from the network. If the
// connection fails without Close being called, Receive returns exactly one
// [events.TransportError] and then ErrClosed.
type Transport interface {
	Send(ctx context.Context, event events.Outbound) error
	Receive(ctx context.Context) (events.Inbound, error)
	Close() error
}

// Dialer opens new transports. Each call to Open returns an independent
// connection.
type Dialer interface {
	Open(ctx context.Context, config Config) (Transport, error)
}

// Config describes the conversation the transport negotiates when opening.
type Config struct {
	Model             string
	SystemInstruction string
	// ResponseModalities lists what the model replies with, e.g. "AUDIO" or
	// "TEXT". Empty means the endpoint default.
	ResponseModalities []string
	Voice              string

	InputEncoding  audio.EncodingInfo
	OutputEncoding audio.EncodingInfo

	Tools []ToolDeclaration
}

// ToolDeclaration describes a local function the model may call.
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}
