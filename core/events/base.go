package events

import (
	"strings"
	"time"
)

// Kind names an event as "<direction>.<name>".
type Kind string

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Direction returns the part of the kind before the first dot.
func (k Kind) Direction() string {
	direction, _, _ := strings.Cut(string(k), ".")
	return direction
}

type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base is embedded by every event and records when it was created.
type Base struct {
	kind      Kind
	createdAt time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, createdAt: time.Now()}
}

func (b Base) Kind() Kind { return b.kind }

func (b Base) Timestamp() time.Time { return b.createdAt }
