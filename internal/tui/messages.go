package tui

import "time"

// PartialTextMsg carries a fragment of the model's current reply.
type PartialTextMsg struct{ Text string }

// TurnCompleteMsg marks the end of the model's reply.
type TurnCompleteMsg struct{}

// InterruptedMsg marks a reply the model abandoned.
type InterruptedMsg struct{}

// PanelMsg replaces the panel content.
type PanelMsg struct{ Content string }

// StatusMsg shows a line in the status bar.
type StatusMsg struct{ Text string }

// SessionClosedMsg reports the live session ending.
type SessionClosedMsg struct{ Err error }

type tickMsg time.Time

type actionDoneMsg struct {
	label string
	err   error
}
