package orchestration

// SessionMetrics receives counters for session activity. Implementations
// must be safe for concurrent use.
type SessionMetrics interface {
	SessionStarted()
	SessionClosed()
	FrameCaptured()
	FrameSent()
	FramePlayed()
	PlaybackOverrun()
	TransportError()
	ToolCalled(name string, failed bool)
}

type noopMetrics struct{}

func (noopMetrics) SessionStarted()         {}
func (noopMetrics) SessionClosed()          {}
func (noopMetrics) FrameCaptured()          {}
func (noopMetrics) FrameSent()              {}
func (noopMetrics) FramePlayed()            {}
func (noopMetrics) PlaybackOverrun()        {}
func (noopMetrics) TransportError()         {}
func (noopMetrics) ToolCalled(string, bool) {}
