package stt

// EventKind tags a transcript event.
type EventKind int

const (
	EventPartial EventKind = iota
	EventFinal
	EventError
)

// String returns the metric label for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event is one transcript event relayed from the transcription service.
// Partial and final events carry Text; error events carry Err.
type Event struct {
	Kind EventKind
	Text string
	Err  string
}

// Bridge owns one streaming connection to the transcription service. Its
// events channel is the only path from the service's delivery context back
// into the session's event loop: callbacks never touch the client connection.
type Bridge interface {
	// Start opens the streaming connection.
	Start() error

	// SendAudio hands one flushed audio batch to the service.
	SendAudio(audio []byte) error

	// Events returns the ordered transcript event channel.
	Events() <-chan Event

	// Stop finishes the current turn, letting in-flight transcription
	// finalize.
	Stop() error

	// Close tears the bridge down and releases resources.
	Close() error
}
