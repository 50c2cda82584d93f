package protocol

// Type discriminates server-to-client message kinds.
type Type string

const (
	TypeUserMessage Type = "user_message"
	TypeError       Type = "error"
	TypeTurnEnded   Type = "turn_ended"
	TypeResponse    Type = "response"
	TypeSearch      Type = "search"
	TypeAudio       Type = "audio"
	TypeSpeakAudio  Type = "speak_audio"
	TypeSoundAlert  Type = "sound_alert"
	TypeZapier      Type = "zapier"
)

// Message is a single server-to-client frame. IsFinal is only populated for
// kinds that carry it (user_message, audio, speak_audio).
type Message struct {
	Type    Type   `json:"type"`
	Data    string `json:"data,omitempty"`
	IsFinal *bool  `json:"is_final,omitempty"`
}

// UserMessage echoes recognized or submitted user text to the client.
func UserMessage(text string, final bool) Message {
	return Message{Type: TypeUserMessage, Data: text, IsFinal: &final}
}

// Error reports a human-readable failure for the current step.
func Error(text string) Message {
	return Message{Type: TypeError, Data: text}
}

// TurnEnded marks the end of an utterance.
func TurnEnded() Message {
	return Message{Type: TypeTurnEnded}
}

// Response carries a generated reply.
func Response(text string) Message {
	return Message{Type: TypeResponse, Data: text}
}

// SearchResult carries a web-search summary.
func SearchResult(text string) Message {
	return Message{Type: TypeSearch, Data: text}
}

// Audio carries one base64-encoded synthesis chunk. kind selects between the
// reply path (audio) and the direct speak path (speak_audio).
func Audio(kind Type, b64 string, final bool) Message {
	return Message{Type: kind, Data: b64, IsFinal: &final}
}

// SoundAlert asks the client to play an audible cue ("start" or "stop").
func SoundAlert(event string) Message {
	return Message{Type: TypeSoundAlert, Data: event}
}

// Zapier confirms a webhook side effect.
func Zapier(text string) Message {
	return Message{Type: TypeZapier, Data: text}
}
