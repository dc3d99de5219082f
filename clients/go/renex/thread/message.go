package thread

import (
	"github.com/renex-id/renex/clients/go/renex"
)

// Status is the delivery status of a visible message.
type Status string

const (
	// StatusPending means the message was submitted locally and awaits confirmation.
	StatusPending Status = "pending"
	// StatusSent means the server confirmed the message or it arrived via poll.
	StatusSent Status = "sent"
	// StatusFailed means the submission errored or was rate limited.
	StatusFailed Status = "failed"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateSteady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSteady:
		return "steady"
	}
	return "unknown"
}

// Message is one entry of the visible thread.
type Message struct {
	// Key is the stable render key: the temp id for local sends, the
	// resolved identity for polled messages. It never changes once rendered.
	Key string

	ID        string
	TempID    string
	From      string
	To        string
	Text      string
	Timestamp int64 // Unix ms, 0 while pending
	Status    Status
	Mine      bool
}

func fromWire(m renex.Message, key string, mine bool) Message {
	return Message{
		Key:       key,
		ID:        m.ID,
		From:      renex.NormalizeHandle(m.From),
		To:        renex.NormalizeHandle(m.To),
		Text:      m.Text,
		Timestamp: m.Timestamp,
		Status:    StatusSent,
		Mine:      mine,
	}
}
