package engine

import (
	"fmt"
	"time"
)

// EventTypeMessageNew is the only inbound event type the pipeline acts on.
const EventTypeMessageNew = "message.new"

// MessageEvent is the provider's webhook payload for a new chat message.
// Signature verification over the raw body happens before decoding; by the
// time an event reaches the engine it is authenticated.
type MessageEvent struct {
	Type    string       `json:"type"`
	Message EventMessage `json:"message"`
}

type EventMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	User      EventUser `json:"user"`
	CID       string    `json:"cid"` // provider channel id, eg "messaging:general"
	CreatedAt time.Time `json:"created_at"`
}

type EventUser struct {
	ID string `json:"id"`
}

// Validate checks the event shape. Malformed events are logged and
// acknowledged as no-ops upstream; they never reach processing.
func (evt *MessageEvent) Validate() error {
	if evt.Type != EventTypeMessageNew {
		return fmt.Errorf("unsupported event type: %q", evt.Type)
	}
	if evt.Message.ID == "" {
		return fmt.Errorf("event missing message id")
	}
	if evt.Message.User.ID == "" {
		return fmt.Errorf("event missing author id")
	}
	if evt.Message.CID == "" {
		return fmt.Errorf("event missing channel id")
	}
	return nil
}
