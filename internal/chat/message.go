// ABOUTME: Message model for the active conversation view
// ABOUTME: Tracks whether an id is server-issued or a client-side placeholder

package chat

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

// Roles accepted in a conversation.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// State tags where a message's id came from.
type State int

const (
	// StateConfirmed messages carry a durable id issued by the backend.
	StateConfirmed State = iota
	// StateProvisional messages were created locally for an in-flight send
	// and are replaced on reconciliation.
	StateProvisional
	// StateUnconfirmed messages are leftovers of a send whose reconciliation
	// failed. They are kept so user input is not lost, but are no longer in flight.
	StateUnconfirmed
)

func (s State) String() string {
	switch s {
	case StateConfirmed:
		return "confirmed"
	case StateProvisional:
		return "provisional"
	case StateUnconfirmed:
		return "unconfirmed"
	default:
		return "unknown"
	}
}

// Message is a single entry in the conversation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	State     State     `json:"-"`
}

// IsProvisional reports whether the message belongs to an in-flight send.
func (m Message) IsProvisional() bool {
	return m.State == StateProvisional
}

// NewProvisional creates a placeholder message with a fresh client-side id.
func NewProvisional(role Role, content string, now time.Time) Message {
	return Message{
		ID:        "local-" + uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: now,
		State:     StateProvisional,
	}
}
