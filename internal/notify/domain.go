// Package notify turns journal events into member-facing notifications. The
// dispatcher tails the journal behind a durable cursor, so delivery is
// at-least-once across restarts.
package notify

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("notification not found")

// Notification is one message for one member.
type Notification struct {
	ID       int64     `json:"id"`
	MemberID uuid.UUID `json:"member_id"`
	Message  string    `json:"message"`
	SentAt   time.Time `json:"sent_at"`
	Read     bool      `json:"read"`
}
