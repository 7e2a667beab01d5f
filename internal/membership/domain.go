package membership

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("member not found")
	ErrEmailTaken  = errors.New("email already registered")
	ErrRateLimited = errors.New("too many registration attempts")
)

// Member represents a library member.
type Member struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Credential holds a member's login secret. Never serialized.
type Credential struct {
	MemberID     uuid.UUID `json:"-"`
	PasswordHash string    `json:"-"`
	Salt         string    `json:"-"`
}

// Favorite marks a book a member wants to keep an eye on.
type Favorite struct {
	MemberID uuid.UUID `json:"member_id"`
	ISBN     string    `json:"isbn"`
	AddedAt  time.Time `json:"added_at"`
}
