package penalty

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("penalty not found")
	ErrAlreadyPaid = errors.New("penalty already paid")
)

const (
	StatusUnpaid = "unpaid"
	StatusPaid   = "paid"
)

// Penalty is a fee owed by a member. Amounts are integer cents; floats have
// no place in money.
type Penalty struct {
	ID            int64      `json:"id"`
	MemberID      uuid.UUID  `json:"member_id"`
	ReservationID *int64     `json:"reservation_id,omitempty"`
	BorrowID      *int64     `json:"borrow_id,omitempty"`
	AmountCents   int64      `json:"amount_cents"`
	Reason        string     `json:"reason"`
	Status        string     `json:"status"`
	AssessedAt    time.Time  `json:"assessed_at"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

const (
	ReasonLateReturn   = "late_return"
	ReasonCancellation = "cancellation"
)
