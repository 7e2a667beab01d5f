package circulation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reservation lifecycle. A fulfilled reservation keeps status Confirmed with
// FulfilledAt set; it can never transition again.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

var (
	ErrBookNotFound         = errors.New("book not found")
	ErrMemberNotFound       = errors.New("member not found")
	ErrBorrowNotFound       = errors.New("borrow not found")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrOutOfStock           = errors.New("no copies available")
	ErrAlreadyBorrowed      = errors.New("member already holds an outstanding copy of this book")
	ErrNotOutstanding       = errors.New("borrow is not outstanding")
	ErrDuplicateReservation = errors.New("member already holds a live reservation for this book")
	ErrNotCancellable       = errors.New("reservation is no longer cancellable")
	ErrBusy                 = errors.New("operation conflicted with concurrent requests, try again")
)

// InvariantViolationError indicates a bug: committed state would break a stock
// invariant. The engine rolls back and surfaces it loudly; it is never retried.
type InvariantViolationError struct {
	ISBN   string
	Detail string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violation on %s: %s", e.ISBN, e.Detail)
}

// Borrow is one lending of one copy. ReturnedAt nil means outstanding.
type Borrow struct {
	ID         int64      `json:"id"`
	MemberID   uuid.UUID  `json:"member_id"`
	ISBN       string     `json:"isbn"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
}

// Reservation is a member's claim on the next freed copy of a title.
type Reservation struct {
	ID          int64      `json:"id"`
	MemberID    uuid.UUID  `json:"member_id"`
	ISBN        string     `json:"isbn"`
	Status      string     `json:"status"`
	RequestedAt time.Time  `json:"requested_at"`
	DueBy       *time.Time `json:"due_by,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	FulfilledAt *time.Time `json:"fulfilled_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// holdExpired derives expiry from timestamps: a Confirmed reservation past its
// hold window behaves as cancelled for allocation purposes.
func holdExpired(confirmedAt, now time.Time, holdWindow time.Duration) bool {
	return now.After(confirmedAt.Add(holdWindow))
}

// Event types appended to the journal by the engine.
const (
	EventBookBorrowed         = "BookBorrowed"
	EventBookReturned         = "BookReturned"
	EventReservationPlaced    = "ReservationPlaced"
	EventReservationConfirmed = "ReservationConfirmed"
	EventReservationCancelled = "ReservationCancelled"
	EventHoldExpired          = "HoldExpired"
)

type BookBorrowedEvent struct {
	BorrowID int64     `json:"borrow_id"`
	MemberID uuid.UUID `json:"member_id"`
	ISBN     string    `json:"isbn"`
	DueAt    time.Time `json:"due_at"`
}

type BookReturnedEvent struct {
	BorrowID   int64     `json:"borrow_id"`
	MemberID   uuid.UUID `json:"member_id"`
	ISBN       string    `json:"isbn"`
	ReturnedAt time.Time `json:"returned_at"`
	Late       bool      `json:"late"`
}

type ReservationPlacedEvent struct {
	ReservationID int64     `json:"reservation_id"`
	MemberID      uuid.UUID `json:"member_id"`
	ISBN          string    `json:"isbn"`
}

type ReservationConfirmedEvent struct {
	ReservationID int64     `json:"reservation_id"`
	MemberID      uuid.UUID `json:"member_id"`
	ISBN          string    `json:"isbn"`
	HoldUntil     time.Time `json:"hold_until"`
}

type ReservationCancelledEvent struct {
	ReservationID int64     `json:"reservation_id"`
	MemberID      uuid.UUID `json:"member_id"`
	ISBN          string    `json:"isbn"`
}

type HoldExpiredEvent struct {
	ReservationID int64     `json:"reservation_id"`
	MemberID      uuid.UUID `json:"member_id"`
	ISBN          string    `json:"isbn"`
}
