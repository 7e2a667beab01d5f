package circulation

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service defines the interface for the circulation engine. Every operation is
// one atomic unit over the book row, its reservations, and its borrows.
type Service interface {
	Borrow(ctx context.Context, memberID uuid.UUID, isbn string) (*Borrow, error)
	Return(ctx context.Context, borrowID int64) error
	Reserve(ctx context.Context, memberID uuid.UUID, isbn string, dueBy *time.Time) (*Reservation, error)
	CancelReservation(ctx context.Context, reservationID int64) error

	ListBorrowsByMember(ctx context.Context, memberID uuid.UUID) ([]*Borrow, error)
	ListReservationsByMember(ctx context.Context, memberID uuid.UUID) ([]*Reservation, error)
}
