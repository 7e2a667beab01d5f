package penalty

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"bibliotek/internal/observability"
)

// Assessor computes and records fees inside a caller-owned transaction, so a
// penalty and the circulation change that caused it commit or roll back
// together.
type Assessor struct {
	lateFeeCentsPerDay int64
	cancelFeeCents     int64
	clock              func() time.Time
}

// NewAssessor creates an assessor with the configured fee schedule.
func NewAssessor(lateFeeCentsPerDay, cancelFeeCents int64) *Assessor {
	return &Assessor{
		lateFeeCentsPerDay: lateFeeCentsPerDay,
		cancelFeeCents:     cancelFeeCents,
		clock:              time.Now,
	}
}

// DaysLate counts how many whole or partial days returnedAt falls after
// dueAt. Any overshoot rounds up: one minute late is one day late.
func DaysLate(dueAt, returnedAt time.Time) int64 {
	d := returnedAt.Sub(dueAt)
	if d <= 0 {
		return 0
	}
	days := int64(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// LateFeeCents is the fee for returning at returnedAt against a dueAt
// deadline. Zero when on time.
func (a *Assessor) LateFeeCents(dueAt, returnedAt time.Time) int64 {
	return DaysLate(dueAt, returnedAt) * a.lateFeeCentsPerDay
}

// AssessLateReturn records a late fee for a borrow. Returns nil when the
// return was on time.
func (a *Assessor) AssessLateReturn(ctx context.Context, tx pgx.Tx, borrowID int64, memberID uuid.UUID, dueAt, returnedAt time.Time) (*Penalty, error) {
	amount := a.LateFeeCents(dueAt, returnedAt)
	if amount == 0 {
		return nil, nil
	}

	p := &Penalty{
		MemberID:    memberID,
		BorrowID:    &borrowID,
		AmountCents: amount,
		Reason:      ReasonLateReturn,
		Status:      StatusUnpaid,
		AssessedAt:  a.clock().UTC(),
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO penalties (borrow_id, member_id, amount_cents, reason, status, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, borrowID, memberID, amount, p.Reason, p.Status, p.AssessedAt).Scan(&p.ID)
	if err != nil {
		return nil, fmt.Errorf("insert late fee: %w", err)
	}
	observability.PenaltiesAssessedTotal.Inc()
	return p, nil
}

// AssessCancellation records the flat fee for a cancelled or expired
// confirmed hold.
func (a *Assessor) AssessCancellation(ctx context.Context, tx pgx.Tx, reservationID int64, memberID uuid.UUID) (*Penalty, error) {
	p := &Penalty{
		MemberID:      memberID,
		ReservationID: &reservationID,
		AmountCents:   a.cancelFeeCents,
		Reason:        ReasonCancellation,
		Status:        StatusUnpaid,
		AssessedAt:    a.clock().UTC(),
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO penalties (reservation_id, member_id, amount_cents, reason, status, assessed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, reservationID, memberID, p.AmountCents, p.Reason, p.Status, p.AssessedAt).Scan(&p.ID)
	if err != nil {
		return nil, fmt.Errorf("insert cancellation fee: %w", err)
	}
	observability.PenaltiesAssessedTotal.Inc()
	return p, nil
}
