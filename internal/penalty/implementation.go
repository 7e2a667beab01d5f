package penalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type service struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	clock  func() time.Time
}

// NewService creates a new penalty service instance.
func NewService(pool *pgxpool.Pool, logger *zap.Logger) Service {
	return &service{pool: pool, logger: logger, clock: time.Now}
}

const penaltyColumns = `id, member_id, reservation_id, borrow_id, amount_cents, reason, status, assessed_at, paid_at`

// Pay settles a penalty. Paying twice is rejected, not silently absorbed, so
// callers learn when they are retrying against a stale view.
func (s *service) Pay(ctx context.Context, penaltyID int64) (*Penalty, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	p := &Penalty{}
	err = tx.QueryRow(ctx, `
		SELECT `+penaltyColumns+` FROM penalties WHERE id = $1 FOR UPDATE
	`, penaltyID).Scan(&p.ID, &p.MemberID, &p.ReservationID, &p.BorrowID, &p.AmountCents, &p.Reason, &p.Status, &p.AssessedAt, &p.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lock penalty: %w", err)
	}
	if p.Status == StatusPaid {
		return nil, ErrAlreadyPaid
	}

	now := s.clock().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE penalties SET status = $2, paid_at = $3 WHERE id = $1
	`, penaltyID, StatusPaid, now); err != nil {
		return nil, fmt.Errorf("mark penalty paid: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	p.Status = StatusPaid
	p.PaidAt = &now
	s.logger.Info("penalty paid",
		zap.Int64("penalty_id", p.ID),
		zap.String("member_id", p.MemberID.String()),
		zap.Int64("amount_cents", p.AmountCents),
	)
	return p, nil
}

func (s *service) Get(ctx context.Context, penaltyID int64) (*Penalty, error) {
	p := &Penalty{}
	err := s.pool.QueryRow(ctx, `
		SELECT `+penaltyColumns+` FROM penalties WHERE id = $1
	`, penaltyID).Scan(&p.ID, &p.MemberID, &p.ReservationID, &p.BorrowID, &p.AmountCents, &p.Reason, &p.Status, &p.AssessedAt, &p.PaidAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get penalty: %w", err)
	}
	return p, nil
}

// ListByMember returns a member's penalties, unpaid first, newest first
// within each group.
func (s *service) ListByMember(ctx context.Context, memberID uuid.UUID) ([]*Penalty, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+penaltyColumns+` FROM penalties
		WHERE member_id = $1
		ORDER BY status = 'paid', assessed_at DESC, id DESC
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list penalties: %w", err)
	}
	defer rows.Close()

	var penalties []*Penalty
	for rows.Next() {
		p := &Penalty{}
		if err := rows.Scan(&p.ID, &p.MemberID, &p.ReservationID, &p.BorrowID, &p.AmountCents, &p.Reason, &p.Status, &p.AssessedAt, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("scan penalty: %w", err)
		}
		penalties = append(penalties, p)
	}
	return penalties, rows.Err()
}

// OutstandingCents sums a member's unpaid penalties.
func (s *service) OutstandingCents(ctx context.Context, memberID uuid.UUID) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM penalties
		WHERE member_id = $1 AND status = $2
	`, memberID, StatusUnpaid).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum outstanding penalties: %w", err)
	}
	return total, nil
}
