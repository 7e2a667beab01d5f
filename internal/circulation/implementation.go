package circulation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"bibliotek/internal/eventlog"
	"bibliotek/internal/history"
	"bibliotek/internal/observability"
	"bibliotek/internal/penalty"
)

// Policy carries the circulation tunables. Loan period and hold window are
// configuration, not constants (different libraries, different rules).
type Policy struct {
	LoanPeriod time.Duration
	HoldWindow time.Duration
	MaxRetries int
}

// service implements the Service interface. Each operation runs as one
// transaction serialized per book through a row lock on the books row, so
// concurrent operations on different titles never contend.
type service struct {
	pool     *pgxpool.Pool
	events   *eventlog.Log
	assessor *penalty.Assessor
	archive  *history.Store
	policy   Policy
	logger   *zap.Logger
	tracer   trace.Tracer
	clock    func() time.Time
}

// Option customizes the engine; only tests should need one.
type Option func(*service)

// WithClock substitutes the time source.
func WithClock(clock func() time.Time) Option {
	return func(s *service) { s.clock = clock }
}

// NewService creates a new circulation engine instance.
func NewService(pool *pgxpool.Pool, events *eventlog.Log, assessor *penalty.Assessor, archive *history.Store, policy Policy, logger *zap.Logger, opts ...Option) Service {
	s := &service{
		pool:     pool,
		events:   events,
		assessor: assessor,
		archive:  archive,
		policy:   policy,
		logger:   logger,
		tracer:   otel.Tracer("bibliotek/circulation"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// bookStock is the locked view of a book row during one operation.
type bookStock struct {
	Total     int
	Available int
}

// Borrow hands one copy to a member. A member holding a confirmed, unexpired
// reservation consumes the copy set aside for them; anyone else takes from
// open availability.
func (s *service) Borrow(ctx context.Context, memberID uuid.UUID, isbn string) (*Borrow, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow",
		trace.WithAttributes(
			attribute.String("book.isbn", isbn),
			attribute.String("member.id", memberID.String()),
		),
	)
	defer span.End()

	now := s.clock().UTC()
	var borrow *Borrow

	err := s.inTx(ctx, "borrow", func(tx pgx.Tx) error {
		stock, err := s.lockBook(ctx, tx, isbn)
		if err != nil {
			return err
		}
		if _, err := s.expireHolds(ctx, tx, isbn, now, stock, 0); err != nil {
			return err
		}

		var outstanding bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM borrows
				WHERE member_id = $1 AND isbn = $2 AND returned_at IS NULL
			)
		`, memberID, isbn).Scan(&outstanding)
		if err != nil {
			return fmt.Errorf("check outstanding borrow: %w", err)
		}
		if outstanding {
			return ErrAlreadyBorrowed
		}

		var holdID int64
		err = tx.QueryRow(ctx, `
			SELECT id FROM reservations
			WHERE member_id = $1 AND isbn = $2
			  AND status = $3 AND fulfilled_at IS NULL
			FOR UPDATE
		`, memberID, isbn, StatusConfirmed).Scan(&holdID)
		switch {
		case err == nil:
			// The copy was set aside at return time; stock stays as is.
			if _, err := tx.Exec(ctx, `
				UPDATE reservations SET fulfilled_at = $2 WHERE id = $1
			`, holdID, now); err != nil {
				return fmt.Errorf("consume hold: %w", err)
			}
		case errors.Is(err, pgx.ErrNoRows):
			if stock.Available == 0 {
				return ErrOutOfStock
			}
			stock.Available--
		default:
			return fmt.Errorf("look up hold: %w", err)
		}

		b := &Borrow{
			MemberID:   memberID,
			ISBN:       isbn,
			BorrowedAt: now,
			DueAt:      now.Add(s.policy.LoanPeriod),
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO borrows (member_id, isbn, borrowed_at, due_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, b.MemberID, b.ISBN, b.BorrowedAt, b.DueAt).Scan(&b.ID)
		if err != nil {
			return mapBorrowInsertError(err)
		}

		if err := s.writeStock(ctx, tx, isbn, stock); err != nil {
			return err
		}
		if err := s.events.Append(ctx, tx, EventBookBorrowed, isbn, memberID, BookBorrowedEvent{
			BorrowID: b.ID,
			MemberID: memberID,
			ISBN:     isbn,
			DueAt:    b.DueAt,
		}); err != nil {
			return err
		}

		borrow = b
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOutOfStock) {
			observability.OutOfStockTotal.Inc()
		}
		return nil, err
	}

	observability.BorrowsTotal.Inc()
	return borrow, nil
}

// Return closes a borrow, archives it, assesses a late fee when overdue, and
// hands the freed copy to the oldest pending reservation before it goes back
// to open availability.
func (s *service) Return(ctx context.Context, borrowID int64) error {
	ctx, span := s.tracer.Start(ctx, "circulation.return",
		trace.WithAttributes(attribute.Int64("borrow.id", borrowID)),
	)
	defer span.End()

	now := s.clock().UTC()

	err := s.inTx(ctx, "return", func(tx pgx.Tx) error {
		var isbn string
		err := tx.QueryRow(ctx, `SELECT isbn FROM borrows WHERE id = $1`, borrowID).Scan(&isbn)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrBorrowNotFound
			}
			return fmt.Errorf("look up borrow: %w", err)
		}

		stock, err := s.lockBook(ctx, tx, isbn)
		if err != nil {
			return err
		}

		// Re-read under the book lock; the first read raced against other
		// operations on this title.
		var (
			memberID   uuid.UUID
			borrowedAt time.Time
			dueAt      time.Time
			returnedAt *time.Time
		)
		err = tx.QueryRow(ctx, `
			SELECT member_id, borrowed_at, due_at, returned_at
			FROM borrows WHERE id = $1
			FOR UPDATE
		`, borrowID).Scan(&memberID, &borrowedAt, &dueAt, &returnedAt)
		if err != nil {
			return fmt.Errorf("lock borrow: %w", err)
		}
		if returnedAt != nil {
			return ErrNotOutstanding
		}

		if _, err := tx.Exec(ctx, `
			UPDATE borrows SET returned_at = $2 WHERE id = $1
		`, borrowID, now); err != nil {
			return fmt.Errorf("close borrow: %w", err)
		}

		if _, err := s.expireHolds(ctx, tx, isbn, now, stock, 0); err != nil {
			return err
		}
		if err := s.releaseCopy(ctx, tx, isbn, now, stock, 0); err != nil {
			return err
		}
		if err := s.writeStock(ctx, tx, isbn, stock); err != nil {
			return err
		}

		if err := s.archive.AppendTx(ctx, tx, history.Record{
			MemberID:   memberID,
			ISBN:       isbn,
			BorrowedAt: borrowedAt,
			ReturnedAt: now,
		}); err != nil {
			return err
		}

		late := now.After(dueAt)
		if late {
			if _, err := s.assessor.AssessLateReturn(ctx, tx, borrowID, memberID, dueAt, now); err != nil {
				return err
			}
		}

		return s.events.Append(ctx, tx, EventBookReturned, isbn, memberID, BookReturnedEvent{
			BorrowID:   borrowID,
			MemberID:   memberID,
			ISBN:       isbn,
			ReturnedAt: now,
			Late:       late,
		})
	})
	if err != nil {
		return err
	}

	observability.ReturnsTotal.Inc()
	return nil
}

// Reserve places a pending reservation. Stock is untouched: reservations claim
// the next freed copy, they never pre-allocate one.
func (s *service) Reserve(ctx context.Context, memberID uuid.UUID, isbn string, dueBy *time.Time) (*Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.reserve",
		trace.WithAttributes(
			attribute.String("book.isbn", isbn),
			attribute.String("member.id", memberID.String()),
		),
	)
	defer span.End()

	now := s.clock().UTC()
	var res *Reservation

	err := s.inTx(ctx, "reserve", func(tx pgx.Tx) error {
		stock, err := s.lockBook(ctx, tx, isbn)
		if err != nil {
			return err
		}
		// An expired hold of this member must not count as a live reservation,
		// so stale holds get cancelled before the duplicate check.
		if _, err := s.expireHolds(ctx, tx, isbn, now, stock, 0); err != nil {
			return err
		}
		if err := s.writeStock(ctx, tx, isbn, stock); err != nil {
			return err
		}

		var duplicate bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM reservations
				WHERE member_id = $1 AND isbn = $2
				  AND status IN ($3, $4) AND fulfilled_at IS NULL
			)
		`, memberID, isbn, StatusPending, StatusConfirmed).Scan(&duplicate)
		if err != nil {
			return fmt.Errorf("check duplicate reservation: %w", err)
		}
		if duplicate {
			return ErrDuplicateReservation
		}

		r := &Reservation{
			MemberID:    memberID,
			ISBN:        isbn,
			Status:      StatusPending,
			RequestedAt: now,
			DueBy:       dueBy,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO reservations (member_id, isbn, status, requested_at, due_by)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, r.MemberID, r.ISBN, r.Status, r.RequestedAt, r.DueBy).Scan(&r.ID)
		if err != nil {
			return mapReservationInsertError(err)
		}

		if err := s.events.Append(ctx, tx, EventReservationPlaced, isbn, memberID, ReservationPlacedEvent{
			ReservationID: r.ID,
			MemberID:      memberID,
			ISBN:          isbn,
		}); err != nil {
			return err
		}

		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	observability.ReservationsTotal.Inc()
	return res, nil
}

// CancelReservation cancels a pending or confirmed-but-unfulfilled
// reservation. Cancelling a confirmed hold releases the copy that was set
// aside and carries the flat cancellation fee; cancelling a pending
// reservation is free. A hold already past its window is settled by the lazy
// expiry pass, which this call also counts as success.
func (s *service) CancelReservation(ctx context.Context, reservationID int64) error {
	ctx, span := s.tracer.Start(ctx, "circulation.cancel_reservation",
		trace.WithAttributes(attribute.Int64("reservation.id", reservationID)),
	)
	defer span.End()

	now := s.clock().UTC()

	return s.inTx(ctx, "cancel_reservation", func(tx pgx.Tx) error {
		var isbn string
		err := tx.QueryRow(ctx, `SELECT isbn FROM reservations WHERE id = $1`, reservationID).Scan(&isbn)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrReservationNotFound
			}
			return fmt.Errorf("look up reservation: %w", err)
		}

		stock, err := s.lockBook(ctx, tx, isbn)
		if err != nil {
			return err
		}

		expired, err := s.expireHolds(ctx, tx, isbn, now, stock, reservationID)
		if err != nil {
			return err
		}
		for _, id := range expired {
			if id == reservationID {
				// The expiry pass already auto-cancelled it.
				return s.writeStock(ctx, tx, isbn, stock)
			}
		}

		var (
			memberID    uuid.UUID
			status      string
			fulfilledAt *time.Time
		)
		err = tx.QueryRow(ctx, `
			SELECT member_id, status, fulfilled_at
			FROM reservations WHERE id = $1
			FOR UPDATE
		`, reservationID).Scan(&memberID, &status, &fulfilledAt)
		if err != nil {
			return fmt.Errorf("lock reservation: %w", err)
		}
		if status == StatusCancelled || fulfilledAt != nil {
			return ErrNotCancellable
		}

		if _, err := tx.Exec(ctx, `
			UPDATE reservations SET status = $2, cancelled_at = $3 WHERE id = $1
		`, reservationID, StatusCancelled, now); err != nil {
			return fmt.Errorf("cancel reservation: %w", err)
		}

		if status == StatusConfirmed {
			// A copy was already set aside for this hold: charge the fee and
			// pass the copy along.
			if _, err := s.assessor.AssessCancellation(ctx, tx, reservationID, memberID); err != nil {
				return err
			}
			if err := s.releaseCopy(ctx, tx, isbn, now, stock, reservationID); err != nil {
				return err
			}
		}
		if err := s.writeStock(ctx, tx, isbn, stock); err != nil {
			return err
		}

		return s.events.Append(ctx, tx, EventReservationCancelled, isbn, memberID, ReservationCancelledEvent{
			ReservationID: reservationID,
			MemberID:      memberID,
			ISBN:          isbn,
		})
	})
}

// lockBook takes the per-title row lock that serializes every engine
// operation touching this isbn.
func (s *service) lockBook(ctx context.Context, tx pgx.Tx, isbn string) (*bookStock, error) {
	stock := &bookStock{}
	err := tx.QueryRow(ctx, `
		SELECT total_copies, available_copies FROM books WHERE isbn = $1 FOR UPDATE
	`, isbn).Scan(&stock.Total, &stock.Available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("lock book: %w", err)
	}
	return stock, nil
}

// expireHolds is the lazy expiry pass: confirmed holds past the hold window
// are cancelled (with the cancellation fee, since a copy was set aside) and
// each freed copy moves to the next pending reservation or back to open
// availability. Reservation skipID never receives a freed copy; Cancel passes
// the id it is about to close so the member is not charged for a hold that
// began inside the same call. Returns the ids it cancelled.
func (s *service) expireHolds(ctx context.Context, tx pgx.Tx, isbn string, now time.Time, stock *bookStock, skipID int64) ([]int64, error) {
	cutoff := now.Add(-s.policy.HoldWindow)

	rows, err := tx.Query(ctx, `
		SELECT id, member_id FROM reservations
		WHERE isbn = $1 AND status = $2 AND fulfilled_at IS NULL AND confirmed_at < $3
		ORDER BY confirmed_at, id
		FOR UPDATE
	`, isbn, StatusConfirmed, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query expired holds: %w", err)
	}

	type hold struct {
		id       int64
		memberID uuid.UUID
	}
	var stale []hold
	for rows.Next() {
		var h hold
		if err := rows.Scan(&h.id, &h.memberID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan expired hold: %w", err)
		}
		stale = append(stale, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired holds: %w", err)
	}

	expired := make([]int64, 0, len(stale))
	for _, h := range stale {
		if _, err := tx.Exec(ctx, `
			UPDATE reservations SET status = $2, cancelled_at = $3 WHERE id = $1
		`, h.id, StatusCancelled, now); err != nil {
			return nil, fmt.Errorf("expire hold: %w", err)
		}
		if _, err := s.assessor.AssessCancellation(ctx, tx, h.id, h.memberID); err != nil {
			return nil, err
		}
		if err := s.events.Append(ctx, tx, EventHoldExpired, isbn, h.memberID, HoldExpiredEvent{
			ReservationID: h.id,
			MemberID:      h.memberID,
			ISBN:          isbn,
		}); err != nil {
			return nil, err
		}
		if err := s.releaseCopy(ctx, tx, isbn, now, stock, skipID); err != nil {
			return nil, err
		}
		expired = append(expired, h.id)
	}

	return expired, nil
}

// releaseCopy routes one freed copy: the oldest pending reservation (ties by
// id, i.e. insertion order, skipping skipID) gets it as a confirmed hold,
// otherwise it returns to open availability.
func (s *service) releaseCopy(ctx context.Context, tx pgx.Tx, isbn string, now time.Time, stock *bookStock, skipID int64) error {
	var (
		reservationID int64
		memberID      uuid.UUID
	)
	err := tx.QueryRow(ctx, `
		SELECT id, member_id FROM reservations
		WHERE isbn = $1 AND status = $2 AND id <> $3
		ORDER BY requested_at, id
		LIMIT 1
		FOR UPDATE
	`, isbn, StatusPending, skipID).Scan(&reservationID, &memberID)
	switch {
	case err == nil:
		if _, err := tx.Exec(ctx, `
			UPDATE reservations SET status = $2, confirmed_at = $3 WHERE id = $1
		`, reservationID, StatusConfirmed, now); err != nil {
			return fmt.Errorf("confirm reservation: %w", err)
		}
		return s.events.Append(ctx, tx, EventReservationConfirmed, isbn, memberID, ReservationConfirmedEvent{
			ReservationID: reservationID,
			MemberID:      memberID,
			ISBN:          isbn,
			HoldUntil:     now.Add(s.policy.HoldWindow),
		})
	case errors.Is(err, pgx.ErrNoRows):
		stock.Available++
		if stock.Available > stock.Total {
			return &InvariantViolationError{
				ISBN:   isbn,
				Detail: fmt.Sprintf("available copies %d would exceed total %d", stock.Available, stock.Total),
			}
		}
		return nil
	default:
		return fmt.Errorf("pick next reservation: %w", err)
	}
}

func (s *service) writeStock(ctx context.Context, tx pgx.Tx, isbn string, stock *bookStock) error {
	if stock.Available < 0 || stock.Available > stock.Total {
		return &InvariantViolationError{
			ISBN:   isbn,
			Detail: fmt.Sprintf("available copies %d out of range [0, %d]", stock.Available, stock.Total),
		}
	}
	_, err := tx.Exec(ctx, `
		UPDATE books SET available_copies = $2, updated_at = now() WHERE isbn = $1
	`, isbn, stock.Available)
	if err != nil {
		return fmt.Errorf("write stock: %w", err)
	}
	return nil
}

// ListBorrowsByMember returns a member's borrows, outstanding first.
func (s *service) ListBorrowsByMember(ctx context.Context, memberID uuid.UUID) ([]*Borrow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, member_id, isbn, borrowed_at, due_at, returned_at
		FROM borrows
		WHERE member_id = $1
		ORDER BY returned_at IS NOT NULL, borrowed_at DESC
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list borrows: %w", err)
	}
	defer rows.Close()

	var borrows []*Borrow
	for rows.Next() {
		b := &Borrow{}
		if err := rows.Scan(&b.ID, &b.MemberID, &b.ISBN, &b.BorrowedAt, &b.DueAt, &b.ReturnedAt); err != nil {
			return nil, fmt.Errorf("scan borrow: %w", err)
		}
		borrows = append(borrows, b)
	}
	return borrows, rows.Err()
}

// ListReservationsByMember returns a member's reservations, newest first.
func (s *service) ListReservationsByMember(ctx context.Context, memberID uuid.UUID) ([]*Reservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, member_id, isbn, status, requested_at, due_by, confirmed_at, fulfilled_at, cancelled_at
		FROM reservations
		WHERE member_id = $1
		ORDER BY requested_at DESC, id DESC
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var reservations []*Reservation
	for rows.Next() {
		r := &Reservation{}
		if err := rows.Scan(&r.ID, &r.MemberID, &r.ISBN, &r.Status, &r.RequestedAt, &r.DueBy, &r.ConfirmedAt, &r.FulfilledAt, &r.CancelledAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

// inTx runs fn inside one transaction, retrying a bounded number of times on
// serialization conflicts before giving up with ErrBusy. Invariant violations
// abort immediately, are logged loudly, and are never retried.
func (s *service) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			observability.TxRetriesTotal.Inc()
		}

		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}

		var iv *InvariantViolationError
		if errors.As(err, &iv) {
			s.logger.Error("invariant violation, transaction rolled back",
				zap.String("op", op),
				zap.String("isbn", iv.ISBN),
				zap.String("detail", iv.Detail),
			)
			return err
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
	}

	s.logger.Warn("transaction kept conflicting, giving up",
		zap.String("op", op),
		zap.Int("attempts", s.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return ErrBusy
}

func (s *service) runOnce(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

func mapBorrowInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return ErrAlreadyBorrowed
		case pgErr.Code == "23503" && strings.Contains(pgErr.ConstraintName, "member"):
			return ErrMemberNotFound
		}
	}
	return fmt.Errorf("insert borrow: %w", err)
}

func mapReservationInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return ErrDuplicateReservation
		case pgErr.Code == "23503" && strings.Contains(pgErr.ConstraintName, "member"):
			return ErrMemberNotFound
		}
	}
	return fmt.Errorf("insert reservation: %w", err)
}
