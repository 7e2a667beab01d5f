package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var dialect = goqu.Dialect("postgres")

type service struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	clock  func() time.Time
}

// NewService creates a new stats service instance.
func NewService(pool *pgxpool.Pool, logger *zap.Logger) Service {
	return &service{pool: pool, logger: logger, clock: time.Now}
}

// Snapshot recomputes the roll-up for one calendar day (UTC) and upserts it.
func (s *service) Snapshot(ctx context.Context, date time.Time) (*Snapshot, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	dayEnd := day.Add(24 * time.Hour)

	snap := &Snapshot{Date: day, UpdatedAt: s.clock().UTC()}

	var err error
	if snap.MemberCount, err = s.countThrough(ctx, "members", "created_at", dayEnd); err != nil {
		return nil, err
	}
	if snap.ReservationCount, err = s.countThrough(ctx, "reservations", "requested_at", dayEnd); err != nil {
		return nil, err
	}
	if snap.BorrowCount, err = s.countThrough(ctx, "borrows", "borrowed_at", dayEnd); err != nil {
		return nil, err
	}
	if snap.PenaltyRevenueCents, err = s.revenueBetween(ctx, day, dayEnd); err != nil {
		return nil, err
	}

	query, args, err := dialect.Insert("stat_snapshots").
		Rows(goqu.Record{
			"stat_date":             snap.Date,
			"member_count":          snap.MemberCount,
			"reservation_count":     snap.ReservationCount,
			"borrow_count":          snap.BorrowCount,
			"penalty_revenue_cents": snap.PenaltyRevenueCents,
			"updated_at":            snap.UpdatedAt,
		}).
		OnConflict(goqu.DoUpdate("stat_date", goqu.Record{
			"member_count":          snap.MemberCount,
			"reservation_count":     snap.ReservationCount,
			"borrow_count":          snap.BorrowCount,
			"penalty_revenue_cents": snap.PenaltyRevenueCents,
			"updated_at":            snap.UpdatedAt,
		})).
		Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build snapshot upsert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}

	s.logger.Info("snapshot stored",
		zap.String("date", day.Format("2006-01-02")),
		zap.Int("members", snap.MemberCount),
		zap.Int("reservations", snap.ReservationCount),
		zap.Int("borrows", snap.BorrowCount),
		zap.Int64("revenue_cents", snap.PenaltyRevenueCents),
	)
	return snap, nil
}

func (s *service) countThrough(ctx context.Context, table, column string, before time.Time) (int, error) {
	query, args, err := dialect.From(table).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C(column).Lt(before)).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build %s count: %w", table, err)
	}

	var n int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *service) revenueBetween(ctx context.Context, from, to time.Time) (int64, error) {
	query, args, err := dialect.From("penalties").
		Select(goqu.COALESCE(goqu.SUM("amount_cents"), 0)).
		Where(
			goqu.C("assessed_at").Gte(from),
			goqu.C("assessed_at").Lt(to),
		).
		Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build revenue sum: %w", err)
	}

	var cents int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&cents); err != nil {
		return 0, fmt.Errorf("sum penalty revenue: %w", err)
	}
	return cents, nil
}

func (s *service) Get(ctx context.Context, date time.Time) (*Snapshot, error) {
	day := date.UTC().Truncate(24 * time.Hour)

	snap := &Snapshot{}
	err := s.pool.QueryRow(ctx, `
		SELECT stat_date, member_count, reservation_count, borrow_count, penalty_revenue_cents, updated_at
		FROM stat_snapshots WHERE stat_date = $1
	`, day).Scan(&snap.Date, &snap.MemberCount, &snap.ReservationCount, &snap.BorrowCount, &snap.PenaltyRevenueCents, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

func (s *service) List(ctx context.Context, limit int) ([]*Snapshot, error) {
	if limit <= 0 || limit > 365 {
		limit = 30
	}
	rows, err := s.pool.Query(ctx, `
		SELECT stat_date, member_count, reservation_count, borrow_count, penalty_revenue_cents, updated_at
		FROM stat_snapshots
		ORDER BY stat_date DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []*Snapshot
	for rows.Next() {
		snap := &Snapshot{}
		if err := rows.Scan(&snap.Date, &snap.MemberCount, &snap.ReservationCount, &snap.BorrowCount, &snap.PenaltyRevenueCents, &snap.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
