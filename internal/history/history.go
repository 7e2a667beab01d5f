// Package history keeps the permanent record of completed borrows. Rows are
// written inside the return transaction and never updated afterwards.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is one completed borrow.
type Record struct {
	ID         int64     `json:"id"`
	MemberID   uuid.UUID `json:"member_id"`
	ISBN       string    `json:"isbn"`
	BorrowedAt time.Time `json:"borrowed_at"`
	ReturnedAt time.Time `json:"returned_at"`
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// AppendTx writes a record inside the caller's transaction. A replayed write
// of the same borrow is a no-op.
func (s *Store) AppendTx(ctx context.Context, tx pgx.Tx, rec Record) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO history_records (member_id, isbn, borrowed_at, returned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (member_id, isbn, borrowed_at) DO NOTHING
	`, rec.MemberID, rec.ISBN, rec.BorrowedAt, rec.ReturnedAt)
	if err != nil {
		return fmt.Errorf("append history record: %w", err)
	}
	return nil
}

// ListByMember returns a member's reading history, most recent return first.
func (s *Store) ListByMember(ctx context.Context, memberID uuid.UUID) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, member_id, isbn, borrowed_at, returned_at
		FROM history_records
		WHERE member_id = $1
		ORDER BY returned_at DESC, id DESC
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.MemberID, &rec.ISBN, &rec.BorrowedAt, &rec.ReturnedAt); err != nil {
			return nil, fmt.Errorf("scan history record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
