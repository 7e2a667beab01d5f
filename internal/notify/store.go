package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ListByMember returns a member's notifications, unread first, newest first
// within each group.
func (s *Store) ListByMember(ctx context.Context, memberID uuid.UUID) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, member_id, message, sent_at, read
		FROM notifications
		WHERE member_id = $1
		ORDER BY read, sent_at DESC, id DESC
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.MemberID, &n.Message, &n.SentAt, &n.Read); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkRead flags a notification as read. Marking twice is harmless.
func (s *Store) MarkRead(ctx context.Context, notificationID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notifications SET read = true WHERE id = $1
	`, notificationID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UnreadCount returns how many notifications a member has not read yet.
func (s *Store) UnreadCount(ctx context.Context, memberID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM notifications WHERE member_id = $1 AND NOT read
	`, memberID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}
