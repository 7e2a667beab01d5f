package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"bibliotek/internal/circulation"
	"bibliotek/internal/eventlog"
	"bibliotek/internal/observability"
)

const consumerName = "notifications"

const defaultBatchSize = 200

var jsonAPI = jsoniter.ConfigFastest

// Dispatcher reads the journal from its cursor and writes one notification
// per member-facing event. Notifications and the cursor advance commit in the
// same transaction.
type Dispatcher struct {
	pool      *pgxpool.Pool
	events    *eventlog.Log
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

func NewDispatcher(pool *pgxpool.Pool, events *eventlog.Log, interval time.Duration, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		pool:      pool,
		events:    events,
		interval:  interval,
		batchSize: defaultBatchSize,
		logger:    logger,
	}
}

// Run polls until the context is cancelled. A failed pass is logged and
// retried on the next tick; the cursor guarantees nothing is skipped.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Drain(ctx); err != nil && ctx.Err() == nil {
				d.logger.Warn("notification dispatch failed", zap.Error(err))
			}
		}
	}
}

// Drain processes journal entries until it catches up.
func (d *Dispatcher) Drain(ctx context.Context) error {
	for {
		n, err := d.dispatchBatch(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (d *Dispatcher) dispatchBatch(ctx context.Context) (int, error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// The row lock keeps concurrent dispatchers from double-sending.
	var cursor int64
	err = tx.QueryRow(ctx, `
		INSERT INTO consumer_cursors (consumer, last_event_id)
		VALUES ($1, 0)
		ON CONFLICT (consumer) DO UPDATE SET last_event_id = consumer_cursors.last_event_id
		RETURNING last_event_id
	`, consumerName).Scan(&cursor)
	if err != nil {
		return 0, fmt.Errorf("lock cursor: %w", err)
	}

	events, err := d.events.Stream(ctx, cursor, d.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	sent := 0
	for _, e := range events {
		if e.MemberID == uuid.Nil {
			continue
		}
		msg := d.renderMessage(ctx, e)
		if msg == "" {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO notifications (member_id, message, sent_at)
			VALUES ($1, $2, $3)
		`, e.MemberID, msg, e.CreatedAt); err != nil {
			return 0, fmt.Errorf("insert notification: %w", err)
		}
		sent++
	}

	last := events[len(events)-1].ID
	if _, err := tx.Exec(ctx, `
		UPDATE consumer_cursors SET last_event_id = $2, updated_at = now() WHERE consumer = $1
	`, consumerName, last); err != nil {
		return 0, fmt.Errorf("advance cursor: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	observability.NotificationsSentTotal.Add(float64(sent))
	return len(events), nil
}

func (d *Dispatcher) renderMessage(ctx context.Context, e eventlog.Event) string {
	title := d.bookTitle(ctx, e.ISBN)

	switch e.Type {
	case circulation.EventBookBorrowed:
		var p circulation.BookBorrowedEvent
		if err := jsonAPI.Unmarshal(e.Payload, &p); err != nil {
			return ""
		}
		return fmt.Sprintf("You borrowed %s. It is due back by %s.", title, p.DueAt.Format("January 2, 2006"))
	case circulation.EventBookReturned:
		var p circulation.BookReturnedEvent
		if err := jsonAPI.Unmarshal(e.Payload, &p); err != nil {
			return ""
		}
		if p.Late {
			return fmt.Sprintf("%s was returned after its due date. A late fee was added to your account.", title)
		}
		return fmt.Sprintf("Thanks for returning %s.", title)
	case circulation.EventReservationPlaced:
		return fmt.Sprintf("Your reservation for %s is in the queue.", title)
	case circulation.EventReservationConfirmed:
		var p circulation.ReservationConfirmedEvent
		if err := jsonAPI.Unmarshal(e.Payload, &p); err != nil {
			return ""
		}
		return fmt.Sprintf("A copy of %s is being held for you until %s.", title, p.HoldUntil.Format("January 2, 2006 15:04 MST"))
	case circulation.EventReservationCancelled:
		return fmt.Sprintf("Your reservation for %s was cancelled.", title)
	case circulation.EventHoldExpired:
		return fmt.Sprintf("Your hold on %s expired and the copy was released.", title)
	default:
		return ""
	}
}

func (d *Dispatcher) bookTitle(ctx context.Context, isbn string) string {
	var title *string
	err := d.pool.QueryRow(ctx, `SELECT title FROM books WHERE isbn = $1`, isbn).Scan(&title)
	if err != nil || title == nil || *title == "" {
		return isbn
	}
	return *title
}
