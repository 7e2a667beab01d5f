// Package eventlog is the append-only journal of engine-emitted domain events.
// Rows are written inside the engine transaction, so an aborted operation
// leaves no trace; consumers tail the journal with a cursor.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Event is one journal row. Payload stays raw JSON here; consumers decode it
// against the structs in internal/circulation.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	ISBN      string    `json:"isbn"`
	MemberID  uuid.UUID `json:"member_id"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

type Log struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

func New(pool *pgxpool.Pool) *Log {
	return &Log{
		pool:   pool,
		tracer: otel.Tracer("bibliotek/eventlog"),
	}
}

// Append writes one event within the caller's transaction.
func (l *Log) Append(ctx context.Context, tx pgx.Tx, eventType, isbn string, memberID uuid.UUID, payload any) error {
	ctx, span := l.tracer.Start(ctx, "eventlog.append",
		trace.WithAttributes(
			attribute.String("event.type", eventType),
			attribute.String("book.isbn", isbn),
		),
	)
	defer span.End()

	data, err := jsoniter.ConfigFastest.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO events (event_type, isbn, member_id, payload)
		VALUES ($1, $2, $3, $4)
	`, eventType, isbn, memberID, data)
	if err != nil {
		return fmt.Errorf("insert %s event: %w", eventType, err)
	}

	return nil
}

// Stream returns up to batchSize events with an id greater than fromID, in
// journal order.
func (l *Log) Stream(ctx context.Context, fromID int64, batchSize int) ([]Event, error) {
	ctx, span := l.tracer.Start(ctx, "eventlog.stream",
		trace.WithAttributes(
			attribute.Int64("from.id", fromID),
			attribute.Int("batch.size", batchSize),
		),
	)
	defer span.End()

	rows, err := l.pool.Query(ctx, `
		SELECT id, event_type, isbn, COALESCE(member_id, '00000000-0000-0000-0000-000000000000'), payload, created_at
		FROM events
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, fromID, batchSize)
	if err != nil {
		return nil, fmt.Errorf("query event stream: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Type, &e.ISBN, &e.MemberID, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.streamed", len(events)))
	return events, nil
}
