package stats

import (
	"context"
	"time"
)

// Service computes and serves daily snapshots.
type Service interface {
	// Snapshot recomputes and stores the roll-up for the given date.
	// Running it again for the same date overwrites the stored row.
	Snapshot(ctx context.Context, date time.Time) (*Snapshot, error)
	Get(ctx context.Context, date time.Time) (*Snapshot, error)
	List(ctx context.Context, limit int) ([]*Snapshot, error)
}
