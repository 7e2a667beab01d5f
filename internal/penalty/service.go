package penalty

import (
	"context"

	"github.com/google/uuid"
)

// Service exposes penalty settlement and queries.
type Service interface {
	Pay(ctx context.Context, penaltyID int64) (*Penalty, error)
	Get(ctx context.Context, penaltyID int64) (*Penalty, error)
	ListByMember(ctx context.Context, memberID uuid.UUID) ([]*Penalty, error)
	OutstandingCents(ctx context.Context, memberID uuid.UUID) (int64, error)
}
