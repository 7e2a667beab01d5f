package membership

import (
	"context"

	"github.com/google/uuid"
)

// Service manages member accounts and their favorites.
type Service interface {
	Register(ctx context.Context, email, name, password string) (*Member, error)
	Get(ctx context.Context, memberID uuid.UUID) (*Member, error)

	// ToggleFavorite flips a favorite and reports whether it is now set.
	ToggleFavorite(ctx context.Context, memberID uuid.UUID, isbn string) (bool, error)
	ListFavorites(ctx context.Context, memberID uuid.UUID) ([]Favorite, error)
}
