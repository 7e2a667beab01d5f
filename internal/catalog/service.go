package catalog

import (
	"context"

	"bibliotek/internal/metadata"
)

// Service defines the interface for the catalog.
type Service interface {
	AddBook(ctx context.Context, isbn string, totalCopies int) (*Book, error)
	GetBook(ctx context.Context, isbn string) (*Book, error)
	Search(ctx context.Context, query string) ([]*Book, error)
	List(ctx context.Context) ([]*Book, error)
	LookupMetadata(ctx context.Context, isbn string) (*metadata.VolumeInfo, error)
}
