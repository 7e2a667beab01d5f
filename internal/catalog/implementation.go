package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"bibliotek/internal/metadata"
)

// service implements the Service interface.
type service struct {
	pool    *pgxpool.Pool
	gateway *metadata.Client
	logger  *zap.Logger
}

// NewService creates a new catalog service instance.
func NewService(pool *pgxpool.Pool, gateway *metadata.Client, logger *zap.Logger) Service {
	return &service{
		pool:    pool,
		gateway: gateway,
		logger:  logger,
	}
}

const bookColumns = `isbn, COALESCE(title, ''), authors, COALESCE(publisher, ''),
	COALESCE(published_date, ''), COALESCE(description, ''), categories,
	COALESCE(cover_url, ''), total_copies, available_copies, created_at, updated_at`

// AddBook inserts a title and enriches it from the metadata gateway. The
// enrichment is best-effort: a failing or slow gateway leaves a bare record.
func (s *service) AddBook(ctx context.Context, isbn string, totalCopies int) (*Book, error) {
	if totalCopies < 0 {
		return nil, fmt.Errorf("total copies must not be negative, got %d", totalCopies)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO books (isbn, total_copies, available_copies)
		VALUES ($1, $2, $2)
	`, isbn, totalCopies)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("insert book: %w", err)
	}

	if info, lookupErr := s.gateway.Lookup(ctx, isbn); lookupErr == nil {
		_, err = s.pool.Exec(ctx, `
			UPDATE books
			SET title = $1, authors = $2, publisher = $3, published_date = $4,
			    description = $5, categories = $6, cover_url = $7, updated_at = now()
			WHERE isbn = $8
		`, info.Title, info.Authors, info.Publisher, info.PublishedDate,
			info.Description, info.Categories, info.CoverURL, isbn)
		if err != nil {
			return nil, fmt.Errorf("store enrichment: %w", err)
		}
	} else {
		s.logger.Warn("metadata enrichment skipped",
			zap.String("isbn", isbn),
			zap.Error(lookupErr),
		)
	}

	return s.GetBook(ctx, isbn)
}

// GetBook retrieves one title by ISBN.
func (s *service) GetBook(ctx context.Context, isbn string) (*Book, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE isbn = $1`, isbn)

	book, err := scanBook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// Search finds titles by ISBN, title, or author. Results come back in a stable
// order (title, then isbn) rather than through any in-request sorting.
func (s *service) Search(ctx context.Context, query string) ([]*Book, error) {
	pattern := "%" + query + "%"
	rows, err := s.pool.Query(ctx, `
		SELECT `+bookColumns+`
		FROM books
		WHERE isbn = $1
		   OR title ILIKE $2
		   OR EXISTS (SELECT 1 FROM unnest(authors) a WHERE a ILIKE $2)
		ORDER BY title NULLS LAST, isbn
		LIMIT 50
	`, query, pattern)
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	defer rows.Close()

	return collectBooks(rows)
}

// List returns the whole catalog in (title, isbn) order.
func (s *service) List(ctx context.Context) ([]*Book, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+bookColumns+`
		FROM books
		ORDER BY title NULLS LAST, isbn
	`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	return collectBooks(rows)
}

// LookupMetadata passes a live gateway document through to the caller.
func (s *service) LookupMetadata(ctx context.Context, isbn string) (*metadata.VolumeInfo, error) {
	return s.gateway.Lookup(ctx, isbn)
}

func scanBook(row pgx.Row) (*Book, error) {
	book := &Book{}
	err := row.Scan(
		&book.ISBN,
		&book.Title,
		&book.Authors,
		&book.Publisher,
		&book.PublishedDate,
		&book.Description,
		&book.Categories,
		&book.CoverURL,
		&book.TotalCopies,
		&book.AvailableCopies,
		&book.CreatedAt,
		&book.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return book, nil
}

func collectBooks(rows pgx.Rows) ([]*Book, error) {
	var books []*Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return books, nil
}
