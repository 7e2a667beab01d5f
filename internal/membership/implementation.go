package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// service implements the Service interface.
type service struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewService creates a new membership service instance. Registration is rate
// limited to blunt signup abuse.
func NewService(pool *pgxpool.Pool, logger *zap.Logger) Service {
	return &service{
		pool:    pool,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(time.Minute/10), 10),
	}
}

// Register creates a member and their credentials in one transaction.
func (s *service) Register(ctx context.Context, email, name, password string) (*Member, error) {
	if !s.limiter.Allow() {
		return nil, ErrRateLimited
	}

	hash, salt, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	member := &Member{
		ID:        uuid.New(),
		Email:     email,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	credential := &Credential{
		MemberID:     member.ID,
		PasswordHash: hash,
		Salt:         salt,
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO members (id, email, name, created_at)
		VALUES ($1, $2, $3, $4)
	`, member.ID, member.Email, member.Name, member.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert member: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credentials (member_id, password_hash, salt)
		VALUES ($1, $2, $3)
	`, credential.MemberID, credential.PasswordHash, credential.Salt)
	if err != nil {
		return nil, fmt.Errorf("insert credentials: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("member registered", zap.String("member_id", member.ID.String()))
	return member, nil
}

func (s *service) Get(ctx context.Context, memberID uuid.UUID) (*Member, error) {
	member := &Member{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, email, name, created_at FROM members WHERE id = $1
	`, memberID).Scan(&member.ID, &member.Email, &member.Name, &member.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get member: %w", err)
	}
	return member, nil
}

// ToggleFavorite flips a favorite and reports whether it is now set.
func (s *service) ToggleFavorite(ctx context.Context, memberID uuid.UUID, isbn string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM favorites WHERE member_id = $1 AND isbn = $2
	`, memberID, isbn)
	if err != nil {
		return false, fmt.Errorf("remove favorite: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return false, nil
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO favorites (member_id, isbn) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, memberID, isbn)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			if pgErr.ConstraintName == "favorites_member_id_fkey" {
				return false, ErrNotFound
			}
			return false, fmt.Errorf("unknown book %s", isbn)
		}
		return false, fmt.Errorf("add favorite: %w", err)
	}
	return true, nil
}

func (s *service) ListFavorites(ctx context.Context, memberID uuid.UUID) ([]Favorite, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT member_id, isbn, created_at FROM favorites
		WHERE member_id = $1
		ORDER BY created_at DESC, isbn
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	var favorites []Favorite
	for rows.Next() {
		var f Favorite
		if err := rows.Scan(&f.MemberID, &f.ISBN, &f.AddedAt); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		favorites = append(favorites, f)
	}
	return favorites, rows.Err()
}
