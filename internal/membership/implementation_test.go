package membership

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bibliotek/internal/store"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	require.NoError(t, store.Migrate(url))
	pool, err := store.Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = pool.Exec(ctx, `
		TRUNCATE events, consumer_cursors, notifications, favorites,
		         penalties, history_records, borrows, reservations,
		         credentials, books, members, stat_snapshots
		RESTART IDENTITY CASCADE
	`)
	require.NoError(t, err)
	return pool
}

func TestRegisterStoresMemberAndCredentials(t *testing.T) {
	pool := testPool(t)
	svc := NewService(pool, zap.NewNop())
	ctx := context.Background()

	member, err := svc.Register(ctx, "reader@example.org", "Reader", "correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, member.ID)

	got, err := svc.Get(ctx, member.ID)
	require.NoError(t, err)
	assert.Equal(t, "reader@example.org", got.Email)

	cred := &Credential{}
	require.NoError(t, pool.QueryRow(ctx, `
		SELECT member_id, password_hash, salt FROM credentials WHERE member_id = $1
	`, member.ID).Scan(&cred.MemberID, &cred.PasswordHash, &cred.Salt))
	assert.Equal(t, member.ID, cred.MemberID)
	assert.NotEmpty(t, cred.PasswordHash)
	assert.NotEmpty(t, cred.Salt)
	assert.NotContains(t, cred.PasswordHash, "correct horse", "the password is never stored in the clear")

	ok, err := verifyPassword("correct horse battery staple", cred.Salt, cred.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = svc.Register(ctx, "reader@example.org", "Copycat", "another password")
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestToggleFavorite(t *testing.T) {
	pool := testPool(t)
	svc := NewService(pool, zap.NewNop())
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO books (isbn, total_copies, available_copies) VALUES ('isbn-1', 1, 1)
	`)
	require.NoError(t, err)

	member, err := svc.Register(ctx, "fan@example.org", "Fan", "a strong passphrase")
	require.NoError(t, err)

	set, err := svc.ToggleFavorite(ctx, member.ID, "isbn-1")
	require.NoError(t, err)
	assert.True(t, set)

	favorites, err := svc.ListFavorites(ctx, member.ID)
	require.NoError(t, err)
	require.Len(t, favorites, 1)
	assert.Equal(t, "isbn-1", favorites[0].ISBN)

	set, err = svc.ToggleFavorite(ctx, member.ID, "isbn-1")
	require.NoError(t, err)
	assert.False(t, set)

	favorites, err = svc.ListFavorites(ctx, member.ID)
	require.NoError(t, err)
	assert.Empty(t, favorites)

	_, err = svc.ToggleFavorite(ctx, uuid.New(), "isbn-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
