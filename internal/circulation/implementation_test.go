package circulation

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bibliotek/internal/eventlog"
	"bibliotek/internal/history"
	"bibliotek/internal/penalty"
	"bibliotek/internal/store"
)

// The engine tests need a real Postgres; they skip unless TEST_DATABASE_URL
// points at one they may truncate.
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

// testClock lets tests move time forward between operations.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testEngine(t *testing.T, pool *pgxpool.Pool, clock *testClock) Service {
	t.Helper()
	return NewService(
		pool,
		eventlog.New(pool),
		penalty.NewAssessor(50, 200),
		history.NewStore(pool),
		Policy{LoanPeriod: 14 * 24 * time.Hour, HoldWindow: 48 * time.Hour, MaxRetries: 3},
		zap.NewNop(),
		WithClock(clock.Now),
	)
}

func addBook(t *testing.T, pool *pgxpool.Pool, isbn string, copies int) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO books (isbn, title, total_copies, available_copies)
		VALUES ($1, $2, $3, $3)
	`, isbn, "Book "+isbn, copies)
	require.NoError(t, err)
}

func addMember(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO members (id, email, name) VALUES ($1, $2, $3)
	`, id, id.String()+"@example.org", "Member")
	require.NoError(t, err)
	return id
}

func availableCopies(t *testing.T, pool *pgxpool.Pool, isbn string) int {
	t.Helper()
	var n int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT available_copies FROM books WHERE isbn = $1`, isbn).Scan(&n))
	return n
}

func reservationStatus(t *testing.T, pool *pgxpool.Pool, id int64) string {
	t.Helper()
	var status string
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT status FROM reservations WHERE id = $1`, id).Scan(&status))
	return status
}

func memberPenalties(t *testing.T, pool *pgxpool.Pool, memberID uuid.UUID) []int64 {
	t.Helper()
	rows, err := pool.Query(context.Background(), `
		SELECT amount_cents FROM penalties WHERE member_id = $1 ORDER BY id
	`, memberID)
	require.NoError(t, err)
	defer rows.Close()

	var amounts []int64
	for rows.Next() {
		var a int64
		require.NoError(t, rows.Scan(&a))
		amounts = append(amounts, a)
	}
	require.NoError(t, rows.Err())
	return amounts
}

func TestBorrowAndReturnRoundTrip(t *testing.T) {
	pool := testPool(t)
	clock := newTestClock()
	engine := testEngine(t, pool, clock)
	ctx := context.Background()

	addBook(t, pool, "isbn-1", 2)
	member := addMember(t, pool)

	b, err := engine.Borrow(ctx, member, "isbn-1")
	require.NoError(t, err)
	assert.Equal(t, member, b.MemberID)
	assert.Equal(t, clock.Now().Add(14*24*time.Hour), b.DueAt)
	assert.Equal(t, 1, availableCopies(t, pool, "isbn-1"))

	require.NoError(t, engine.Return(ctx, b.ID))
	assert.Equal(t, 2, availableCopies(t, pool, "isbn-1"))

	records, err := history.NewStore(pool).ListByMember(ctx, member)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "isbn-1", records[0].ISBN)

	assert.Empty(t, memberPenalties(t, pool, member), "on-time return carries no fee")
}

func TestBorrowErrors(t *testing.T) {
	pool := testPool(t)
	engine := testEngine(t, pool, newTestClock())
	ctx := context.Background()

	addBook(t, pool, "isbn-1", 1)
	member := addMember(t, pool)
	other := addMember(t, pool)

	_, err := engine.Borrow(ctx, member, "missing")
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = engine.Borrow(ctx, uuid.New(), "isbn-1")
	assert.ErrorIs(t, err, ErrMemberNotFound)

	_, err = engine.Borrow(ctx, member, "isbn-1")
	require.NoError(t, err)

	_, err = engine.Borrow(ctx, member, "isbn-1")
	assert.ErrorIs(t, err, ErrAlreadyBorrowed)

	_, err = engine.Borrow(ctx, other, "isbn-1")
	assert.ErrorIs(t, err, ErrOutOfStock)
}

func TestReturnErrors(t *testing.T) {
	pool := testPool(t)
	engine := testEngine(t, pool, newTestClock())
	ctx := context.Background()

	addBook(t, pool, "isbn-1", 1)
	member := addMember(t, pool)

	assert.ErrorIs(t, engine.Return(ctx, 9999), ErrBorrowNotFound)

	b, err := engine.Borrow(ctx, member, "isbn-1")
	require.NoError(t, err)
	require.NoError(t, engine.Return(ctx, b.ID))
	assert.ErrorIs(t, engine.Return(ctx, b.ID), ErrNotOutstanding)
}

// Exactly one of many concurrent borrowers gets the last copy; the rest see
// an out-of-stock answer, never a double allocation.
func TestConcurrentBorrowLastCopy(t *testing.T) {
	pool := testPool(t)
	engine := testEngine(t, pool, newTestClock())
	ctx := context.Background()

	addBook(t, pool, "isbn-1", 1)

	const n = 8
	members := make([]uuid.UUID, n)
	for i := range members {
		members[i] = addMember(t, pool)
	}

	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Borrow(ctx, members[i], "isbn-1")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, ErrOutOfStock)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, availableCopies(t, pool, "isbn-1"))
}

// Reservations are served oldest first: with R1 placed before R2, the first
// freed copy confirms R1 and R2 stays pending.
func TestReservationOrdering(t *testing.T) {
	pool := testPool(t)
	engine := testEngine(t, pool, newTestClock())
	ctx := context.Background()

	addBook(t, pool, "isbn-1", 1)
	borrower := addMember(t, pool)
	first := addMember(t, pool)
	second := addMember(t, pool)

	b, err := engine.Borrow(ctx, borrower, "isbn-1")
	require.NoError(t, err)

	r1, err := engine.Reserve(ctx, first, "isbn-1", nil)
	require.NoError(t, err)
	r2, err := engine.Reserve(ctx, second, "isbn-1", nil)
	require.NoError(t, err)

	require.NoError(t, engine.Return(ctx, b.ID))

	assert.Equal(t, StatusConfirmed, reservationStatus(t, pool, r1.ID))
	assert.Equal(t, StatusPending, reservationStatus(t, pool, r2.ID))
	assert.Equal(t, 0, availableCopies(t, pool, "isbn-1"), "the freed copy is set aside, not open")
}

// Scripted hold flow: a returned copy is held for the reserver, a third
// member cannot take it, and the reserver's borrow consumes the hold.
func TestHoldProtectsReservedCopy(t *testing.T) {
	pool := testPool(t)
	engine := testEngine(t, pool, newTestClock())
	ctx := context.Background()

	addBook(t, pool, "isbn-1", 1)
	alice := addMember(t, pool)
	bella := addMember(t, pool)
	carol := addMember(t, pool)

	b, err := engine.Borrow(ctx, alice, "isbn-1")
	require.NoError(t, err)
	r, err := engine.Reserve(ctx, bella, "isbn-1", nil)
	require.NoError(t, err)

	require.NoError(t, engine.Return(ctx, b.ID))
	assert.Equal(t, StatusConfirmed, reservationStatus(t, pool, r.ID))
	assert.Equal(t, 0, availableCopies(t, pool, "isbn-1"))

	_, err = engine.Borrow(ctx, carol, "isbn-1")
	assert.ErrorIs(t, err, ErrOutOfStock)

	bb, err := engine.Borrow(ctx, bella, "isbn-1")
	require.NoError(t, err)
	assert.Equal(t, bella, bb.MemberID)
	assert.Equal(t, 0, availableCopies(t, pool, "isbn-1"))

	var fulfilledAt *time.Time
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT fulfilled_at FROM reservations WHERE id = $1`, r.ID).Scan(&fulfilledAt))
	assert.NotNil(t, fulfilledAt)
}

// A hold left unclaimed past the window is cancelled with the flat fee and
// the copy moves on during the next operation touching the title.
func TestHoldExpiry(t *testing.T) {
	pool := testPool(t)
	clock := newTestClock()
	engine := testEngine(t, pool, clock)
	ctx := context.Background()

	addBook(t, pool, "isbn-1", 1)
	alice := addMember(t, pool)
	bella := addMember(t, pool)
	carol := addMember(t, pool)

	b, err := engine.Borrow(ctx, alice, "isbn-1")
	require.NoError(t, err)
	r, err := engine.Reserve(ctx, bella, "isbn-1", nil)
	require.NoError(t, err)
	require.NoError(t, engine.Return(ctx, b.ID))
	require.Equal(t, StatusConfirmed, reservationStatus(t, pool, r.ID))

	clock.Advance(49 * time.Hour)

	cb, err := engine.Borrow(ctx, carol, "isbn-1")
	require.NoError(t, err, "the expired hold frees the copy")
	assert.Equal(t, carol, cb.MemberID)

	assert.Equal(t, StatusCancelled, reservationStatus(t, pool, r.ID))
	assert.Equal(t, []int64{200}, memberPenalties(t, pool, bella))
	assert.Equal(t, 0, availableCopies(t, pool, "isbn-1"))
}

// Scripted late-return flow: three days over the deadline at 50 cents a day.
func TestLateReturnFee(t *testing.T) {
	pool := testPool(t)
	clock := newTestClock()
	engine := testEngine(t, pool, clock)
	ctx := context.Background()

	addBook(t, pool, "isbn-1", 1)
	member := addMember(t, pool)

	b, err := engine.Borrow(ctx, member, "isbn-1")
	require.NoError(t, err)

	clock.Advance(17 * 24 * time.Hour)
	require.NoError(t, engine.Return(ctx, b.ID))

	assert.Equal(t, []int64{150}, memberPenalties(t, pool, member))
}

func TestReserveErrors(t *testing.T) {
	pool := testPool(t)
	engine := testEngine(t, pool, newTestClock())
	ctx := context.Background()

	addBook(t, pool, "isbn-1", 1)
	member := addMember(t, pool)

	_, err := engine.Reserve(ctx, member, "missing", nil)
	assert.ErrorIs(t, err, ErrBookNotFound)

	_, err = engine.Reserve(ctx, uuid.New(), "isbn-1", nil)
	assert.ErrorIs(t, err, ErrMemberNotFound)

	_, err = engine.Reserve(ctx, member, "isbn-1", nil)
	require.NoError(t, err)
	_, err = engine.Reserve(ctx, member, "isbn-1", nil)
	assert.ErrorIs(t, err, ErrDuplicateReservation)
}

func TestCancelPendingReservationIsFree(t *testing.T) {
	pool := testPool(t)
	engine := testEngine(t, pool, newTestClock())
	ctx := context.Background()

	addBook(t, pool, "isbn-1", 1)
	member := addMember(t, pool)

	r, err := engine.Reserve(ctx, member, "isbn-1", nil)
	require.NoError(t, err)

	require.NoError(t, engine.CancelReservation(ctx, r.ID))
	assert.Equal(t, StatusCancelled, reservationStatus(t, pool, r.ID))
	assert.Empty(t, memberPenalties(t, pool, member))

	assert.ErrorIs(t, engine.CancelReservation(ctx, r.ID), ErrNotCancellable)
	assert.ErrorIs(t, engine.CancelReservation(ctx, 9999), ErrReservationNotFound)
}

// Cancelling a confirmed hold carries the fee and hands the copy to the next
// pending reservation, or back to open stock when nobody waits.
func TestCancelConfirmedHold(t *testing.T) {
	pool := testPool(t)
	engine := testEngine(t, pool, newTestClock())
	ctx := context.Background()

	addBook(t, pool, "isbn-1", 1)
	alice := addMember(t, pool)
	bella := addMember(t, pool)
	carol := addMember(t, pool)

	b, err := engine.Borrow(ctx, alice, "isbn-1")
	require.NoError(t, err)
	rb, err := engine.Reserve(ctx, bella, "isbn-1", nil)
	require.NoError(t, err)
	rc, err := engine.Reserve(ctx, carol, "isbn-1", nil)
	require.NoError(t, err)
	require.NoError(t, engine.Return(ctx, b.ID))
	require.Equal(t, StatusConfirmed, reservationStatus(t, pool, rb.ID))

	require.NoError(t, engine.CancelReservation(ctx, rb.ID))
	assert.Equal(t, StatusCancelled, reservationStatus(t, pool, rb.ID))
	assert.Equal(t, []int64{200}, memberPenalties(t, pool, bella))
	assert.Equal(t, StatusConfirmed, reservationStatus(t, pool, rc.ID), "the copy moves to the next in line")
	assert.Equal(t, 0, availableCopies(t, pool, "isbn-1"))

	require.NoError(t, engine.CancelReservation(ctx, rc.ID))
	assert.Equal(t, 1, availableCopies(t, pool, "isbn-1"), "nobody waits, the copy reopens")
}

// A copy freed by the expiry pass inside a cancel call must not land on the
// reservation being cancelled: the member asked to cancel a pending (free)
// reservation and must not be charged a hold fee minted mid-call.
func TestCancelPendingSkipsCopyFreedByExpiry(t *testing.T) {
	pool := testPool(t)
	clock := newTestClock()
	engine := testEngine(t, pool, clock)
	ctx := context.Background()

	addBook(t, pool, "isbn-1", 1)
	alice := addMember(t, pool)
	bella := addMember(t, pool)
	carol := addMember(t, pool)

	b, err := engine.Borrow(ctx, alice, "isbn-1")
	require.NoError(t, err)
	rb, err := engine.Reserve(ctx, bella, "isbn-1", nil)
	require.NoError(t, err)
	require.NoError(t, engine.Return(ctx, b.ID))
	require.Equal(t, StatusConfirmed, reservationStatus(t, pool, rb.ID))

	rc, err := engine.Reserve(ctx, carol, "isbn-1", nil)
	require.NoError(t, err)

	clock.Advance(49 * time.Hour)

	require.NoError(t, engine.CancelReservation(ctx, rc.ID))

	assert.Equal(t, StatusCancelled, reservationStatus(t, pool, rb.ID), "the stale hold expired")
	assert.Equal(t, StatusCancelled, reservationStatus(t, pool, rc.ID))
	assert.Empty(t, memberPenalties(t, pool, carol), "cancelling a pending reservation stays free")
	assert.Equal(t, []int64{200}, memberPenalties(t, pool, bella))
	assert.Equal(t, 1, availableCopies(t, pool, "isbn-1"), "the freed copy reopens")
}

func TestCancelFulfilledReservation(t *testing.T) {
	pool := testPool(t)
	engine := testEngine(t, pool, newTestClock())
	ctx := context.Background()

	addBook(t, pool, "isbn-1", 1)
	alice := addMember(t, pool)
	bella := addMember(t, pool)

	b, err := engine.Borrow(ctx, alice, "isbn-1")
	require.NoError(t, err)
	r, err := engine.Reserve(ctx, bella, "isbn-1", nil)
	require.NoError(t, err)
	require.NoError(t, engine.Return(ctx, b.ID))
	_, err = engine.Borrow(ctx, bella, "isbn-1")
	require.NoError(t, err)

	assert.ErrorIs(t, engine.CancelReservation(ctx, r.ID), ErrNotCancellable)
}

// Every engine operation leaves a journal entry behind.
func TestEngineJournalsEvents(t *testing.T) {
	pool := testPool(t)
	engine := testEngine(t, pool, newTestClock())
	ctx := context.Background()

	addBook(t, pool, "isbn-1", 1)
	alice := addMember(t, pool)
	bella := addMember(t, pool)

	b, err := engine.Borrow(ctx, alice, "isbn-1")
	require.NoError(t, err)
	_, err = engine.Reserve(ctx, bella, "isbn-1", nil)
	require.NoError(t, err)
	require.NoError(t, engine.Return(ctx, b.ID))

	events, err := eventlog.New(pool).Stream(ctx, 0, 100)
	require.NoError(t, err)

	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		EventBookBorrowed,
		EventReservationPlaced,
		EventReservationConfirmed,
		EventBookReturned,
	}, types)
}
