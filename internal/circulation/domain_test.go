package circulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestHoldExpired(t *testing.T) {
	confirmed := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	window := 48 * time.Hour

	assert.False(t, holdExpired(confirmed, confirmed, window))
	assert.False(t, holdExpired(confirmed, confirmed.Add(window), window))
	assert.True(t, holdExpired(confirmed, confirmed.Add(window+time.Second), window))
}

func TestHoldExpiredMatchesElapsedTime(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rapid.Check(t, func(t *rapid.T) {
		windowSecs := rapid.Int64Range(1, 30*24*3600).Draw(t, "windowSecs")
		elapsedSecs := rapid.Int64Range(0, 60*24*3600).Draw(t, "elapsedSecs")

		window := time.Duration(windowSecs) * time.Second
		now := base.Add(time.Duration(elapsedSecs) * time.Second)

		assert.Equal(t, elapsedSecs > windowSecs, holdExpired(base, now, window))
	})
}

func TestInvariantViolationErrorMessage(t *testing.T) {
	err := &InvariantViolationError{ISBN: "9780134190440", Detail: "available copies -1 out of range [0, 2]"}
	assert.Contains(t, err.Error(), "9780134190440")
	assert.Contains(t, err.Error(), "invariant violation")
}
