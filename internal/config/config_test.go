package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://bibliotek@localhost:5432/bibliotek?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 14*24*time.Hour, cfg.LoanPeriod)
	assert.Equal(t, 48*time.Hour, cfg.HoldWindow)
	assert.Equal(t, 3, cfg.TxMaxRetries)
	assert.Equal(t, int64(50), cfg.LateFeeCentsPerDay)
	assert.Equal(t, int64(200), cfg.CancelFeeCents)
	assert.Equal(t, "https://www.googleapis.com/books/v1", cfg.GatewayBaseURL)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://bibliotek@localhost:5432/bibliotek?sslmode=disable")
	t.Setenv("HOLD_WINDOW", "24h")
	t.Setenv("LATE_FEE_CENTS_PER_DAY", "75")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.HoldWindow)
	assert.Equal(t, int64(75), cfg.LateFeeCentsPerDay)
}

func TestLoadRejectsNonPositiveWindows(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://bibliotek@localhost:5432/bibliotek?sslmode=disable")
	t.Setenv("HOLD_WINDOW", "0s")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HOLD_WINDOW")
}

// A typo in the rate variable coerces to 0 through viper; that must surface
// as a config error, not reach the gateway client.
func TestLoadRejectsNonPositiveGatewayRate(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://bibliotek@localhost:5432/bibliotek?sslmode=disable")
	t.Setenv("GATEWAY_RATE_PER_MINUTE", "sixty")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GATEWAY_RATE_PER_MINUTE")
}
