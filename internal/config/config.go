package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the service. The circulation policy values
// (loan period, hold window, fee rates) are deliberately configuration, not
// constants: different libraries run different policies.
type Config struct {
	DatabaseURL string
	Port        string
	Environment string

	LoanPeriod   time.Duration
	HoldWindow   time.Duration
	TxMaxRetries int

	LateFeeCentsPerDay int64
	CancelFeeCents     int64

	GatewayBaseURL       string
	GatewayTimeout       time.Duration
	GatewayRatePerMinute int

	NotifyInterval   time.Duration
	SnapshotInterval time.Duration

	OTLPEndpoint string
}

// Load reads configuration from the environment with sane defaults.
// Only DATABASE_URL is mandatory.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOAN_PERIOD", "336h") // 14 days
	v.SetDefault("HOLD_WINDOW", "48h")
	v.SetDefault("TX_MAX_RETRIES", 3)
	v.SetDefault("LATE_FEE_CENTS_PER_DAY", 50)
	v.SetDefault("CANCEL_FEE_CENTS", 200)
	v.SetDefault("GATEWAY_BASE_URL", "https://www.googleapis.com/books/v1")
	v.SetDefault("GATEWAY_TIMEOUT", "3s")
	v.SetDefault("GATEWAY_RATE_PER_MINUTE", 60)
	v.SetDefault("NOTIFY_INTERVAL", "2s")
	v.SetDefault("SNAPSHOT_INTERVAL", "1h")
	v.SetDefault("OTLP_ENDPOINT", "")

	cfg := &Config{
		DatabaseURL:          v.GetString("DATABASE_URL"),
		Port:                 v.GetString("PORT"),
		Environment:          v.GetString("ENVIRONMENT"),
		LoanPeriod:           v.GetDuration("LOAN_PERIOD"),
		HoldWindow:           v.GetDuration("HOLD_WINDOW"),
		TxMaxRetries:         v.GetInt("TX_MAX_RETRIES"),
		LateFeeCentsPerDay:   v.GetInt64("LATE_FEE_CENTS_PER_DAY"),
		CancelFeeCents:       v.GetInt64("CANCEL_FEE_CENTS"),
		GatewayBaseURL:       v.GetString("GATEWAY_BASE_URL"),
		GatewayTimeout:       v.GetDuration("GATEWAY_TIMEOUT"),
		GatewayRatePerMinute: v.GetInt("GATEWAY_RATE_PER_MINUTE"),
		NotifyInterval:       v.GetDuration("NOTIFY_INTERVAL"),
		SnapshotInterval:     v.GetDuration("SNAPSHOT_INTERVAL"),
		OTLPEndpoint:         v.GetString("OTLP_ENDPOINT"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.LoanPeriod <= 0 {
		return nil, fmt.Errorf("LOAN_PERIOD must be positive, got %s", cfg.LoanPeriod)
	}
	if cfg.HoldWindow <= 0 {
		return nil, fmt.Errorf("HOLD_WINDOW must be positive, got %s", cfg.HoldWindow)
	}
	if cfg.TxMaxRetries < 0 {
		return nil, fmt.Errorf("TX_MAX_RETRIES must not be negative, got %d", cfg.TxMaxRetries)
	}
	if cfg.GatewayRatePerMinute <= 0 {
		return nil, fmt.Errorf("GATEWAY_RATE_PER_MINUTE must be positive, got %d", cfg.GatewayRatePerMinute)
	}

	return cfg, nil
}
