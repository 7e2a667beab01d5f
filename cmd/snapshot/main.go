// Command snapshot computes the daily statistics roll-up once and exits.
// Useful from cron or for backfilling a missed day.
package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"bibliotek/internal/config"
	"bibliotek/internal/observability"
	"bibliotek/internal/stats"
	"bibliotek/internal/store"
)

func main() {
	dateFlag := flag.String("date", "", "snapshot date as YYYY-MM-DD (default: today, UTC)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	logger, err := observability.NewLogger(cfg.Environment)
	if err != nil {
		zap.NewExample().Fatal("logger setup failed", zap.Error(err))
	}
	defer logger.Sync()

	date := time.Now().UTC()
	if *dateFlag != "" {
		date, err = time.Parse("2006-01-02", *dateFlag)
		if err != nil {
			logger.Fatal("date must be YYYY-MM-DD", zap.Error(err))
		}
	}

	ctx := context.Background()
	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	snap, err := stats.NewService(pool, logger).Snapshot(ctx, date)
	if err != nil {
		logger.Fatal("snapshot failed", zap.Error(err))
	}
	logger.Info("done", zap.String("date", snap.Date.Format("2006-01-02")))
}
