package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bibliotek/internal/catalog"
	"bibliotek/internal/circulation"
	"bibliotek/internal/config"
	"bibliotek/internal/eventlog"
	"bibliotek/internal/history"
	"bibliotek/internal/membership"
	"bibliotek/internal/metadata"
	"bibliotek/internal/notify"
	"bibliotek/internal/observability"
	"bibliotek/internal/penalty"
	"bibliotek/internal/stats"
	"bibliotek/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.Environment)
	if err != nil {
		zap.NewExample().Fatal("logger setup failed", zap.Error(err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, "bibliotek", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	if err := store.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	events := eventlog.New(pool)
	archive := history.NewStore(pool)
	assessor := penalty.NewAssessor(cfg.LateFeeCentsPerDay, cfg.CancelFeeCents)
	gateway := metadata.NewClient(cfg.GatewayBaseURL, cfg.GatewayTimeout, cfg.GatewayRatePerMinute)

	catalogSvc := catalog.NewService(pool, gateway, logger)
	circulationSvc := circulation.NewService(pool, events, assessor, archive, circulation.Policy{
		LoanPeriod: cfg.LoanPeriod,
		HoldWindow: cfg.HoldWindow,
		MaxRetries: cfg.TxMaxRetries,
	}, logger)
	membershipSvc := membership.NewService(pool, logger)
	penaltySvc := penalty.NewService(pool, logger)
	statsSvc := stats.NewService(pool, logger)
	notifyStore := notify.NewStore(pool)

	dispatcher := notify.NewDispatcher(pool, events, cfg.NotifyInterval, logger)
	go dispatcher.Run(ctx)
	go runSnapshotter(ctx, statsSvc, cfg.SnapshotInterval, logger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		catalog.NewHandler(catalogSvc).Routes(r)
		circulation.NewHandler(circulationSvc, archive).Routes(r)
		membership.NewHandler(membershipSvc).Routes(r)
		penalty.NewHandler(penaltySvc).Routes(r)
		notify.NewHandler(notifyStore).Routes(r)
		stats.NewHandler(statsSvc).Routes(r)
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runSnapshotter(ctx context.Context, svc stats.Service, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Snapshot(ctx, time.Now().UTC()); err != nil && ctx.Err() == nil {
				logger.Warn("periodic snapshot failed", zap.Error(err))
			}
		}
	}
}
