package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/journeytrack/service/internal/app/hub"
	"github.com/journeytrack/service/internal/app/identity"
	"github.com/journeytrack/service/internal/app/journeyapi"
	"github.com/journeytrack/service/internal/app/projection"
	"github.com/journeytrack/service/internal/app/query"
	"github.com/journeytrack/service/internal/messaging"
	"github.com/journeytrack/service/internal/notify"
	"github.com/journeytrack/service/internal/outbox"
	"github.com/journeytrack/service/internal/platform/auth"
	"github.com/journeytrack/service/internal/platform/dbpool"
	"github.com/journeytrack/service/internal/platform/env"
	"github.com/journeytrack/service/internal/platform/logger"
	"github.com/journeytrack/service/internal/platform/metrics"
)

func main() {
	env.Load()
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zl := logger.New(env.String("LOG_LEVEL", "info"))
	defer func() { _ = zl.Sync() }()

	addr := env.String("API_ADDR", env.DefaultAPIAddr)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	natsURL := env.String("NATS_URL", env.DefaultNATSURL)
	jwtSecret := env.String("JWT_SECRET", "dev-insecure-change-me")
	jwtTTL := env.Duration("JWT_TTL", 24*time.Hour)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		zl.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	outboxStore := outbox.NewStore(pool)
	journeyStore := journeyapi.NewStore(pool)
	projectionStore := projection.NewStore(pool)
	identityRepo := identity.NewRepository(pool)

	if err := waitForSchemas(runCtx, pool, zl, 30*time.Second,
		outboxStore.EnsureSchema,
		journeyStore.EnsureSchema,
		projectionStore.EnsureSchema,
		identityRepo.EnsureSchema,
	); err != nil {
		zl.Fatal("prepare schemas", zap.Error(err))
	}

	publisher := messaging.NewPublisher(natsURL, zl)
	defer publisher.Close()

	dispatcher := outbox.NewDispatcher(outboxStore, publisher, zl, outbox.DispatcherConfig{
		Interval:  env.Duration("OUTBOX_INTERVAL", 5*time.Second),
		BatchSize: env.Int("OUTBOX_BATCH_SIZE", 20),
	})
	dispatcher.Start()

	go watchConsumerLag(runCtx, publisher, zl)

	tokens := auth.NewManager(jwtSecret, jwtTTL)
	queries := query.NewRepository(pool)
	presence := hub.New(zl)
	emailer := notify.FromEnv(zl)
	notifier := hub.NewNotifier(presence, queries, identityRepo, emailer, zl)

	identitySvc := identity.NewService(identityRepo, tokens, []identity.Hook{notifier}, zl)

	service := journeyapi.NewService(
		journeyStore,
		journeyapi.NewGoalEvaluator(journeyStore, zl),
		[]journeyapi.Hook{
			projection.NewProjector(projectionStore, zl),
			notifier,
		},
		zl,
	)

	handler := &journeyapi.Handler{
		Service:  service,
		Identity: identitySvc,
		Queries:  queries,
		Shares:   journeyStore,
		Hub:      presence,
		Tokens:   tokens,
		Ready: func(ctx context.Context) error {
			probeCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
			defer cancel()
			if err := pool.Ping(probeCtx); err != nil {
				return err
			}
			return publisher.Ping()
		},
		Logger: zl,
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// no WriteTimeout: /api/v1/stream holds connections open
		IdleTimeout: 60 * time.Second,
	}

	zl.Info("journey api listening", zap.String("addr", addr))
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		zl.Fatal("http server failed", zap.Error(err))
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Warn("graceful shutdown incomplete", zap.Error(err))
	}
	dispatcher.Stop(shutdownCtx)
}

func waitForSchemas(
	ctx context.Context,
	pool *pgxpool.Pool,
	zl *zap.Logger,
	timeout time.Duration,
	ensure ...func(context.Context) error,
) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = pool.Ping(attemptCtx)
		for _, fn := range ensure {
			if lastErr != nil {
				break
			}
			lastErr = fn(attemptCtx)
		}
		cancel()

		if lastErr == nil {
			return nil
		}
		zl.Info("waiting for postgres readiness", zap.Error(lastErr))
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}

// watchConsumerLag polls how far the reward worker's durables trail the
// stream and exposes the sum as a gauge.
func watchConsumerLag(ctx context.Context, publisher *messaging.Publisher, zl *zap.Logger) {
	lag := metrics.NewGauge(metrics.Opts{
		Name: "journey_broker_consumer_lag",
		Help: "Pending messages across reward worker durables.",
	})
	metrics.Default.MustRegister(lag)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		js, err := publisher.JetStream()
		if err != nil {
			zl.Debug("lag probe skipped, broker unreachable", zap.Error(err))
			continue
		}
		var pending uint64
		probed := false
		for _, binding := range messaging.RewardBindings() {
			info, err := js.ConsumerInfo(messaging.StreamName, binding.Durable)
			if err != nil {
				continue
			}
			pending += info.NumPending
			probed = true
		}
		if probed {
			lag.Set(float64(pending))
		}
	}
}
