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
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/journeytrack/service/internal/app/reward"
	"github.com/journeytrack/service/internal/messaging"
	"github.com/journeytrack/service/internal/platform/dbpool"
	"github.com/journeytrack/service/internal/platform/env"
	"github.com/journeytrack/service/internal/platform/logger"
	"github.com/journeytrack/service/internal/platform/metrics"
	"github.com/journeytrack/service/internal/platform/natsutil"
)

func main() {
	env.Load()
	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zl := logger.New(env.String("LOG_LEVEL", "info"))
	defer func() { _ = zl.Sync() }()

	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	natsURL := env.String("NATS_URL", env.DefaultNATSURL)
	maxDeliver := env.Int("MAX_DELIVER", 5)
	ackWait := env.Duration("ACK_WAIT", 30*time.Second)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		zl.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	repository := reward.NewRepository(pool)
	if err := waitForPostgres(runCtx, pool, repository, zl, 30*time.Second); err != nil {
		zl.Fatal("postgres not ready", zap.Error(err))
	}
	service := reward.NewService(repository, zl)

	client, err := natsutil.ConnectJetStreamWithRetry(natsURL, 20*time.Second)
	if err != nil {
		zl.Fatal("connect nats", zap.Error(err))
	}
	defer client.Close()

	if err := messaging.EnsureStream(client.JS); err != nil {
		zl.Fatal("ensure stream", zap.Error(err))
	}

	handle := func(msg *nats.Msg) {
		handleCtx, cancel := context.WithTimeout(runCtx, 10*time.Second)
		defer cancel()

		if err := service.Handle(handleCtx, msg.Data); err != nil {
			if errors.Is(err, reward.ErrInvalidEnvelope) {
				zl.Warn("terminating malformed message",
					zap.String("subject", msg.Subject))
				_ = msg.Term()
				return
			}
			zl.Error("evaluation failed, requesting redelivery",
				zap.String("subject", msg.Subject), zap.Error(err))
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	}

	for _, binding := range messaging.RewardBindings() {
		sub, err := client.JS.QueueSubscribe(
			messaging.EventSubject(binding.Kind),
			messaging.RewardQueue,
			handle,
			nats.Durable(binding.Durable),
			nats.ManualAck(),
			nats.AckWait(ackWait),
			nats.MaxDeliver(maxDeliver),
		)
		if err != nil {
			zl.Fatal("subscribe", zap.String("kind", binding.Kind), zap.Error(err))
		}
		zl.Info("reward worker bound", zap.String("subject", sub.Subject),
			zap.String("durable", binding.Durable))
	}

	go serveOps(runCtx, zl, pool)

	<-runCtx.Done()
	zl.Info("reward worker stopping")
}

func waitForPostgres(
	ctx context.Context,
	pool *pgxpool.Pool,
	repository *reward.Repository,
	zl *zap.Logger,
	timeout time.Duration,
) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = pool.Ping(attemptCtx)
		if lastErr == nil {
			lastErr = repository.EnsureSchema(attemptCtx)
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

func serveOps(ctx context.Context, zl *zap.Logger, pool *pgxpool.Pool) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", metrics.DefaultHandler())

	server := &http.Server{
		Addr:              env.String("WORKER_ADDR", ":8081"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zl.Warn("ops endpoint failed", zap.Error(err))
	}
}
