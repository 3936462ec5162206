package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/journeytrack/service/internal/contracts"
	"github.com/journeytrack/service/internal/platform/metrics"
)

var dispatchedTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "journey_outbox_dispatched_total",
	Help: "Outbox messages published to the broker, by event type.",
}, []string{"type"})

func init() {
	metrics.Default.MustRegister(dispatchedTotal)
}

// MessageSource is the dispatcher's view of the outbox store.
type MessageSource interface {
	FetchUnprocessed(ctx context.Context, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// BrokerPublisher sends an envelope and returns after broker acknowledgement.
type BrokerPublisher interface {
	Publish(ctx context.Context, envelope contracts.Envelope) error
}

// DispatcherConfig controls polling cadence and batch bounds.
type DispatcherConfig struct {
	Interval  time.Duration
	BatchSize int
}

// Dispatcher is the recurring background task that drains undelivered
// outbox rows to the broker in occurrence order. Transient broker or store
// failures are logged and retried on the next cycle; undelivered rows stay
// undelivered, so delivery is at-least-once.
type Dispatcher struct {
	Source    MessageSource
	Publisher BrokerPublisher
	Logger    *zap.Logger
	Now       func() time.Time

	cfg  DispatcherConfig
	cron *cron.Cron
}

func NewDispatcher(source MessageSource, publisher BrokerPublisher, logger *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	// cron's @every floor is one second; shorter intervals would be rounded
	// up silently, so normalize here where the logged config can show it.
	if cfg.Interval < time.Second {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		Source:    source,
		Publisher: publisher,
		Logger:    logger,
		Now:       func() time.Time { return time.Now().UTC() },
		cfg:       cfg,
		cron:      cron.New(cron.WithSeconds()),
	}

	schedule := fmt.Sprintf("@every %s", cfg.Interval)
	if _, err := d.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Interval)
		defer cancel()
		if err := d.Drain(ctx); err != nil {
			d.Logger.Error("outbox drain failed", zap.Error(err))
		}
	}); err != nil {
		d.Logger.Error("register outbox schedule",
			zap.String("schedule", schedule), zap.Error(err))
	}
	return d
}

func (d *Dispatcher) Start() {
	d.cron.Start()
	d.Logger.Info("outbox dispatcher started",
		zap.Duration("interval", d.cfg.Interval),
		zap.Int("batch_size", d.cfg.BatchSize))
}

// Stop halts the schedule and waits for an in-flight drain to finish; the
// loop exits between batches, never mid-message.
func (d *Dispatcher) Stop(ctx context.Context) {
	stopCtx := d.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	d.Logger.Info("outbox dispatcher stopped")
}

// Drain publishes one batch. Rows are dispatched in occurred-on order; on a
// publish failure the rows already acknowledged by the broker are still
// marked processed and the rest remain for the next cycle.
func (d *Dispatcher) Drain(ctx context.Context) error {
	messages, err := d.Source.FetchUnprocessed(ctx, d.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch outbox batch: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}

	published := make([]uuid.UUID, 0, len(messages))
	var publishErr error
	for _, msg := range messages {
		if err := d.Publisher.Publish(ctx, msg.Envelope()); err != nil {
			publishErr = fmt.Errorf("publish outbox message %s: %w", msg.ID, err)
			break
		}
		published = append(published, msg.ID)
		dispatchedTotal.WithLabelValues(msg.Type).Inc()
	}

	if len(published) > 0 {
		if err := d.Source.MarkProcessed(ctx, published, d.Now()); err != nil {
			// The rows will be republished next cycle; consumers must
			// already tolerate duplicates.
			return fmt.Errorf("mark outbox batch processed: %w", err)
		}
	}
	return publishErr
}
