package reward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/journeytrack/service/internal/contracts"
	"github.com/journeytrack/service/internal/platform/metrics"
)

// ErrInvalidEnvelope marks malformed payloads: acknowledged and dropped,
// never retried, so a poison message cannot loop.
var ErrInvalidEnvelope = errors.New("invalid event envelope")

var consumedTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "journey_reward_consumed_total",
	Help: "Messages handled by the reward worker, by outcome.",
}, []string{"outcome"})

func init() {
	metrics.Default.MustRegister(consumedTotal)
}

// Store is the worker's persistence boundary. Apply must persist the
// outcome and the processed message id in one transaction.
type Store interface {
	SeenMessage(ctx context.Context, messageID string) (bool, error)
	JourneysOn(ctx context.Context, userID string, day time.Time) ([]JourneyDay, error)
	Apply(ctx context.Context, userID string, day time.Time, out Outcome, messageID string) error
}

// Service consumes the journey event stream and keeps the daily-goal flags
// consistent. Delivery is at-least-once: duplicates are detected by message
// id, and the evaluation itself is a full re-derivation of (user, day), so
// replays converge to the same state.
type Service struct {
	Store       Store
	ThresholdKm float64
	Logger      *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{Store: store, ThresholdKm: DailyGoalKm, Logger: logger}
}

// Handle processes one delivery. ErrInvalidEnvelope means the message must
// be terminated; any other error means the evaluation should be retried via
// redelivery.
func (s *Service) Handle(ctx context.Context, payload []byte) error {
	var envelope contracts.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Type == "" {
		return ErrInvalidEnvelope
	}

	userID, day, ok, err := subjectOfEnvelope(envelope)
	if err != nil {
		return err
	}
	if !ok {
		s.Logger.Debug("ignoring event type", zap.String("type", envelope.Type))
		consumedTotal.WithLabelValues("ignored").Inc()
		return nil
	}

	seen, err := s.Store.SeenMessage(ctx, envelope.MessageID)
	if err != nil {
		return fmt.Errorf("check processed ledger: %w", err)
	}
	if seen {
		s.Logger.Debug("duplicate delivery suppressed",
			zap.String("message_id", envelope.MessageID))
		consumedTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	journeys, err := s.Store.JourneysOn(ctx, userID, day)
	if err != nil {
		return fmt.Errorf("load journeys for %s on %s: %w", userID, day.Format("2006-01-02"), err)
	}

	out := Decide(journeys, s.ThresholdKm)
	if err := s.Store.Apply(ctx, userID, day, out, envelope.MessageID); err != nil {
		return fmt.Errorf("apply daily goal outcome: %w", err)
	}

	switch {
	case out.Achiever != nil:
		s.Logger.Info("daily goal achieved",
			zap.String("user_id", userID),
			zap.String("journey_id", out.Achiever.ID.String()),
			zap.Time("date", day))
	case len(out.Resets) > 0:
		s.Logger.Info("daily goal reset",
			zap.String("user_id", userID),
			zap.Int("journeys", len(out.Resets)),
			zap.Time("date", day))
	}
	consumedTotal.WithLabelValues("evaluated").Inc()
	return nil
}

// subjectOfEnvelope extracts which (user, day) the event re-evaluates.
// Updates use the new date; a cross-day move is converged by the update
// event itself plus the next event touching the old day.
func subjectOfEnvelope(envelope contracts.Envelope) (userID string, day time.Time, ok bool, err error) {
	switch envelope.Type {
	case contracts.KindJourneyCreated:
		var ev contracts.JourneyCreated
		if err := envelope.DecodeContent(&ev); err != nil {
			return "", time.Time{}, false, ErrInvalidEnvelope
		}
		return ev.UserID, dayOf(ev.Date), true, nil
	case contracts.KindJourneyUpdated:
		var ev contracts.JourneyUpdated
		if err := envelope.DecodeContent(&ev); err != nil {
			return "", time.Time{}, false, ErrInvalidEnvelope
		}
		return ev.UserID, dayOf(ev.NewDate), true, nil
	case contracts.KindJourneyDeleted:
		var ev contracts.JourneyDeleted
		if err := envelope.DecodeContent(&ev); err != nil {
			return "", time.Time{}, false, ErrInvalidEnvelope
		}
		return ev.UserID, dayOf(ev.Date), true, nil
	default:
		return "", time.Time{}, false, nil
	}
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
