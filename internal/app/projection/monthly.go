package projection

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/journeytrack/service/internal/contracts"
)

// Monthly distance totals per user, maintained incrementally from journey
// events. Deltas are derived purely from event payloads so a replayed event
// stream rebuilds identical buckets.

// Delta is one signed adjustment to a (user, year, month) bucket.
type Delta struct {
	UserID string
	Year   int
	Month  int
	Km     float64
}

// deltasFor maps an event to its bucket adjustments. A same-month update
// collapses to one signed diff; a cross-month move touches two buckets.
func deltasFor(event contracts.Event) []Delta {
	switch ev := event.(type) {
	case contracts.JourneyCreated:
		return []Delta{{UserID: ev.UserID, Year: ev.Date.Year(), Month: int(ev.Date.Month()), Km: ev.DistanceKm}}
	case contracts.JourneyDeleted:
		return []Delta{{UserID: ev.UserID, Year: ev.Date.Year(), Month: int(ev.Date.Month()), Km: -ev.DistanceKm}}
	case contracts.JourneyUpdated:
		sameBucket := ev.OldDate.Year() == ev.NewDate.Year() && ev.OldDate.Month() == ev.NewDate.Month()
		if sameBucket {
			diff := ev.NewDistanceKm - ev.OldDistanceKm
			if diff == 0 {
				return nil
			}
			return []Delta{{UserID: ev.UserID, Year: ev.NewDate.Year(), Month: int(ev.NewDate.Month()), Km: diff}}
		}
		return []Delta{
			{UserID: ev.UserID, Year: ev.OldDate.Year(), Month: int(ev.OldDate.Month()), Km: -ev.OldDistanceKm},
			{UserID: ev.UserID, Year: ev.NewDate.Year(), Month: int(ev.NewDate.Month()), Km: ev.NewDistanceKm},
		}
	default:
		return nil
	}
}

// DeltaStore persists bucket adjustments.
type DeltaStore interface {
	ApplyDelta(ctx context.Context, d Delta) error
}

const createMonthlyTableSQL = `
CREATE TABLE IF NOT EXISTS monthly_user_distances (
  user_id text NOT NULL,
  year int NOT NULL,
  month int NOT NULL,
  total_distance_km double precision NOT NULL,
  PRIMARY KEY (user_id, year, month)
)`

const applyDeltaSQL = `
INSERT INTO monthly_user_distances (user_id, year, month, total_distance_km)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, year, month)
DO UPDATE SET total_distance_km = monthly_user_distances.total_distance_km + EXCLUDED.total_distance_km`

const pruneEmptyBucketSQL = `
DELETE FROM monthly_user_distances
WHERE user_id = $1 AND year = $2 AND month = $3 AND total_distance_km <= 0`

// Store is the Postgres-backed DeltaStore.
type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, createMonthlyTableSQL)
	return err
}

// ApplyDelta adds the adjustment and prunes the bucket if it drained to
// zero or below. Floating point drift can leave a tiny negative residue
// after deleting everything, which the prune also covers.
func (s *Store) ApplyDelta(ctx context.Context, d Delta) error {
	if _, err := s.Pool.Exec(ctx, applyDeltaSQL, d.UserID, d.Year, d.Month, d.Km); err != nil {
		return fmt.Errorf("adjust bucket %s %d-%02d: %w", d.UserID, d.Year, d.Month, err)
	}
	_, err := s.Pool.Exec(ctx, pruneEmptyBucketSQL, d.UserID, d.Year, d.Month)
	return err
}

// Projector is the post-commit hook updating monthly totals.
type Projector struct {
	Store  DeltaStore
	Logger *zap.Logger
}

func NewProjector(store DeltaStore, logger *zap.Logger) *Projector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{Store: store, Logger: logger}
}

func (p *Projector) Name() string { return "monthly-distance" }

func (p *Projector) Handle(ctx context.Context, event contracts.Event) error {
	for _, d := range deltasFor(event) {
		if err := p.Store.ApplyDelta(ctx, d); err != nil {
			return err
		}
		p.Logger.Debug("monthly bucket adjusted",
			zap.String("user_id", d.UserID),
			zap.Int("year", d.Year),
			zap.Int("month", d.Month),
			zap.Float64("delta_km", d.Km))
	}
	return nil
}
