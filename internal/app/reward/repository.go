package reward

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// The worker owns its duplicate ledger and shares the journeys table with
// the API process. Both sides run the same CREATE IF NOT EXISTS statement,
// so either can start first against an empty database.

const createJourneysTableSQL = `
CREATE TABLE IF NOT EXISTS journeys (
  id uuid PRIMARY KEY,
  user_id text NOT NULL,
  start_location text NOT NULL,
  start_time timestamptz NOT NULL,
  arrival_location text NOT NULL,
  arrival_time timestamptz NOT NULL,
  transport text NOT NULL,
  distance_km double precision NOT NULL,
  daily_goal_achieved boolean NOT NULL DEFAULT false,
  public_token text,
  public_token_revoked boolean NOT NULL DEFAULT false,
  created_on_utc timestamptz NOT NULL,
  modified_on_utc timestamptz
)`

const createJourneysUserDayIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_journeys_user_start
ON journeys (user_id, start_time)`

const createProcessedLedgerSQL = `
CREATE TABLE IF NOT EXISTS reward_processed_messages (
  message_id uuid PRIMARY KEY,
  processed_on_utc timestamptz NOT NULL
)`

const seenMessageSQL = `
SELECT EXISTS (SELECT 1 FROM reward_processed_messages WHERE message_id = $1)`

const recordMessageSQL = `
INSERT INTO reward_processed_messages (message_id, processed_on_utc)
VALUES ($1, $2)
ON CONFLICT (message_id) DO NOTHING`

const journeysOnSQL = `
SELECT id, start_time, distance_km, daily_goal_achieved
FROM journeys
WHERE user_id = $1 AND start_time >= $2 AND start_time < $3
ORDER BY start_time ASC`

const setGoalFlagSQL = `
UPDATE journeys SET daily_goal_achieved = $2 WHERE id = $1`

// Repository is the worker's Postgres-backed Store.
type Repository struct {
	Pool *pgxpool.Pool
	Now  func() time.Time
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Pool: pool, Now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createJourneysTableSQL,
		createJourneysUserDayIndexSQL,
		createProcessedLedgerSQL,
	} {
		if _, err := r.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) SeenMessage(ctx context.Context, messageID string) (bool, error) {
	var seen bool
	err := r.Pool.QueryRow(ctx, seenMessageSQL, messageID).Scan(&seen)
	return seen, err
}

func (r *Repository) JourneysOn(ctx context.Context, userID string, day time.Time) ([]JourneyDay, error) {
	rows, err := r.Pool.Query(ctx, journeysOnSQL, userID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []JourneyDay
	for rows.Next() {
		var j JourneyDay
		if err := rows.Scan(&j.ID, &j.StartTime, &j.DistanceKm, &j.GoalAchieved); err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

// Apply persists the outcome and records the message id in one transaction.
// A crash between broker ack and commit only re-runs an evaluation that
// converges to the same flags.
func (r *Repository) Apply(ctx context.Context, userID string, day time.Time, out Outcome, messageID string) error {
	return pgx.BeginFunc(ctx, r.Pool, func(tx pgx.Tx) error {
		if out.Achiever != nil {
			if _, err := tx.Exec(ctx, setGoalFlagSQL, out.Achiever.ID, true); err != nil {
				return fmt.Errorf("flag journey %s: %w", out.Achiever.ID, err)
			}
		}
		for _, reset := range out.Resets {
			if _, err := tx.Exec(ctx, setGoalFlagSQL, reset.ID, false); err != nil {
				return fmt.Errorf("unflag journey %s: %w", reset.ID, err)
			}
		}
		if _, err := tx.Exec(ctx, recordMessageSQL, messageID, r.Now()); err != nil {
			return fmt.Errorf("record processed message: %w", err)
		}
		return nil
	})
}
