package journeyapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/journeytrack/service/internal/app/reward"
	"github.com/journeytrack/service/internal/contracts"
	"github.com/journeytrack/service/internal/domain"
	"github.com/journeytrack/service/internal/outbox"
)

// The API owns the write schema. The journeys DDL is repeated by the worker
// so process start order does not matter; favorites and shares exist only
// on this side.

const createJourneysSQL = `
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

const createFavoritesSQL = `
CREATE TABLE IF NOT EXISTS journey_favorites (
  journey_id uuid NOT NULL,
  user_id text NOT NULL,
  PRIMARY KEY (journey_id, user_id)
)`

const createSharesSQL = `
CREATE TABLE IF NOT EXISTS journey_shares (
  journey_id uuid NOT NULL,
  user_id text NOT NULL,
  PRIMARY KEY (journey_id, user_id)
)`

const createUserStartIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_journeys_user_start
ON journeys (user_id, start_time)`

const insertJourneySQL = `
INSERT INTO journeys (
  id, user_id, start_location, start_time, arrival_location, arrival_time,
  transport, distance_km, daily_goal_achieved, created_on_utc
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const updateJourneySQL = `
UPDATE journeys SET
  start_location = $2, start_time = $3, arrival_location = $4,
  arrival_time = $5, transport = $6, distance_km = $7, modified_on_utc = $8
WHERE id = $1`

const getJourneySQL = `
SELECT id, user_id, start_location, start_time, arrival_location,
       arrival_time, transport, distance_km, daily_goal_achieved,
       COALESCE(public_token, ''), public_token_revoked
FROM journeys WHERE id = $1`

const setPublicLinkSQL = `
UPDATE journeys
SET public_token = NULLIF($2, ''), public_token_revoked = $3, modified_on_utc = $4
WHERE id = $1`

const journeysOnDaySQL = `
SELECT id, start_time, distance_km, daily_goal_achieved
FROM journeys
WHERE user_id = $1 AND start_time >= $2 AND start_time < $3
ORDER BY start_time ASC`

// Store is the Postgres-backed JourneyStore and GoalStore.
type Store struct {
	Pool  *pgxpool.Pool
	Now   func() time.Time
	NewID func() uuid.UUID
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Pool:  pool,
		Now:   func() time.Time { return time.Now().UTC() },
		NewID: uuid.New,
	}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{
		createJourneysSQL,
		createUserStartIndexSQL,
		createFavoritesSQL,
		createSharesSQL,
	} {
		if _, err := s.Pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, j *domain.Journey, events []contracts.Event) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertJourneySQL,
			j.ID, j.UserID, j.StartLocation, j.StartTime,
			j.ArrivalLocation, j.ArrivalTime, string(j.Transport),
			j.Distance.Km(), j.DailyGoalAchieved, s.Now()); err != nil {
			return fmt.Errorf("insert journey %s: %w", j.ID, err)
		}
		return outbox.CaptureTx(ctx, tx, events, s.Now(), s.NewID)
	})
}

func (s *Store) Update(ctx context.Context, j *domain.Journey, events []contracts.Event) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updateJourneySQL,
			j.ID, j.StartLocation, j.StartTime, j.ArrivalLocation,
			j.ArrivalTime, string(j.Transport), j.Distance.Km(), s.Now())
		if err != nil {
			return fmt.Errorf("update journey %s: %w", j.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrJourneyNotFound
		}
		return outbox.CaptureTx(ctx, tx, events, s.Now(), s.NewID)
	})
}

// Delete removes the row and its favorites and shares together with the
// deletion event, so no journey disappears without its event.
func (s *Store) Delete(ctx context.Context, j *domain.Journey, events []contracts.Event) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM journey_favorites WHERE journey_id = $1`,
			`DELETE FROM journey_shares WHERE journey_id = $1`,
			`DELETE FROM journeys WHERE id = $1`,
		} {
			if _, err := tx.Exec(ctx, stmt, j.ID); err != nil {
				return fmt.Errorf("delete journey %s: %w", j.ID, err)
			}
		}
		return outbox.CaptureTx(ctx, tx, events, s.Now(), s.NewID)
	})
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Journey, error) {
	var j domain.Journey
	var transport string
	err := s.Pool.QueryRow(ctx, getJourneySQL, id).Scan(
		&j.ID, &j.UserID, &j.StartLocation, &j.StartTime,
		&j.ArrivalLocation, &j.ArrivalTime, &transport,
		&j.Distance, &j.DailyGoalAchieved,
		&j.PublicToken, &j.PublicTokenRevoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJourneyNotFound
	}
	if err != nil {
		return nil, err
	}
	j.OwnerID = j.UserID
	j.Transport = domain.Transport(transport)
	return &j, nil
}

func (s *Store) SetFavorite(ctx context.Context, journeyID uuid.UUID, userID string, favorite bool) error {
	if favorite {
		_, err := s.Pool.Exec(ctx,
			`INSERT INTO journey_favorites (journey_id, user_id)
			 VALUES ($1, $2) ON CONFLICT DO NOTHING`, journeyID, userID)
		return err
	}
	_, err := s.Pool.Exec(ctx,
		`DELETE FROM journey_favorites WHERE journey_id = $1 AND user_id = $2`,
		journeyID, userID)
	return err
}

func (s *Store) AddShare(ctx context.Context, journeyID uuid.UUID, userID string) error {
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO journey_shares (journey_id, user_id)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`, journeyID, userID)
	return err
}

func (s *Store) IsSharedWith(ctx context.Context, journeyID uuid.UUID, userID string) (bool, error) {
	var shared bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM journey_shares WHERE journey_id = $1 AND user_id = $2
		 )`, journeyID, userID).Scan(&shared)
	return shared, err
}

func (s *Store) SetPublicLink(ctx context.Context, j *domain.Journey) error {
	tag, err := s.Pool.Exec(ctx, setPublicLinkSQL,
		j.ID, j.PublicToken, j.PublicTokenRevoked, s.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJourneyNotFound
	}
	return nil
}

func (s *Store) JourneysOn(ctx context.Context, userID string, day time.Time) ([]reward.JourneyDay, error) {
	rows, err := s.Pool.Query(ctx, journeysOnDaySQL, userID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []reward.JourneyDay
	for rows.Next() {
		var j reward.JourneyDay
		if err := rows.Scan(&j.ID, &j.StartTime, &j.DistanceKm, &j.GoalAchieved); err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

func (s *Store) ApplyOutcome(ctx context.Context, out reward.Outcome, events []contracts.Event) error {
	return pgx.BeginFunc(ctx, s.Pool, func(tx pgx.Tx) error {
		if out.Achiever != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE journeys SET daily_goal_achieved = true WHERE id = $1`,
				out.Achiever.ID); err != nil {
				return err
			}
		}
		for _, reset := range out.Resets {
			if _, err := tx.Exec(ctx,
				`UPDATE journeys SET daily_goal_achieved = false WHERE id = $1`,
				reset.ID); err != nil {
				return err
			}
		}
		return outbox.CaptureTx(ctx, tx, events, s.Now(), s.NewID)
	})
}
