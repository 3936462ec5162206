package query

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrJourneyNotFound = errors.New("journey not found")

// JourneyView is the full journey representation pushed to clients and
// returned by the read endpoints.
type JourneyView struct {
	ID                uuid.UUID `json:"id"`
	UserID            string    `json:"userId"`
	StartLocation     string    `json:"startLocation"`
	StartTime         time.Time `json:"startTime"`
	ArrivalLocation   string    `json:"arrivalLocation"`
	ArrivalTime       time.Time `json:"arrivalTime"`
	Transport         string    `json:"transport"`
	DistanceKm        float64   `json:"distanceKm"`
	DailyGoalAchieved bool      `json:"dailyGoalAchieved"`
	PublicToken       string    `json:"publicToken,omitempty"`
}

type MonthlyDistanceView struct {
	UserID          string  `json:"userId"`
	Year            int     `json:"year"`
	Month           int     `json:"month"`
	TotalDistanceKm float64 `json:"totalDistanceKm"`
}

type Repository struct {
	Pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Pool: pool}
}

const journeyColumns = `id, user_id, start_location, start_time,
       arrival_location, arrival_time, transport, distance_km,
       daily_goal_achieved, COALESCE(public_token, '')`

func scanJourney(row pgx.Row) (JourneyView, error) {
	var v JourneyView
	err := row.Scan(
		&v.ID,
		&v.UserID,
		&v.StartLocation,
		&v.StartTime,
		&v.ArrivalLocation,
		&v.ArrivalTime,
		&v.Transport,
		&v.DistanceKm,
		&v.DailyGoalAchieved,
		&v.PublicToken,
	)
	return v, err
}

func (r *Repository) GetJourney(ctx context.Context, id uuid.UUID) (JourneyView, error) {
	v, err := scanJourney(r.Pool.QueryRow(ctx,
		`SELECT `+journeyColumns+` FROM journeys WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JourneyView{}, ErrJourneyNotFound
		}
		return JourneyView{}, err
	}
	return v, nil
}

// GetByPublicToken resolves a shared journey link. Revoked links behave as
// if the journey does not exist.
func (r *Repository) GetByPublicToken(ctx context.Context, token string) (JourneyView, error) {
	v, err := scanJourney(r.Pool.QueryRow(ctx,
		`SELECT `+journeyColumns+`
		 FROM journeys
		 WHERE public_token = $1 AND NOT public_token_revoked`, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JourneyView{}, ErrJourneyNotFound
		}
		return JourneyView{}, err
	}
	return v, nil
}

func (r *Repository) ListUserJourneys(ctx context.Context, userID string, limit, offset int) ([]JourneyView, error) {
	return r.list(ctx,
		`SELECT `+journeyColumns+`
		 FROM journeys
		 WHERE user_id = $1
		 ORDER BY start_time DESC
		 LIMIT $2 OFFSET $3`,
		userID, clampLimit(limit), maxInt(offset, 0))
}

// ListAllJourneys backs the admin listing.
func (r *Repository) ListAllJourneys(ctx context.Context, limit, offset int) ([]JourneyView, error) {
	return r.list(ctx,
		`SELECT `+journeyColumns+`
		 FROM journeys
		 ORDER BY start_time DESC
		 LIMIT $1 OFFSET $2`,
		clampLimit(limit), maxInt(offset, 0))
}

func (r *Repository) list(ctx context.Context, sql string, args ...any) ([]JourneyView, error) {
	rows, err := r.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]JourneyView, 0)
	for rows.Next() {
		v, err := scanJourney(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

// FavoriterIDs returns the users who favorited a journey, feeding the
// journey-updated notify-set.
func (r *Repository) FavoriterIDs(ctx context.Context, journeyID uuid.UUID) ([]string, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT user_id FROM journey_favorites WHERE journey_id = $1`, journeyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) MonthlyStats(ctx context.Context, userID string, year int) ([]MonthlyDistanceView, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT user_id, year, month, total_distance_km
		 FROM monthly_user_distances
		 WHERE user_id = $1 AND year = $2
		 ORDER BY month ASC`,
		userID, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]MonthlyDistanceView, 0, 12)
	for rows.Next() {
		var v MonthlyDistanceView
		if err := rows.Scan(&v.UserID, &v.Year, &v.Month, &v.TotalDistanceKm); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

// GoalAchieverOn returns the journey flagged as the day's goal achiever.
func (r *Repository) GoalAchieverOn(ctx context.Context, userID string, day time.Time) (JourneyView, error) {
	v, err := scanJourney(r.Pool.QueryRow(ctx,
		`SELECT `+journeyColumns+`
		 FROM journeys
		 WHERE user_id = $1
		   AND daily_goal_achieved
		   AND start_time >= $2 AND start_time < $3
		 ORDER BY start_time ASC
		 LIMIT 1`,
		userID, dayStart(day), dayStart(day).AddDate(0, 0, 1)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JourneyView{}, ErrJourneyNotFound
		}
		return JourneyView{}, err
	}
	return v, nil
}

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
