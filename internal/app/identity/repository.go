package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/journeytrack/service/internal/contracts"
	"github.com/journeytrack/service/internal/outbox"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUsernameTaken = errors.New("username already taken")
)

type User struct {
	ID           uuid.UUID
	Username     string
	Email        string
	PasswordHash string
	Role         string
	Status       string
	CreatedOnUtc time.Time
}

const createUsersTableSQL = `
CREATE TABLE IF NOT EXISTS users (
  id uuid PRIMARY KEY,
  username text NOT NULL UNIQUE,
  email text NOT NULL,
  password_hash text NOT NULL,
  role text NOT NULL,
  status text NOT NULL,
  created_on_utc timestamptz NOT NULL
)`

const insertUserSQL = `
INSERT INTO users (id, username, email, password_hash, role, status, created_on_utc)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (username) DO NOTHING`

const userColumns = `id, username, email, password_hash, role, status, created_on_utc`

// Repository is the Postgres store for user accounts.
type Repository struct {
	Pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Pool: pool}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.Pool.Exec(ctx, createUsersTableSQL)
	return err
}

func (r *Repository) Insert(ctx context.Context, u User) error {
	tag, err := r.Pool.Exec(ctx, insertUserSQL,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.Status, u.CreatedOnUtc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUsernameTaken
	}
	return nil
}

func (r *Repository) ByUsername(ctx context.Context, username string) (User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *Repository) ByID(ctx context.Context, id string) (User, error) {
	return r.one(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *Repository) one(ctx context.Context, sql string, arg any) (User, error) {
	var u User
	err := r.Pool.QueryRow(ctx, sql, arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Status, &u.CreatedOnUtc)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound
	}
	return u, err
}

// EmailsFor resolves user ids to addresses, skipping unknown ids.
func (r *Repository) EmailsFor(ctx context.Context, userIDs []string) (map[string]string, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT id, email FROM users WHERE id::text = ANY($1)`, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string, len(userIDs))
	for rows.Next() {
		var id uuid.UUID
		var email string
		if err := rows.Scan(&id, &email); err != nil {
			return nil, err
		}
		out[id.String()] = email
	}
	return out, rows.Err()
}

// ChangeStatus updates the status and captures the announcing events in
// one transaction, so no status changes without its outbox row.
func (r *Repository) ChangeStatus(
	ctx context.Context,
	userID uuid.UUID,
	status string,
	events []contracts.Event,
	now time.Time,
	newID func() uuid.UUID,
) error {
	return pgx.BeginFunc(ctx, r.Pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE users SET status = $2 WHERE id = $1`, userID, status)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrUserNotFound
		}
		return outbox.CaptureTx(ctx, tx, events, now, newID)
	})
}
