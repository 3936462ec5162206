package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/journeytrack/service/internal/contracts"
)

// Message is a durable record of a domain event awaiting publication.
type Message struct {
	ID             uuid.UUID
	Type           string
	Content        string
	OccurredOnUtc  time.Time
	ProcessedOnUtc *time.Time
}

func (m Message) Envelope() contracts.Envelope {
	return contracts.Envelope{
		MessageID:     m.ID.String(),
		Type:          m.Type,
		Content:       m.Content,
		OccurredOnUtc: m.OccurredOnUtc,
	}
}

// BuildMessages serializes pending domain events into outbox rows. Each row
// gets a fresh identity and the capture timestamp; the payload keeps the
// event's own field names.
func BuildMessages(events []contracts.Event, now time.Time, newID func() uuid.UUID) ([]Message, error) {
	messages := make([]Message, 0, len(events))
	for _, event := range events {
		content, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("serialize %s: %w", event.Kind(), err)
		}
		messages = append(messages, Message{
			ID:            newID(),
			Type:          event.Kind(),
			Content:       string(content),
			OccurredOnUtc: now,
		})
	}
	return messages, nil
}

// seq breaks ties between rows captured in one transaction, which all share
// the same occurred_on_utc.
const createOutboxTableSQL = `
CREATE TABLE IF NOT EXISTS outbox_messages (
  id uuid PRIMARY KEY,
  seq bigint GENERATED ALWAYS AS IDENTITY,
  type text NOT NULL,
  content text NOT NULL,
  occurred_on_utc timestamptz NOT NULL,
  processed_on_utc timestamptz
)`

const createOutboxPendingIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_outbox_pending
ON outbox_messages (occurred_on_utc, seq)
WHERE processed_on_utc IS NULL`

const insertMessageSQL = `
INSERT INTO outbox_messages (id, type, content, occurred_on_utc)
VALUES ($1, $2, $3, $4)`

const fetchUnprocessedSQL = `
SELECT id, type, content, occurred_on_utc
FROM outbox_messages
WHERE processed_on_utc IS NULL
ORDER BY occurred_on_utc ASC, seq ASC
LIMIT $1`

const markProcessedSQL = `
UPDATE outbox_messages
SET processed_on_utc = $2
WHERE id = ANY($1)`

// Store persists outbox rows. Capture runs inside the caller's business
// transaction; fetch and mark belong to the dispatcher.
type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.Pool.Exec(ctx, createOutboxTableSQL); err != nil {
		return err
	}
	_, err := s.Pool.Exec(ctx, createOutboxPendingIndexSQL)
	return err
}

// CaptureTx inserts one row per pending event into the open transaction.
// If the transaction rolls back, no rows survive; if it commits, every
// event is durably recorded before the caller observes success.
func CaptureTx(ctx context.Context, tx pgx.Tx, events []contracts.Event, now time.Time, newID func() uuid.UUID) error {
	if len(events) == 0 {
		return nil
	}
	messages, err := BuildMessages(events, now, newID)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if _, err := tx.Exec(ctx, insertMessageSQL, msg.ID, msg.Type, msg.Content, msg.OccurredOnUtc); err != nil {
			return fmt.Errorf("insert outbox row %s: %w", msg.ID, err)
		}
	}
	return nil
}

func (s *Store) FetchUnprocessed(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.Pool.Query(ctx, fetchUnprocessedSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Type, &m.Content, &m.OccurredOnUtc); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *Store) MarkProcessed(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.Pool.Exec(ctx, markProcessedSQL, ids, at)
	return err
}
