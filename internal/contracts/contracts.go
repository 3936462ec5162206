package contracts

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type tags. Each tag doubles as the broker routing subject token,
// so consumers bind to exactly the kinds they care about.
const (
	KindJourneyCreated    = "JourneyCreatedEvent"
	KindJourneyUpdated    = "JourneyUpdatedEvent"
	KindJourneyDeleted    = "JourneyDeletedEvent"
	KindDailyGoalAchieved = "DailyGoalAchievedEvent"
	KindUserStatusChanged = "UserStatusChangedEvent"
)

// Event is the tagged union of domain events. Implementations are immutable
// value types carrying enough data for a consumer with no other context.
type Event interface {
	Kind() string
}

type JourneyCreated struct {
	ID         uuid.UUID `json:"id"`
	Date       time.Time `json:"date"`
	UserID     string    `json:"userId"`
	DistanceKm float64   `json:"distanceKm"`
}

func (JourneyCreated) Kind() string { return KindJourneyCreated }

type JourneyUpdated struct {
	ID            uuid.UUID `json:"id"`
	Date          time.Time `json:"date"`
	UserID        string    `json:"userId"`
	OldDistanceKm float64   `json:"oldDistanceKm"`
	OldDate       time.Time `json:"oldDate"`
	NewDistanceKm float64   `json:"newDistanceKm"`
	NewDate       time.Time `json:"newDate"`
}

func (JourneyUpdated) Kind() string { return KindJourneyUpdated }

type JourneyDeleted struct {
	ID         uuid.UUID `json:"id"`
	Date       time.Time `json:"date"`
	UserID     string    `json:"userId"`
	DistanceKm float64   `json:"distanceKm"`
}

func (JourneyDeleted) Kind() string { return KindJourneyDeleted }

type DailyGoalAchieved struct {
	UserID string    `json:"userId"`
	Date   time.Time `json:"date"`
}

func (DailyGoalAchieved) Kind() string { return KindDailyGoalAchieved }

type UserStatusChanged struct {
	UserID    string `json:"userId"`
	NewStatus string `json:"newStatus"`
}

func (UserStatusChanged) Kind() string { return KindUserStatusChanged }

// Envelope is the outbox-to-broker wire format. Content is the event
// payload pre-serialized with its own field names; Type equals the event's
// kind tag and doubles as the routing key.
type Envelope struct {
	MessageID     string    `json:"messageId"`
	Type          string    `json:"type"`
	Content       string    `json:"content"`
	OccurredOnUtc time.Time `json:"occurredOnUtc"`
}

// DecodeContent unmarshals the envelope payload into the event struct
// matching the envelope type tag.
func (e Envelope) DecodeContent(into any) error {
	return json.Unmarshal([]byte(e.Content), into)
}
