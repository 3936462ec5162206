package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/journeytrack/service/internal/contracts"
)

var (
	ErrNegativeDistance   = errors.New("distance cannot be negative")
	ErrLocationRequired   = errors.New("start and arrival locations are required")
	ErrInvalidTransport   = errors.New("unsupported transport type")
	ErrJourneyNotFound    = errors.New("journey not found")
	ErrNotJourneyOwner    = errors.New("journey belongs to another user")
	ErrPublicLinkRevoked  = errors.New("public link has been revoked")
	ErrNoPublicLink       = errors.New("journey has no public link")
	ErrInvalidUserStatus  = errors.New("invalid user status")
)

// DistanceKm is a non-negative distance value in kilometres.
type DistanceKm float64

func NewDistanceKm(value float64) (DistanceKm, error) {
	if value < 0 {
		return 0, ErrNegativeDistance
	}
	return DistanceKm(value), nil
}

func (d DistanceKm) Km() float64 { return float64(d) }

type Transport string

const (
	TransportWalk  Transport = "walk"
	TransportBike  Transport = "bike"
	TransportCar   Transport = "car"
	TransportBus   Transport = "bus"
	TransportTrain Transport = "train"
	TransportOther Transport = "other"
)

func ParseTransport(raw string) (Transport, error) {
	switch Transport(strings.TrimSpace(strings.ToLower(raw))) {
	case TransportWalk:
		return TransportWalk, nil
	case TransportBike:
		return TransportBike, nil
	case TransportCar:
		return TransportCar, nil
	case TransportBus:
		return TransportBus, nil
	case TransportTrain:
		return TransportTrain, nil
	case TransportOther:
		return TransportOther, nil
	default:
		return "", ErrInvalidTransport
	}
}

// User account statuses, changed by admins and announced on the event stream.
const (
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
	UserStatusDeleted   = "deleted"
)

func ValidUserStatus(status string) bool {
	switch status {
	case UserStatusActive, UserStatusSuspended, UserStatusDeleted:
		return true
	default:
		return false
	}
}

// Journey is the aggregate root and sole unit of event emission. Mutations
// append to the pending-event list; the store drains it at commit time.
type Journey struct {
	ID                uuid.UUID
	UserID            string
	OwnerID           string
	StartLocation     string
	StartTime         time.Time
	ArrivalLocation   string
	ArrivalTime       time.Time
	Transport         Transport
	Distance          DistanceKm
	DailyGoalAchieved bool

	PublicToken        string
	PublicTokenRevoked bool

	FavoritedBy []string
	SharedWith  []string

	pending []contracts.Event
}

// NewJourney validates inputs, builds the aggregate, and records a
// JourneyCreated event. Business-rule violations are rejected here, before
// anything reaches the pipeline.
func NewJourney(
	id uuid.UUID,
	userID string,
	start string,
	startTime time.Time,
	arrival string,
	arrivalTime time.Time,
	transport Transport,
	distanceKm float64,
) (*Journey, error) {
	distance, err := NewDistanceKm(distanceKm)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(start) == "" || strings.TrimSpace(arrival) == "" {
		return nil, ErrLocationRequired
	}

	j := &Journey{
		ID:              id,
		UserID:          userID,
		OwnerID:         userID,
		StartLocation:   start,
		StartTime:       startTime,
		ArrivalLocation: arrival,
		ArrivalTime:     arrivalTime,
		Transport:       transport,
		Distance:        distance,
	}
	j.record(contracts.JourneyCreated{
		ID:         j.ID,
		Date:       j.StartTime,
		UserID:     j.UserID,
		DistanceKm: j.Distance.Km(),
	})
	return j, nil
}

// Update replaces the journey facts and records a JourneyUpdated event
// carrying both the old and new distance/date so projections can move
// totals between buckets.
func (j *Journey) Update(
	start string,
	startTime time.Time,
	arrival string,
	arrivalTime time.Time,
	transport Transport,
	distanceKm float64,
) error {
	distance, err := NewDistanceKm(distanceKm)
	if err != nil {
		return err
	}
	if strings.TrimSpace(start) == "" || strings.TrimSpace(arrival) == "" {
		return ErrLocationRequired
	}

	oldDistance := j.Distance
	oldDate := j.StartTime

	j.StartLocation = start
	j.StartTime = startTime
	j.ArrivalLocation = arrival
	j.ArrivalTime = arrivalTime
	j.Transport = transport
	j.Distance = distance

	j.record(contracts.JourneyUpdated{
		ID:            j.ID,
		Date:          j.StartTime,
		UserID:        j.UserID,
		OldDistanceKm: oldDistance.Km(),
		OldDate:       oldDate,
		NewDistanceKm: j.Distance.Km(),
		NewDate:       j.StartTime,
	})
	return nil
}

// MarkDeleted records the deletion event. The row itself is removed by the
// store in the same transaction, so no delete happens without its event.
func (j *Journey) MarkDeleted() {
	j.record(contracts.JourneyDeleted{
		ID:         j.ID,
		Date:       j.StartTime,
		UserID:     j.UserID,
		DistanceKm: j.Distance.Km(),
	})
}

func (j *Journey) MarkGoalAchiever() {
	j.DailyGoalAchieved = true
	j.record(contracts.DailyGoalAchieved{
		UserID: j.UserID,
		Date:   truncateToDay(j.StartTime),
	})
}

func (j *Journey) ResetGoal() {
	j.DailyGoalAchieved = false
}

// Favorite adds a favoriting user. Idempotent; favorites feed the
// journey-updated notify-set but emit no events.
func (j *Journey) Favorite(userID string) {
	for _, existing := range j.FavoritedBy {
		if existing == userID {
			return
		}
	}
	j.FavoritedBy = append(j.FavoritedBy, userID)
}

func (j *Journey) Unfavorite(userID string) {
	for i, existing := range j.FavoritedBy {
		if existing == userID {
			j.FavoritedBy = append(j.FavoritedBy[:i], j.FavoritedBy[i+1:]...)
			return
		}
	}
}

func (j *Journey) ShareWith(userID string) {
	for _, existing := range j.SharedWith {
		if existing == userID {
			return
		}
	}
	j.SharedWith = append(j.SharedWith, userID)
}

// GeneratePublicLink issues a fresh sharing token, un-revoking any prior
// revocation.
func (j *Journey) GeneratePublicLink(newToken func() string) string {
	j.PublicToken = newToken()
	j.PublicTokenRevoked = false
	return j.PublicToken
}

func (j *Journey) RevokePublicLink() {
	j.PublicTokenRevoked = true
}

// TakeEvents drains and returns the pending-event list. The aggregate is
// write-only with respect to delivery: after capture it holds no events.
func (j *Journey) TakeEvents() []contracts.Event {
	events := j.pending
	j.pending = nil
	return events
}

func (j *Journey) record(event contracts.Event) {
	j.pending = append(j.pending, event)
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
