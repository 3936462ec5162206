package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/journeytrack/service/internal/contracts"
)

func newTestJourney(t *testing.T) *Journey {
	t.Helper()
	j, err := NewJourney(
		uuid.New(),
		"user-1",
		"Tirana",
		time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC),
		"Durres",
		time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		TransportBike,
		12.5,
	)
	if err != nil {
		t.Fatalf("NewJourney error: %v", err)
	}
	return j
}

func TestNewJourney_RejectsNegativeDistance(t *testing.T) {
	_, err := NewJourney(uuid.New(), "user-1", "A", time.Now(), "B", time.Now(), TransportCar, -1)
	if !errors.Is(err, ErrNegativeDistance) {
		t.Fatalf("expected ErrNegativeDistance, got %v", err)
	}
}

func TestNewJourney_RejectsMissingLocations(t *testing.T) {
	_, err := NewJourney(uuid.New(), "user-1", " ", time.Now(), "B", time.Now(), TransportCar, 5)
	if !errors.Is(err, ErrLocationRequired) {
		t.Fatalf("expected ErrLocationRequired, got %v", err)
	}
}

func TestNewJourney_EmitsCreatedEvent(t *testing.T) {
	j := newTestJourney(t)

	events := j.TakeEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 pending event, got %d", len(events))
	}
	created, ok := events[0].(contracts.JourneyCreated)
	if !ok {
		t.Fatalf("expected JourneyCreated, got %T", events[0])
	}
	if created.ID != j.ID || created.UserID != "user-1" || created.DistanceKm != 12.5 {
		t.Fatalf("unexpected event payload: %+v", created)
	}
	if !created.Date.Equal(j.StartTime) {
		t.Fatalf("event date %v does not match start time %v", created.Date, j.StartTime)
	}

	if got := j.TakeEvents(); len(got) != 0 {
		t.Fatalf("TakeEvents did not drain pending list: %d left", len(got))
	}
}

func TestUpdate_CarriesOldAndNewFacts(t *testing.T) {
	j := newTestJourney(t)
	j.TakeEvents()

	oldDate := j.StartTime
	newDate := time.Date(2026, 4, 2, 7, 30, 0, 0, time.UTC)
	if err := j.Update("Tirana", newDate, "Shkoder", newDate.Add(2*time.Hour), TransportTrain, 30); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	events := j.TakeEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	updated, ok := events[0].(contracts.JourneyUpdated)
	if !ok {
		t.Fatalf("expected JourneyUpdated, got %T", events[0])
	}
	if updated.OldDistanceKm != 12.5 || updated.NewDistanceKm != 30 {
		t.Fatalf("unexpected distances: %+v", updated)
	}
	if !updated.OldDate.Equal(oldDate) || !updated.NewDate.Equal(newDate) {
		t.Fatalf("unexpected dates: %+v", updated)
	}
	if !updated.Date.Equal(newDate) {
		t.Fatalf("Date should equal the new date, got %v", updated.Date)
	}
}

func TestUpdate_RejectsNegativeDistanceWithoutMutating(t *testing.T) {
	j := newTestJourney(t)
	j.TakeEvents()

	if err := j.Update("A", j.StartTime, "B", j.ArrivalTime, TransportCar, -3); !errors.Is(err, ErrNegativeDistance) {
		t.Fatalf("expected ErrNegativeDistance, got %v", err)
	}
	if j.Distance.Km() != 12.5 {
		t.Fatalf("distance mutated on rejected update: %v", j.Distance)
	}
	if got := j.TakeEvents(); len(got) != 0 {
		t.Fatalf("rejected update emitted %d events", len(got))
	}
}

func TestMarkDeleted_EmitsDeletionEvent(t *testing.T) {
	j := newTestJourney(t)
	j.TakeEvents()
	j.MarkDeleted()

	events := j.TakeEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	deleted, ok := events[0].(contracts.JourneyDeleted)
	if !ok {
		t.Fatalf("expected JourneyDeleted, got %T", events[0])
	}
	if deleted.ID != j.ID || deleted.DistanceKm != 12.5 {
		t.Fatalf("unexpected event payload: %+v", deleted)
	}
}

func TestMarkGoalAchiever_SetsFlagAndEmitsDayPrecisionEvent(t *testing.T) {
	j := newTestJourney(t)
	j.TakeEvents()
	j.MarkGoalAchiever()

	if !j.DailyGoalAchieved {
		t.Fatal("flag not set")
	}
	events := j.TakeEvents()
	achieved, ok := events[0].(contracts.DailyGoalAchieved)
	if !ok {
		t.Fatalf("expected DailyGoalAchieved, got %T", events[0])
	}
	want := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if !achieved.Date.Equal(want) {
		t.Fatalf("expected day-truncated date %v, got %v", want, achieved.Date)
	}

	j.ResetGoal()
	if j.DailyGoalAchieved {
		t.Fatal("ResetGoal did not clear the flag")
	}
}

func TestFavorite_Idempotent(t *testing.T) {
	j := newTestJourney(t)
	j.Favorite("fan-1")
	j.Favorite("fan-1")
	j.Favorite("fan-2")
	if len(j.FavoritedBy) != 2 {
		t.Fatalf("expected 2 favoriters, got %v", j.FavoritedBy)
	}
	j.Unfavorite("fan-1")
	if len(j.FavoritedBy) != 1 || j.FavoritedBy[0] != "fan-2" {
		t.Fatalf("unexpected favoriters after removal: %v", j.FavoritedBy)
	}
}

func TestPublicLinkLifecycle(t *testing.T) {
	j := newTestJourney(t)
	token := j.GeneratePublicLink(func() string { return "tok-1" })
	if token != "tok-1" || j.PublicToken != "tok-1" || j.PublicTokenRevoked {
		t.Fatalf("unexpected link state: %+v", j)
	}
	j.RevokePublicLink()
	if !j.PublicTokenRevoked {
		t.Fatal("revoke did not stick")
	}
	j.GeneratePublicLink(func() string { return "tok-2" })
	if j.PublicToken != "tok-2" || j.PublicTokenRevoked {
		t.Fatal("regenerating a link must clear the revoked flag")
	}
}

func TestParseTransport(t *testing.T) {
	if _, err := ParseTransport("hoverboard"); !errors.Is(err, ErrInvalidTransport) {
		t.Fatalf("expected ErrInvalidTransport, got %v", err)
	}
	got, err := ParseTransport(" Bike ")
	if err != nil || got != TransportBike {
		t.Fatalf("unexpected result: %v %v", got, err)
	}
}
