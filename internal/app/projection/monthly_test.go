package projection

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/journeytrack/service/internal/contracts"
)

func TestDeltasForCreated(t *testing.T) {
	deltas := deltasFor(contracts.JourneyCreated{
		ID:         uuid.New(),
		UserID:     "user-1",
		Date:       time.Date(2026, 4, 5, 9, 0, 0, 0, time.UTC),
		DistanceKm: 12.5,
	})
	if len(deltas) != 1 {
		t.Fatalf("got %d deltas, want 1", len(deltas))
	}
	want := Delta{UserID: "user-1", Year: 2026, Month: 4, Km: 12.5}
	if deltas[0] != want {
		t.Errorf("delta = %+v, want %+v", deltas[0], want)
	}
}

func TestDeltasForDeleted(t *testing.T) {
	deltas := deltasFor(contracts.JourneyDeleted{
		ID:         uuid.New(),
		UserID:     "user-1",
		Date:       time.Date(2026, 4, 5, 9, 0, 0, 0, time.UTC),
		DistanceKm: 12.5,
	})
	if len(deltas) != 1 || deltas[0].Km != -12.5 {
		t.Errorf("deltas = %+v, want single -12.5", deltas)
	}
}

func TestDeltasForSameMonthUpdate(t *testing.T) {
	deltas := deltasFor(contracts.JourneyUpdated{
		ID:            uuid.New(),
		UserID:        "user-2",
		OldDate:       time.Date(2026, 4, 5, 9, 0, 0, 0, time.UTC),
		OldDistanceKm: 10,
		NewDate:       time.Date(2026, 4, 20, 9, 0, 0, 0, time.UTC),
		NewDistanceKm: 7.5,
	})
	if len(deltas) != 1 {
		t.Fatalf("got %d deltas, want 1", len(deltas))
	}
	if deltas[0].Km != -2.5 || deltas[0].Month != 4 {
		t.Errorf("delta = %+v, want -2.5 in month 4", deltas[0])
	}
}

func TestDeltasForUnchangedDistanceIsNoop(t *testing.T) {
	deltas := deltasFor(contracts.JourneyUpdated{
		ID:            uuid.New(),
		UserID:        "user-2",
		OldDate:       time.Date(2026, 4, 5, 9, 0, 0, 0, time.UTC),
		OldDistanceKm: 10,
		NewDate:       time.Date(2026, 4, 6, 9, 0, 0, 0, time.UTC),
		NewDistanceKm: 10,
	})
	if len(deltas) != 0 {
		t.Errorf("deltas = %+v, want none", deltas)
	}
}

func TestDeltasForCrossMonthMove(t *testing.T) {
	deltas := deltasFor(contracts.JourneyUpdated{
		ID:            uuid.New(),
		UserID:        "user-3",
		OldDate:       time.Date(2026, 4, 28, 9, 0, 0, 0, time.UTC),
		OldDistanceKm: 10,
		NewDate:       time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
		NewDistanceKm: 10,
	})
	if len(deltas) != 2 {
		t.Fatalf("got %d deltas, want 2", len(deltas))
	}
	if deltas[0].Month != 4 || deltas[0].Km != -10 {
		t.Errorf("old bucket delta = %+v, want -10 in month 4", deltas[0])
	}
	if deltas[1].Month != 5 || deltas[1].Km != 10 {
		t.Errorf("new bucket delta = %+v, want +10 in month 5", deltas[1])
	}
}

func TestDeltasForForeignEvent(t *testing.T) {
	if deltas := deltasFor(contracts.DailyGoalAchieved{UserID: "user-4"}); len(deltas) != 0 {
		t.Errorf("deltas = %+v, want none", deltas)
	}
}

type recordingStore struct {
	deltas []Delta
}

func (r *recordingStore) ApplyDelta(_ context.Context, d Delta) error {
	r.deltas = append(r.deltas, d)
	return nil
}

func TestProjectorAppliesAllDeltas(t *testing.T) {
	store := &recordingStore{}
	p := NewProjector(store, nil)

	err := p.Handle(context.Background(), contracts.JourneyUpdated{
		ID:            uuid.New(),
		UserID:        "user-5",
		OldDate:       time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC),
		OldDistanceKm: 4,
		NewDate:       time.Date(2026, 2, 1, 1, 0, 0, 0, time.UTC),
		NewDistanceKm: 4,
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(store.deltas) != 2 {
		t.Fatalf("applied %d deltas, want 2", len(store.deltas))
	}
}
