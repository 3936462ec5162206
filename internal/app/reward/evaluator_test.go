package reward

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func day(hour int) time.Time {
	return time.Date(2026, 3, 14, hour, 0, 0, 0, time.UTC)
}

func TestDecide_FlagsEarliestWhenThresholdMet(t *testing.T) {
	// 8 km at 10:00, then 13 km at 07:00: total 21 >= 20, earliest wins.
	a := JourneyDay{ID: uuid.New(), StartTime: day(10), DistanceKm: 8}
	b := JourneyDay{ID: uuid.New(), StartTime: day(7), DistanceKm: 13}

	out := Decide([]JourneyDay{a, b}, DailyGoalKm)
	if out.Achiever == nil {
		t.Fatal("expected an achiever")
	}
	if out.Achiever.ID != b.ID {
		t.Fatalf("expected earliest-starting journey %s, got %s", b.ID, out.Achiever.ID)
	}
	if len(out.Resets) != 0 {
		t.Fatalf("unexpected resets: %v", out.Resets)
	}
}

func TestDecide_MeetsThresholdExactly(t *testing.T) {
	a := JourneyDay{ID: uuid.New(), StartTime: day(8), DistanceKm: 20}
	out := Decide([]JourneyDay{a}, DailyGoalKm)
	if out.Achiever == nil || out.Achiever.ID != a.ID {
		t.Fatalf("20.0 must meet the goal: %+v", out)
	}
}

func TestDecide_BelowThresholdNoFlagging(t *testing.T) {
	a := JourneyDay{ID: uuid.New(), StartTime: day(8), DistanceKm: 19.99}
	out := Decide([]JourneyDay{a}, DailyGoalKm)
	if !out.Empty() {
		t.Fatalf("expected empty outcome, got %+v", out)
	}
}

func TestDecide_AlreadyFlaggedIsIdempotent(t *testing.T) {
	a := JourneyDay{ID: uuid.New(), StartTime: day(7), DistanceKm: 13, GoalAchieved: true}
	b := JourneyDay{ID: uuid.New(), StartTime: day(10), DistanceKm: 8}

	out := Decide([]JourneyDay{a, b}, DailyGoalKm)
	if !out.Empty() {
		t.Fatalf("re-evaluating achieved state must decide nothing, got %+v", out)
	}
}

func TestDecide_FallingBelowThresholdResetsFlags(t *testing.T) {
	// The 13 km journey was deleted; the flagged 8 km one must be unflagged.
	a := JourneyDay{ID: uuid.New(), StartTime: day(7), DistanceKm: 8, GoalAchieved: true}
	out := Decide([]JourneyDay{a}, DailyGoalKm)
	if out.Achiever != nil {
		t.Fatalf("unexpected achiever: %+v", out.Achiever)
	}
	if len(out.Resets) != 1 || out.Resets[0].ID != a.ID {
		t.Fatalf("expected reset of %s, got %+v", a.ID, out.Resets)
	}
}

func TestDecide_ReflagAfterDeletionWhenRemainderStillQualifies(t *testing.T) {
	// The flagged journey was deleted but the survivor alone covers the goal.
	survivor := JourneyDay{ID: uuid.New(), StartTime: day(9), DistanceKm: 25}
	out := Decide([]JourneyDay{survivor}, DailyGoalKm)
	if out.Achiever == nil || out.Achiever.ID != survivor.ID {
		t.Fatalf("expected survivor re-flag, got %+v", out)
	}
}

func TestDecide_NoJourneys(t *testing.T) {
	if out := Decide(nil, DailyGoalKm); !out.Empty() {
		t.Fatalf("expected empty outcome, got %+v", out)
	}
}

func TestDecide_StartTimeTieBreakIsStable(t *testing.T) {
	a := JourneyDay{ID: uuid.New(), StartTime: day(8), DistanceKm: 10}
	b := JourneyDay{ID: uuid.New(), StartTime: day(8), DistanceKm: 12}

	out := Decide([]JourneyDay{a, b}, DailyGoalKm)
	if out.Achiever == nil || out.Achiever.ID != a.ID {
		t.Fatalf("tie must keep input order, got %+v", out.Achiever)
	}
}
