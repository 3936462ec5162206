package reward

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// DailyGoalKm is the daily distance threshold. Meeting it exactly counts.
const DailyGoalKm = 20.0

// JourneyDay is the slice of journey state the evaluator needs: one user's
// journeys on one calendar day.
type JourneyDay struct {
	ID           uuid.UUID
	StartTime    time.Time
	DistanceKm   float64
	GoalAchieved bool
}

// Outcome is the evaluator's decision: at most one journey to flag, or the
// set of journeys to unflag. Both can be empty.
type Outcome struct {
	Achiever *JourneyDay
	Resets   []JourneyDay
}

func (o Outcome) Empty() bool {
	return o.Achiever == nil && len(o.Resets) == 0
}

// Decide evaluates the daily-distance goal for one user/day. If the total
// meets the threshold and no journey is flagged yet, the earliest-starting
// journey becomes the achiever; re-running the same state decides nothing,
// so replayed deliveries are harmless. If the total has fallen below the
// threshold, every flagged journey is unflagged.
//
// The in-process handler and the out-of-process worker both run this exact
// function, so their eventual results agree by construction.
func Decide(journeys []JourneyDay, thresholdKm float64) Outcome {
	if len(journeys) == 0 {
		return Outcome{}
	}

	ordered := make([]JourneyDay, len(journeys))
	copy(ordered, journeys)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].StartTime.Before(ordered[j].StartTime)
	})

	total := 0.0
	anyFlagged := false
	for _, j := range ordered {
		total += j.DistanceKm
		anyFlagged = anyFlagged || j.GoalAchieved
	}

	if total >= thresholdKm {
		if anyFlagged {
			return Outcome{}
		}
		achiever := ordered[0]
		return Outcome{Achiever: &achiever}
	}

	resets := make([]JourneyDay, 0)
	for _, j := range ordered {
		if j.GoalAchieved {
			resets = append(resets, j)
		}
	}
	return Outcome{Resets: resets}
}
