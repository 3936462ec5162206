package journeyapi

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/journeytrack/service/internal/app/reward"
	"github.com/journeytrack/service/internal/contracts"
)

// GoalStore loads a user's journeys for one day and persists an evaluation
// outcome. ApplyOutcome must commit the flag changes and the outbox rows
// for the given events in one transaction.
type GoalStore interface {
	JourneysOn(ctx context.Context, userID string, day time.Time) ([]reward.JourneyDay, error)
	ApplyOutcome(ctx context.Context, out reward.Outcome, events []contracts.Event) error
}

// GoalEvaluator re-runs the daily-goal decision in process, right after a
// journey command commits, so clients see the flag without waiting for the
// broker round trip. The worker runs the identical decision on delivery;
// both paths converge because evaluation derives everything from current
// rows.
type GoalEvaluator struct {
	Store       GoalStore
	ThresholdKm float64
	Logger      *zap.Logger
}

func NewGoalEvaluator(store GoalStore, logger *zap.Logger) *GoalEvaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoalEvaluator{Store: store, ThresholdKm: reward.DailyGoalKm, Logger: logger}
}

type userDay struct {
	userID string
	day    time.Time
}

// React evaluates every (user, day) the batch touched and returns the goal
// events that were committed. Failures are logged and skipped; the worker
// converges the flags from the broker copy of the same events.
func (g *GoalEvaluator) React(ctx context.Context, events []contracts.Event) []contracts.Event {
	var achieved []contracts.Event
	for _, ud := range touchedDays(events) {
		journeys, err := g.Store.JourneysOn(ctx, ud.userID, ud.day)
		if err != nil {
			g.Logger.Warn("goal evaluation skipped",
				zap.String("user_id", ud.userID), zap.Error(err))
			continue
		}
		out := reward.Decide(journeys, g.ThresholdKm)
		if out.Empty() {
			continue
		}

		var goalEvents []contracts.Event
		if out.Achiever != nil {
			goalEvents = append(goalEvents, contracts.DailyGoalAchieved{
				UserID: ud.userID,
				Date:   ud.day,
			})
		}
		if err := g.Store.ApplyOutcome(ctx, out, goalEvents); err != nil {
			g.Logger.Warn("goal outcome not applied",
				zap.String("user_id", ud.userID), zap.Error(err))
			continue
		}
		achieved = append(achieved, goalEvents...)
	}
	return achieved
}

// touchedDays collects the distinct (user, day) pairs an event batch can
// change. An update that moved across days affects both the old and the
// new day.
func touchedDays(events []contracts.Event) []userDay {
	var out []userDay
	seen := map[userDay]struct{}{}
	add := func(userID string, t time.Time) {
		ud := userDay{userID: userID, day: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
		if _, dup := seen[ud]; dup {
			return
		}
		seen[ud] = struct{}{}
		out = append(out, ud)
	}

	for _, event := range events {
		switch ev := event.(type) {
		case contracts.JourneyCreated:
			add(ev.UserID, ev.Date)
		case contracts.JourneyUpdated:
			add(ev.UserID, ev.OldDate)
			add(ev.UserID, ev.NewDate)
		case contracts.JourneyDeleted:
			add(ev.UserID, ev.Date)
		}
	}
	return out
}
