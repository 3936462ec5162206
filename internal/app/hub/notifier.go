package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/journeytrack/service/internal/app/query"
	"github.com/journeytrack/service/internal/contracts"
	"github.com/journeytrack/service/internal/notify"
)

// Push event names seen by connected clients.
const (
	PushJourneyCreated    = "JourneyCreated"
	PushJourneyUpdated    = "JourneyUpdated"
	PushJourneyDeleted    = "JourneyDeleted"
	PushDailyGoalAchieved = "DailyGoalAchieved"
	PushUserStatusChanged = "UserStatusChanged"
)

// ViewSource loads the read-side state the notifier attaches to pushes.
type ViewSource interface {
	GetJourney(ctx context.Context, id uuid.UUID) (query.JourneyView, error)
	FavoriterIDs(ctx context.Context, journeyID uuid.UUID) ([]string, error)
	GoalAchieverOn(ctx context.Context, userID string, day time.Time) (query.JourneyView, error)
}

// Directory resolves user ids to email addresses for the offline fallback.
type Directory interface {
	EmailsFor(ctx context.Context, userIDs []string) (map[string]string, error)
}

// Notifier is the post-commit hook that fans domain events out to connected
// clients, with email as the fallback for interested users who are offline.
type Notifier struct {
	Hub       *Hub
	Views     ViewSource
	Directory Directory
	Email     notify.Sender
	Logger    *zap.Logger
}

func NewNotifier(h *Hub, views ViewSource, directory Directory, email notify.Sender, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{Hub: h, Views: views, Directory: directory, Email: email, Logger: logger}
}

func (n *Notifier) Name() string { return "realtime-notify" }

func (n *Notifier) Handle(ctx context.Context, event contracts.Event) error {
	switch ev := event.(type) {
	case contracts.JourneyCreated:
		view, err := n.Views.GetJourney(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("load created journey %s: %w", ev.ID, err)
		}
		n.Hub.Broadcast(PushMessage{Name: PushJourneyCreated, Payload: view})
		return nil

	case contracts.JourneyUpdated:
		return n.notifyUpdated(ctx, ev)

	case contracts.JourneyDeleted:
		n.Hub.Broadcast(PushMessage{
			Name:    PushJourneyDeleted,
			Payload: map[string]string{"id": ev.ID.String()},
		})
		return nil

	case contracts.DailyGoalAchieved:
		view, err := n.Views.GoalAchieverOn(ctx, ev.UserID, ev.Date)
		if err != nil {
			if errors.Is(err, query.ErrJourneyNotFound) {
				// The flag moved again before we got here; nothing to show.
				return nil
			}
			return fmt.Errorf("load goal achiever for %s: %w", ev.UserID, err)
		}
		n.Hub.Broadcast(PushMessage{Name: PushDailyGoalAchieved, Payload: view})
		return nil

	case contracts.UserStatusChanged:
		msg := PushMessage{Name: PushUserStatusChanged, Payload: ev}
		n.Hub.PushToUsers([]string{ev.UserID}, msg)
		n.Hub.PushToAdmins(msg)
		return nil

	default:
		return nil
	}
}

// notifyUpdated targets the owner plus everyone who favorited the journey.
// Online members get a push, admins always get a push, offline members get
// an email. Email failures are logged per recipient and do not abort the
// rest of the fan-out.
func (n *Notifier) notifyUpdated(ctx context.Context, ev contracts.JourneyUpdated) error {
	view, err := n.Views.GetJourney(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("load updated journey %s: %w", ev.ID, err)
	}
	favoriters, err := n.Views.FavoriterIDs(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("load favoriters of %s: %w", ev.ID, err)
	}

	interested := notifySet(ev.UserID, favoriters)
	online, offline := n.Hub.Partition(interested)

	msg := PushMessage{Name: PushJourneyUpdated, Payload: view}
	if len(online) > 0 {
		n.Hub.PushToUsers(online, msg)
	}
	n.Hub.PushToAdmins(msg)

	if len(offline) == 0 {
		return nil
	}
	emails, err := n.Directory.EmailsFor(ctx, offline)
	if err != nil {
		return fmt.Errorf("resolve emails: %w", err)
	}
	subject := "A journey you follow was updated"
	body := fmt.Sprintf("Journey %s now covers %.1f km starting %s.",
		ev.ID, ev.NewDistanceKm, ev.NewDate.Format("2006-01-02 15:04"))
	for _, userID := range offline {
		addr, ok := emails[userID]
		if !ok || addr == "" {
			continue
		}
		if err := n.Email.Send(ctx, addr, subject, body); err != nil {
			n.Logger.Warn("fallback email failed",
				zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

// notifySet is the owner plus favoriters, deduplicated, order preserved.
func notifySet(ownerID string, favoriters []string) []string {
	set := make([]string, 0, len(favoriters)+1)
	seen := map[string]struct{}{}
	for _, id := range append([]string{ownerID}, favoriters...) {
		if _, dup := seen[id]; dup || id == "" {
			continue
		}
		seen[id] = struct{}{}
		set = append(set, id)
	}
	return set
}
