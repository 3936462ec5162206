package journeyapi

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/journeytrack/service/internal/contracts"
	"github.com/journeytrack/service/internal/domain"
	"github.com/journeytrack/service/internal/platform/metrics"
)

var commandsTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "journey_commands_total",
	Help: "Journey commands accepted, by kind.",
}, []string{"kind"})

func init() {
	metrics.Default.MustRegister(commandsTotal)
}

// JourneyStore persists aggregates. The mutating methods take the drained
// event list and must commit rows and outbox entries in one transaction.
type JourneyStore interface {
	Insert(ctx context.Context, j *domain.Journey, events []contracts.Event) error
	Update(ctx context.Context, j *domain.Journey, events []contracts.Event) error
	Delete(ctx context.Context, j *domain.Journey, events []contracts.Event) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Journey, error)
	SetFavorite(ctx context.Context, journeyID uuid.UUID, userID string, favorite bool) error
	AddShare(ctx context.Context, journeyID uuid.UUID, userID string) error
	SetPublicLink(ctx context.Context, j *domain.Journey) error
}

// Hook reacts to a committed event. Hooks run in registration order, after
// the transaction, and their failures are logged but never surfaced: the
// command already succeeded. The reward worker converges goal flags from the
// broker copy on its own; the other reactions are best effort.
type Hook interface {
	Name() string
	Handle(ctx context.Context, event contracts.Event) error
}

// GoalReactor re-evaluates daily goals for the days an event batch touched
// and returns the goal events it committed, so they flow through the same
// hook pipeline as the triggering events.
type GoalReactor interface {
	React(ctx context.Context, events []contracts.Event) []contracts.Event
}

// Service executes journey commands. Every mutation follows the same shape:
// load or build the aggregate, apply the change, commit row plus outbox
// atomically, then run reactions on what committed.
type Service struct {
	Store  JourneyStore
	Goal   GoalReactor
	Hooks  []Hook
	Logger *zap.Logger

	Now      func() time.Time
	NewID    func() uuid.UUID
	NewToken func() string
}

func NewService(store JourneyStore, goal GoalReactor, hooks []Hook, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:    store,
		Goal:     goal,
		Hooks:    hooks,
		Logger:   logger,
		Now:      func() time.Time { return time.Now().UTC() },
		NewID:    uuid.New,
		NewToken: uuid.NewString,
	}
}

type JourneyInput struct {
	StartLocation   string
	StartTime       time.Time
	ArrivalLocation string
	ArrivalTime     time.Time
	Transport       string
	DistanceKm      float64
}

func (s *Service) Create(ctx context.Context, userID string, in JourneyInput) (uuid.UUID, error) {
	transport, err := domain.ParseTransport(in.Transport)
	if err != nil {
		return uuid.Nil, err
	}
	j, err := domain.NewJourney(s.NewID(), userID,
		in.StartLocation, in.StartTime, in.ArrivalLocation, in.ArrivalTime,
		transport, in.DistanceKm)
	if err != nil {
		return uuid.Nil, err
	}

	events := j.TakeEvents()
	if err := s.Store.Insert(ctx, j, events); err != nil {
		return uuid.Nil, err
	}
	commandsTotal.WithLabelValues("create").Inc()
	s.react(ctx, events)
	return j.ID, nil
}

func (s *Service) Update(ctx context.Context, userID string, journeyID uuid.UUID, in JourneyInput) error {
	transport, err := domain.ParseTransport(in.Transport)
	if err != nil {
		return err
	}
	j, err := s.owned(ctx, userID, journeyID)
	if err != nil {
		return err
	}
	if err := j.Update(in.StartLocation, in.StartTime, in.ArrivalLocation, in.ArrivalTime,
		transport, in.DistanceKm); err != nil {
		return err
	}

	events := j.TakeEvents()
	if err := s.Store.Update(ctx, j, events); err != nil {
		return err
	}
	commandsTotal.WithLabelValues("update").Inc()
	s.react(ctx, events)
	return nil
}

func (s *Service) Delete(ctx context.Context, userID string, journeyID uuid.UUID) error {
	j, err := s.owned(ctx, userID, journeyID)
	if err != nil {
		return err
	}
	j.MarkDeleted()

	events := j.TakeEvents()
	if err := s.Store.Delete(ctx, j, events); err != nil {
		return err
	}
	commandsTotal.WithLabelValues("delete").Inc()
	s.react(ctx, events)
	return nil
}

// Favorite marks interest in any existing journey. Favorites feed the
// update notify-set; they emit no pipeline events.
func (s *Service) Favorite(ctx context.Context, userID string, journeyID uuid.UUID) error {
	if _, err := s.Store.Get(ctx, journeyID); err != nil {
		return err
	}
	return s.Store.SetFavorite(ctx, journeyID, userID, true)
}

func (s *Service) Unfavorite(ctx context.Context, userID string, journeyID uuid.UUID) error {
	return s.Store.SetFavorite(ctx, journeyID, userID, false)
}

func (s *Service) ShareWith(ctx context.Context, ownerID string, journeyID uuid.UUID, targetUserID string) error {
	if _, err := s.owned(ctx, ownerID, journeyID); err != nil {
		return err
	}
	return s.Store.AddShare(ctx, journeyID, targetUserID)
}

func (s *Service) GeneratePublicLink(ctx context.Context, userID string, journeyID uuid.UUID) (string, error) {
	j, err := s.owned(ctx, userID, journeyID)
	if err != nil {
		return "", err
	}
	token := j.GeneratePublicLink(s.NewToken)
	if err := s.Store.SetPublicLink(ctx, j); err != nil {
		return "", err
	}
	return token, nil
}

func (s *Service) RevokePublicLink(ctx context.Context, userID string, journeyID uuid.UUID) error {
	j, err := s.owned(ctx, userID, journeyID)
	if err != nil {
		return err
	}
	if j.PublicToken == "" {
		return domain.ErrNoPublicLink
	}
	j.RevokePublicLink()
	return s.Store.SetPublicLink(ctx, j)
}

func (s *Service) owned(ctx context.Context, userID string, journeyID uuid.UUID) (*domain.Journey, error) {
	j, err := s.Store.Get(ctx, journeyID)
	if err != nil {
		return nil, err
	}
	if j.OwnerID != userID {
		return nil, domain.ErrNotJourneyOwner
	}
	return j, nil
}

// react runs post-commit reactions: first the goal evaluation, which may
// commit and return follow-up events, then every hook over the combined
// list in order.
func (s *Service) react(ctx context.Context, events []contracts.Event) {
	// Reactions outlive the request; client cancellation must not drop them.
	ctx = context.WithoutCancel(ctx)
	if s.Goal != nil {
		events = append(events, s.Goal.React(ctx, events)...)
	}
	for _, event := range events {
		for _, hook := range s.Hooks {
			if err := hook.Handle(ctx, event); err != nil {
				s.Logger.Error("post-commit hook failed",
					zap.String("hook", hook.Name()),
					zap.String("event", event.Kind()),
					zap.Error(err))
			}
		}
	}
}

// IsNotFound reports whether err should map to a 404.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrJourneyNotFound)
}
