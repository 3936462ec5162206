package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/journeytrack/service/internal/contracts"
	"github.com/journeytrack/service/internal/domain"
	"github.com/journeytrack/service/internal/platform/auth"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrAccountInactive    = errors.New("account is not active")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

const RoleUser = "user"

// Store is the account persistence surface. ChangeStatus must commit the
// status and the events atomically.
type Store interface {
	Insert(ctx context.Context, u User) error
	ByUsername(ctx context.Context, username string) (User, error)
	ByID(ctx context.Context, id string) (User, error)
	ChangeStatus(ctx context.Context, userID uuid.UUID, status string, events []contracts.Event, now time.Time, newID func() uuid.UUID) error
}

// Hook reacts to a committed event. Failures are logged, never surfaced:
// the status change already committed.
type Hook interface {
	Name() string
	Handle(ctx context.Context, event contracts.Event) error
}

// Service owns registration, login, and the admin status operation. Status
// changes publish a UserStatusChanged event through the outbox so downstream
// consumers see them in the same at-least-once pipeline as journey events,
// and run the hook chain so connected clients hear about them immediately.
type Service struct {
	Users  Store
	Tokens auth.Manager
	Hooks  []Hook
	Logger *zap.Logger

	Now   func() time.Time
	NewID func() uuid.UUID
}

func NewService(users Store, tokens auth.Manager, hooks []Hook, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Users:  users,
		Tokens: tokens,
		Hooks:  hooks,
		Logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
		NewID:  uuid.New,
	}
}

func (s *Service) Register(ctx context.Context, username, email, password string) (User, error) {
	if len(password) < 8 {
		return User{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		ID:           s.NewID(),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         RoleUser,
		Status:       domain.UserStatusActive,
		CreatedOnUtc: s.Now(),
	}
	if err := s.Users.Insert(ctx, u); err != nil {
		return User{}, err
	}
	s.Logger.Info("user registered", zap.String("user_id", u.ID.String()))
	return u, nil
}

func (s *Service) Login(ctx context.Context, username, password string) (string, User, error) {
	u, err := s.Users.ByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", User{}, ErrInvalidCredentials
		}
		return "", User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", User{}, ErrInvalidCredentials
	}
	if u.Status != domain.UserStatusActive {
		return "", User{}, ErrAccountInactive
	}
	token, err := s.Tokens.Sign(u.ID.String(), u.Username, u.Role)
	if err != nil {
		return "", User{}, fmt.Errorf("sign token: %w", err)
	}
	return token, u, nil
}

// UpdateStatus changes an account's status and announces it on the event
// pipeline. No-op changes skip the outbox row.
func (s *Service) UpdateStatus(ctx context.Context, userID uuid.UUID, status string) error {
	if !domain.ValidUserStatus(status) {
		return domain.ErrInvalidUserStatus
	}
	current, err := s.Users.ByID(ctx, userID.String())
	if err != nil {
		return err
	}
	if current.Status == status {
		return nil
	}

	events := []contracts.Event{contracts.UserStatusChanged{
		UserID:    userID.String(),
		NewStatus: status,
	}}
	if err := s.Users.ChangeStatus(ctx, userID, status, events, s.Now(), s.NewID); err != nil {
		return err
	}
	s.Logger.Info("user status changed",
		zap.String("user_id", userID.String()), zap.String("status", status))
	s.react(ctx, events)
	return nil
}

func (s *Service) react(ctx context.Context, events []contracts.Event) {
	// Reactions outlive the request; client cancellation must not drop them.
	ctx = context.WithoutCancel(ctx)
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
