package reward

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/journeytrack/service/internal/contracts"
)

type fakeStore struct {
	seen      map[string]bool
	journeys  []JourneyDay
	loadErr   error
	applyErr  error
	applied   []Outcome
	appliedTo []string
	days      []time.Time
	messages  []string
}

func (f *fakeStore) SeenMessage(_ context.Context, messageID string) (bool, error) {
	return f.seen[messageID], nil
}

func (f *fakeStore) JourneysOn(_ context.Context, _ string, _ time.Time) ([]JourneyDay, error) {
	return f.journeys, f.loadErr
}

func (f *fakeStore) Apply(_ context.Context, userID string, day time.Time, out Outcome, messageID string) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, out)
	f.appliedTo = append(f.appliedTo, userID)
	f.days = append(f.days, day)
	f.messages = append(f.messages, messageID)
	return nil
}

func envelopeFor(t *testing.T, event contracts.Event) []byte {
	t.Helper()
	content, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := json.Marshal(contracts.Envelope{
		MessageID:     uuid.NewString(),
		Type:          event.Kind(),
		Content:       string(content),
		OccurredOnUtc: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return payload
}

func TestHandleCreatedFlagsAchiever(t *testing.T) {
	morning := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{
		seen: map[string]bool{},
		journeys: []JourneyDay{
			{ID: uuid.New(), StartTime: morning, DistanceKm: 8},
			{ID: uuid.New(), StartTime: morning.Add(9 * time.Hour), DistanceKm: 13},
		},
	}
	svc := NewService(store, nil)

	payload := envelopeFor(t, contracts.JourneyCreated{
		ID:         store.journeys[1].ID,
		Date:       morning.Add(9 * time.Hour),
		UserID:     "user-1",
		DistanceKm: 13,
	})
	if err := svc.Handle(context.Background(), payload); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(store.applied) != 1 {
		t.Fatalf("applied %d outcomes, want 1", len(store.applied))
	}
	out := store.applied[0]
	if out.Achiever == nil || out.Achiever.ID != store.journeys[0].ID {
		t.Errorf("achiever = %+v, want earliest journey", out.Achiever)
	}
	if store.appliedTo[0] != "user-1" {
		t.Errorf("applied to %q, want user-1", store.appliedTo[0])
	}
	wantDay := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	if !store.days[0].Equal(wantDay) {
		t.Errorf("day = %v, want %v", store.days[0], wantDay)
	}
}

func TestHandleUpdatedUsesNewDate(t *testing.T) {
	store := &fakeStore{seen: map[string]bool{}}
	svc := NewService(store, nil)

	oldDate := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	newDate := time.Date(2026, 3, 12, 17, 30, 0, 0, time.UTC)
	payload := envelopeFor(t, contracts.JourneyUpdated{
		ID:            uuid.New(),
		UserID:        "user-2",
		OldDate:       oldDate,
		OldDistanceKm: 5,
		NewDate:       newDate,
		NewDistanceKm: 7,
	})
	if err := svc.Handle(context.Background(), payload); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	wantDay := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	if len(store.days) != 1 || !store.days[0].Equal(wantDay) {
		t.Errorf("evaluated day %v, want %v", store.days, wantDay)
	}
}

func TestHandleMalformedPayload(t *testing.T) {
	store := &fakeStore{seen: map[string]bool{}}
	svc := NewService(store, nil)

	if err := svc.Handle(context.Background(), []byte("not json")); !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("err = %v, want ErrInvalidEnvelope", err)
	}
	if err := svc.Handle(context.Background(), []byte(`{"messageId":"x"}`)); !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("missing type: err = %v, want ErrInvalidEnvelope", err)
	}

	bad, _ := json.Marshal(contracts.Envelope{
		MessageID: uuid.NewString(),
		Type:      contracts.KindJourneyCreated,
		Content:   "{broken",
	})
	if err := svc.Handle(context.Background(), bad); !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("broken content: err = %v, want ErrInvalidEnvelope", err)
	}
	if len(store.applied) != 0 {
		t.Errorf("store touched for malformed payloads")
	}
}

func TestHandleIgnoresForeignTypes(t *testing.T) {
	store := &fakeStore{seen: map[string]bool{}}
	svc := NewService(store, nil)

	payload := envelopeFor(t, contracts.UserStatusChanged{UserID: "user-3", NewStatus: "suspended"})
	if err := svc.Handle(context.Background(), payload); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(store.applied) != 0 {
		t.Errorf("foreign event type reached the store")
	}
}

func TestHandleDuplicateSuppressed(t *testing.T) {
	store := &fakeStore{seen: map[string]bool{}}
	svc := NewService(store, nil)

	payload := envelopeFor(t, contracts.JourneyDeleted{
		ID:     uuid.New(),
		Date:   time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
		UserID: "user-4",
	})
	var envelope contracts.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		t.Fatal(err)
	}
	store.seen[envelope.MessageID] = true

	if err := svc.Handle(context.Background(), payload); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(store.applied) != 0 {
		t.Errorf("duplicate delivery reached the store")
	}
}

func TestHandleStoreErrorIsRetryable(t *testing.T) {
	loadErr := errors.New("connection reset")
	store := &fakeStore{seen: map[string]bool{}, loadErr: loadErr}
	svc := NewService(store, nil)

	payload := envelopeFor(t, contracts.JourneyCreated{
		ID:     uuid.New(),
		Date:   time.Now().UTC(),
		UserID: "user-5",
	})
	err := svc.Handle(context.Background(), payload)
	if !errors.Is(err, loadErr) {
		t.Errorf("err = %v, want wrapped store error", err)
	}
	if errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("store error must not be classified as invalid envelope")
	}
}

func TestHandleRecordsMessageIDEvenWhenNoChange(t *testing.T) {
	store := &fakeStore{
		seen:     map[string]bool{},
		journeys: []JourneyDay{{ID: uuid.New(), StartTime: time.Now().UTC(), DistanceKm: 3}},
	}
	svc := NewService(store, nil)

	payload := envelopeFor(t, contracts.JourneyCreated{
		ID:         store.journeys[0].ID,
		Date:       store.journeys[0].StartTime,
		UserID:     "user-6",
		DistanceKm: 3,
	})
	if err := svc.Handle(context.Background(), payload); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(store.messages) != 1 {
		t.Fatalf("message id not recorded for empty outcome")
	}
	if !store.applied[0].Empty() {
		t.Errorf("outcome = %+v, want empty below threshold", store.applied[0])
	}
}
