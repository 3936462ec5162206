package journeyapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/journeytrack/service/internal/app/hub"
	"github.com/journeytrack/service/internal/app/query"
	platformauth "github.com/journeytrack/service/internal/platform/auth"
)

type fakeReader struct {
	views   map[uuid.UUID]query.JourneyView
	byToken map[string]query.JourneyView
	monthly []query.MonthlyDistanceView
}

func (f *fakeReader) GetJourney(_ context.Context, id uuid.UUID) (query.JourneyView, error) {
	v, ok := f.views[id]
	if !ok {
		return query.JourneyView{}, query.ErrJourneyNotFound
	}
	return v, nil
}

func (f *fakeReader) GetByPublicToken(_ context.Context, token string) (query.JourneyView, error) {
	v, ok := f.byToken[token]
	if !ok {
		return query.JourneyView{}, query.ErrJourneyNotFound
	}
	return v, nil
}

func (f *fakeReader) ListUserJourneys(_ context.Context, userID string, _, _ int) ([]query.JourneyView, error) {
	var out []query.JourneyView
	for _, v := range f.views {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeReader) ListAllJourneys(context.Context, int, int) ([]query.JourneyView, error) {
	out := make([]query.JourneyView, 0, len(f.views))
	for _, v := range f.views {
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeReader) MonthlyStats(context.Context, string, int) ([]query.MonthlyDistanceView, error) {
	return f.monthly, nil
}

type fakeShares struct {
	shared map[string]bool
}

func (f *fakeShares) IsSharedWith(_ context.Context, journeyID uuid.UUID, userID string) (bool, error) {
	return f.shared[journeyID.String()+"/"+userID], nil
}

func testHandler(t *testing.T) (*Handler, *memoryStore, *fakeReader, platformauth.Manager) {
	t.Helper()
	store := newMemoryStore()
	reader := &fakeReader{
		views:   map[uuid.UUID]query.JourneyView{},
		byToken: map[string]query.JourneyView{},
	}
	tokens := platformauth.NewManager("test-secret", time.Hour)
	h := &Handler{
		Service: NewService(store, nil, nil, nil),
		Queries: reader,
		Shares:  &fakeShares{shared: map[string]bool{}},
		Hub:     hub.New(nil),
		Tokens:  tokens,
	}
	return h, store, reader, tokens
}

func bearer(t *testing.T, tokens platformauth.Manager, userID, role string) string {
	t.Helper()
	token, err := tokens.Sign(userID, "tester", role)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + token
}

func TestRoutesRequireAuth(t *testing.T) {
	h, _, _, _ := testHandler(t)
	router := h.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/journeys", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestCreateJourneyEndpoint(t *testing.T) {
	h, store, _, tokens := testHandler(t)
	router := h.Router()

	body, _ := json.Marshal(journeyRequest{
		StartLocation:   "Delft",
		StartTime:       time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC),
		ArrivalLocation: "Leiden",
		ArrivalTime:     time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
		Transport:       "bike",
		DistanceKm:      24,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/journeys", bytes.NewReader(body))
	req.Header.Set("Authorization", bearer(t, tokens, "user-1", "user"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	id, err := uuid.Parse(resp["id"])
	if err != nil {
		t.Fatalf("id = %q", resp["id"])
	}
	if _, ok := store.journeys[id]; !ok {
		t.Error("journey not stored")
	}
}

func TestCreateJourneyValidation(t *testing.T) {
	h, _, _, tokens := testHandler(t)
	router := h.Router()

	body, _ := json.Marshal(journeyRequest{
		StartLocation:   "Delft",
		ArrivalLocation: "Leiden",
		Transport:       "rocket",
		DistanceKm:      24,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/journeys", bytes.NewReader(body))
	req.Header.Set("Authorization", bearer(t, tokens, "user-1", "user"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestGetJourneyVisibility(t *testing.T) {
	h, _, reader, tokens := testHandler(t)
	router := h.Router()

	journeyID := uuid.New()
	reader.views[journeyID] = query.JourneyView{ID: journeyID, UserID: "owner"}
	h.Shares.(*fakeShares).shared[journeyID.String()+"/friend"] = true

	cases := []struct {
		name   string
		userID string
		role   string
		want   int
	}{
		{"owner sees it", "owner", "user", http.StatusOK},
		{"shared user sees it", "friend", "user", http.StatusOK},
		{"admin sees it", "someone", "admin", http.StatusOK},
		{"stranger gets 404", "stranger", "user", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/journeys/"+journeyID.String(), nil)
			req.Header.Set("Authorization", bearer(t, tokens, tc.userID, tc.role))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestAdminListRequiresRole(t *testing.T) {
	h, _, _, tokens := testHandler(t)
	router := h.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/journeys", nil)
	req.Header.Set("Authorization", bearer(t, tokens, "user-1", "user"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/journeys", nil)
	req.Header.Set("Authorization", bearer(t, tokens, "admin-1", "admin"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin status = %d, want 200", rec.Code)
	}
}

func TestPublicJourneyNeedsNoAuth(t *testing.T) {
	h, _, reader, _ := testHandler(t)
	router := h.Router()

	journeyID := uuid.New()
	reader.byToken["pub-token"] = query.JourneyView{ID: journeyID, UserID: "owner"}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/journeys/pub-token", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/public/journeys/unknown", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown token status = %d, want 404", rec.Code)
	}
}

func TestInvalidJourneyID(t *testing.T) {
	h, _, _, tokens := testHandler(t)
	router := h.Router()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/journeys/not-a-uuid", nil)
	req.Header.Set("Authorization", bearer(t, tokens, "user-1", "user"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
