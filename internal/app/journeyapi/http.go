package journeyapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/journeytrack/service/internal/app/hub"
	"github.com/journeytrack/service/internal/app/identity"
	"github.com/journeytrack/service/internal/app/query"
	"github.com/journeytrack/service/internal/domain"
	platformauth "github.com/journeytrack/service/internal/platform/auth"
	"github.com/journeytrack/service/internal/platform/metrics"
)

// ShareReader answers whether a journey was shared with a user.
type ShareReader interface {
	IsSharedWith(ctx context.Context, journeyID uuid.UUID, userID string) (bool, error)
}

// JourneyReader is the read-side surface the handler serves from.
type JourneyReader interface {
	GetJourney(ctx context.Context, id uuid.UUID) (query.JourneyView, error)
	GetByPublicToken(ctx context.Context, token string) (query.JourneyView, error)
	ListUserJourneys(ctx context.Context, userID string, limit, offset int) ([]query.JourneyView, error)
	ListAllJourneys(ctx context.Context, limit, offset int) ([]query.JourneyView, error)
	MonthlyStats(ctx context.Context, userID string, year int) ([]query.MonthlyDistanceView, error)
}

type Handler struct {
	Service  *Service
	Identity *identity.Service
	Queries  JourneyReader
	Shares   ShareReader
	Hub      *hub.Hub
	Tokens   platformauth.Manager
	Ready    func(ctx context.Context) error
	Logger   *zap.Logger
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", h.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.DefaultHandler())

	r.Post("/api/v1/auth/register", h.handleRegister)
	r.Post("/api/v1/auth/login", h.handleLogin)
	r.Get("/api/v1/public/journeys/{token}", h.handlePublicJourney)

	r.Group(func(authR chi.Router) {
		authR.Use(h.authMiddleware)

		authR.Post("/api/v1/journeys", h.handleCreate)
		authR.Get("/api/v1/journeys", h.handleListOwn)
		authR.Get("/api/v1/journeys/{journeyID}", h.handleGet)
		authR.Put("/api/v1/journeys/{journeyID}", h.handleUpdate)
		authR.Delete("/api/v1/journeys/{journeyID}", h.handleDelete)

		authR.Post("/api/v1/journeys/{journeyID}/favorite", h.handleFavorite)
		authR.Delete("/api/v1/journeys/{journeyID}/favorite", h.handleUnfavorite)
		authR.Post("/api/v1/journeys/{journeyID}/share", h.handleShare)
		authR.Post("/api/v1/journeys/{journeyID}/public-link", h.handleGenerateLink)
		authR.Delete("/api/v1/journeys/{journeyID}/public-link", h.handleRevokeLink)

		authR.Get("/api/v1/stats/monthly", h.handleMonthlyStats)
		authR.Get("/api/v1/stream", h.handleStream)

		authR.Get("/api/v1/admin/journeys", h.handleAdminList)
		authR.Patch("/api/v1/admin/users/{userID}/status", h.handleUserStatus)
	})

	return r
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type journeyRequest struct {
	StartLocation   string    `json:"startLocation"`
	StartTime       time.Time `json:"startTime"`
	ArrivalLocation string    `json:"arrivalLocation"`
	ArrivalTime     time.Time `json:"arrivalTime"`
	Transport       string    `json:"transportType"`
	DistanceKm      float64   `json:"distanceKm"`
}

func (req journeyRequest) input() JourneyInput {
	return JourneyInput{
		StartLocation:   req.StartLocation,
		StartTime:       req.StartTime,
		ArrivalLocation: req.ArrivalLocation,
		ArrivalTime:     req.ArrivalTime,
		Transport:       req.Transport,
		DistanceKm:      req.DistanceKm,
	}
}

type shareRequest struct {
	UserID string `json:"userId"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	u, err := h.Identity.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrWeakPassword):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, identity.ErrUsernameTaken):
			h.writeError(w, http.StatusConflict, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{
		"id":       u.ID.String(),
		"username": u.Username,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	token, u, err := h.Identity.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrInvalidCredentials):
			h.writeError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, identity.ErrAccountInactive):
			h.writeError(w, http.StatusForbidden, err.Error())
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"token":    token,
		"id":       u.ID.String(),
		"username": u.Username,
		"role":     u.Role,
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req journeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())
	id, err := h.Service.Create(r.Context(), claims.Subject, req.input())
	if err != nil {
		h.writeCommandError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"id": id.String()})
}

func (h *Handler) handleListOwn(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	limit, offset := pagination(r)
	views, err := h.Queries.ListUserJourneys(r.Context(), claims.Subject, limit, offset)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	journeyID, ok := h.journeyID(w, r)
	if !ok {
		return
	}
	view, err := h.Queries.GetJourney(r.Context(), journeyID)
	if err != nil {
		if errors.Is(err, query.ErrJourneyNotFound) {
			h.writeError(w, http.StatusNotFound, "journey not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	claims := claimsFromContext(r.Context())
	if view.UserID != claims.Subject && !claims.IsAdmin() {
		shared, err := h.Shares.IsSharedWith(r.Context(), journeyID, claims.Subject)
		if err != nil {
			h.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !shared {
			h.writeError(w, http.StatusNotFound, "journey not found")
			return
		}
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	journeyID, ok := h.journeyID(w, r)
	if !ok {
		return
	}
	var req journeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	claims := claimsFromContext(r.Context())
	if err := h.Service.Update(r.Context(), claims.Subject, journeyID, req.input()); err != nil {
		h.writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	journeyID, ok := h.journeyID(w, r)
	if !ok {
		return
	}
	claims := claimsFromContext(r.Context())
	if err := h.Service.Delete(r.Context(), claims.Subject, journeyID); err != nil {
		h.writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleFavorite(w http.ResponseWriter, r *http.Request) {
	journeyID, ok := h.journeyID(w, r)
	if !ok {
		return
	}
	claims := claimsFromContext(r.Context())
	if err := h.Service.Favorite(r.Context(), claims.Subject, journeyID); err != nil {
		h.writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnfavorite(w http.ResponseWriter, r *http.Request) {
	journeyID, ok := h.journeyID(w, r)
	if !ok {
		return
	}
	claims := claimsFromContext(r.Context())
	if err := h.Service.Unfavorite(r.Context(), claims.Subject, journeyID); err != nil {
		h.writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleShare(w http.ResponseWriter, r *http.Request) {
	journeyID, ok := h.journeyID(w, r)
	if !ok {
		return
	}
	var req shareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.UserID) == "" {
		h.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	claims := claimsFromContext(r.Context())
	if err := h.Service.ShareWith(r.Context(), claims.Subject, journeyID, req.UserID); err != nil {
		h.writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGenerateLink(w http.ResponseWriter, r *http.Request) {
	journeyID, ok := h.journeyID(w, r)
	if !ok {
		return
	}
	claims := claimsFromContext(r.Context())
	token, err := h.Service.GeneratePublicLink(r.Context(), claims.Subject, journeyID)
	if err != nil {
		h.writeCommandError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"token": token})
}

func (h *Handler) handleRevokeLink(w http.ResponseWriter, r *http.Request) {
	journeyID, ok := h.journeyID(w, r)
	if !ok {
		return
	}
	claims := claimsFromContext(r.Context())
	if err := h.Service.RevokePublicLink(r.Context(), claims.Subject, journeyID); err != nil {
		if errors.Is(err, domain.ErrNoPublicLink) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.writeCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePublicJourney(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	view, err := h.Queries.GetByPublicToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, query.ErrJourneyNotFound) {
			h.writeError(w, http.StatusNotFound, "journey not found")
			return
		}
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleMonthlyStats(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 2000 || year > 2200 {
		h.writeError(w, http.StatusBadRequest, "year query parameter is required")
		return
	}
	stats, err := h.Queries.MonthlyStats(r.Context(), claims.Subject, year)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleAdminList(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !claims.IsAdmin() {
		h.writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	limit, offset := pagination(r)
	views, err := h.Queries.ListAllJourneys(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, views)
}

func (h *Handler) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if !claims.IsAdmin() {
		h.writeError(w, http.StatusForbidden, "admin role required")
		return
	}
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if err := h.Identity.UpdateStatus(r.Context(), userID, req.Status); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidUserStatus):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, identity.ErrUserNotFound):
			h.writeError(w, http.StatusNotFound, "user not found")
		default:
			h.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStream holds the connection open and relays hub pushes as SSE
// events. A periodic comment line keeps intermediaries from closing the
// idle stream.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	claims := claimsFromContext(r.Context())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	lease, ch := h.Hub.Connect(claims.Subject, claims.IsAdmin())
	defer h.Hub.Release(lease)

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case msg := <-ch:
			payload, err := json.Marshal(msg.Payload)
			if err != nil {
				h.Logger.Warn("push payload not serializable",
					zap.String("event", msg.Name), zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Name, payload)
			flusher.Flush()
		}
	}
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *Handler) journeyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "journeyID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid journey id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNegativeDistance),
		errors.Is(err, domain.ErrLocationRequired),
		errors.Is(err, domain.ErrInvalidTransport):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotJourneyOwner):
		h.writeError(w, http.StatusForbidden, err.Error())
	case IsNotFound(err):
		h.writeError(w, http.StatusNotFound, "journey not found")
	default:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

type claimsContextKey struct{}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := platformauth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = strings.TrimSpace(r.URL.Query().Get("token"))
		}
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Tokens.Parse(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func contextWithClaims(ctx context.Context, claims platformauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFromContext(ctx context.Context) platformauth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(platformauth.Claims)
	return claims
}
