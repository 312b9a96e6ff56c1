package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/runscore/internal/domain"
	"github.com/runscore/internal/score"
	"github.com/runscore/internal/websocket"
)

// Handler provides HTTP handlers for the scoring API
type Handler struct {
	service *score.Service
	hub     *websocket.Hub
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(service *score.Service, hub *websocket.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		hub:     hub,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Session operations
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", h.LogSession)
			r.Get("/", h.ListSessions)
			r.Delete("/{sessionID}", h.RemoveSession)
		})

		// Score operations
		r.Route("/scores", func(r chi.Router) {
			r.Post("/calculate", h.CalculateScore)
			r.Get("/weekly", h.GetWeeklyScore)
			r.Get("/history", h.GetScoreHistory)
			r.Get("/ranks", h.GetLiveRanks)
		})

		// Leaderboard reads
		r.Get("/rankings/{dimension}", h.GetRankings)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps domain errors to HTTP statuses
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSession), errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsNotFoundError(err), domain.IsRecoverable(err):
		h.writeError(w, http.StatusNotFound, err)
	default:
		h.logger.Error(op, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// parsePeriod reads an optional ?period=2006-01-02 query parameter
func parsePeriod(r *http.Request) (*time.Time, error) {
	value := r.URL.Query().Get("period")
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, time.Local)
	if err != nil {
		return nil, domain.ErrInvalidRequest
	}
	return &t, nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// LogSession handles session submission
func (h *Handler) LogSession(w http.ResponseWriter, r *http.Request) {
	var submission domain.SessionSubmission
	if err := json.NewDecoder(r.Body).Decode(&submission); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	session, record, err := h.service.LogSession(r.Context(), submission)
	if err != nil {
		h.writeServiceError(w, "failed to log session", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"session": session,
			"score":   record,
		},
	})
}

// ListSessions returns a page of a user's active sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	page, limit := pagination(r)
	sessions, err := h.service.Sessions(r.Context(), userID, page, limit)
	if err != nil {
		h.writeServiceError(w, "failed to list sessions", err)
		return
	}

	h.writeSuccess(w, sessions)
}

// RemoveSession soft-deletes a session and returns the recalculated score
func (h *Handler) RemoveSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	record, err := h.service.RemoveSession(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "failed to remove session", err)
		return
	}

	h.writeSuccess(w, record)
}

// CalculateScore derives and persists a user's score record
func (h *Handler) CalculateScore(w http.ResponseWriter, r *http.Request) {
	var req domain.CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	record, err := h.service.CalculateAndStore(r.Context(), req.UserID, req.PeriodStart)
	if err != nil {
		h.writeServiceError(w, "failed to calculate score", err)
		return
	}

	h.writeSuccess(w, record)
}

// GetWeeklyScore returns the stored score record for a user and week
func (h *Handler) GetWeeklyScore(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	periodStart, err := parsePeriod(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	record, err := h.service.WeeklyScore(r.Context(), userID, periodStart)
	if err != nil {
		h.writeServiceError(w, "failed to get weekly score", err)
		return
	}

	h.writeSuccess(w, record)
}

// GetScoreHistory returns a page of a user's past score records
func (h *Handler) GetScoreHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	page, limit := pagination(r)
	records, total, err := h.service.ScoreHistory(r.Context(), userID, page, limit)
	if err != nil {
		h.writeServiceError(w, "failed to get score history", err)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"scores": records,
		"total":  total,
		"page":   page,
	})
}

// GetLiveRanks returns a user's current competition ranks computed
// directly from the store
func (h *Handler) GetLiveRanks(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	periodStart, err := parsePeriod(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	record, err := h.service.LiveRanks(r.Context(), userID, periodStart)
	if err != nil {
		h.writeServiceError(w, "failed to get live ranks", err)
		return
	}

	h.writeSuccess(w, record)
}

// GetRankings returns a leaderboard page for one dimension of a week
func (h *Handler) GetRankings(w http.ResponseWriter, r *http.Request) {
	dim := domain.RankingDimension(chi.URLParam(r, "dimension"))
	switch dim {
	case domain.RankOverall, domain.RankDistance, domain.RankSpeed:
	default:
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	periodStart, err := parsePeriod(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.service.Rankings(r.Context(), periodStart, dim, limit)
	if err != nil {
		h.writeServiceError(w, "failed to get rankings", err)
		return
	}

	h.writeSuccess(w, entries)
}

// pagination reads optional page/limit query parameters
func pagination(r *http.Request) (page, limit int) {
	page, limit = 1, 0
	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	return page, limit
}
