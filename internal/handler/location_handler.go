package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"powerguard-service/internal/models"
	"powerguard-service/internal/tracking"
	"powerguard-service/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// LocationHandler handles tracking-session endpoints
type LocationHandler struct {
	tracker *tracking.Manager
	logger  *zap.Logger
}

func NewLocationHandler(tracker *tracking.Manager, logger *zap.Logger) *LocationHandler {
	return &LocationHandler{
		tracker: tracker,
		logger:  logger,
	}
}

// RegisterRoutes registers tracking-session routes
func (h *LocationHandler) RegisterRoutes(router chi.Router) {
	router.Route("/sessions", func(r chi.Router) {
		r.Get("/{sessionID}", h.GetSession)
		r.Post("/{sessionID}/locations", h.AppendLocation)
		r.Post("/{sessionID}/close", h.CloseSession)
	})
}

// GetSession returns a tracking session with its ordered location log
func (h *LocationHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := util.SanitizeIdentifier(chi.URLParam(r, "sessionID"))

	session, err := h.tracker.Get(ctx, sessionID)
	if err != nil {
		statusCode := http.StatusInternalServerError
		if errors.Is(err, tracking.ErrSessionNotFound) {
			statusCode = http.StatusNotFound
		}
		h.respondWithError(w, statusCode, err, "Failed to get session")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(session, "Session retrieved"))
}

// AppendLocation ingests one location point into an active session
func (h *LocationHandler) AppendLocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	sessionID := util.SanitizeIdentifier(chi.URLParam(r, "sessionID"))

	var point models.LocationPoint
	if err := json.NewDecoder(r.Body).Decode(&point); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if point.Lat < -90 || point.Lat > 90 || point.Lng < -180 || point.Lng > 180 {
		h.respondWithError(w, http.StatusBadRequest, errors.New("coordinates out of range"), "Invalid location")
		return
	}

	if err := h.tracker.Append(ctx, sessionID, point); err != nil {
		statusCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, tracking.ErrSessionNotFound):
			statusCode = http.StatusNotFound
		case errors.Is(err, tracking.ErrSessionClosed):
			statusCode = http.StatusConflict
		}
		h.respondWithError(w, statusCode, err, "Failed to append location")
		return
	}

	h.respondWithJSON(w, http.StatusAccepted, successResponse(nil, "Location recorded"))
	h.logger.Debug("Location appended via HTTP",
		util.String("session_id", sessionID),
		util.Duration("duration", time.Since(startTime)),
	)
}

type closeRequest struct {
	Reason string `json:"reason"`
}

// CloseSession ends a tracking session; closing twice is a no-op
func (h *LocationHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID := util.SanitizeIdentifier(chi.URLParam(r, "sessionID"))

	var req closeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
			return
		}
	}

	if err := h.tracker.Close(ctx, sessionID, req.Reason); err != nil {
		statusCode := http.StatusInternalServerError
		if errors.Is(err, tracking.ErrSessionNotFound) {
			statusCode = http.StatusNotFound
		}
		h.respondWithError(w, statusCode, err, "Failed to close session")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Session closed"))
}

// respondWithJSON sends a JSON response
func (h *LocationHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *LocationHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}
