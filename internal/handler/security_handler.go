package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"powerguard-service/internal/authgate"
	"powerguard-service/internal/models"
	"powerguard-service/internal/orchestrator"
	"powerguard-service/internal/repository"
	"powerguard-service/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// SecurityHandler handles credential, trigger, status and guardian endpoints
type SecurityHandler struct {
	gate         *authgate.Gate
	orchestrator *orchestrator.Orchestrator
	users        repository.UserRepository
	logger       *zap.Logger
}

func NewSecurityHandler(gate *authgate.Gate, orch *orchestrator.Orchestrator, users repository.UserRepository, logger *zap.Logger) *SecurityHandler {
	return &SecurityHandler{
		gate:         gate,
		orchestrator: orch,
		users:        users,
		logger:       logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   err.Error(),
		Message: message,
	}
}

// RegisterRoutes registers credential, trigger and directory routes
func (h *SecurityHandler) RegisterRoutes(router chi.Router) {
	router.Route("/devices", func(r chi.Router) {
		r.Post("/credentials", h.SetupCredential)
		r.Post("/credentials/verify", h.VerifyCredential)
		r.Post("/triggers", h.ReportTrigger)
		r.Get("/{deviceID}/status", h.GetDeviceStatus)
	})

	router.Get("/events/{eventID}", h.GetEvent)

	router.Route("/users", func(r chi.Router) {
		r.Post("/", h.SaveUser)
		r.Get("/{userID}", h.GetUser)
	})
}

type credentialRequest struct {
	DeviceID string `json:"device_id"`
	UserID   string `json:"user_id"`
	Kind     string `json:"kind"`
	Secret   string `json:"secret"`
}

// SetupCredential stores a PIN or password for a device
func (h *SecurityHandler) SetupCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	deviceID := util.SanitizeIdentifier(req.DeviceID)
	userID := util.SanitizeIdentifier(req.UserID)
	if deviceID == "" || userID == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("device_id and user_id are required"), "Invalid request")
		return
	}

	err := h.gate.Setup(ctx, deviceID, userID, models.CredentialKind(req.Kind), req.Secret)
	if err != nil {
		statusCode := http.StatusInternalServerError
		if errors.Is(err, authgate.ErrInvalidFormat) {
			statusCode = http.StatusBadRequest
		}
		h.respondWithError(w, statusCode, err, "Failed to configure credential")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(nil, "Credential configured"))
	h.logger.Info("Credential configured via HTTP",
		util.String("device_id", deviceID),
		util.String("kind", req.Kind),
		util.Duration("duration", time.Since(startTime)),
	)
}

type verifyResponse struct {
	Outcome          string `json:"outcome"`
	FailedCount      uint   `json:"failed_count,omitempty"`
	LockoutSeconds   int    `json:"lockout_seconds,omitempty"`
	RemainingSeconds int    `json:"remaining_seconds,omitempty"`
}

// VerifyCredential runs one credential check through the escalation state machine
func (h *SecurityHandler) VerifyCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	deviceID := util.SanitizeIdentifier(req.DeviceID)
	if deviceID == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("device_id is required"), "Invalid request")
		return
	}

	outcome, err := h.gate.Verify(ctx, deviceID, models.CredentialKind(req.Kind), req.Secret)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Verification failed")
		return
	}

	resp := verifyResponse{
		Outcome:          outcome.Kind.String(),
		FailedCount:      outcome.FailedCount,
		LockoutSeconds:   outcome.LockoutSeconds,
		RemainingSeconds: outcome.RemainingSeconds,
	}

	status := http.StatusOK
	switch outcome.Kind {
	case authgate.OutcomeLockedOut:
		status = http.StatusLocked
	case authgate.OutcomeNotConfigured:
		status = http.StatusNotFound
	case authgate.OutcomeFailed, authgate.OutcomeFailedAtThreshold, authgate.OutcomeFailedWithAlert:
		status = http.StatusUnauthorized
	}

	h.respondWithJSON(w, status, successResponse(resp, "Verification completed"))
}

type triggerRequest struct {
	DeviceID  string `json:"device_id"`
	UserID    string `json:"user_id"`
	EventType string `json:"event_type"`
	Details   string `json:"details"`
}

// ReportTrigger ingests a device-reported security trigger such as an
// unauthorized power-off or a SIM change
func (h *SecurityHandler) ReportTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	deviceID := util.SanitizeIdentifier(req.DeviceID)
	userID := util.SanitizeIdentifier(req.UserID)

	event, err := h.orchestrator.Trigger(ctx, models.EventType(req.EventType), deviceID, userID, req.Details)
	if err != nil {
		statusCode := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrInvalidTrigger) {
			statusCode = http.StatusBadRequest
		}
		h.respondWithError(w, statusCode, err, "Failed to process trigger")
		return
	}

	h.respondWithJSON(w, http.StatusAccepted, successResponse(event, "Trigger processed"))
	h.logger.Info("Security trigger processed via HTTP",
		util.String("event_id", event.EventID),
		util.String("event_type", req.EventType),
		util.String("device_id", deviceID),
		util.Duration("duration", time.Since(startTime)),
	)
}

// GetDeviceStatus returns the device-status projection
func (h *SecurityHandler) GetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	deviceID := util.SanitizeIdentifier(chi.URLParam(r, "deviceID"))
	if deviceID == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("device_id is required"), "Invalid request")
		return
	}

	status, err := h.orchestrator.DeviceStatus(ctx, deviceID)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to get device status")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(status, "Device status retrieved"))
}

// GetEvent returns a security event with its notification outcomes
func (h *SecurityHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	eventID := util.SanitizeIdentifier(chi.URLParam(r, "eventID"))

	event, err := h.orchestrator.Event(ctx, eventID)
	if err != nil {
		statusCode := http.StatusInternalServerError
		if errors.Is(err, repository.ErrNotFound) {
			statusCode = http.StatusNotFound
		}
		h.respondWithError(w, statusCode, err, "Failed to get event")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(event, "Event retrieved"))
}

// SaveUser upserts a device owner with guardian contacts
func (h *SecurityHandler) SaveUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var user models.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	user.UserID = util.SanitizeIdentifier(user.UserID)
	user.DeviceID = util.SanitizeIdentifier(user.DeviceID)
	if user.UserID == "" || user.DeviceID == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("user_id and device_id are required"), "Invalid request")
		return
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	if err := h.users.SaveUser(ctx, &user); err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to save user")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(user, "User saved"))
}

// GetUser returns a device owner and their guardian contacts
func (h *SecurityHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := util.SanitizeIdentifier(chi.URLParam(r, "userID"))

	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		statusCode := http.StatusInternalServerError
		if errors.Is(err, repository.ErrNotFound) {
			statusCode = http.StatusNotFound
		}
		h.respondWithError(w, statusCode, err, "Failed to get user")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(user, "User retrieved"))
}

// Helper Methods

// respondWithJSON sends a JSON response
func (h *SecurityHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *SecurityHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}
