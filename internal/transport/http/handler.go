package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"authcore/internal/coordinator"
	"authcore/internal/security"
	"authcore/internal/session"
	respond "authcore/internal/transport/http/json"
	"authcore/internal/transport/http/shared"
	dErrors "authcore/pkg/domain-errors"
	str "authcore/pkg/string"
	"authcore/pkg/validation"
)

// Handler is the thin HTTP layer over the lifecycle coordinator. It
// delegates every decision to the coordinator so transport concerns stay
// isolated.
type Handler struct {
	coordinator *coordinator.Coordinator
	logger      *slog.Logger
}

func NewHandler(c *coordinator.Coordinator, logger *slog.Logger) *Handler {
	return &Handler{coordinator: c, logger: logger}
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := h.coordinator.GetStatus()
	respond.WriteJSON(w, http.StatusOK, map[string]any{
		"running":          status.Running,
		"is_authenticated": status.AuthState.IsAuthenticated,
		"session_id":       status.AuthState.SessionID,
		"refresh_state":    string(status.RefreshStats.State),
		"refresh_count":    status.RefreshStats.RefreshCount,
		"error_count":      status.RefreshStats.ErrorCount,
		"active_sessions":  status.ActiveSessions,
		"active_errors":    status.ActiveErrors,
		"security_events":  status.SecurityEvents,
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// authStateResponse deliberately omits token material: consumers observe
// state through the broadcaster, they never read credentials off the wire.
type authStateResponse struct {
	IsAuthenticated bool      `json:"is_authenticated"`
	SessionID       string    `json:"session_id"`
	Source          string    `json:"source"`
	UserID          string    `json:"user_id,omitempty"`
	Email           string    `json:"email,omitempty"`
	LastUpdated     time.Time `json:"last_updated"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "invalid request body"))
		return
	}
	str.TrimStrings(&req.Email)
	if err := validation.Validate(&req); err != nil {
		shared.WriteError(w, err)
		return
	}
	state, err := h.coordinator.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	response := authStateResponse{
		IsAuthenticated: state.IsAuthenticated,
		SessionID:       state.SessionID,
		Source:          string(state.Source),
		LastUpdated:     state.LastUpdated,
	}
	if state.User != nil {
		response.UserID = state.User.ID
		response.Email = state.User.Email
	}
	respond.WriteJSON(w, http.StatusOK, response)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.coordinator.SignOut(r.Context()); err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	result := h.coordinator.RefreshNow(r.Context())
	if !result.Success {
		shared.WriteError(w, dErrors.Wrap(result.Err, dErrors.CodeAuthentication, "token refresh failed"))
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]bool{
		"success":   true,
		"refreshed": result.Refreshed,
	})
}

func (h *Handler) handleRestore(w http.ResponseWriter, r *http.Request) {
	state, err := h.coordinator.RestoreSession(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, authStateResponse{
		IsAuthenticated: state.IsAuthenticated,
		SessionID:       state.SessionID,
		Source:          string(state.Source),
		LastUpdated:     state.LastUpdated,
	})
}

func (h *Handler) handleExtendSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !h.coordinator.Sessions().ExtendSession(sessionID, 0) {
		shared.WriteError(w, dErrors.New(dErrors.CodeValidation, "session cannot be extended"))
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"time_remaining": h.coordinator.Sessions().GetTimeRemaining(sessionID).Milliseconds(),
	})
}

func (h *Handler) handleRenewSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !h.coordinator.Sessions().RenewSession(sessionID) {
		shared.WriteError(w, dErrors.New(dErrors.CodeNotFound, "session not found"))
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !h.coordinator.Sessions().UpdateActivity(sessionID, session.ActivityUserInteraction) {
		shared.WriteError(w, dErrors.New(dErrors.CodeNotFound, "session not found"))
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleSecurityEvents(w http.ResponseWriter, r *http.Request) {
	filter := security.Filter{
		Type:     r.URL.Query().Get("type"),
		UserID:   r.URL.Query().Get("user_id"),
		Severity: r.URL.Query().Get("severity"),
	}
	events := h.coordinator.Security().GetSecurityEvents(filter)
	type eventResponse struct {
		ID        string            `json:"id"`
		Type      string            `json:"type"`
		Severity  string            `json:"severity"`
		UserID    string            `json:"user_id,omitempty"`
		Timestamp time.Time         `json:"timestamp"`
		Resolved  bool              `json:"resolved"`
		Details   map[string]string `json:"details,omitempty"`
	}
	out := make([]eventResponse, 0, len(events))
	for _, event := range events {
		out = append(out, eventResponse{
			ID:        event.ID,
			Type:      event.Type,
			Severity:  event.Severity,
			UserID:    event.UserID,
			Timestamp: event.Timestamp,
			Resolved:  event.Resolved,
			Details:   event.Details,
		})
	}
	respond.WriteJSON(w, http.StatusOK, map[string]any{"events": out})
}
