// Package handlers implements the HTTP handlers for the Caselane
// engine API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/caselane/caselane/internal/api/middleware"
	"github.com/caselane/caselane/internal/engine"
	"github.com/caselane/caselane/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Engine *engine.Engine
}

// New creates a Handlers instance.
func New(e *engine.Engine) *Handlers {
	return &Handlers{Engine: e}
}

// submitLeadRequest is the intake payload.
type submitLeadRequest struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Message   string `json:"message"`
	LegalArea string `json:"legal_area,omitempty"`
	Source    string `json:"source,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

// SubmitLead accepts a new lead and starts its journey. Processing is
// asynchronous: a 202 means the lead was accepted, not finished.
func (h *Handlers) SubmitLead(w http.ResponseWriter, r *http.Request) {
	var req submitLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	lead := models.LeadData{
		ID:        req.ID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Message:   req.Message,
		LegalArea: req.LegalArea,
		Source:    req.Source,
		TenantID:  middleware.GetTenantID(r.Context()),
	}

	executionID, err := h.Engine.ProcessLead(r.Context(), lead, models.Channel(req.Channel))
	if err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			respondJSON(w, http.StatusBadRequest, map[string]any{
				"error":      "lead validation failed",
				"violations": verr.Violations,
			})
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"execution_id": executionID,
		"lead_id":      lead.ID,
	})
}

// GetLeadContext returns a lead's accumulated working context.
func (h *Handlers) GetLeadContext(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	cctx, ok := h.Engine.LeadContext(leadID)
	if !ok {
		respondError(w, http.StatusNotFound, "no context for lead "+leadID)
		return
	}
	respondJSON(w, http.StatusOK, cctx)
}

// ListLeadInteractions returns a lead's persisted interactions.
func (h *Handlers) ListLeadInteractions(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")
	tenant := middleware.GetTenantID(r.Context())

	interactions, err := h.Engine.Interactions(r.Context(), tenant, leadID, queryInt(r, "limit", 100))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if interactions == nil {
		interactions = []models.Interaction{}
	}
	respondJSON(w, http.StatusOK, interactions)
}

// reportEventRequest feeds an external event into the stage machine.
type reportEventRequest struct {
	Event string         `json:"event"`
	Facts map[string]any `json:"facts,omitempty"`
}

// ReportLeadEvent records an externally observed event for a lead,
// such as a client reply or a closed deal.
func (h *Handlers) ReportLeadEvent(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadID")

	var req reportEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Event == "" {
		respondError(w, http.StatusBadRequest, "event is required")
		return
	}
	if _, ok := h.Engine.LeadContext(leadID); !ok {
		respondError(w, http.StatusNotFound, "no context for lead "+leadID)
		return
	}

	if err := h.Engine.ReportEvent(r.Context(), leadID, req.Event, req.Facts); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"lead_id": leadID, "event": req.Event})
}

// ListMessages returns the recent message history, oldest first.
func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Engine.History(queryInt(r, "limit", 0)))
}

// ListAgents returns the registered agent names.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"agents": h.Engine.AgentNames()})
}

// GetStats returns a snapshot of engine activity.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Engine.Stats())
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
