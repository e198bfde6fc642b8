// Package engine assembles the router, context store, and agent pool
// into one lead-processing facade. Everything is injected at
// construction; no package-level state.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/caselane/caselane/internal/bus"
	"github.com/caselane/caselane/internal/contextstore"
	"github.com/caselane/caselane/internal/llm"
	"github.com/caselane/caselane/internal/pipeline"
	"github.com/caselane/caselane/internal/store"
	"github.com/caselane/caselane/pkg/models"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s()-]{10,}$`)
)

// ValidationError lists every reason a lead was rejected, not just the
// first one found.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "invalid lead: " + strings.Join(e.Violations, "; ")
}

// Options tunes the engine.
type Options struct {
	HistoryCap int
	Pipeline   pipeline.Options
}

// Engine is the lead-processing core: it validates intake, seeds the
// lead context, and hands the lead to the coordinator.
type Engine struct {
	router   *bus.Router
	contexts *contextstore.Store
	store    store.Store
	pipe     *pipeline.Pipeline
}

// New wires a complete engine around the given store and model client.
func New(st store.Store, completer llm.Completer, opts Options) (*Engine, error) {
	router := bus.NewRouter(opts.HistoryCap)
	contexts := contextstore.New()

	pipe, err := pipeline.New(router, contexts, st, completer, opts.Pipeline)
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	return &Engine{
		router:   router,
		contexts: contexts,
		store:    st,
		pipe:     pipe,
	}, nil
}

// Start launches the agent pool.
func (e *Engine) Start(ctx context.Context) {
	e.pipe.Start(ctx)
	log.Info().Msg("Engine started")
}

// Stop shuts the agent pool down, waiting for in-flight work.
func (e *Engine) Stop() {
	e.pipe.Stop()
	log.Info().Msg("Engine stopped")
}

// Contexts exposes the shared lead context store.
func (e *Engine) Contexts() *contextstore.Store { return e.contexts }

// ProcessLead validates a lead and starts its journey. It returns an
// execution ID for tracing the run; the lead itself is processed
// asynchronously by the agent pool.
func (e *Engine) ProcessLead(ctx context.Context, lead models.LeadData, channel models.Channel) (string, error) {
	if channel == "" {
		channel = models.ChannelWhatsApp
	}
	if err := validateLead(lead, channel); err != nil {
		return "", err
	}
	if lead.ID == "" {
		lead.ID = uuid.New().String()
	}
	if lead.TenantID == "" {
		lead.TenantID = "default"
	}

	executionID := uuid.New().String()
	e.contexts.Set(pipeline.LeadKey(lead.ID), map[string]any{
		"stage":        string(models.StageNew),
		"channel":      string(channel),
		"execution_id": executionID,
		"tenant_id":    lead.TenantID,
	})

	msg := bus.New(pipeline.SenderSystem, pipeline.AgentCoordinator, bus.TypeTaskRequest, map[string]any{
		"lead_id": lead.ID,
		"task":    pipeline.TaskProcessLead,
		"data":    leadPayload(lead, channel),
	}, bus.PriorityHigh)
	// Intake is fire-and-forget: the system sender has no inbox to
	// answer to.
	msg.RequiresResponse = false

	if err := e.router.Route(msg); err != nil {
		e.contexts.Delete(pipeline.LeadKey(lead.ID))
		return "", fmt.Errorf("submit lead: %w", err)
	}

	log.Info().
		Str("lead_id", lead.ID).
		Str("execution_id", executionID).
		Str("channel", string(channel)).
		Msg("Lead submitted")
	return executionID, nil
}

func validateLead(lead models.LeadData, channel models.Channel) error {
	var violations []string

	name := strings.TrimSpace(lead.Name)
	if len(name) < 2 {
		violations = append(violations, "name must have at least 2 characters")
	}
	if len(strings.TrimSpace(lead.Message)) < 10 {
		violations = append(violations, "message must have at least 10 characters")
	}
	if lead.Email != "" && !emailPattern.MatchString(lead.Email) {
		violations = append(violations, "email is not valid")
	}
	if lead.Phone != "" && !phonePattern.MatchString(lead.Phone) {
		violations = append(violations, "phone is not valid")
	}
	if !channel.Valid() {
		violations = append(violations, fmt.Sprintf("unknown channel %q", channel))
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

func leadPayload(lead models.LeadData, channel models.Channel) map[string]any {
	return map[string]any{
		"id":         lead.ID,
		"name":       lead.Name,
		"email":      lead.Email,
		"phone":      lead.Phone,
		"message":    lead.Message,
		"legal_area": lead.LegalArea,
		"source":     lead.Source,
		"tenant_id":  lead.TenantID,
		"channel":    string(channel),
	}
}

// ReportEvent feeds an externally observed event (a client reply, a
// closed deal) into the stage machine.
func (e *Engine) ReportEvent(ctx context.Context, leadID, event string, facts map[string]any) error {
	if leadID == "" || event == "" {
		return fmt.Errorf("report event: lead_id and event are required")
	}
	msg := bus.New(pipeline.SenderSystem, pipeline.AgentCoordinator, bus.TypeStatusUpdate, map[string]any{
		"lead_id": leadID,
		"event":   event,
		"facts":   facts,
	}, bus.PriorityMedium)
	return e.router.Route(msg)
}

// LeadContext returns a copy of a lead's accumulated context.
func (e *Engine) LeadContext(leadID string) (map[string]any, bool) {
	return e.contexts.Get(pipeline.LeadKey(leadID))
}

// Interactions lists a lead's persisted interactions, newest first.
func (e *Engine) Interactions(ctx context.Context, tenantID, leadID string, limit int) ([]models.Interaction, error) {
	return e.store.ListInteractions(ctx, tenantID, leadID, limit)
}

// History returns the most recent routed messages, oldest first.
func (e *Engine) History(limit int) []bus.Message {
	return e.router.History(limit)
}

// AgentNames returns the registered agent routing keys.
func (e *Engine) AgentNames() []string {
	return e.router.AgentNames()
}

// Stats snapshots routing activity and context usage.
func (e *Engine) Stats() models.SystemStats {
	stats := e.router.Stats()
	stats.ContextEntries = e.contexts.Len()
	return stats
}
