package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/caselane/caselane/internal/agent"
	"github.com/caselane/caselane/internal/bus"
	"github.com/caselane/caselane/internal/contextstore"
	"github.com/caselane/caselane/pkg/models"
)

// Agent routing keys. SenderSystem marks messages originating outside
// the agent pool.
const (
	AgentCoordinator  = "coordinator"
	AgentQualifier    = "qualifier"
	AgentLegal        = "legal"
	AgentCommercial   = "commercial"
	AgentCommunicator = "communicator"

	SenderSystem = "system"
)

// Task names carried in task_request payloads.
const (
	TaskProcessLead    = "process_lead"
	TaskAnalyzeLead    = "analyze_lead"
	TaskValidateCase   = "validate_case"
	TaskCreateProposal = "create_proposal"
	TaskSendProposal   = "send_proposal"
)

// LeadKey is the context-store key for a lead.
func LeadKey(leadID string) string { return "lead_" + leadID }

// plan is the coordinator's model-produced routing decision.
type plan struct {
	NextAgent string `json:"next_agent"`
	Reason    string `json:"reason"`
	Task      string `json:"task"`
}

const coordinatorPersona = `You are the coordinator of a legal-intake team.
Given a new lead, decide which specialist should handle it first and explain why.
Available first steps: qualifier (analyze_lead).
Respond with JSON only: {"next_agent": "...", "reason": "...", "task": "..."}`

// Coordinator drives the stage machine. It receives the initial
// process_lead request, plans the first hop, and advances the lead on
// every status_update a specialist reports.
type Coordinator struct {
	base     *agent.Base
	contexts *contextstore.Store
}

// NewCoordinator builds the coordinator agent.
func NewCoordinator(contexts *contextstore.Store, cfg agent.Config) (*Coordinator, error) {
	c := &Coordinator{contexts: contexts}
	cfg.Name = AgentCoordinator
	cfg.Specialization = "orchestration and delegation"
	cfg.Persona = coordinatorPersona
	cfg.Handler = c.handle

	base, err := agent.New(cfg)
	if err != nil {
		return nil, err
	}
	c.base = base
	return c, nil
}

// Base exposes the underlying agent runtime.
func (c *Coordinator) Base() *agent.Base { return c.base }

func (c *Coordinator) handle(ctx context.Context, msg bus.Message) error {
	switch msg.Type {
	case bus.TypeTaskRequest:
		if task, _ := msg.Payload["task"].(string); task == TaskProcessLead {
			return c.processLead(ctx, msg)
		}
		return fmt.Errorf("coordinator: unsupported task %v", msg.Payload["task"])
	case bus.TypeStatusUpdate:
		return c.advance(ctx, msg)
	case bus.TypeErrorReport:
		c.recordError(msg)
		return nil
	case bus.TypeDecisionRequest:
		return c.decide(ctx, msg)
	default:
		log.Debug().Str("type", string(msg.Type)).Msg("Coordinator ignoring message")
		return nil
	}
}

// processLead plans the first hop and dispatches it.
func (c *Coordinator) processLead(ctx context.Context, msg bus.Message) error {
	leadID, _ := msg.Payload["lead_id"].(string)
	if leadID == "" {
		return fmt.Errorf("coordinator: process_lead without lead_id")
	}
	data, _ := msg.Payload["data"].(map[string]any)

	stage, dispatch, err := Next(models.StageNew, EventLeadReceived, nil)
	if err != nil {
		return err
	}

	p := c.planExecution(ctx, data)
	if d, ok := p.dispatch(); ok {
		dispatch = d
	}

	key := LeadKey(leadID)
	c.contexts.Set(key, map[string]any{
		"stage":     string(stage),
		"lead_data": data,
	})
	c.recordDecision(key, p.NextAgent+": "+p.Task, p.Reason)

	log.Info().
		Str("lead_id", leadID).
		Str("next_agent", dispatch.Agent).
		Str("task", dispatch.Task).
		Msg("Lead accepted, dispatching first step")

	return c.base.Send(ctx, bus.New(AgentCoordinator, dispatch.Agent, bus.TypeTaskRequest, map[string]any{
		"lead_id": leadID,
		"task":    dispatch.Task,
		"data":    data,
	}, bus.PriorityHigh))
}

// planExecution asks the model where to route first. A malformed or
// out-of-range answer falls back to the qualifier.
func (c *Coordinator) planExecution(ctx context.Context, data map[string]any) plan {
	fallback := plan{NextAgent: AgentQualifier, Task: TaskAnalyzeLead, Reason: "default intake route"}

	out, err := c.base.Generate(ctx, "Plan the first step for this lead.", map[string]any{"lead": data})
	if err != nil {
		log.Warn().Err(err).Msg("Planning call failed, using default route")
		return fallback
	}
	var p plan
	if err := decodeModelJSON(out, &p); err != nil {
		log.Warn().Err(err).Msg("Unparseable plan, using default route")
		return fallback
	}
	if _, ok := p.dispatch(); !ok {
		log.Warn().Str("next_agent", p.NextAgent).Str("task", p.Task).Msg("Plan leaves the stage machine, using default route")
		return fallback
	}
	return p
}

// dispatch maps the plan onto a first hop the stage machine allows out
// of a brand-new lead. Any other target would leave the stage behind
// the specialist actually running, so it is rejected.
func (p plan) dispatch() (Dispatch, bool) {
	for _, tr := range transitions {
		if tr.From != models.StageNew || tr.Next.Agent == "" {
			continue
		}
		if p.NextAgent == tr.Next.Agent && p.Task == tr.Next.Task {
			return tr.Next, true
		}
	}
	return Dispatch{}, false
}

// advance applies one stage-machine transition for a reported event.
func (c *Coordinator) advance(ctx context.Context, msg bus.Message) error {
	leadID, _ := msg.Payload["lead_id"].(string)
	event, _ := msg.Payload["event"].(string)
	if leadID == "" || event == "" {
		return fmt.Errorf("coordinator: status_update missing lead_id or event")
	}
	facts, _ := msg.Payload["facts"].(map[string]any)

	key := LeadKey(leadID)
	current, ok := c.contexts.Get(key)
	if !ok {
		return fmt.Errorf("coordinator: no context for lead %s", leadID)
	}
	stage := models.Stage(fmt.Sprint(current["stage"]))

	next, dispatch, err := Next(stage, event, facts)
	if err != nil {
		return fmt.Errorf("coordinator: lead %s: %w", leadID, err)
	}

	c.contexts.Set(key, map[string]any{"stage": string(next)})
	c.recordDecision(key, string(stage)+" -> "+string(next), "event "+event+" from "+msg.From)

	log.Info().
		Str("lead_id", leadID).
		Str("from", string(stage)).
		Str("to", string(next)).
		Str("event", event).
		Msg("Lead advanced")

	if Terminal(next) {
		log.Info().Str("lead_id", leadID).Str("stage", string(next)).Msg("Lead journey complete")
		return nil
	}
	if dispatch.Agent == "" {
		return nil
	}

	data, _ := current["lead_data"].(map[string]any)
	return c.base.Send(ctx, bus.New(AgentCoordinator, dispatch.Agent, bus.TypeTaskRequest, map[string]any{
		"lead_id": leadID,
		"task":    dispatch.Task,
		"data":    data,
	}, bus.PriorityHigh))
}

// decide answers a decision_request with a model completion.
func (c *Coordinator) decide(ctx context.Context, msg bus.Message) error {
	question, _ := msg.Payload["question"].(string)
	if question == "" {
		return fmt.Errorf("coordinator: decision_request without question")
	}

	answer, err := c.base.Generate(ctx, question, msg.Payload)
	if err != nil {
		return err
	}
	return c.base.Send(ctx, bus.New(AgentCoordinator, msg.From, bus.TypeDecisionResponse, map[string]any{
		"original_message_id": msg.ID,
		"answer":              answer,
	}, msg.Priority))
}

func (c *Coordinator) recordError(msg bus.Message) {
	leadID, _ := msg.Payload["lead_id"].(string)
	if leadID == "" {
		if original, ok := msg.Payload["original_payload"].(map[string]any); ok {
			leadID, _ = original["lead_id"].(string)
		}
	}
	log.Error().
		Str("from", msg.From).
		Str("lead_id", leadID).
		Interface("error", msg.Payload["error"]).
		Msg("Specialist reported a failure")
	if leadID != "" {
		c.contexts.Set(LeadKey(leadID), map[string]any{
			"last_error": msg.Payload["error"],
		})
	}
}

func (c *Coordinator) recordDecision(key, decision, reason string) {
	c.contexts.AppendDecision(key, models.DecisionRecord{
		DecisionMaker: AgentCoordinator,
		Decision:      decision,
		Reasoning:     reason,
		Timestamp:     time.Now().UTC(),
	})
}

// decodeModelJSON extracts the first JSON object from a completion,
// tolerating markdown code fences around it.
func decodeModelJSON(out string, v any) error {
	s := strings.TrimSpace(out)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			s = s[i : j+1]
		}
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}
