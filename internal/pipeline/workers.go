package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/caselane/caselane/internal/agent"
	"github.com/caselane/caselane/internal/bus"
	"github.com/caselane/caselane/internal/contextstore"
	"github.com/caselane/caselane/internal/store"
	"github.com/caselane/caselane/pkg/models"
)

const qualifierPersona = `You are a lead qualification specialist at a law firm.
Analyze the lead's message and decide whether it describes a matter the firm handles.
Respond with JSON only:
{"qualified": true|false, "legal_area": "...", "urgency": "low|medium|high", "summary": "..."}`

const legalPersona = `You are a senior lawyer reviewing incoming cases.
Assess whether the described case is legally viable for the firm to take on.
Respond with JSON only:
{"viable": true|false, "complexity": "low|medium|high", "strategy": "...", "concerns": ["..."]}`

const commercialPersona = `You are a commercial specialist at a law firm.
Draft a service proposal for the validated case, with a clear scope and next steps.
Respond with JSON only:
{"title": "...", "scope": "...", "next_steps": "...", "message": "..."}`

const communicatorPersona = `You write client-facing messages for a law firm.
Turn the proposal into a warm, clear message to the client. Respond with the
message text only, no JSON.`

// analysis is the qualifier's structured verdict.
type analysis struct {
	Qualified bool   `json:"qualified"`
	LegalArea string `json:"legal_area"`
	Urgency   string `json:"urgency"`
	Summary   string `json:"summary"`
}

// verdict is the legal agent's structured assessment. Viability is an
// explicit boolean, never inferred from prose.
type verdict struct {
	Viable     bool     `json:"viable"`
	Complexity string   `json:"complexity"`
	Strategy   string   `json:"strategy"`
	Concerns   []string `json:"concerns"`
}

// proposal is the commercial agent's structured output.
type proposal struct {
	Title     string `json:"title"`
	Scope     string `json:"scope"`
	NextSteps string `json:"next_steps"`
	Message   string `json:"message"`
}

// worker is the shared shape of the specialist agents: receive a
// task_request, produce a result, report an event to the coordinator.
type worker struct {
	base     *agent.Base
	contexts *contextstore.Store
	task     string
}

// taskPayload unpacks the common task_request fields.
func (w *worker) taskPayload(msg bus.Message) (leadID string, data map[string]any, err error) {
	task, _ := msg.Payload["task"].(string)
	if task != w.task {
		return "", nil, fmt.Errorf("%s: unsupported task %q", w.base.Name(), task)
	}
	leadID, _ = msg.Payload["lead_id"].(string)
	if leadID == "" {
		return "", nil, fmt.Errorf("%s: task without lead_id", w.base.Name())
	}
	data, _ = msg.Payload["data"].(map[string]any)
	return leadID, data, nil
}

// report sends the completion event back to the coordinator.
func (w *worker) report(ctx context.Context, leadID, event string, facts map[string]any) error {
	return w.base.Send(ctx, bus.New(w.base.Name(), AgentCoordinator, bus.TypeStatusUpdate, map[string]any{
		"lead_id": leadID,
		"event":   event,
		"facts":   facts,
	}, bus.PriorityMedium))
}

func (w *worker) say(leadID, content string) {
	w.contexts.AppendConversation(LeadKey(leadID), models.ConversationEntry{
		Role:      "assistant",
		AgentName: w.base.Name(),
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// ── Qualifier ───────────────────────────────────────────────

// Qualifier analyzes a raw lead and decides whether it is worth
// pursuing.
type Qualifier struct {
	worker
}

// NewQualifier builds the qualifier agent.
func NewQualifier(contexts *contextstore.Store, cfg agent.Config) (*Qualifier, error) {
	q := &Qualifier{worker: worker{contexts: contexts, task: TaskAnalyzeLead}}
	cfg.Name = AgentQualifier
	cfg.Specialization = "lead qualification"
	cfg.Persona = qualifierPersona
	cfg.Handler = q.handle

	base, err := agent.New(cfg)
	if err != nil {
		return nil, err
	}
	q.base = base
	return q, nil
}

// Base exposes the underlying agent runtime.
func (q *Qualifier) Base() *agent.Base { return q.base }

func (q *Qualifier) handle(ctx context.Context, msg bus.Message) error {
	if msg.Type != bus.TypeTaskRequest {
		log.Debug().Str("type", string(msg.Type)).Msg("Qualifier ignoring message")
		return nil
	}
	leadID, data, err := q.taskPayload(msg)
	if err != nil {
		return err
	}

	promptCtx, _ := q.contexts.Get(LeadKey(leadID))
	out, err := q.base.Generate(ctx, qualifyPrompt(data), promptCtx)
	if err != nil {
		return err
	}
	var a analysis
	if err := decodeModelJSON(out, &a); err != nil {
		return fmt.Errorf("qualifier: %w", err)
	}

	q.contexts.Set(LeadKey(leadID), map[string]any{
		"analysis": map[string]any{
			"qualified":  a.Qualified,
			"legal_area": a.LegalArea,
			"urgency":    a.Urgency,
			"summary":    a.Summary,
		},
	})
	q.say(leadID, a.Summary)

	log.Info().Str("lead_id", leadID).Bool("qualified", a.Qualified).Str("legal_area", a.LegalArea).Msg("Lead analyzed")
	return q.report(ctx, leadID, EventAnalysisComplete, map[string]any{"qualified": a.Qualified})
}

func qualifyPrompt(data map[string]any) string {
	return fmt.Sprintf("Analyze this lead and qualify it.\nName: %v\nMessage: %v\nLegal area hint: %v",
		data["name"], data["message"], data["legal_area"])
}

// ── Legal ───────────────────────────────────────────────────

// Legal validates the case behind a qualified lead.
type Legal struct {
	worker
}

// NewLegal builds the legal validation agent.
func NewLegal(contexts *contextstore.Store, cfg agent.Config) (*Legal, error) {
	l := &Legal{worker: worker{contexts: contexts, task: TaskValidateCase}}
	cfg.Name = AgentLegal
	cfg.Specialization = "legal case validation"
	cfg.Persona = legalPersona
	cfg.Handler = l.handle

	base, err := agent.New(cfg)
	if err != nil {
		return nil, err
	}
	l.base = base
	return l, nil
}

// Base exposes the underlying agent runtime.
func (l *Legal) Base() *agent.Base { return l.base }

func (l *Legal) handle(ctx context.Context, msg bus.Message) error {
	if msg.Type != bus.TypeTaskRequest {
		log.Debug().Str("type", string(msg.Type)).Msg("Legal ignoring message")
		return nil
	}
	leadID, data, err := l.taskPayload(msg)
	if err != nil {
		return err
	}

	promptCtx, _ := l.contexts.Get(LeadKey(leadID))
	out, err := l.base.Generate(ctx, validatePrompt(data), promptCtx)
	if err != nil {
		return err
	}
	var v verdict
	if err := decodeModelJSON(out, &v); err != nil {
		return fmt.Errorf("legal: %w", err)
	}

	l.contexts.Set(LeadKey(leadID), map[string]any{
		"validation": map[string]any{
			"viable":     v.Viable,
			"complexity": v.Complexity,
			"strategy":   v.Strategy,
			"concerns":   v.Concerns,
		},
	})
	l.say(leadID, v.Strategy)

	log.Info().Str("lead_id", leadID).Bool("viable", v.Viable).Str("complexity", v.Complexity).Msg("Case validated")
	return l.report(ctx, leadID, EventValidationComplete, map[string]any{"viable": v.Viable})
}

func validatePrompt(data map[string]any) string {
	return fmt.Sprintf("Assess the viability of this case.\nClient: %v\nDescription: %v",
		data["name"], data["message"])
}

// ── Commercial ──────────────────────────────────────────────

// Commercial drafts the service proposal for a validated case.
type Commercial struct {
	worker
}

// NewCommercial builds the commercial agent.
func NewCommercial(contexts *contextstore.Store, cfg agent.Config) (*Commercial, error) {
	c := &Commercial{worker: worker{contexts: contexts, task: TaskCreateProposal}}
	cfg.Name = AgentCommercial
	cfg.Specialization = "proposal drafting"
	cfg.Persona = commercialPersona
	cfg.Handler = c.handle

	base, err := agent.New(cfg)
	if err != nil {
		return nil, err
	}
	c.base = base
	return c, nil
}

// Base exposes the underlying agent runtime.
func (c *Commercial) Base() *agent.Base { return c.base }

func (c *Commercial) handle(ctx context.Context, msg bus.Message) error {
	if msg.Type != bus.TypeTaskRequest {
		log.Debug().Str("type", string(msg.Type)).Msg("Commercial ignoring message")
		return nil
	}
	leadID, data, err := c.taskPayload(msg)
	if err != nil {
		return err
	}

	promptCtx, _ := c.contexts.Get(LeadKey(leadID))
	out, err := c.base.Generate(ctx, proposalPrompt(data), promptCtx)
	if err != nil {
		return err
	}
	var p proposal
	if err := decodeModelJSON(out, &p); err != nil {
		return fmt.Errorf("commercial: %w", err)
	}

	c.contexts.Set(LeadKey(leadID), map[string]any{
		"proposal": map[string]any{
			"title":      p.Title,
			"scope":      p.Scope,
			"next_steps": p.NextSteps,
			"message":    p.Message,
		},
	})
	c.say(leadID, p.Message)

	log.Info().Str("lead_id", leadID).Str("title", p.Title).Msg("Proposal drafted")
	return c.report(ctx, leadID, EventProposalCreated, nil)
}

func proposalPrompt(data map[string]any) string {
	return fmt.Sprintf("Draft a proposal for this client.\nClient: %v\nCase: %v",
		data["name"], data["message"])
}

// ── Communicator ────────────────────────────────────────────

// Communicator turns the proposal into a client-facing message and
// persists the interaction record.
type Communicator struct {
	worker
	store store.Store
}

// NewCommunicator builds the communicator agent.
func NewCommunicator(contexts *contextstore.Store, st store.Store, cfg agent.Config) (*Communicator, error) {
	cm := &Communicator{
		worker: worker{contexts: contexts, task: TaskSendProposal},
		store:  st,
	}
	cfg.Name = AgentCommunicator
	cfg.Specialization = "client communication"
	cfg.Persona = communicatorPersona
	cfg.Handler = cm.handle

	base, err := agent.New(cfg)
	if err != nil {
		return nil, err
	}
	cm.base = base
	return cm, nil
}

// Base exposes the underlying agent runtime.
func (cm *Communicator) Base() *agent.Base { return cm.base }

func (cm *Communicator) handle(ctx context.Context, msg bus.Message) error {
	if msg.Type != bus.TypeTaskRequest {
		log.Debug().Str("type", string(msg.Type)).Msg("Communicator ignoring message")
		return nil
	}
	leadID, data, err := cm.taskPayload(msg)
	if err != nil {
		return err
	}

	promptCtx, _ := cm.contexts.Get(LeadKey(leadID))
	text, err := cm.base.Generate(ctx, "Write the proposal message for the client.", promptCtx)
	if err != nil {
		return err
	}

	tenantID, _ := data["tenant_id"].(string)
	message, _ := data["message"].(string)
	it := &models.Interaction{
		TenantID: tenantID,
		LeadID:   leadID,
		Kind:     "proposal_sent",
		Message:  message,
		Response: text,
		Metadata: map[string]any{"agent": AgentCommunicator},
	}
	if err := cm.store.CreateInteraction(ctx, it); err != nil {
		return fmt.Errorf("communicator: persist interaction: %w", err)
	}

	cm.contexts.Set(LeadKey(leadID), map[string]any{
		"last_contact": it.CreatedAt.Format(time.RFC3339),
	})
	cm.say(leadID, text)

	log.Info().Str("lead_id", leadID).Str("interaction_id", it.ID).Msg("Proposal sent to client")
	return cm.report(ctx, leadID, EventProposalSent, nil)
}
