package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/caselane/caselane/internal/engine"
	"github.com/caselane/caselane/internal/llm"
	"github.com/caselane/caselane/internal/pipeline"
	"github.com/caselane/caselane/internal/store"
	"github.com/caselane/caselane/pkg/models"
)

// cannedCompleter returns one scripted answer per agent name.
type cannedCompleter struct {
	mu      sync.Mutex
	answers map[string]string
}

func (c *cannedCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if answer, ok := c.answers[req.Agent]; ok {
		return answer, nil
	}
	return `{"qualified": true, "legal_area": "civil", "urgency": "medium", "summary": "ok"}`, nil
}

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	completer := &cannedCompleter{answers: map[string]string{
		pipeline.AgentCoordinator:  `{"next_agent": "qualifier", "reason": "new lead", "task": "analyze_lead"}`,
		pipeline.AgentQualifier:    `{"qualified": true, "legal_area": "labor", "urgency": "high", "summary": "solid claim"}`,
		pipeline.AgentLegal:        `{"viable": true, "complexity": "low", "strategy": "settle", "concerns": []}`,
		pipeline.AgentCommercial:   `{"title": "Engagement", "scope": "full", "next_steps": "sign", "message": "proposal"}`,
		pipeline.AgentCommunicator: "Here is our proposal.",
	}}

	e, err := engine.New(store.NewMemoryStore(), completer, engine.Options{
		Pipeline: pipeline.Options{CallsPerWindow: 1000, Window: time.Second},
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)
	t.Cleanup(func() {
		cancel()
		e.Stop()
	})
	return e
}

func validLead() models.LeadData {
	return models.LeadData{
		Name:    "Ana Souza",
		Email:   "ana@example.com",
		Phone:   "+55 11 98765-4321",
		Message: "I was dismissed without severance after ten years.",
	}
}

func TestProcessLeadValidationCollectsAllViolations(t *testing.T) {
	e := newTestEngine(t)

	lead := models.LeadData{
		Name:    "A",
		Email:   "not-an-email",
		Phone:   "123",
		Message: "short",
	}
	_, err := e.ProcessLead(context.Background(), lead, "carrier-pigeon")

	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Violations) != 5 {
		t.Fatalf("got %d violations, want all 5: %v", len(verr.Violations), verr.Violations)
	}
	for _, want := range []string{"name", "message", "email", "phone", "channel"} {
		found := false
		for _, v := range verr.Violations {
			if strings.Contains(v, want) {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("no violation mentions %q: %v", want, verr.Violations)
		}
	}
}

func TestProcessLeadOptionalContactFields(t *testing.T) {
	e := newTestEngine(t)

	lead := validLead()
	lead.Email = ""
	lead.Phone = ""
	if _, err := e.ProcessLead(context.Background(), lead, models.ChannelChat); err != nil {
		t.Errorf("email and phone are optional: %v", err)
	}
}

func TestProcessLeadDefaultsChannel(t *testing.T) {
	e := newTestEngine(t)

	lead := validLead()
	lead.ID = "lead-chan"
	if _, err := e.ProcessLead(context.Background(), lead, ""); err != nil {
		t.Fatalf("process: %v", err)
	}
	cctx, ok := e.LeadContext("lead-chan")
	if !ok {
		t.Fatal("lead context missing")
	}
	if cctx["channel"] != string(models.ChannelWhatsApp) {
		t.Errorf("channel = %v, want whatsapp default", cctx["channel"])
	}
}

func TestProcessLeadRunsToCompletion(t *testing.T) {
	e := newTestEngine(t)

	lead := validLead()
	lead.ID = "lead-e2e"
	executionID, err := e.ProcessLead(context.Background(), lead, models.ChannelEmail)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if executionID == "" {
		t.Fatal("expected execution ID")
	}

	deadline := time.After(5 * time.Second)
	for {
		cctx, _ := e.LeadContext("lead-e2e")
		if cctx["stage"] == string(models.StageProposalSent) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("lead stuck, context: %v", cctx)
		case <-time.After(10 * time.Millisecond):
		}
	}

	interactions, err := e.Interactions(context.Background(), "default", "lead-e2e", 0)
	if err != nil {
		t.Fatalf("interactions: %v", err)
	}
	if len(interactions) != 1 {
		t.Errorf("got %d interactions, want 1", len(interactions))
	}

	stats := e.Stats()
	if stats.TotalAgents != 5 {
		t.Errorf("TotalAgents = %d, want 5", stats.TotalAgents)
	}
	if stats.MessagesRouted == 0 {
		t.Error("no messages recorded")
	}
	if stats.ContextEntries == 0 {
		t.Error("no context entries recorded")
	}
	if len(e.History(0)) == 0 {
		t.Error("history is empty")
	}
}

func TestReportEventDrivesNegotiation(t *testing.T) {
	e := newTestEngine(t)

	lead := validLead()
	lead.ID = "lead-neg"
	if _, err := e.ProcessLead(context.Background(), lead, models.ChannelChat); err != nil {
		t.Fatalf("process: %v", err)
	}

	waitStage := func(want models.Stage) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			cctx, _ := e.LeadContext("lead-neg")
			if cctx["stage"] == string(want) {
				return
			}
			select {
			case <-deadline:
				t.Fatalf("lead never reached %s, context: %v", want, cctx)
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
	waitStage(models.StageProposalSent)

	if err := e.ReportEvent(context.Background(), "lead-neg", pipeline.EventReplyReceived, nil); err != nil {
		t.Fatalf("report reply: %v", err)
	}
	waitStage(models.StageNegotiation)

	if err := e.ReportEvent(context.Background(), "lead-neg", pipeline.EventDealWon, nil); err != nil {
		t.Fatalf("report win: %v", err)
	}
	waitStage(models.StageClosedWon)
}
