package pipeline

import (
	"errors"
	"testing"

	"github.com/caselane/caselane/pkg/models"
)

func TestNextTransitions(t *testing.T) {
	tests := []struct {
		name      string
		from      models.Stage
		event     string
		facts     map[string]any
		wantStage models.Stage
		wantAgent string
	}{
		{"intake", models.StageNew, EventLeadReceived, nil, models.StageAnalyzing, AgentQualifier},
		{"qualified", models.StageAnalyzing, EventAnalysisComplete, map[string]any{"qualified": true}, models.StageQualified, AgentLegal},
		{"disqualified", models.StageAnalyzing, EventAnalysisComplete, map[string]any{"qualified": false}, models.StageClosedLost, ""},
		{"viable", models.StageQualified, EventValidationComplete, map[string]any{"viable": true}, models.StageLegalValidation, AgentCommercial},
		{"not viable", models.StageQualified, EventValidationComplete, map[string]any{"viable": false}, models.StageClosedLost, ""},
		{"proposal drafted", models.StageLegalValidation, EventProposalCreated, nil, models.StageProposalCreated, AgentCommunicator},
		{"proposal delivered", models.StageProposalCreated, EventProposalSent, nil, models.StageProposalSent, ""},
		{"client replied", models.StageProposalSent, EventReplyReceived, nil, models.StageNegotiation, ""},
		{"won", models.StageNegotiation, EventDealWon, nil, models.StageClosedWon, ""},
		{"lost", models.StageNegotiation, EventDealLost, nil, models.StageClosedLost, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stage, dispatch, err := Next(tc.from, tc.event, tc.facts)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if stage != tc.wantStage {
				t.Errorf("stage = %s, want %s", stage, tc.wantStage)
			}
			if dispatch.Agent != tc.wantAgent {
				t.Errorf("dispatch agent = %q, want %q", dispatch.Agent, tc.wantAgent)
			}
		})
	}
}

func TestNextNoTransition(t *testing.T) {
	tests := []struct {
		name  string
		from  models.Stage
		event string
		facts map[string]any
	}{
		{"event out of order", models.StageNew, EventProposalSent, nil},
		{"terminal stage", models.StageClosedWon, EventLeadReceived, nil},
		{"guard without fact", models.StageAnalyzing, EventAnalysisComplete, nil},
		{"unknown event", models.StageQualified, "coffee_break", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Next(tc.from, tc.event, tc.facts)
			var noTr *ErrNoTransition
			if !errors.As(err, &noTr) {
				t.Fatalf("expected ErrNoTransition, got %v", err)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	if !Terminal(models.StageClosedWon) || !Terminal(models.StageClosedLost) {
		t.Error("closed stages are terminal")
	}
	if Terminal(models.StageNegotiation) {
		t.Error("negotiation is not terminal")
	}
}

func TestDecodeModelJSON(t *testing.T) {
	var p plan
	fenced := "```json\n{\"next_agent\": \"qualifier\", \"reason\": \"new lead\", \"task\": \"analyze_lead\"}\n```"
	if err := decodeModelJSON(fenced, &p); err != nil {
		t.Fatalf("decode fenced: %v", err)
	}
	if p.NextAgent != "qualifier" || p.Task != "analyze_lead" {
		t.Errorf("parsed %+v", p)
	}

	if err := decodeModelJSON("the lead looks viable to me", &p); err == nil {
		t.Error("prose must not decode")
	}
}
