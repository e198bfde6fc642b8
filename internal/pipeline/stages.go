// Package pipeline implements the lead journey: the stage machine the
// coordinator drives and the specialist agents that do the work at
// each step.
package pipeline

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/rs/zerolog/log"

	"github.com/caselane/caselane/pkg/models"
)

// Events emitted by agents as they finish their step.
const (
	EventLeadReceived       = "lead_received"
	EventAnalysisComplete   = "analysis_complete"
	EventValidationComplete = "validation_complete"
	EventProposalCreated    = "proposal_created"
	EventProposalSent       = "proposal_sent"
	EventReplyReceived      = "reply_received"
	EventDealWon            = "deal_won"
	EventDealLost           = "deal_lost"
)

// Dispatch names the next agent to run and the task to hand it. A zero
// Dispatch means the transition ends the automated flow.
type Dispatch struct {
	Agent string
	Task  string
}

// Transition is one row of the stage machine. Guard is an expression
// over the event's facts; empty means unconditional. Rows are matched
// in order, first passing guard wins.
type Transition struct {
	From  models.Stage
	Event string
	Guard string
	To    models.Stage
	Next  Dispatch
}

// transitions is the complete stage machine. Every stage change a lead
// can undergo is a row here; nothing advances a lead outside this table.
var transitions = []Transition{
	{From: models.StageNew, Event: EventLeadReceived, To: models.StageAnalyzing,
		Next: Dispatch{Agent: AgentQualifier, Task: TaskAnalyzeLead}},

	{From: models.StageAnalyzing, Event: EventAnalysisComplete, Guard: "qualified == true",
		To: models.StageQualified, Next: Dispatch{Agent: AgentLegal, Task: TaskValidateCase}},
	{From: models.StageAnalyzing, Event: EventAnalysisComplete, Guard: "qualified == false",
		To: models.StageClosedLost},

	{From: models.StageQualified, Event: EventValidationComplete, Guard: "viable == true",
		To: models.StageLegalValidation, Next: Dispatch{Agent: AgentCommercial, Task: TaskCreateProposal}},
	{From: models.StageQualified, Event: EventValidationComplete, Guard: "viable == false",
		To: models.StageClosedLost},

	{From: models.StageLegalValidation, Event: EventProposalCreated, To: models.StageProposalCreated,
		Next: Dispatch{Agent: AgentCommunicator, Task: TaskSendProposal}},

	{From: models.StageProposalCreated, Event: EventProposalSent, To: models.StageProposalSent},

	{From: models.StageProposalSent, Event: EventReplyReceived, To: models.StageNegotiation},
	{From: models.StageNegotiation, Event: EventDealWon, To: models.StageClosedWon},
	{From: models.StageNegotiation, Event: EventDealLost, To: models.StageClosedLost},
}

// ErrNoTransition is returned when the stage machine has no row for the
// stage, event and facts at hand.
type ErrNoTransition struct {
	From  models.Stage
	Event string
}

func (e *ErrNoTransition) Error() string {
	return fmt.Sprintf("no transition from %q on %q", e.From, e.Event)
}

// Next resolves the transition for an event observed at a stage. Guards
// are evaluated against facts; a missing fact fails the guard rather
// than the lookup.
func Next(from models.Stage, event string, facts map[string]any) (models.Stage, Dispatch, error) {
	for _, tr := range transitions {
		if tr.From != from || tr.Event != event {
			continue
		}
		if tr.Guard == "" || evalGuard(tr.Guard, facts) {
			return tr.To, tr.Next, nil
		}
	}
	return "", Dispatch{}, &ErrNoTransition{From: from, Event: event}
}

// evalGuard runs a guard expression against the event's facts. Any
// evaluation failure, including a fact the event never supplied, counts
// as not satisfied.
func evalGuard(guard string, facts map[string]any) bool {
	if facts == nil {
		facts = map[string]any{}
	}
	out, err := expr.Eval(guard, facts)
	if err != nil {
		log.Debug().Err(err).Str("guard", guard).Msg("Guard evaluation failed")
		return false
	}
	ok, isBool := out.(bool)
	return isBool && ok
}

// Terminal reports whether a stage ends the journey.
func Terminal(s models.Stage) bool {
	return s == models.StageClosedWon || s == models.StageClosedLost
}
