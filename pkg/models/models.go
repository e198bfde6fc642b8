// Package models defines the shared data types for the Caselane engine:
// leads, pipeline stages, interaction records, and system statistics.
package models

import "time"

// ── Pipeline Stages ─────────────────────────────────────────

// Stage is the lifecycle stage of a lead inside the pipeline.
type Stage string

const (
	StageNew             Stage = "new"
	StageAnalyzing       Stage = "analyzing"
	StageQualified       Stage = "qualified"
	StageLegalValidation Stage = "legal_validation"
	StageProposalCreated Stage = "proposal_created"
	StageProposalSent    Stage = "proposal_sent"
	StageNegotiation     Stage = "negotiation"
	StageClosedWon       Stage = "closed_won"
	StageClosedLost      Stage = "closed_lost"
)

// Valid reports whether s is a known pipeline stage.
func (s Stage) Valid() bool {
	switch s {
	case StageNew, StageAnalyzing, StageQualified, StageLegalValidation,
		StageProposalCreated, StageProposalSent, StageNegotiation,
		StageClosedWon, StageClosedLost:
		return true
	}
	return false
}

// ── Channels ────────────────────────────────────────────────

// Channel identifies where a lead entered the system.
type Channel string

const (
	ChannelWhatsApp   Channel = "whatsapp"
	ChannelEmail      Channel = "email"
	ChannelChat       Channel = "chat"
	ChannelPhone      Channel = "phone"
	ChannelPlayground Channel = "playground"
)

// Valid reports whether c is a supported intake channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelWhatsApp, ChannelEmail, ChannelChat, ChannelPhone, ChannelPlayground:
		return true
	}
	return false
}

// ── Leads ───────────────────────────────────────────────────

// LeadData is the inbound lead payload handed to ProcessLead.
type LeadData struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Email     string         `json:"email,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	Message   string         `json:"message"`
	LegalArea string         `json:"legal_area,omitempty"`
	Source    string         `json:"source,omitempty"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ConversationEntry is one turn of a lead's conversation history.
type ConversationEntry struct {
	Role      string    `json:"role"` // user, assistant, system
	Content   string    `json:"content"`
	AgentName string    `json:"agent_name,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DecisionRecord captures a decision made by an agent for a lead.
type DecisionRecord struct {
	DecisionMaker string    `json:"decision_maker"`
	Decision      string    `json:"decision"`
	Reasoning     string    `json:"reasoning,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ── Interaction Log ─────────────────────────────────────────

// Interaction is a tenant- and lead-scoped record of an outbound
// communication or notable pipeline event, persisted by the store.
type Interaction struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	LeadID    string         `json:"lead_id"`
	Kind      string         `json:"kind"` // message, note, status
	Message   string         `json:"message"`
	Response  string         `json:"response,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ── System Statistics ───────────────────────────────────────

// SystemStats is a read-only snapshot of the engine.
type SystemStats struct {
	TotalAgents     int            `json:"total_agents"`
	MessagesRouted  int64          `json:"messages_routed"`
	ActiveAgents    []string       `json:"active_agents"`
	LastActivity    *time.Time     `json:"last_activity,omitempty"`
	MessageTypes    map[string]int `json:"message_types,omitempty"`
	ErrorRatePct    float64        `json:"error_rate_pct"`
	ContextEntries  int            `json:"context_entries"`
	HistoryRetained int            `json:"history_retained"`
}
