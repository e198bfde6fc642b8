// Package bus implements typed message passing between agents: the
// message value itself and the router that delivers it to a named inbox.
package bus

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type categorizes a message exchanged between agents.
type Type string

const (
	TypeTaskRequest      Type = "task_request"
	TypeTaskResponse     Type = "task_response"
	TypeDataShare        Type = "data_share"
	TypeDecisionRequest  Type = "decision_request"
	TypeDecisionResponse Type = "decision_response"
	TypeStatusUpdate     Type = "status_update"
	TypeErrorReport      Type = "error_report"
)

// Valid reports whether t is a known message type.
func (t Type) Valid() bool {
	switch t {
	case TypeTaskRequest, TypeTaskResponse, TypeDataShare, TypeDecisionRequest,
		TypeDecisionResponse, TypeStatusUpdate, TypeErrorReport:
		return true
	}
	return false
}

// IsRequest reports whether t denotes a request kind whose failures
// warrant an error report back to the sender.
func (t Type) IsRequest() bool {
	return t == TypeTaskRequest || t == TypeDecisionRequest
}

// Priority orders messages from low to critical.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Message is one unit of inter-agent communication. It is a value type
// and must not be mutated after construction; the router and inboxes
// always pass copies.
type Message struct {
	ID               string         `json:"id"`
	From             string         `json:"from"`
	To               string         `json:"to"`
	Type             Type           `json:"type"`
	Payload          map[string]any `json:"payload"`
	Timestamp        time.Time      `json:"timestamp"`
	Priority         Priority       `json:"priority"`
	RequiresResponse bool           `json:"requires_response"`
}

// New builds a message with a fresh unique ID and the current timestamp.
// RequiresResponse is derived from the type: request kinds expect one.
func New(from, to string, t Type, payload map[string]any, p Priority) Message {
	return Message{
		ID:               uuid.New().String(),
		From:             from,
		To:               to,
		Type:             t,
		Payload:          payload,
		Timestamp:        time.Now().UTC(),
		Priority:         p,
		RequiresResponse: t.IsRequest(),
	}
}

// Validate checks structural completeness: every required field present
// and both enums within range.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message missing id")
	}
	if m.From == "" {
		return fmt.Errorf("message %s missing sender", m.ID)
	}
	if m.To == "" {
		return fmt.Errorf("message %s missing recipient", m.ID)
	}
	if !m.Type.Valid() {
		return fmt.Errorf("message %s has unknown type %q", m.ID, m.Type)
	}
	if !m.Priority.Valid() {
		return fmt.Errorf("message %s has unknown priority %q", m.ID, m.Priority)
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("message %s missing timestamp", m.ID)
	}
	return nil
}
