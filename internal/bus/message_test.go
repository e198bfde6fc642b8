package bus_test

import (
	"testing"

	"github.com/caselane/caselane/internal/bus"
)

func TestNewMessage(t *testing.T) {
	msg := bus.New("coordinator", "qualifier", bus.TypeTaskRequest,
		map[string]any{"task": "analyze_lead"}, bus.PriorityHigh)

	if msg.ID == "" {
		t.Error("expected generated ID")
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if !msg.RequiresResponse {
		t.Error("task_request should require a response")
	}
	if err := msg.Validate(); err != nil {
		t.Errorf("new message should validate: %v", err)
	}
}

func TestRequiresResponseDerivation(t *testing.T) {
	tests := []struct {
		typ  bus.Type
		want bool
	}{
		{bus.TypeTaskRequest, true},
		{bus.TypeDecisionRequest, true},
		{bus.TypeTaskResponse, false},
		{bus.TypeDecisionResponse, false},
		{bus.TypeDataShare, false},
		{bus.TypeStatusUpdate, false},
		{bus.TypeErrorReport, false},
	}
	for _, tc := range tests {
		msg := bus.New("a", "b", tc.typ, nil, bus.PriorityMedium)
		if msg.RequiresResponse != tc.want {
			t.Errorf("%s: RequiresResponse = %v, want %v", tc.typ, msg.RequiresResponse, tc.want)
		}
	}
}

func TestValidateRejectsIncomplete(t *testing.T) {
	base := func() bus.Message {
		return bus.New("a", "b", bus.TypeDataShare, nil, bus.PriorityLow)
	}

	tests := []struct {
		name   string
		mutate func(*bus.Message)
	}{
		{"missing id", func(m *bus.Message) { m.ID = "" }},
		{"missing sender", func(m *bus.Message) { m.From = "" }},
		{"missing recipient", func(m *bus.Message) { m.To = "" }},
		{"unknown type", func(m *bus.Message) { m.Type = "telepathy" }},
		{"unknown priority", func(m *bus.Message) { m.Priority = "urgent" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := base()
			tc.mutate(&msg)
			if err := msg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
