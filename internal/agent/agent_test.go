package agent_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/caselane/caselane/internal/agent"
	"github.com/caselane/caselane/internal/bus"
	"github.com/caselane/caselane/internal/llm"
)

// stubDispatcher records routed messages and can fail on demand.
type stubDispatcher struct {
	mu       sync.Mutex
	routed   []bus.Message
	attempts int
	failWith func(attempt int) error
}

func (d *stubDispatcher) Route(msg bus.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if d.failWith != nil {
		if err := d.failWith(d.attempts); err != nil {
			return err
		}
	}
	d.routed = append(d.routed, msg)
	return nil
}

func (d *stubDispatcher) messages() []bus.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bus.Message(nil), d.routed...)
}

// stubCompleter counts provider calls.
type stubCompleter struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (c *stubCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.text, c.err
}

func (c *stubCompleter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func newTestAgent(t *testing.T, cfg agent.Config) *agent.Base {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "qualifier"
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = &stubDispatcher{}
	}
	if cfg.Handler == nil {
		cfg.Handler = func(ctx context.Context, msg bus.Message) error { return nil }
	}
	a, err := agent.New(cfg)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return a
}

func TestProcessesMessages(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]bool)
	done := make(chan struct{}, 3)

	a := newTestAgent(t, agent.Config{
		Handler: func(ctx context.Context, msg bus.Message) error {
			mu.Lock()
			seen[msg.ID] = true
			mu.Unlock()
			done <- struct{}{}
			return nil
		},
	})
	a.Start(context.Background())
	defer a.Stop()

	var ids []string
	for i := 0; i < 3; i++ {
		msg := bus.New("system", "qualifier", bus.TypeTaskRequest, nil, bus.PriorityMedium)
		ids = append(ids, msg.ID)
		if err := a.Receive(msg); err != nil {
			t.Fatalf("receive: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for processing")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("message %s never processed", id)
		}
	}
}

func TestFailureIsolation(t *testing.T) {
	done := make(chan string, 4)
	a := newTestAgent(t, agent.Config{
		Handler: func(ctx context.Context, msg bus.Message) error {
			defer func() { done <- msg.ID }()
			if msg.Payload["boom"] == true {
				return errors.New("handler blew up")
			}
			return nil
		},
	})
	a.Start(context.Background())
	defer a.Stop()

	for i := 0; i < 4; i++ {
		payload := map[string]any{"boom": i == 1}
		msg := bus.New("system", "qualifier", bus.TypeStatusUpdate, payload, bus.PriorityLow)
		if err := a.Receive(msg); err != nil {
			t.Fatalf("receive: %v", err)
		}
	}

	processed := 0
	for processed < 4 {
		select {
		case <-done:
			processed++
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 4 messages processed; one failure must not abort the rest", processed)
		}
	}
}

func TestPanicIsolation(t *testing.T) {
	done := make(chan struct{}, 2)
	a := newTestAgent(t, agent.Config{
		Handler: func(ctx context.Context, msg bus.Message) error {
			defer func() { done <- struct{}{} }()
			if msg.Payload["panic"] == true {
				panic("handler panicked")
			}
			return nil
		},
	})
	a.Start(context.Background())
	defer a.Stop()

	if err := a.Receive(bus.New("system", "qualifier", bus.TypeStatusUpdate,
		map[string]any{"panic": true}, bus.PriorityLow)); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if err := a.Receive(bus.New("system", "qualifier", bus.TypeStatusUpdate, nil, bus.PriorityLow)); err != nil {
		t.Fatalf("receive: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("panic in one handler stalled the loop")
		}
	}
}

func TestErrorReportOnFailedRequest(t *testing.T) {
	dispatcher := &stubDispatcher{}
	a := newTestAgent(t, agent.Config{
		Dispatcher: dispatcher,
		Handler: func(ctx context.Context, msg bus.Message) error {
			return errors.New("cannot qualify")
		},
	})
	a.Start(context.Background())

	msg := bus.New("coordinator", "qualifier", bus.TypeTaskRequest, nil, bus.PriorityHigh)
	if err := a.Receive(msg); err != nil {
		t.Fatalf("receive: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for len(dispatcher.messages()) == 0 {
		select {
		case <-deadline:
			t.Fatal("no error report routed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	a.Stop()

	report := dispatcher.messages()[0]
	if report.Type != bus.TypeErrorReport {
		t.Errorf("type = %s, want error_report", report.Type)
	}
	if report.To != "coordinator" {
		t.Errorf("report addressed to %s, want the original sender", report.To)
	}
	if report.Priority != bus.PriorityHigh {
		t.Errorf("priority = %s, want high", report.Priority)
	}
	if report.Payload["original_message_id"] != msg.ID {
		t.Errorf("report does not reference the failed message")
	}
}

func TestNoErrorReportForFireAndForget(t *testing.T) {
	dispatcher := &stubDispatcher{}
	done := make(chan struct{}, 1)
	a := newTestAgent(t, agent.Config{
		Dispatcher: dispatcher,
		Handler: func(ctx context.Context, msg bus.Message) error {
			defer func() { done <- struct{}{} }()
			return errors.New("failed silently")
		},
	})
	a.Start(context.Background())
	defer a.Stop()

	// status_update does not expect a response.
	if err := a.Receive(bus.New("coordinator", "qualifier", bus.TypeStatusUpdate, nil, bus.PriorityLow)); err != nil {
		t.Fatalf("receive: %v", err)
	}
	<-done
	time.Sleep(50 * time.Millisecond)

	if n := len(dispatcher.messages()); n != 0 {
		t.Errorf("routed %d messages, fire-and-forget failures stay local", n)
	}
}

func TestReceiveFullInbox(t *testing.T) {
	// Not started, so nothing drains the mailbox.
	a := newTestAgent(t, agent.Config{InboxSize: 2})

	for i := 0; i < 2; i++ {
		if err := a.Receive(bus.New("system", "qualifier", bus.TypeDataShare, nil, bus.PriorityLow)); err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
	}
	err := a.Receive(bus.New("system", "qualifier", bus.TypeDataShare, nil, bus.PriorityLow))
	if !errors.Is(err, bus.ErrInboxFull) {
		t.Errorf("expected ErrInboxFull, got %v", err)
	}
}

func TestReceiveDropsMalformed(t *testing.T) {
	a := newTestAgent(t, agent.Config{InboxSize: 1})
	msg := bus.New("system", "qualifier", bus.TypeDataShare, nil, bus.PriorityLow)
	msg.Type = "bogus"
	if err := a.Receive(msg); err != nil {
		t.Errorf("malformed messages are dropped, not errored: %v", err)
	}
	// The mailbox slot is still free.
	if err := a.Receive(bus.New("system", "qualifier", bus.TypeDataShare, nil, bus.PriorityLow)); err != nil {
		t.Errorf("valid message rejected: %v", err)
	}
}

func TestSendRetriesFullInbox(t *testing.T) {
	dispatcher := &stubDispatcher{
		failWith: func(attempt int) error {
			if attempt < 3 {
				return bus.ErrInboxFull
			}
			return nil
		},
	}
	a := newTestAgent(t, agent.Config{Dispatcher: dispatcher})

	msg := bus.New("qualifier", "coordinator", bus.TypeTaskResponse, nil, bus.PriorityMedium)
	if err := a.Send(context.Background(), msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if dispatcher.attempts != 3 {
		t.Errorf("attempts = %d, want 3", dispatcher.attempts)
	}
}

func TestSendUnknownRecipientNoRetry(t *testing.T) {
	dispatcher := &stubDispatcher{
		failWith: func(int) error {
			return &bus.ErrUnknownRecipient{Name: "ghost"}
		},
	}
	a := newTestAgent(t, agent.Config{Dispatcher: dispatcher})

	err := a.Send(context.Background(), bus.New("qualifier", "ghost", bus.TypeTaskResponse, nil, bus.PriorityLow))
	if err == nil {
		t.Fatal("expected error")
	}
	if dispatcher.attempts != 1 {
		t.Errorf("attempts = %d, unknown recipients must not be retried", dispatcher.attempts)
	}
}

func TestGenerateUsesCache(t *testing.T) {
	completer := &stubCompleter{text: "analysis done"}
	a := newTestAgent(t, agent.Config{Completer: completer})

	for i := 0; i < 3; i++ {
		text, err := a.Generate(context.Background(), "analyze lead 42", nil)
		if err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
		if text != "analysis done" {
			t.Errorf("got %q", text)
		}
	}
	if completer.callCount() != 1 {
		t.Errorf("provider called %d times, repeats must hit the cache", completer.callCount())
	}
}

func TestGenerateRateSpacing(t *testing.T) {
	completer := &stubCompleter{text: "ok"}
	a := newTestAgent(t, agent.Config{
		Completer:      completer,
		CallsPerWindow: 2,
		Window:         200 * time.Millisecond,
	})

	start := time.Now()
	for i := 0; i < 3; i++ {
		prompt := fmt.Sprintf("prompt %d", i)
		if _, err := a.Generate(context.Background(), prompt, nil); err != nil {
			t.Fatalf("generate %d: %v", i, err)
		}
	}
	// 2 calls per 200ms means 100ms between calls; three distinct
	// prompts need at least two waits.
	if elapsed := time.Since(start); elapsed < 180*time.Millisecond {
		t.Errorf("3 calls finished in %v, limiter not pacing", elapsed)
	}
	if completer.callCount() != 3 {
		t.Errorf("provider called %d times, want 3", completer.callCount())
	}
}

func TestGenerateErrorNotCached(t *testing.T) {
	completer := &stubCompleter{err: errors.New("provider down")}
	a := newTestAgent(t, agent.Config{
		Completer:      completer,
		CallsPerWindow: 600,
		Window:         time.Minute,
	})

	if _, err := a.Generate(context.Background(), "p", nil); err == nil {
		t.Fatal("expected error")
	}
	completer.mu.Lock()
	completer.err = nil
	completer.text = "recovered"
	completer.mu.Unlock()

	text, err := a.Generate(context.Background(), "p", nil)
	if err != nil {
		t.Fatalf("generate after recovery: %v", err)
	}
	if text != "recovered" {
		t.Errorf("got %q, failures must not poison the cache", text)
	}
	if completer.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", completer.callCount())
	}
}
