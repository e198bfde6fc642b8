package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/caselane/caselane/internal/store"
	"github.com/caselane/caselane/pkg/models"
)

func TestCreateAndGetInteraction(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	it := &models.Interaction{
		TenantID: "default",
		LeadID:   "lead-1",
		Kind:     "proposal_sent",
		Message:  "original inquiry",
		Response: "here is our proposal",
	}
	if err := s.CreateInteraction(ctx, it); err != nil {
		t.Fatalf("create: %v", err)
	}
	if it.ID == "" {
		t.Fatal("expected generated ID")
	}
	if it.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be set")
	}

	got, err := s.GetInteraction(ctx, it.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Response != "here is our proposal" {
		t.Errorf("Response = %q", got.Response)
	}

	// Stored copy is isolated from later caller mutation.
	it.Response = "tampered"
	got, _ = s.GetInteraction(ctx, it.ID)
	if got.Response != "here is our proposal" {
		t.Error("store leaked a shared pointer")
	}
}

func TestGetInteractionNotFound(t *testing.T) {
	s := store.NewMemoryStore()
	_, err := s.GetInteraction(context.Background(), "missing")
	var notFound *store.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListInteractions(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		it := &models.Interaction{
			TenantID:  "acme",
			LeadID:    "lead-1",
			Kind:      "status",
			Message:   fmt.Sprintf("turn %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.CreateInteraction(ctx, it); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	// Different lead and different tenant must not leak in.
	s.CreateInteraction(ctx, &models.Interaction{TenantID: "acme", LeadID: "lead-2", Kind: "status"})
	s.CreateInteraction(ctx, &models.Interaction{TenantID: "other", LeadID: "lead-1", Kind: "status"})

	got, err := s.ListInteractions(ctx, "acme", "lead-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d interactions, want 5", len(got))
	}
	if got[0].Message != "turn 4" {
		t.Errorf("first = %q, want newest first", got[0].Message)
	}

	limited, _ := s.ListInteractions(ctx, "acme", "lead-1", 2)
	if len(limited) != 2 || limited[1].Message != "turn 3" {
		t.Errorf("limit 2 returned %v", limited)
	}
}

func TestPurgeInteractionsBefore(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	old := &models.Interaction{TenantID: "t", LeadID: "l", Kind: "status", CreatedAt: base.Add(-48 * time.Hour)}
	fresh := &models.Interaction{TenantID: "t", LeadID: "l", Kind: "status", CreatedAt: base}
	s.CreateInteraction(ctx, old)
	s.CreateInteraction(ctx, fresh)

	purged, err := s.PurgeInteractionsBefore(ctx, base.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged %d, want 1", purged)
	}
	if _, err := s.GetInteraction(ctx, old.ID); err == nil {
		t.Error("old interaction survived purge")
	}
	if _, err := s.GetInteraction(ctx, fresh.ID); err != nil {
		t.Errorf("fresh interaction was purged: %v", err)
	}
}
