package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caselane/caselane/pkg/models"
)

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu           sync.RWMutex
	interactions map[string]*models.Interaction // key: id
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		interactions: make(map[string]*models.Interaction),
	}
}

// CreateInteraction persists one interaction record.
func (m *MemoryStore) CreateInteraction(ctx context.Context, it *models.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	cp := *it
	m.interactions[it.ID] = &cp
	return nil
}

// GetInteraction returns an interaction by ID.
func (m *MemoryStore) GetInteraction(ctx context.Context, id string) (*models.Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.interactions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "interaction", Key: id}
	}
	cp := *it
	return &cp, nil
}

// ListInteractions returns a lead's interactions, newest first.
func (m *MemoryStore) ListInteractions(ctx context.Context, tenantID, leadID string, limit int) ([]models.Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Interaction, 0)
	for _, it := range m.interactions {
		if it.TenantID != tenantID || it.LeadID != leadID {
			continue
		}
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListInteractionsBefore returns interactions created before cutoff,
// oldest first.
func (m *MemoryStore) ListInteractionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Interaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Interaction, 0)
	for _, it := range m.interactions {
		if it.CreatedAt.Before(cutoff) {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PurgeInteractionsBefore deletes interactions created before cutoff.
func (m *MemoryStore) PurgeInteractionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for id, it := range m.interactions {
		if it.CreatedAt.Before(cutoff) {
			delete(m.interactions, id)
			purged++
		}
	}
	return purged, nil
}

// Ping always succeeds for the in-memory store.
func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }
