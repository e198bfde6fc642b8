// Package store provides the storage interface and implementations for
// lead interaction records. The in-memory store backs tests and
// single-node runs; PostgreSQL backs production.
package store

import (
	"context"
	"time"

	"github.com/caselane/caselane/pkg/models"
)

// Store is the persistence boundary. Engine and agent code depend on
// this interface, making it easy to swap between in-memory (tests) and
// PostgreSQL (production) implementations.
type Store interface {
	// CreateInteraction persists one interaction record.
	CreateInteraction(ctx context.Context, it *models.Interaction) error

	// GetInteraction returns an interaction by ID.
	GetInteraction(ctx context.Context, id string) (*models.Interaction, error)

	// ListInteractions returns a lead's interactions, newest first.
	ListInteractions(ctx context.Context, tenantID, leadID string, limit int) ([]models.Interaction, error)

	// ListInteractionsBefore returns interactions created before cutoff,
	// oldest first, for archival ahead of a purge.
	ListInteractionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Interaction, error)

	// PurgeInteractionsBefore deletes interactions created before cutoff
	// and reports how many were removed.
	PurgeInteractionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping checks if the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}
