package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/caselane/caselane/pkg/models"
)

// PostgresStore implements Store on PostgreSQL via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and creates the required
// table if it does not exist.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("postgres store initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS lead_interactions (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			lead_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			message    TEXT NOT NULL DEFAULT '',
			response   TEXT NOT NULL DEFAULT '',
			metadata   JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_lead_interactions_lead ON lead_interactions (tenant_id, lead_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_lead_interactions_created ON lead_interactions (created_at);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// CreateInteraction persists one interaction record.
func (s *PostgresStore) CreateInteraction(ctx context.Context, it *models.Interaction) error {
	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	metadata := it.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO lead_interactions (id, tenant_id, lead_id, kind, message, response, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		it.ID, it.TenantID, it.LeadID, it.Kind, it.Message, it.Response, metadata, it.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

// GetInteraction returns an interaction by ID.
func (s *PostgresStore) GetInteraction(ctx context.Context, id string) (*models.Interaction, error) {
	var it models.Interaction
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, lead_id, kind, message, response, metadata, created_at
		FROM lead_interactions WHERE id = $1`, id).
		Scan(&it.ID, &it.TenantID, &it.LeadID, &it.Kind, &it.Message, &it.Response, &it.Metadata, &it.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "interaction", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get interaction: %w", err)
	}
	return &it, nil
}

// ListInteractions returns a lead's interactions, newest first.
func (s *PostgresStore) ListInteractions(ctx context.Context, tenantID, leadID string, limit int) ([]models.Interaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, lead_id, kind, message, response, metadata, created_at
		FROM lead_interactions
		WHERE tenant_id = $1 AND lead_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, tenantID, leadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	defer rows.Close()

	out := make([]models.Interaction, 0)
	for rows.Next() {
		var it models.Interaction
		if err := rows.Scan(&it.ID, &it.TenantID, &it.LeadID, &it.Kind, &it.Message, &it.Response, &it.Metadata, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListInteractionsBefore returns interactions created before cutoff,
// oldest first.
func (s *PostgresStore) ListInteractionsBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Interaction, error) {
	if limit <= 0 {
		limit = 5000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, lead_id, kind, message, response, metadata, created_at
		FROM lead_interactions
		WHERE created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired interactions: %w", err)
	}
	defer rows.Close()

	out := make([]models.Interaction, 0)
	for rows.Next() {
		var it models.Interaction
		if err := rows.Scan(&it.ID, &it.TenantID, &it.LeadID, &it.Kind, &it.Message, &it.Response, &it.Metadata, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// PurgeInteractionsBefore deletes interactions created before cutoff.
func (s *PostgresStore) PurgeInteractionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM lead_interactions WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge interactions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks database reachability.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
