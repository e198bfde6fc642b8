// Package server provides the public entry point for assembling the
// Caselane engine: store, model client, agent pool, retention janitor,
// and the HTTP API.
//
// It lives in pkg/ (not internal/) so embedders can compose the engine
// with their own middleware:
//
//	srv, err := server.New(ctx)
//	srv.Start(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/caselane/caselane/internal/api"
	"github.com/caselane/caselane/internal/config"
	"github.com/caselane/caselane/internal/engine"
	"github.com/caselane/caselane/internal/llm"
	"github.com/caselane/caselane/internal/pipeline"
	"github.com/caselane/caselane/internal/retention"
	"github.com/caselane/caselane/internal/store"
	"github.com/caselane/caselane/internal/telemetry"
)

// Server holds the assembled engine.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Engine is the lead-processing core.
	Engine *engine.Engine

	// Store is the interaction store (in-memory or PostgreSQL).
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush
	// telemetry.
	ShutdownFunc func(context.Context) error

	janitor *retention.Janitor
}

// New assembles the engine from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig assembles the engine with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var dataStore store.Store
	if cfg.Database.URL != "" {
		dataStore, err = store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	} else {
		dataStore = store.NewMemoryStore()
		log.Info().Msg("In-memory store initialized")
	}

	completer := llm.New(llm.Config{
		Kind:     cfg.Model.Provider,
		Endpoint: cfg.Model.Endpoint,
		APIKey:   cfg.Model.APIKey,
		Model:    cfg.Model.Model,
	})

	eng, err := engine.New(dataStore, completer, engine.Options{
		HistoryCap: cfg.Engine.HistoryCap,
		Pipeline: pipeline.Options{
			InboxSize:      cfg.Engine.InboxSize,
			Batch:          int64(cfg.Engine.Batch),
			CallsPerWindow: cfg.Engine.CallsPerMinute,
			CacheTTL:       cfg.Engine.CacheTTL,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}

	janitor := retention.NewJanitor(dataStore, eng.Contexts(), cfg.Retention.Interval)
	janitor.SetContextTTL(cfg.Retention.ContextTTL)
	janitor.SetInteractionRetention(cfg.Retention.InteractionRetention)
	if cfg.Retention.ArchivePath != "" {
		janitor.SetArchiver(retention.NewLocalFileArchiver(cfg.Retention.ArchivePath, cfg.Retention.ArchiveCompress))
	}

	return &Server{
		Handler:      api.NewRouter(cfg, eng),
		Engine:       eng,
		Store:        dataStore,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
		janitor:      janitor,
	}, nil
}

// Start launches the agent pool and the retention janitor.
func (s *Server) Start(ctx context.Context) {
	s.Engine.Start(ctx)
	go s.janitor.Start(ctx)
}

// Stop shuts the agent pool down, waiting for in-flight work.
func (s *Server) Stop() {
	s.Engine.Stop()
}
