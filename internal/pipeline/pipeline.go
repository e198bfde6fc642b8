package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/caselane/caselane/internal/agent"
	"github.com/caselane/caselane/internal/bus"
	"github.com/caselane/caselane/internal/contextstore"
	"github.com/caselane/caselane/internal/llm"
	"github.com/caselane/caselane/internal/store"
)

// Options tunes the agent pool. Zero values fall back to the agent
// package defaults.
type Options struct {
	InboxSize      int
	Batch          int64
	CallsPerWindow int
	Window         time.Duration
	CacheTTL       time.Duration
}

// Pipeline is the full agent pool wired to one router.
type Pipeline struct {
	Coordinator  *Coordinator
	Qualifier    *Qualifier
	Legal        *Legal
	Commercial   *Commercial
	Communicator *Communicator
}

// New builds the five agents and registers them on the router.
func New(router *bus.Router, contexts *contextstore.Store, st store.Store, completer llm.Completer, opts Options) (*Pipeline, error) {
	base := agent.Config{
		Dispatcher:     router,
		Completer:      completer,
		InboxSize:      opts.InboxSize,
		Batch:          opts.Batch,
		CallsPerWindow: opts.CallsPerWindow,
		Window:         opts.Window,
		CacheTTL:       opts.CacheTTL,
	}

	coordinator, err := NewCoordinator(contexts, base)
	if err != nil {
		return nil, fmt.Errorf("build coordinator: %w", err)
	}
	qualifier, err := NewQualifier(contexts, base)
	if err != nil {
		return nil, fmt.Errorf("build qualifier: %w", err)
	}
	legal, err := NewLegal(contexts, base)
	if err != nil {
		return nil, fmt.Errorf("build legal: %w", err)
	}
	commercial, err := NewCommercial(contexts, base)
	if err != nil {
		return nil, fmt.Errorf("build commercial: %w", err)
	}
	communicator, err := NewCommunicator(contexts, st, base)
	if err != nil {
		return nil, fmt.Errorf("build communicator: %w", err)
	}

	p := &Pipeline{
		Coordinator:  coordinator,
		Qualifier:    qualifier,
		Legal:        legal,
		Commercial:   commercial,
		Communicator: communicator,
	}
	for _, a := range p.agents() {
		if err := router.Register(a); err != nil {
			return nil, fmt.Errorf("register %s: %w", a.Name(), err)
		}
	}
	return p, nil
}

func (p *Pipeline) agents() []*agent.Base {
	return []*agent.Base{
		p.Coordinator.Base(),
		p.Qualifier.Base(),
		p.Legal.Base(),
		p.Commercial.Base(),
		p.Communicator.Base(),
	}
}

// Start launches every agent loop.
func (p *Pipeline) Start(ctx context.Context) {
	for _, a := range p.agents() {
		a.Start(ctx)
	}
}

// Stop shuts the pool down, waiting for in-flight work.
func (p *Pipeline) Stop() {
	for _, a := range p.agents() {
		a.Stop()
	}
}
