// Package agent provides the runtime shared by every specialist: a
// bounded mailbox, a processing loop with a concurrency cap, retrying
// dispatch, and rate-limited model access with response caching.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/caselane/caselane/internal/bus"
	"github.com/caselane/caselane/internal/llm"
)

const (
	// DefaultInboxSize bounds the mailbox. A full mailbox rejects with
	// bus.ErrInboxFull instead of blocking the router.
	DefaultInboxSize = 64

	// DefaultBatch caps messages processed concurrently per agent.
	DefaultBatch = 3

	// DefaultCallsPerWindow and DefaultWindow set the model-call budget.
	DefaultCallsPerWindow = 10
	DefaultWindow         = time.Minute
)

// Handler processes one message on behalf of the agent. Returning an
// error triggers an error report back to the sender when the message
// expects a response.
type Handler func(ctx context.Context, msg bus.Message) error

// Dispatcher is the sending side the agent needs from the router.
type Dispatcher interface {
	Route(msg bus.Message) error
}

// Config describes one agent instance.
type Config struct {
	Name           string
	Specialization string
	Persona        string // system prompt for model calls

	Dispatcher Dispatcher
	Completer  llm.Completer
	Handler    Handler

	InboxSize      int
	Batch          int64
	CallsPerWindow int
	Window         time.Duration
	CacheTTL       time.Duration
}

// Base is the agent runtime. Specialists are built by supplying a
// Handler; Base owns the loop, the budget, and the plumbing.
type Base struct {
	name           string
	specialization string
	persona        string

	dispatcher Dispatcher
	completer  llm.Completer
	handler    Handler

	inbox   chan bus.Message
	batch   *semaphore.Weighted
	limiter *rate.Limiter
	cache   *llm.ResponseCache

	wg     sync.WaitGroup
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds an agent from cfg, filling defaults for unset tunables.
func New(cfg Config) (*Base, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent name is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("agent %s: dispatcher is required", cfg.Name)
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("agent %s: handler is required", cfg.Name)
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = DefaultInboxSize
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultBatch
	}
	if cfg.CallsPerWindow <= 0 {
		cfg.CallsPerWindow = DefaultCallsPerWindow
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	return &Base{
		name:           cfg.Name,
		specialization: cfg.Specialization,
		persona:        cfg.Persona,
		dispatcher:     cfg.Dispatcher,
		completer:      cfg.Completer,
		handler:        cfg.Handler,
		inbox:          make(chan bus.Message, cfg.InboxSize),
		batch:          semaphore.NewWeighted(cfg.Batch),
		limiter:        rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.CallsPerWindow)), 1),
		cache:          llm.NewResponseCache(cfg.CacheTTL, 0),
	}, nil
}

// Name returns the routing key.
func (a *Base) Name() string { return a.name }

// Specialization returns the agent's declared domain.
func (a *Base) Specialization() string { return a.specialization }

// Receive enqueues a message without blocking. Malformed messages are
// dropped silently; a full mailbox returns bus.ErrInboxFull.
func (a *Base) Receive(msg bus.Message) error {
	if err := msg.Validate(); err != nil {
		log.Warn().Err(err).Str("agent", a.name).Msg("Dropping malformed message")
		return nil
	}
	select {
	case a.inbox <- msg:
		return nil
	default:
		return fmt.Errorf("agent %s: %w", a.name, bus.ErrInboxFull)
	}
}

// Start launches the processing loop. Messages are drained in arrival
// order; up to Batch of them run concurrently, each isolated so one
// failure never aborts its neighbors.
func (a *Base) Start(ctx context.Context) {
	a.startOnce.Do(func() {
		ctx, a.cancel = context.WithCancel(ctx)
		a.wg.Add(1)
		go a.run(ctx)
		log.Info().Str("agent", a.name).Str("specialization", a.specialization).Msg("Agent started")
	})
}

// Stop cancels the loop and waits for in-flight work to finish.
func (a *Base) Stop() {
	a.stopOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
		log.Info().Str("agent", a.name).Msg("Agent stopped")
	})
}

func (a *Base) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.inbox:
			if err := a.batch.Acquire(ctx, 1); err != nil {
				return
			}
			a.wg.Add(1)
			go func(msg bus.Message) {
				defer a.wg.Done()
				defer a.batch.Release(1)
				a.process(ctx, msg)
			}(msg)
		}
	}
}

// process runs the handler with panic isolation and, on failure of a
// request message, reports the error back to the sender.
func (a *Base) process(ctx context.Context, msg bus.Message) {
	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()
		err = a.handler(ctx, msg)
	}()
	if err == nil {
		return
	}

	log.Error().
		Err(err).
		Str("agent", a.name).
		Str("message_id", msg.ID).
		Str("type", string(msg.Type)).
		Msg("Message processing failed")

	if !msg.RequiresResponse {
		return
	}
	report := bus.New(a.name, msg.From, bus.TypeErrorReport, map[string]any{
		"original_message_id": msg.ID,
		"original_payload":    msg.Payload,
		"error":               err.Error(),
	}, bus.PriorityHigh)
	if sendErr := a.Send(ctx, report); sendErr != nil {
		log.Error().Err(sendErr).Str("agent", a.name).Msg("Failed to deliver error report")
	}
}

// Send routes a message, retrying full-inbox rejections with
// exponential backoff, up to 3 attempts. Unknown recipients fail
// immediately.
func (a *Base) Send(ctx context.Context, msg bus.Message) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second

	return backoff.Retry(func() error {
		err := a.dispatcher.Route(msg)
		if err == nil {
			return nil
		}
		var unknown *bus.ErrUnknownRecipient
		if errors.As(err, &unknown) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 2), ctx))
}

// Generate produces a model completion for prompt, consulting the
// response cache first. A cache hit spends no rate budget; a miss
// waits for the limiter before calling the provider.
func (a *Base) Generate(ctx context.Context, prompt string, promptCtx map[string]any) (string, error) {
	if a.completer == nil {
		return "", fmt.Errorf("agent %s: no model configured", a.name)
	}

	key := llm.Key(a.name, prompt)
	if text, ok := a.cache.Get(key); ok {
		log.Debug().Str("agent", a.name).Msg("Completion served from cache")
		return text, nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("agent %s: rate wait: %w", a.name, err)
	}

	text, err := a.completer.Complete(ctx, llm.Request{
		Agent:          a.name,
		Specialization: a.specialization,
		System:         a.persona,
		Prompt:         prompt,
		Context:        promptCtx,
	})
	if err != nil {
		return "", fmt.Errorf("agent %s: completion: %w", a.name, err)
	}
	a.cache.Set(key, text)
	return text, nil
}
