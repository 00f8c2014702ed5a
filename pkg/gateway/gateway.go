package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pantheon-run/pantheon-core/pkg/pantheonerr"
	"github.com/pantheon-run/pantheon-core/pkg/ratelimit"
	"github.com/pantheon-run/pantheon-core/pkg/resilience"
	"github.com/pantheon-run/pantheon-core/pkg/store"
)

// DefaultRateLimitWait and DefaultCallTimeout are the spec's internal
// timeouts for rate-limit acquire and the outbound call respectively.
const (
	DefaultRateLimitWait = 30 * time.Second
	DefaultCallTimeout   = 60 * time.Second
	// historyCap bounds how many prior records are pulled for context.
	historyCap = 100
)

// Recorder is the telemetry sink the gateway records latency/success
// against. Matches telemetry.Recorder's richer surface.
type Recorder interface {
	Record(component string, latency time.Duration, success bool, errClass string)
	IncrCounter(component, name string)
}

type registeredProvider struct {
	descriptor Descriptor
	connector  ProviderConnector
}

// Gateway is the AI Provider Gateway: a registry of connectors sharing
// rate limiting, resilience, telemetry, and persistence.
type Gateway struct {
	mu        sync.RWMutex
	providers map[string]*registeredProvider

	limiter  *ratelimit.Limiter
	breakers *resilience.Breakers
	magic    *resilience.Magic
	store    *store.Store
	recorder Recorder
	log      *slog.Logger

	rateLimitWait time.Duration
	callTimeout   time.Duration
	maxAttempts   int
	baseDelay     time.Duration
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

func WithRateLimitWait(d time.Duration) Option { return func(g *Gateway) { g.rateLimitWait = d } }
func WithCallTimeout(d time.Duration) Option   { return func(g *Gateway) { g.callTimeout = d } }

// WithRetryPolicy overrides the retry.max / retry.base_delay pair from
// the configuration surface. Zero values keep the defaults.
func WithRetryPolicy(maxAttempts int, baseDelay time.Duration) Option {
	return func(g *Gateway) {
		if maxAttempts > 0 {
			g.maxAttempts = maxAttempts
		}
		if baseDelay > 0 {
			g.baseDelay = baseDelay
		}
	}
}

// New constructs a Gateway wired to its four supporting subsystems.
func New(limiter *ratelimit.Limiter, breakers *resilience.Breakers, magic *resilience.Magic, st *store.Store, recorder Recorder, opts ...Option) *Gateway {
	g := &Gateway{
		providers:     make(map[string]*registeredProvider),
		limiter:       limiter,
		breakers:      breakers,
		magic:         magic,
		store:         st,
		recorder:      recorder,
		log:           slog.Default().With("component", "gateway"),
		rateLimitWait: DefaultRateLimitWait,
		callTimeout:   DefaultCallTimeout,
		maxAttempts:   DefaultMaxAttempts,
		baseDelay:     time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register adds a provider connector under descriptor.Name, running its
// Init and recording the resulting availability.
func (g *Gateway) Register(ctx context.Context, descriptor Descriptor, connector ProviderConnector) error {
	err := connector.Init(ctx)
	descriptor.Available = err == nil
	if err != nil {
		g.log.Error("provider init failed", "provider", descriptor.Name, "error", err)
	}

	g.mu.Lock()
	g.providers[descriptor.Name] = &registeredProvider{descriptor: descriptor, connector: connector}
	g.mu.Unlock()
	return err
}

// List returns every registered provider's descriptor.
func (g *Gateway) List() []Descriptor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Descriptor, 0, len(g.providers))
	for _, p := range g.providers {
		out = append(out, p.descriptor)
	}
	return out
}

// ProviderStatus is one provider's slice of the gateway snapshot.
type ProviderStatus struct {
	Descriptor Descriptor
	RateLimit  ratelimit.Stats
}

// Status is a point-in-time snapshot of the whole gateway: every
// registered provider with its rate-limit levels, the provider
// breaker's state, and magic's vitality numbers.
type Status struct {
	Providers    []ProviderStatus
	BreakerState string
	Magic        resilience.Snapshot
}

// Status reports the gateway snapshot from the contract in one call, so
// an external collaborator (dashboard, CLI) never has to reach into the
// limiter, breakers, or magic directly.
func (g *Gateway) Status() Status {
	descriptors := g.List()
	providers := make([]ProviderStatus, 0, len(descriptors))
	for _, d := range descriptors {
		providers = append(providers, ProviderStatus{
			Descriptor: d,
			RateLimit:  g.limiter.Status(d.Name),
		})
	}
	return Status{
		Providers:    providers,
		BreakerState: g.breakers.State(resilience.ComponentProvider),
		Magic:        g.magic.Snapshot(),
	}
}

func (g *Gateway) lookup(name string) (*registeredProvider, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.providers[name]
	return p, ok
}

// Send runs the full 8-step pipeline for one provider exchange:
// admission, rate-limit acquire, shield check, vitality boost, call with
// retry, auto-heal on exception, telemetry, and persistence.
func (g *Gateway) Send(ctx context.Context, content, providerName, conversationID string) (store.Record, error) {
	start := time.Now()

	// 1. Admission.
	provider, ok := g.lookup(providerName)
	if !ok {
		return store.Record{}, pantheonerr.ErrProviderNotFound
	}

	// 2. Rate-limit acquire.
	if !g.limiter.Acquire(ctx, providerName, g.rateLimitWait) {
		return store.Record{}, pantheonerr.ErrRateLimited
	}

	// 3. Shield check — advisory only.
	if g.magic.ShieldRaised() {
		g.log.Info("shield raised during send", "provider", providerName)
		g.incr("shield_raised")
	}

	// 4. Vitality boost.
	baseConfig := map[string]any{"max_tokens": 4096}
	_, adjustedConfig, _ := g.magic.AcornBoost(providerName, baseConfig)

	// History retrieval, chronological order, capped at 100.
	history, err := g.store.Tail(ctx, conversationID, historyCap)
	if err != nil {
		g.log.Warn("history retrieval failed, continuing with empty history", "error", err)
	}
	turns := make([]HistoryTurn, 0, len(history))
	for _, rec := range history {
		turns = append(turns, HistoryTurn{Sender: rec.Sender, Content: rec.Content})
		if rec.Response != "" {
			turns = append(turns, HistoryTurn{Sender: "assistant", Content: rec.Response})
		}
	}

	req := ConversationRequest{Content: content, History: turns, Config: adjustedConfig}

	// The breaker short-circuits the whole send while open; individual
	// retry attempts within one send are not separately run through it —
	// only a send that exhausts its retries feeds the breaker, via
	// auto-heal's explicit RecordFailure below. Otherwise a single flaky
	// send could trip the breaker on its own retry attempts alone.
	if g.breakers.IsOpen(resilience.ComponentProvider) {
		latency := time.Since(start)
		g.record(latency, false, "breaker_open")
		return store.Record{}, pantheonerr.ErrBreakerOpen
	}

	attempt := func() (ConversationReply, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		return provider.connector.Call(callCtx, req)
	}

	// 5. Call with retry (3 attempts, transient-only, 1s/2s delays).
	reply, _, callErr := callWithRetry(ctx, g.maxAttempts, g.baseDelay, attempt)

	// 6. On exception, invoke auto-heal; if it reports success, retry once
	// more regardless of the retry budget already spent.
	if callErr != nil && ctx.Err() == nil {
		errClass := classifyErrorName(callErr)
		if g.magic.AutoHeal(g.breakers, resilience.ComponentProvider, errClass) {
			reply, callErr = postHealRetry(ctx, attempt)
		}
	}

	latency := time.Since(start)

	// Cooperative cancellation: mark the telemetry record cancelled and
	// write nothing to the store — the call's partial state ends here.
	if callErr != nil && ctx.Err() != nil {
		g.record(latency, false, "cancelled")
		return store.Record{}, pantheonerr.ErrCancelled
	}

	record := store.Record{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Timestamp:      time.Now(),
		Sender:         "user",
		Content:        content,
		Provider:       providerName,
		ResponseTime:   latency.Seconds(),
	}

	finalErr := translateFinalError(callErr)
	if finalErr != nil {
		record.Error = finalErr.Error()
		g.record(latency, false, classifyErrorName(finalErr))
	} else {
		record.Response = reply.Text
		if reply.HasUsage {
			record.UsageTokens = reply.UsageTokens
		}
		g.record(latency, true, "")
	}

	// 8. Persist, success or failure alike.
	if err := g.store.Append(ctx, record); err != nil {
		g.log.Error("failed to persist conversation record", "error", err)
	}

	if finalErr != nil {
		return record, finalErr
	}
	return record, nil
}

// Stream is the optional streaming extension from DESIGN NOTES' open
// questions. It applies admission and rate-limiting the same as Send,
// but does not retry or heal mid-stream — a stream error is terminal
// for that call.
func (g *Gateway) Stream(ctx context.Context, content, providerName, conversationID string) (<-chan StreamChunk, <-chan error) {
	errs := make(chan error, 1)

	provider, ok := g.lookup(providerName)
	if !ok {
		errs <- pantheonerr.ErrProviderNotFound
		close(errs)
		return nil, errs
	}

	if !g.limiter.Acquire(ctx, providerName, g.rateLimitWait) {
		errs <- pantheonerr.ErrRateLimited
		close(errs)
		return nil, errs
	}

	history, _ := g.store.Tail(ctx, conversationID, historyCap)
	turns := make([]HistoryTurn, 0, len(history))
	for _, rec := range history {
		turns = append(turns, HistoryTurn{Sender: rec.Sender, Content: rec.Content})
	}

	return provider.connector.Stream(ctx, ConversationRequest{Content: content, History: turns})
}

func (g *Gateway) incr(name string) {
	if g.recorder != nil {
		g.recorder.IncrCounter("gateway", name)
	}
}

func (g *Gateway) record(latency time.Duration, success bool, errClass string) {
	if g.recorder != nil {
		g.recorder.Record("gateway", latency, success, errClass)
	}
}

func classifyErrorName(err error) string {
	if err == nil {
		return ""
	}
	if IsTransient(err) {
		return "transient"
	}
	return "terminal"
}

// translateFinalError maps a post-retry/post-heal error into the
// gateway's public error taxonomy. Malformed-reply and breaker errors
// keep their own kind; everything else collapses into
// ProviderUnavailable, since by this point all retries are spent.
func translateFinalError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pantheonerr.ErrBreakerOpen) || errors.Is(err, pantheonerr.ErrProviderMalformed) {
		return err
	}
	return fmt.Errorf("%w: %v", pantheonerr.ErrProviderUnavailable, err)
}
