package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"eval_harness/internal/cache"
	"eval_harness/internal/config"
	"eval_harness/internal/eval"
	"eval_harness/internal/logging"
	"eval_harness/internal/metrics"
	"eval_harness/internal/pricing"
	"eval_harness/internal/providers"
	"eval_harness/internal/session"
)

// Options wires the engine's collaborators. Registry and Resolver are
// required; everything else degrades gracefully when nil.
type Options struct {
	Registry *providers.Registry
	Resolver *config.Resolver

	// Store is the response cache. Nil disables caching.
	Store cache.Store

	// Pricing computes call costs. Nil leaves every cost unknown.
	Pricing *pricing.Table

	// Sessions is the conversation handle pool. Nil disables sessions.
	Sessions *session.Manager

	Metrics *metrics.Metrics
	Sink    logging.Sink
	Logger  *logging.Logger
}

// Engine runs one evaluation call through parsing, resolution, caching,
// session attachment, the vendor call with retries, and cost computation.
//
// Invoke never returns an error: every failure is classified and carried
// inside the result.
type Engine struct {
	registry *providers.Registry
	resolver *config.Resolver
	store    cache.Store
	pricing  *pricing.Table
	sessions *session.Manager
	metrics  *metrics.Metrics
	sink     logging.Sink
	logger   *logging.Logger

	mu       sync.Mutex
	blocks   map[string]map[string]any
	limiters map[string]*rate.Limiter
	inflight map[string]*inflightCall
}

type inflightCall struct {
	done   chan struct{}
	result *eval.Result
}

// NewEngine builds an engine from options.
func NewEngine(opts Options) *Engine {
	sink := opts.Sink
	if sink == nil {
		sink = logging.NewNoopSink()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger("pipeline")
	}
	return &Engine{
		registry: opts.Registry,
		resolver: opts.Resolver,
		store:    opts.Store,
		pricing:  opts.Pricing,
		sessions: opts.Sessions,
		metrics:  opts.Metrics,
		sink:     sink,
		logger:   logger,
		blocks:   make(map[string]map[string]any),
		limiters: make(map[string]*rate.Limiter),
		inflight: make(map[string]*inflightCall),
	}
}

// SetProviders installs a providers file: vendor aliases are registered
// and per-provider config blocks become resolvable. Safe to call again on
// hot reload; unknown fields in changed blocks take effect on the next call.
func (e *Engine) SetProviders(pf *config.ProvidersFile) error {
	if err := e.registry.ApplyEntries(pf.Providers); err != nil {
		return err
	}
	blocks := make(map[string]map[string]any, len(pf.Providers))
	for _, entry := range pf.Providers {
		blocks[entry.ID] = entry.Config
	}
	e.mu.Lock()
	e.blocks = blocks
	e.mu.Unlock()
	return nil
}

// Invoke runs one evaluation. The returned result carries exactly one of
// Output or Error.
func (e *Engine) Invoke(ctx context.Context, providerID string, req *eval.Request) *eval.Result {
	started := time.Now()

	if err := req.Validate(); err != nil {
		return e.finish(providerID, "", "", "", eval.Failure(eval.NewConfigError("request", "%v", err)), 0, started)
	}

	spec, err := e.registry.Parser().Parse(providerID)
	if err != nil {
		return e.finish(providerID, "", "", "", eval.Failure(eval.NewConfigError("provider", "%v", err)), 0, started)
	}

	eff, cfgErr := e.resolver.Resolve(spec.Vendor, e.blockFor(providerID), req.Overrides)
	if cfgErr != nil {
		return e.finish(providerID, spec.Vendor, string(spec.Mode), spec.Model, eval.Failure(cfgErr), 0, started)
	}

	rendered := req.Rendered()

	// Stateful calls bypass the response cache: serving a multi-turn call
	// from cache would leave the vendor-side conversation unadvanced.
	stateless := req.SessionKey == ""
	key := cache.Key(spec.String(), rendered, eff)

	if e.store != nil && stateless {
		if cached, ok, err := e.store.Get(ctx, key); err == nil && ok {
			hit := cached.Clone()
			hit.Cached = true
			if e.metrics != nil {
				e.metrics.RecordCacheHit()
			}
			return e.finish(providerID, spec.Vendor, string(spec.Mode), spec.Model, hit, 0, started)
		} else if err != nil {
			e.logger.Warn("Cache read failed, calling vendor", "error", err)
		}
		if e.metrics != nil {
			e.metrics.RecordCacheMiss()
		}

		// Two concurrent identical calls share one vendor call: the first
		// becomes the leader, the rest wait for its result.
		leader, call := e.join(key)
		if !leader {
			select {
			case <-call.done:
				follower := call.result.Clone()
				// Failures are shared but never presented as cache hits.
				if follower.Ok() {
					follower.Cached = true
				}
				return e.finish(providerID, spec.Vendor, string(spec.Mode), spec.Model, follower, 0, started)
			case <-ctx.Done():
				return e.finish(providerID, spec.Vendor, string(spec.Mode), spec.Model,
					eval.Failure(classify(ctx.Err())), 0, started)
			}
		}
		result, attempts := e.invokeVendor(ctx, providerID, spec, rendered, eff, key, stateless)
		call.result = result
		e.leave(key, call)
		return e.finish(providerID, spec.Vendor, string(spec.Mode), spec.Model, result, attempts, started)
	}

	result, attempts := e.invokeVendor(ctx, providerID, spec, rendered, eff, key, stateless)
	return e.finish(providerID, spec.Vendor, string(spec.Mode), spec.Model, result, attempts, started)
}

// invokeVendor performs the uncached part of the call: adapter resolution,
// session attachment, pacing and the retry loop.
func (e *Engine) invokeVendor(ctx context.Context, providerID string, spec providers.Spec,
	rendered *eval.Request, eff *config.Effective, key string, stateless bool) (*eval.Result, int) {

	adapter, evalErr := e.registry.Resolve(spec, eff)
	if evalErr != nil {
		return eval.Failure(evalErr), 0
	}

	preq := &providers.Request{
		Spec:     spec,
		Prompt:   rendered.Prompt,
		Messages: rendered.Messages,
		Config:   eff,
	}

	if !stateless && e.sessions != nil {
		handle, release, err := e.attachSession(ctx, providerID, spec, adapter, rendered, eff, preq)
		if err != nil {
			return eval.Failure(classify(err)), 0
		}
		if release != nil {
			defer release()
		}
		preq.Session = handle
		if e.metrics != nil {
			e.metrics.SetActiveSessions(e.sessions.Len())
		}
	}

	if eff.Delay > 0 {
		if err := e.limiterFor(providerID, eff.Delay).Wait(ctx); err != nil {
			return eval.Failure(classify(err)), 0
		}
	}

	maxAttempts := eff.MaxRetries + 1
	var lastErr *eval.Error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, eff.Timeout)
		callStart := time.Now()
		resp, err := adapter.Invoke(callCtx, preq)
		cancel()

		if e.metrics != nil {
			e.metrics.RecordLatency(spec.Vendor, spec.Model, time.Since(callStart).Seconds())
		}

		if err == nil {
			result := e.buildResult(spec, resp)
			if e.store != nil && stateless && result.Ok() {
				if err := e.store.Set(ctx, key, result); err != nil {
					e.logger.Warn("Cache write failed", "error", err)
				}
			}
			return result, attempt
		}

		evalErr := classify(err)
		if !evalErr.Retryable() {
			result := eval.Failure(evalErr)
			if resp != nil && resp.Raw != nil {
				result.SetMeta("raw_payload", resp.Raw)
			}
			return result, attempt
		}

		lastErr = evalErr
		if attempt == maxAttempts {
			break
		}

		if e.metrics != nil {
			e.metrics.RecordRetry(spec.Vendor)
		}
		backoff := eff.BackoffBase << (attempt - 1)
		e.logger.Debug("Retrying after transient failure",
			"provider", providerID, "attempt", attempt, "backoff", backoff, "error", evalErr.Message)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return eval.Failure(classify(ctx.Err())), attempt
		}
	}

	return eval.Failure(eval.NewExhaustedRetriesError(maxAttempts, lastErr)), maxAttempts
}

// attachSession resolves the conversation handle for a stateful call.
// The release func is non-nil only for ephemeral handles.
func (e *Engine) attachSession(ctx context.Context, providerID string, spec providers.Spec,
	adapter providers.Adapter, rendered *eval.Request, eff *config.Effective,
	preq *providers.Request) (*session.Handle, func(), error) {

	factory := func(ctx context.Context) (*session.Handle, error) {
		if opener, ok := adapter.(providers.SessionOpener); ok {
			return opener.OpenSession(ctx, preq)
		}
		return session.NewHandle(spec.Vendor, ""), nil
	}

	poolKey := providerID + "\x00" + rendered.SessionKey

	// Explicit resumption by external ID bypasses the factory entirely.
	if ext, ok := eff.Extra["session_id"].(string); ok && ext != "" {
		return e.sessions.Attach(poolKey, spec.Vendor, ext), nil, nil
	}

	if eff.Persist {
		handle, err := e.sessions.Acquire(ctx, poolKey, factory)
		return handle, nil, err
	}
	return e.sessions.Ephemeral(ctx, factory)
}

// buildResult normalizes a vendor response into a result with cost.
func (e *Engine) buildResult(spec providers.Spec, resp *providers.Response) *eval.Result {
	result := eval.Success(resp.Text, resp.Usage)
	for k, v := range resp.Metadata {
		result.SetMeta(k, v)
	}
	if e.pricing != nil {
		result.CostUSD = e.pricing.CostUSD(spec.Vendor, spec.Model, resp.Usage)
	}
	return result
}

// finish records metrics and the result log entry, then returns the result.
func (e *Engine) finish(providerID, vendor, mode, model string, result *eval.Result, attempts int, started time.Time) *eval.Result {
	outcome := "ok"
	switch {
	case result.Error != nil:
		outcome = string(result.Error.Kind)
	case result.Cached:
		outcome = "cached"
	}
	if e.metrics != nil {
		e.metrics.RecordEval(vendor, model, outcome)
		if result.CostUSD != nil && !result.Cached {
			e.metrics.RecordCost(vendor, model, *result.CostUSD)
		}
	}

	rec := logging.NewResultRecord(providerID, vendor, mode, model, result)
	rec.Attempts = attempts
	rec.LatencyMs = time.Since(started).Milliseconds()
	if err := e.sink.Enqueue(rec); err != nil {
		e.logger.Warn("Failed to enqueue result record", "error", err)
	}
	return result
}

func (e *Engine) blockFor(providerID string) map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocks[providerID]
}

// limiterFor returns the pacing limiter for a provider, rebuilding it when
// the configured delay changes.
func (e *Engine) limiterFor(providerID string, delay time.Duration) *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	limiter, ok := e.limiters[providerID]
	if !ok || limiter.Limit() != rate.Every(delay) {
		limiter = rate.NewLimiter(rate.Every(delay), 1)
		e.limiters[providerID] = limiter
	}
	return limiter
}

// join registers interest in a cache key. The first caller becomes the
// leader and must call leave with its result; followers get false and wait
// on the returned call.
func (e *Engine) join(key string) (bool, *inflightCall) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if call, ok := e.inflight[key]; ok {
		return false, call
	}
	call := &inflightCall{done: make(chan struct{})}
	e.inflight[key] = call
	return true, call
}

func (e *Engine) leave(key string, call *inflightCall) {
	e.mu.Lock()
	delete(e.inflight, key)
	e.mu.Unlock()
	close(call.done)
}
