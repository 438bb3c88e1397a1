package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eval_harness/internal/cache"
	"eval_harness/internal/config"
	"eval_harness/internal/eval"
	"eval_harness/internal/pricing"
	"eval_harness/internal/providers"
	"eval_harness/internal/session"
)

// fakeAdapter is a scriptable vendor: it fails the first N calls with a
// configured error, then succeeds, and records the handles it saw.
type fakeAdapter struct {
	mu       sync.Mutex
	calls    int
	failures int
	failWith error
	delay    time.Duration
	handles  []*session.Handle
	opened   atomic.Int64
	torn     atomic.Int64
}

func (a *fakeAdapter) Vendor() string          { return "fake" }
func (a *fakeAdapter) Modes() []providers.Mode { return []providers.Mode{providers.ModeChat} }
func (a *fakeAdapter) Close() error            { return nil }

func (a *fakeAdapter) Invoke(ctx context.Context, req *providers.Request) (*providers.Response, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	a.calls++
	call := a.calls
	a.handles = append(a.handles, req.Session)
	a.mu.Unlock()

	if call <= a.failures {
		return nil, a.failWith
	}
	return &providers.Response{
		Text:  "echo: " + req.Prompt,
		Usage: &eval.TokenUsage{Prompt: 10, Completion: 5, Total: 15},
	}, nil
}

func (a *fakeAdapter) OpenSession(ctx context.Context, req *providers.Request) (*session.Handle, error) {
	a.opened.Add(1)
	h := session.NewHandle("fake", "")
	h.Teardown = func(ctx context.Context) error {
		a.torn.Add(1)
		return nil
	}
	return h, nil
}

func (a *fakeAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func newTestEngine(t *testing.T, fake *fakeAdapter, store cache.Store) *Engine {
	t.Helper()
	factory := providers.NewFactory()
	factory.Register("fake", []providers.Mode{providers.ModeChat}, false,
		func(cfg *config.Effective) (providers.Adapter, error) { return fake, nil })
	registry := providers.NewRegistry(factory)
	t.Cleanup(func() { _ = registry.Close() })

	sessions := session.NewManager(4)
	t.Cleanup(func() { _ = sessions.Close() })

	return NewEngine(Options{
		Registry: registry,
		Resolver: &config.Resolver{
			Defaults: config.Defaults{
				Timeout:     5 * time.Second,
				MaxRetries:  2,
				BackoffBase: time.Millisecond,
			},
			RequiresKey: registry.RequiresKey,
			Getenv:      func(string) string { return "" },
		},
		Store:    store,
		Sessions: sessions,
	})
}

func TestEngineInvokeSuccess(t *testing.T) {
	fake := &fakeAdapter{}
	engine := newTestEngine(t, fake, nil)

	result := engine.Invoke(context.Background(), "fake:chat:m1", &eval.Request{Prompt: "hello"})

	require.Nil(t, result.Error)
	assert.Equal(t, "echo: hello", result.Output)
	assert.False(t, result.Cached)
	require.NotNil(t, result.TokenUsage)
	assert.Equal(t, 15, result.TokenUsage.Total)
	assert.Equal(t, 1, fake.callCount())
}

func TestEngineVarExpansion(t *testing.T) {
	fake := &fakeAdapter{}
	engine := newTestEngine(t, fake, nil)

	result := engine.Invoke(context.Background(), "fake:chat:m1", &eval.Request{
		Prompt: "Summarize {{topic}}.",
		Vars:   map[string]string{"topic": "rivers"},
	})
	require.Nil(t, result.Error)
	assert.Equal(t, "echo: Summarize rivers.", result.Output)
}

func TestEngineInvalidRequests(t *testing.T) {
	fake := &fakeAdapter{}
	engine := newTestEngine(t, fake, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		provider string
		req      *eval.Request
	}{
		{"no prompt or messages", "fake:chat:m1", &eval.Request{}},
		{"both prompt and messages", "fake:chat:m1", &eval.Request{
			Prompt:   "p",
			Messages: []eval.Message{{Role: "user", Content: "m"}},
		}},
		{"unknown vendor", "nope:chat:m1", &eval.Request{Prompt: "p"}},
		{"no model", "fake:chat", &eval.Request{Prompt: "p"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := engine.Invoke(ctx, tt.provider, tt.req)
			require.NotNil(t, result.Error)
			assert.Equal(t, eval.KindConfig, result.Error.Kind)
			assert.Empty(t, result.Output)
		})
	}
	assert.Equal(t, 0, fake.callCount(), "invalid requests must not reach the vendor")
}

func TestEngineCacheHit(t *testing.T) {
	fake := &fakeAdapter{}
	store := cache.NewMemoryStore(100, time.Minute)
	defer store.Close()
	engine := newTestEngine(t, fake, store)
	ctx := context.Background()

	req := &eval.Request{Prompt: "cached prompt"}
	first := engine.Invoke(ctx, "fake:chat:m1", req)
	require.Nil(t, first.Error)
	assert.False(t, first.Cached)

	second := engine.Invoke(ctx, "fake:chat:m1", req)
	require.Nil(t, second.Error)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Output, second.Output)
	assert.Equal(t, 1, fake.callCount(), "the second call must be served from cache")

	// A different prompt misses.
	third := engine.Invoke(ctx, "fake:chat:m1", &eval.Request{Prompt: "other"})
	require.Nil(t, third.Error)
	assert.False(t, third.Cached)
	assert.Equal(t, 2, fake.callCount())
}

func TestEngineCacheSkipsFailures(t *testing.T) {
	fake := &fakeAdapter{failures: 1, failWith: &providers.TransportError{StatusCode: 400}}
	store := cache.NewMemoryStore(100, time.Minute)
	defer store.Close()
	engine := newTestEngine(t, fake, store)
	ctx := context.Background()

	req := &eval.Request{Prompt: "flaky"}
	first := engine.Invoke(ctx, "fake:chat:m1", req)
	require.NotNil(t, first.Error)

	// Failures are not cached; the next call reaches the vendor and succeeds.
	second := engine.Invoke(ctx, "fake:chat:m1", req)
	require.Nil(t, second.Error)
	assert.False(t, second.Cached)
	assert.Equal(t, 2, fake.callCount())
}

func TestEngineRetriesThenSucceeds(t *testing.T) {
	fake := &fakeAdapter{failures: 2, failWith: &providers.TransportError{StatusCode: 503}}
	engine := newTestEngine(t, fake, nil)

	result := engine.Invoke(context.Background(), "fake:chat:m1", &eval.Request{Prompt: "p"})

	require.Nil(t, result.Error)
	assert.Equal(t, "echo: p", result.Output)
	assert.Equal(t, 3, fake.callCount())
}

func TestEngineExhaustedRetries(t *testing.T) {
	fake := &fakeAdapter{failures: 100, failWith: &providers.TransportError{StatusCode: 500}}
	engine := newTestEngine(t, fake, nil)

	result := engine.Invoke(context.Background(), "fake:chat:m1", &eval.Request{Prompt: "p"})

	require.NotNil(t, result.Error)
	assert.Equal(t, eval.KindExhaustedRetries, result.Error.Kind)
	assert.Empty(t, result.Output)
	// MaxRetries 2 means 3 attempts total, then give up.
	assert.Equal(t, 3, fake.callCount())
}

func TestEngineFatalErrorsDoNotRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind eval.ErrorKind
	}{
		{"4xx", &providers.TransportError{StatusCode: 400}, eval.KindTransport},
		{"auth", &providers.TransportError{StatusCode: 401}, eval.KindTransport},
		{"bad payload", eval.NewResponseFormatError(nil, "no text in response"), eval.KindResponseFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeAdapter{failures: 100, failWith: tt.err}
			engine := newTestEngine(t, fake, nil)

			result := engine.Invoke(context.Background(), "fake:chat:m1", &eval.Request{Prompt: "p"})

			require.NotNil(t, result.Error)
			assert.Equal(t, tt.kind, result.Error.Kind)
			assert.Equal(t, 1, fake.callCount(), "fatal errors must fail on first sight")
		})
	}
}

func TestEngineTimeout(t *testing.T) {
	fake := &fakeAdapter{delay: 200 * time.Millisecond}
	engine := newTestEngine(t, fake, nil)

	result := engine.Invoke(context.Background(), "fake:chat:m1", &eval.Request{
		Prompt:    "p",
		Overrides: map[string]any{"timeout": 20}, // milliseconds
	})

	require.NotNil(t, result.Error)
	assert.Equal(t, eval.KindTimeout, result.Error.Kind)
	assert.Equal(t, 0, fake.callCount(), "the adapter gave up before completing")
}

func TestEngineRetryOverride(t *testing.T) {
	fake := &fakeAdapter{failures: 100, failWith: &providers.TransportError{StatusCode: 500}}
	engine := newTestEngine(t, fake, nil)

	result := engine.Invoke(context.Background(), "fake:chat:m1", &eval.Request{
		Prompt:    "p",
		Overrides: map[string]any{"max_retries": 0},
	})

	require.NotNil(t, result.Error)
	assert.Equal(t, eval.KindExhaustedRetries, result.Error.Kind)
	assert.Equal(t, 1, fake.callCount())
}

func TestEngineSessionReuse(t *testing.T) {
	fake := &fakeAdapter{}
	store := cache.NewMemoryStore(100, time.Minute)
	defer store.Close()
	engine := newTestEngine(t, fake, store)
	ctx := context.Background()

	req := &eval.Request{
		Prompt:     "same prompt",
		SessionKey: "conv-1",
		Overrides:  map[string]any{"persist": true},
	}

	first := engine.Invoke(ctx, "fake:chat:m1", req)
	require.Nil(t, first.Error)
	second := engine.Invoke(ctx, "fake:chat:m1", req)
	require.Nil(t, second.Error)

	// Stateful calls bypass the cache so the conversation advances.
	assert.False(t, second.Cached)
	assert.Equal(t, 2, fake.callCount())

	// Both calls rode the same conversation handle, opened exactly once.
	require.Len(t, fake.handles, 2)
	assert.Same(t, fake.handles[0], fake.handles[1])
	assert.Equal(t, int64(1), fake.opened.Load())
}

func TestEngineSessionKeysAreIsolated(t *testing.T) {
	fake := &fakeAdapter{}
	engine := newTestEngine(t, fake, nil)
	ctx := context.Background()

	overrides := map[string]any{"persist": true}
	first := engine.Invoke(ctx, "fake:chat:m1", &eval.Request{Prompt: "p", SessionKey: "a", Overrides: overrides})
	require.Nil(t, first.Error)
	second := engine.Invoke(ctx, "fake:chat:m1", &eval.Request{Prompt: "p", SessionKey: "b", Overrides: overrides})
	require.Nil(t, second.Error)

	require.Len(t, fake.handles, 2)
	assert.NotSame(t, fake.handles[0], fake.handles[1])
	assert.Equal(t, int64(2), fake.opened.Load())
}

func TestEngineEphemeralSessions(t *testing.T) {
	fake := &fakeAdapter{}
	engine := newTestEngine(t, fake, nil)
	ctx := context.Background()

	// SessionKey without persist: a fresh handle per call, torn down after.
	req := &eval.Request{Prompt: "p", SessionKey: "one-shot"}
	require.Nil(t, engine.Invoke(ctx, "fake:chat:m1", req).Error)
	require.Nil(t, engine.Invoke(ctx, "fake:chat:m1", req).Error)

	assert.Equal(t, int64(2), fake.opened.Load())
	assert.Equal(t, int64(2), fake.torn.Load())
}

func TestEngineSingleFlight(t *testing.T) {
	fake := &fakeAdapter{delay: 50 * time.Millisecond}
	store := cache.NewMemoryStore(100, time.Minute)
	defer store.Close()
	engine := newTestEngine(t, fake, store)

	const concurrent = 8
	results := make([]*eval.Result, concurrent)
	var wg sync.WaitGroup
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = engine.Invoke(context.Background(), "fake:chat:m1", &eval.Request{Prompt: "dup"})
		}(i)
	}
	wg.Wait()

	// Identical concurrent calls share one vendor call.
	assert.Equal(t, 1, fake.callCount())
	for _, result := range results {
		require.Nil(t, result.Error)
		assert.Equal(t, "echo: dup", result.Output)
	}
}

func TestEngineSingleFlightSharedFailure(t *testing.T) {
	fake := &fakeAdapter{
		failures: 100,
		failWith: &providers.TransportError{StatusCode: 400},
		delay:    50 * time.Millisecond,
	}
	store := cache.NewMemoryStore(100, time.Minute)
	defer store.Close()
	engine := newTestEngine(t, fake, store)

	const concurrent = 4
	results := make([]*eval.Result, concurrent)
	var wg sync.WaitGroup
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = engine.Invoke(context.Background(), "fake:chat:m1", &eval.Request{Prompt: "dup-fail"})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, fake.callCount())
	for _, result := range results {
		require.NotNil(t, result.Error)
		// A shared failure is still a failure, not a cache hit.
		assert.False(t, result.Cached)
	}
}

func TestEngineCostComputation(t *testing.T) {
	fake := &fakeAdapter{}
	table := pricing.NewTable()
	factory := providers.NewFactory()
	factory.Register("fake", []providers.Mode{providers.ModeChat}, false,
		func(cfg *config.Effective) (providers.Adapter, error) { return fake, nil })
	registry := providers.NewRegistry(factory)
	defer registry.Close()

	engine := NewEngine(Options{
		Registry: registry,
		Resolver: &config.Resolver{
			Defaults:    config.DefaultDefaults(),
			RequiresKey: registry.RequiresKey,
			Getenv:      func(string) string { return "" },
		},
		Pricing: table,
	})

	// No pricing entry for the model: cost stays unknown, never zero.
	result := engine.Invoke(context.Background(), "fake:chat:unpriced", &eval.Request{Prompt: "p"})
	require.Nil(t, result.Error)
	assert.Nil(t, result.CostUSD)
}

func TestEngineResultExclusivity(t *testing.T) {
	ok := &fakeAdapter{}
	failing := &fakeAdapter{failures: 100, failWith: &providers.TransportError{StatusCode: 400}}

	for _, fake := range []*fakeAdapter{ok, failing} {
		engine := newTestEngine(t, fake, nil)
		result := engine.Invoke(context.Background(), "fake:chat:m1", &eval.Request{Prompt: "p"})
		if result.Error == nil {
			assert.NotEmpty(t, result.Output)
		} else {
			assert.Empty(t, result.Output)
		}
	}
}
