package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloo-solutions/confidant/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider returns a deterministic vector per text and records every
// batch it receives.
type fakeProvider struct {
	mu      sync.Mutex
	batches [][]string
	calls   int32
	failFor int32 // number of leading calls that fail
	err     error
}

func (p *fakeProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	call := atomic.AddInt32(&p.calls, 1)

	p.mu.Lock()
	batch := make([]string, len(texts))
	copy(batch, texts)
	p.batches = append(p.batches, batch)
	p.mu.Unlock()

	if call <= atomic.LoadInt32(&p.failFor) {
		if p.err != nil {
			return nil, p.err
		}
		return nil, errors.New("provider overloaded")
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t)
	}
	return out, nil
}

func (p *fakeProvider) callCount() int {
	return int(atomic.LoadInt32(&p.calls))
}

func vectorFor(text string) []float32 {
	v := make([]float32, 4)
	for i, r := range text {
		v[i%4] += float32(r)
	}
	return v
}

type fakeCostRecorder struct {
	mu     sync.Mutex
	byOrg  map[string]float64
	tokens map[string]int
}

func newFakeCostRecorder() *fakeCostRecorder {
	return &fakeCostRecorder{byOrg: make(map[string]float64), tokens: make(map[string]int)}
}

func (r *fakeCostRecorder) RecordCost(ctx context.Context, orgID string, tokens int, costUSD float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byOrg[orgID] += costUSD
	r.tokens[orgID] += tokens
	return nil
}

func testConfig() Config {
	return Config{
		ModelVersion:   "test-model-v1",
		MaxBatchSize:   8,
		BatchWindow:    10 * time.Millisecond,
		MaxAttempts:    3,
		CallTimeout:    time.Second,
		CacheSize:      64,
		CostPerKTokens: 0.1,
	}
}

func TestGateway_CacheHitIsBitIdentical(t *testing.T) {
	provider := &fakeProvider{}
	gw := NewGateway(provider, nil, testConfig())
	ctx := context.Background()

	first, err := gw.EmbedQuery(ctx, "org-1", "what is the refund policy")
	require.NoError(t, err)

	second, err := gw.EmbedQuery(ctx, "org-1", "what is the refund policy")
	require.NoError(t, err)

	assert.Equal(t, first, second, "cached vector must be bit-identical")
	assert.Equal(t, 1, provider.callCount(), "second call must be served from cache")
}

func TestGateway_ModelVersionChangesCacheKey(t *testing.T) {
	assert.NotEqual(t,
		ContentHash("model-a", "same text"),
		ContentHash("model-b", "same text"),
	)
}

func TestGateway_PreservesOrderAndTagsAcrossMixedHits(t *testing.T) {
	provider := &fakeProvider{}
	gw := NewGateway(provider, nil, testConfig())
	ctx := context.Background()

	// Warm the cache with one of the three texts.
	_, err := gw.EmbedQuery(ctx, "org-1", "beta")
	require.NoError(t, err)

	items := []Item{
		{Text: "alpha", Citable: true},
		{Text: "beta", Citable: false},
		{Text: "gamma", Citable: true},
	}
	results, err := gw.Embed(ctx, "org-1", items)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, vectorFor("alpha"), results[0].Vector)
	assert.Equal(t, vectorFor("beta"), results[1].Vector)
	assert.Equal(t, vectorFor("gamma"), results[2].Vector)

	assert.True(t, results[0].Citable)
	assert.False(t, results[1].Citable)
	assert.True(t, results[2].Citable)
}

func TestGateway_CoalescesConcurrentRequestsIntoOneBatch(t *testing.T) {
	provider := &fakeProvider{}
	cfg := testConfig()
	cfg.BatchWindow = 50 * time.Millisecond
	gw := NewGateway(provider, nil, cfg)

	texts := []string{"one", "two", "three", "four"}
	var wg sync.WaitGroup
	for _, text := range texts {
		wg.Add(1)
		go func(text string) {
			defer wg.Done()
			_, err := gw.EmbedQuery(context.Background(), "org-1", text)
			assert.NoError(t, err)
		}(text)
	}
	wg.Wait()

	assert.Equal(t, 1, provider.callCount(), "concurrent requests within window should share one provider call")
	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.Len(t, provider.batches[0], 4)
}

func TestGateway_FlushesEarlyAtMaxBatchSize(t *testing.T) {
	provider := &fakeProvider{}
	cfg := testConfig()
	cfg.MaxBatchSize = 2
	cfg.BatchWindow = time.Hour // only the size trigger may flush
	gw := NewGateway(provider, nil, cfg)

	items := []Item{{Text: "a"}, {Text: "b"}}
	done := make(chan error, 1)
	go func() {
		_, err := gw.Embed(context.Background(), "org-1", items)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("batch did not flush at max size")
	}
	assert.Equal(t, 1, provider.callCount())
}

func TestGateway_DeduplicatesInFlightIdenticalContent(t *testing.T) {
	provider := &fakeProvider{}
	cfg := testConfig()
	cfg.BatchWindow = 50 * time.Millisecond
	gw := NewGateway(provider, nil, cfg)

	const callers = 10
	results := make([][]float32, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vec, err := gw.EmbedQuery(context.Background(), "org-1", "identical text")
			assert.NoError(t, err)
			results[i] = vec
		}(i)
	}
	wg.Wait()

	provider.mu.Lock()
	total := 0
	for _, b := range provider.batches {
		total += len(b)
	}
	provider.mu.Unlock()
	assert.Equal(t, 1, total, "only one provider computation per unique content")

	for i := 1; i < callers; i++ {
		assert.Equal(t, results[0], results[i])
	}
}

func TestGateway_RetriesTransientThenSucceeds(t *testing.T) {
	provider := &fakeProvider{failFor: 2}
	gw := NewGateway(provider, nil, testConfig())

	vec, err := gw.EmbedQuery(context.Background(), "org-1", "eventually works")
	require.NoError(t, err)
	assert.Equal(t, vectorFor("eventually works"), vec)
	assert.Equal(t, 3, provider.callCount())
}

func TestGateway_FailsWholeBatchAfterRetriesExhausted(t *testing.T) {
	provider := &fakeProvider{failFor: 100}
	gw := NewGateway(provider, nil, testConfig())

	_, err := gw.Embed(context.Background(), "org-1", []Item{{Text: "a"}, {Text: "b"}})
	require.Error(t, err)

	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeTransientProvider, domainErr.Code)
	assert.Equal(t, 3, provider.callCount(), "bounded attempts")
}

func TestGateway_ValidationErrorNotRetried(t *testing.T) {
	provider := &fakeProvider{
		failFor: 100,
		err:     domain.NewDomainError(domain.ErrCodeValidation, "input too long"),
	}
	gw := NewGateway(provider, nil, testConfig())

	_, err := gw.EmbedQuery(context.Background(), "org-1", "bad input")
	require.Error(t, err)
	assert.Equal(t, 1, provider.callCount(), "validation errors are never retried")
}

func TestGateway_RejectsEmptyText(t *testing.T) {
	gw := NewGateway(&fakeProvider{}, nil, testConfig())

	_, err := gw.Embed(context.Background(), "org-1", []Item{{Text: ""}})
	require.Error(t, err)
	var domainErr *domain.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, domain.ErrCodeValidation, domainErr.Code)
}

func TestGateway_AccruesCostToOwningTenantOnly(t *testing.T) {
	provider := &fakeProvider{}
	cost := newFakeCostRecorder()
	gw := NewGateway(provider, cost, testConfig())
	ctx := context.Background()

	_, err := gw.EmbedQuery(ctx, "org-1", "fresh text accrues cost")
	require.NoError(t, err)

	// Cache hit: provider bypassed, no additional cost.
	_, err = gw.EmbedQuery(ctx, "org-1", "fresh text accrues cost")
	require.NoError(t, err)

	// Cost recording happens off the request path.
	assert.Eventually(t, func() bool {
		cost.mu.Lock()
		defer cost.mu.Unlock()
		return cost.tokens["org-1"] > 0
	}, time.Second, 5*time.Millisecond)

	cost.mu.Lock()
	recorded := cost.tokens["org-1"]
	cost.mu.Unlock()
	assert.Equal(t, EstimateTokens("fresh text accrues cost"), recorded)
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	cache := NewCache(2)

	cache.Put("a", []float32{1})
	cache.Put("b", []float32{2})

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := cache.Get("a")
	require.True(t, ok)

	cache.Put("c", []float32{3})

	_, ok = cache.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = cache.Get("a")
	assert.True(t, ok)
	_, ok = cache.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, cache.Len())
}

func TestCache_CopiesOnGetAndPut(t *testing.T) {
	cache := NewCache(4)
	original := []float32{1, 2, 3}
	cache.Put("k", original)

	original[0] = 99
	got, ok := cache.Get("k")
	require.True(t, ok)
	assert.Equal(t, float32(1), got[0], "mutating the caller's slice must not corrupt the cache")

	got[1] = 99
	again, _ := cache.Get("k")
	assert.Equal(t, float32(2), again[1], "mutating a returned slice must not corrupt the cache")
}
