package embedding

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloo-solutions/confidant/internal/domain"
)

// Config tunes the gateway's batching, caching, and retry behavior.
type Config struct {
	ModelVersion   string
	MaxBatchSize   int
	BatchWindow    time.Duration
	MaxAttempts    int
	CallTimeout    time.Duration
	CacheSize      int
	CostPerKTokens float64
}

func (c Config) withDefaults() Config {
	if c.ModelVersion == "" {
		c.ModelVersion = "text-embedding-ada-002"
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 64
	}
	if c.BatchWindow <= 0 {
		c.BatchWindow = 25 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 20 * time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 4096
	}
	return c
}

type batchResult struct {
	vector []float32
	err    error
}

type pendingReq struct {
	orgID string
	hash  string
	text  string
	done  chan batchResult
}

// coalescer merges concurrent embedding requests into provider batches.
// Requests queue up during a debounce window; the queue flushes early when
// it reaches the maximum batch size.
type coalescer struct {
	provider Provider
	cost     CostRecorder
	cfg      Config

	mu    sync.Mutex
	queue []*pendingReq
	timer *time.Timer
}

func newCoalescer(provider Provider, cost CostRecorder, cfg Config) *coalescer {
	return &coalescer{
		provider: provider,
		cost:     cost,
		cfg:      cfg,
	}
}

// submit queues one request and returns a channel that receives its result
// once the batch it joined completes.
func (c *coalescer) submit(orgID, hash, text string) <-chan batchResult {
	req := &pendingReq{orgID: orgID, hash: hash, text: text, done: make(chan batchResult, 1)}

	c.mu.Lock()
	c.queue = append(c.queue, req)

	if len(c.queue) >= c.cfg.MaxBatchSize {
		batch := c.queue
		c.queue = nil
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
		}
		c.mu.Unlock()
		go c.flush(batch)
		return req.done
	}

	if c.timer == nil {
		c.timer = time.AfterFunc(c.cfg.BatchWindow, c.flushWindow)
	}
	c.mu.Unlock()
	return req.done
}

func (c *coalescer) flushWindow() {
	c.mu.Lock()
	batch := c.queue
	c.queue = nil
	c.timer = nil
	c.mu.Unlock()

	if len(batch) > 0 {
		c.flush(batch)
	}
}

// flush calls the provider once for the whole batch and fans results back
// out to the waiting requests in order. A failed batch fails every request
// in it; there are no silent partial drops.
func (c *coalescer) flush(batch []*pendingReq) {
	texts := make([]string, len(batch))
	for i, req := range batch {
		texts[i] = req.text
	}

	vectors, err := c.callWithRetry(texts)
	if err != nil {
		for _, req := range batch {
			req.done <- batchResult{err: err}
		}
		return
	}

	if len(vectors) != len(batch) {
		err := errors.New("provider returned mismatched batch size")
		for _, req := range batch {
			req.done <- batchResult{err: err}
		}
		return
	}

	c.accrueCost(batch)

	for i, req := range batch {
		req.done <- batchResult{vector: vectors[i]}
	}
}

// callWithRetry retries transient provider failures with exponential backoff
// in a bounded loop, then surfaces the last error for the whole batch.
func (c *coalescer) callWithRetry(texts []string) ([][]float32, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.CallTimeout)
		vectors, err := c.provider.GenerateEmbeddings(ctx, texts)
		cancel()

		if err == nil {
			return vectors, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}

		if attempt < c.cfg.MaxAttempts {
			wait := bo.NextBackOff()
			log.Printf("embedding: provider attempt %d/%d failed, retrying in %v: %v",
				attempt, c.cfg.MaxAttempts, wait, err)
			time.Sleep(wait)
		}
	}

	return nil, domain.NewDomainErrorWithCause(domain.ErrCodeTransientProvider,
		"embedding provider failed after retries", lastErr)
}

func (c *coalescer) accrueCost(batch []*pendingReq) {
	if c.cost == nil {
		return
	}

	// One provider call, attributed per request to the owning tenant.
	perOrgTokens := make(map[string]int)
	for _, req := range batch {
		perOrgTokens[req.orgID] += EstimateTokens(req.text)
	}

	for orgID, tokens := range perOrgTokens {
		cost := float64(tokens) / 1000.0 * c.cfg.CostPerKTokens
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := c.cost.RecordCost(ctx, orgID, tokens, cost); err != nil {
			log.Printf("embedding: failed to record cost for org %s: %v", orgID, err)
		}
		cancel()
	}
}

// isRetryable: validation failures are never retried; everything else from
// the provider is treated as transient.
func isRetryable(err error) bool {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code != domain.ErrCodeValidation
	}
	return true
}
