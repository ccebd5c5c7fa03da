package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/cloo-solutions/confidant/internal/domain"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Provider generates embeddings for a batch of texts, preserving order.
type Provider interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// CostRecorder accrues embedding spend against the owning tenant.
type CostRecorder interface {
	RecordCost(ctx context.Context, orgID string, tokens int, costUSD float64) error
}

// Item is one text to embed together with its privacy tag. The tag rides
// along untouched so callers get back the same association they sent in.
type Item struct {
	Text    string
	Citable bool
}

// Result is the embedded vector with the input's privacy tag.
type Result struct {
	Vector  []float32
	Citable bool
}

// Gateway turns text into vectors through a provider, with batch coalescing,
// a content-hash cache, in-flight deduplication, and bounded retry. Cache
// hits bypass the provider entirely and accrue no cost.
type Gateway struct {
	cache *Cache
	co    *coalescer
	group singleflight.Group
	model string
}

// NewGateway wires a Gateway from its parts. cost may be nil (no accrual).
func NewGateway(provider Provider, cost CostRecorder, cfg Config) *Gateway {
	cfg = cfg.withDefaults()
	return &Gateway{
		cache: NewCache(cfg.CacheSize),
		co:    newCoalescer(provider, cost, cfg),
		model: cfg.ModelVersion,
	}
}

// Embed vectorizes items in order. Cached items are served locally; the rest
// join the coalescing queue. Identical in-flight content is deduplicated so
// only one provider computation runs per unique hash. If any fresh item
// fails after retries, the whole call fails explicitly.
func (g *Gateway) Embed(ctx context.Context, orgID string, items []Item) ([]Result, error) {
	if len(items) == 0 {
		return []Result{}, nil
	}

	results := make([]Result, len(items))
	eg, egCtx := errgroup.WithContext(ctx)

	for i, item := range items {
		if item.Text == "" {
			return nil, domain.NewDomainError(domain.ErrCodeValidation, "cannot embed empty text")
		}

		hash := ContentHash(g.model, item.Text)
		if vec, ok := g.cache.Get(hash); ok {
			results[i] = Result{Vector: vec, Citable: item.Citable}
			continue
		}

		i, item, hash := i, item, hash
		eg.Go(func() error {
			vec, err := g.embedOne(egCtx, orgID, hash, item.Text)
			if err != nil {
				return err
			}
			results[i] = Result{Vector: vec, Citable: item.Citable}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// EmbedQuery vectorizes a single query string.
func (g *Gateway) EmbedQuery(ctx context.Context, orgID, text string) ([]float32, error) {
	out, err := g.Embed(ctx, orgID, []Item{{Text: text}})
	if err != nil {
		return nil, err
	}
	return out[0].Vector, nil
}

func (g *Gateway) embedOne(ctx context.Context, orgID, hash, text string) ([]float32, error) {
	v, err, _ := g.group.Do(hash, func() (interface{}, error) {
		done := g.co.submit(orgID, hash, text)
		select {
		case res := <-done:
			if res.err != nil {
				return nil, res.err
			}
			g.cache.Put(hash, res.vector)
			return res.vector, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err != nil {
		return nil, err
	}
	vec, ok := v.([]float32)
	if !ok {
		return nil, errors.New("unexpected singleflight result type")
	}
	return vec, nil
}

// ContentHash keys the cache and dedup map by content plus model version, so
// a model upgrade never serves stale vectors.
func ContentHash(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// EstimateTokens approximates the provider's token count for cost accrual.
// Roughly four bytes per token for English text.
func EstimateTokens(text string) int {
	n := len(text)/4 + 1
	return n
}
