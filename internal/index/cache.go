package index

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cloo-solutions/confidant/internal/domain"
)

// CachedSearcher decorates a Searcher with a short-TTL result cache keyed by
// (chatbot, query hash, mode, k). Any mutation to a chatbot's sources must
// invalidate its entries via Invalidate.
type CachedSearcher struct {
	inner Searcher
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cachedResult
	// byChatbot tracks keys per chatbot for O(keys) invalidation.
	byChatbot map[string][]string
}

type cachedResult struct {
	passages  []domain.RetrievedPassage
	expiresAt time.Time
}

func NewCachedSearcher(inner Searcher, ttl time.Duration) *CachedSearcher {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedSearcher{
		inner:     inner,
		ttl:       ttl,
		entries:   make(map[string]cachedResult),
		byChatbot: make(map[string][]string),
	}
}

func (c *CachedSearcher) Search(ctx context.Context, query []float32, orgID, chatbotID string, k int, mode Mode) ([]domain.RetrievedPassage, error) {
	key := cacheKey(query, orgID, chatbotID, k, mode)

	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && time.Now().Before(entry.expiresAt) {
		passages := clonePassages(entry.passages)
		c.mu.Unlock()
		return passages, nil
	}
	c.mu.Unlock()

	passages, err := c.inner.Search(ctx, query, orgID, chatbotID, k, mode)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cachedResult{passages: clonePassages(passages), expiresAt: time.Now().Add(c.ttl)}
	c.byChatbot[chatbotID] = append(c.byChatbot[chatbotID], key)
	c.mu.Unlock()

	return passages, nil
}

// Invalidate drops every cached result for a chatbot. Called on any source
// mutation (add, remove, reclassify).
func (c *CachedSearcher) Invalidate(chatbotID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.byChatbot[chatbotID] {
		delete(c.entries, key)
	}
	delete(c.byChatbot, chatbotID)
}

func cacheKey(query []float32, orgID, chatbotID string, k int, mode Mode) string {
	h := sha256.New()
	var buf [4]byte
	for _, v := range query {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}
	return fmt.Sprintf("%s|%s|%s|%d|%s", orgID, chatbotID, hex.EncodeToString(h.Sum(nil)), k, mode)
}

func clonePassages(in []domain.RetrievedPassage) []domain.RetrievedPassage {
	out := make([]domain.RetrievedPassage, len(in))
	copy(out, in)
	return out
}
