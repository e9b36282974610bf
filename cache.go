package caravan

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheSize is the default embedding cache capacity.
const DefaultCacheSize = 10_000

// CacheStats is a point-in-time snapshot of embedding cache counters.
type CacheStats struct {
	Size       int   `json:"size"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
	UpstreamMS int64 `json:"upstream_ms"`
}

// EmbeddingCache wraps an EmbeddingProvider with a content-addressed LRU
// cache keyed by the SHA-256 fingerprint of the normalized text.
//
// Concurrent misses on the same key share a single upstream call: the first
// caller becomes the flight holder, later callers wait for its result. A
// failed or cancelled flight leaves no entry behind, so the next call retries
// upstream. No retries are performed here.
//
// EmbeddingCache itself implements EmbeddingProvider, so it composes with
// rate-limit wrappers and the observer like any other provider.
type EmbeddingCache struct {
	upstream EmbeddingProvider
	capacity int

	mu    sync.Mutex
	items map[string]*cacheEntry
	head  *cacheEntry // most recently used
	tail  *cacheEntry // least recently used
	size  int         // completed entries on the LRU list

	stats CacheStats
}

type cacheEntry struct {
	key string
	vec []float32

	// Pending flight: non-nil ready means the value is being computed.
	// Closed when the flight completes; err is set before close on failure.
	// Pending entries are in items but not on the LRU list.
	ready chan struct{}
	err   error

	prev, next *cacheEntry
}

// NewEmbeddingCache creates a cache over upstream with the given capacity.
// A capacity <= 0 falls back to DefaultCacheSize.
func NewEmbeddingCache(upstream EmbeddingProvider, capacity int) *EmbeddingCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &EmbeddingCache{
		upstream: upstream,
		capacity: capacity,
		items:    make(map[string]*cacheEntry),
	}
}

// Name returns the upstream provider name.
func (c *EmbeddingCache) Name() string { return c.upstream.Name() }

// Dimensions returns the upstream embedding vector size.
func (c *EmbeddingCache) Dimensions() int { return c.upstream.Dimensions() }

// EmbedOne returns the embedding for a single text, from cache when warm.
func (c *EmbeddingCache) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	key := Fingerprint(text)

	for {
		c.mu.Lock()
		if e, ok := c.items[key]; ok {
			if e.ready == nil {
				c.moveToFront(e)
				c.stats.Hits++
				vec := e.vec
				c.mu.Unlock()
				return vec, nil
			}
			// Join the in-flight computation.
			ready := e.ready
			c.mu.Unlock()
			select {
			case <-ready:
				if e.err != nil {
					return nil, e.err
				}
				// Flight succeeded; loop back to the hit path.
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		// Miss: become the flight holder.
		e := &cacheEntry{key: key, ready: make(chan struct{})}
		c.items[key] = e
		c.stats.Misses++
		c.mu.Unlock()

		vecs, err := c.embedUpstream(ctx, []string{text})

		c.mu.Lock()
		ready := e.ready
		if err != nil {
			// Do not cache failures: remove the pending entry so the next
			// call retries upstream, then release waiters with the error.
			delete(c.items, key)
			e.err = err
			c.mu.Unlock()
			close(ready)
			return nil, err
		}
		e.vec = vecs[0]
		e.ready = nil
		c.addToFront(e)
		c.size++
		c.evictOver()
		c.mu.Unlock()
		close(ready)
		return e.vec, nil
	}
}

// Embed returns embeddings for texts in input order. Cached entries are
// served locally; the uncached remainder goes upstream in one batch call.
// On upstream failure nothing is cached and the error is returned.
func (c *EmbeddingCache) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	// Partition into cached and uncached. Duplicate uncached texts collapse
	// onto one upstream slot.
	var missTexts []string
	missSlot := map[string]int{} // key -> index into missTexts
	var missKeys []string
	var fill []int // positions in texts to fill from the upstream batch

	c.mu.Lock()
	for i, t := range texts {
		keys[i] = Fingerprint(t)
		if e, ok := c.items[keys[i]]; ok && e.ready == nil {
			c.moveToFront(e)
			c.stats.Hits++
			out[i] = e.vec
			continue
		}
		c.stats.Misses++
		if _, seen := missSlot[keys[i]]; !seen {
			missSlot[keys[i]] = len(missTexts)
			missTexts = append(missTexts, t)
			missKeys = append(missKeys, keys[i])
		}
		fill = append(fill, i)
	}
	c.mu.Unlock()

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.embedUpstream(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for j, key := range missKeys {
		// An entry that appeared meanwhile (completed or in flight) wins;
		// our batch result still serves this call's output below.
		if _, ok := c.items[key]; ok {
			continue
		}
		e := &cacheEntry{key: key, vec: vecs[j]}
		c.items[key] = e
		c.addToFront(e)
		c.size++
	}
	c.evictOver()
	c.mu.Unlock()

	for _, i := range fill {
		out[i] = vecs[missSlot[keys[i]]]
	}
	return out, nil
}

// Stats returns a snapshot of the cache counters.
func (c *EmbeddingCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.size
	return s
}

// embedUpstream calls the upstream provider, validating response shape and
// recording cumulative upstream time.
func (c *EmbeddingCache) embedUpstream(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vecs, err := c.upstream.Embed(ctx, texts)
	elapsed := time.Since(start).Milliseconds()

	c.mu.Lock()
	c.stats.UpstreamMS += elapsed
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, &ErrLLM{Provider: c.upstream.Name(), Message: "embedding count mismatch"}
	}
	want := c.upstream.Dimensions()
	for _, v := range vecs {
		if want > 0 && len(v) != want {
			return nil, &ErrLLM{Provider: c.upstream.Name(), Message: "unexpected embedding dimension"}
		}
	}
	return vecs, nil
}

// --- LRU list (caller holds mu) ---

func (c *EmbeddingCache) moveToFront(e *cacheEntry) {
	if e == c.head {
		return
	}
	c.removeFromList(e)
	c.addToFront(e)
}

func (c *EmbeddingCache) addToFront(e *cacheEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *EmbeddingCache) removeFromList(e *cacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *EmbeddingCache) evictOver() {
	for c.size > c.capacity && c.tail != nil {
		lru := c.tail
		c.removeFromList(lru)
		delete(c.items, lru.key)
		c.size--
		c.stats.Evictions++
	}
}

// compile-time check
var _ EmbeddingProvider = (*EmbeddingCache)(nil)
