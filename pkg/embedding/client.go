package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/barekit/ragchat/pkg/errdefs"
)

const (
	DefaultBatchSize     = 100
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
)

// Client embeds texts through a Provider with caching, batching and retries.
// Calls are serialized: a second request for an uncached text waits for the
// first and may compute it again if it was evicted in between.
type Client struct {
	provider  Provider
	cache     *Cache
	store     Store
	limiter   *rate.Limiter
	batchSize int
	attempts  int
	delay     time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	debug     bool

	mu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithBatchSize sets the maximum number of texts per provider call.
func WithBatchSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithRetry sets the number of attempts per batch and the base delay. The
// wait before attempt n+1 is delay*(n+1).
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if delay >= 0 {
			c.delay = delay
		}
	}
}

// WithCacheSize sets the in-memory cache capacity.
func WithCacheSize(n int) Option {
	return func(c *Client) {
		c.cache = NewCache(n)
	}
}

// WithRateLimit bounds provider calls to rps per second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
		}
	}
}

// WithStore adds a persistent tier consulted on cache misses and written
// after provider calls.
func WithStore(s Store) Option {
	return func(c *Client) {
		c.store = s
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// WithDebug enables per-call debug logging.
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// NewClient creates a Client for provider.
func NewClient(provider Provider, opts ...Option) *Client {
	c := &Client{
		provider:  provider,
		cache:     NewCache(DefaultCacheSize),
		batchSize: DefaultBatchSize,
		attempts:  DefaultRetryAttempts,
		delay:     DefaultRetryDelay,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetEmbedding embeds a single text.
func (c *Client) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.GetEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// GetEmbeddings returns one vector per text in input order. Cached texts are
// served from the cache; the rest are embedded in batches. If any batch
// fails after all retries the whole call fails.
func (c *Client) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([][]float32, len(texts))
	var missIdx []int
	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			out[i] = v
			continue
		}
		if v := c.fromStore(ctx, text); v != nil {
			c.cache.Put(text, v)
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
	}

	if c.debug {
		slog.Debug("embedding request", "texts", len(texts), "cache_hits", len(texts)-len(missIdx), "misses", len(missIdx))
	}

	for start := 0; start < len(missIdx); start += c.batchSize {
		end := min(start+c.batchSize, len(missIdx))
		batch := make([]string, 0, end-start)
		for _, i := range missIdx[start:end] {
			batch = append(batch, texts[i])
		}

		vecs, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}

		for j, i := range missIdx[start:end] {
			out[i] = vecs[j]
			c.cache.Put(texts[i], vecs[j])
			c.toStore(ctx, texts[i], vecs[j])
		}
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%w: rate limiter: %w", errdefs.ErrProvider, err)
			}
		}

		vecs, err := c.provider.EmbedDocuments(ctx, batch)
		if err == nil && len(vecs) != len(batch) {
			err = fmt.Errorf("provider returned %d embeddings for %d texts", len(vecs), len(batch))
		}
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		slog.Warn("embedding batch failed", "attempt", attempt+1, "max_attempts", c.attempts, "batch_size", len(batch), "error", err)
		if attempt < c.attempts-1 {
			if err := c.sleep(ctx, c.delay*time.Duration(attempt+1)); err != nil {
				return nil, fmt.Errorf("%w: %w", errdefs.ErrProvider, err)
			}
		}
	}
	return nil, fmt.Errorf("%w: embedding failed after %d attempts: %w", errdefs.ErrProvider, c.attempts, lastErr)
}

func (c *Client) fromStore(ctx context.Context, text string) []float32 {
	if c.store == nil {
		return nil
	}
	v, err := c.store.Get(ctx, text)
	if err != nil {
		slog.Warn("embedding store read failed", "error", err)
		return nil
	}
	return v
}

func (c *Client) toStore(ctx context.Context, text string, v []float32) {
	if c.store == nil {
		return
	}
	if err := c.store.Put(ctx, text, v); err != nil {
		slog.Warn("embedding store write failed", "error", err)
	}
}

// CacheLen returns the number of vectors in the in-memory cache.
func (c *Client) CacheLen() int {
	return c.cache.Len()
}

// ClearCache empties the in-memory cache.
func (c *Client) ClearCache() {
	c.cache.Clear()
}

// Close releases the persistent tier, if any.
func (c *Client) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
