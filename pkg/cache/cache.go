// Package cache holds reconstructed documents in front of the vector store.
package cache

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/barekit/ragchat/pkg/document"
)

const (
	DefaultMaxSize         = 1000
	DefaultTTL             = time.Hour
	DefaultCleanupInterval = 5 * time.Minute
)

// Entry wraps a cached document.
type Entry struct {
	Document     *document.Document
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int
	// TTL of zero means the entry never expires.
	TTL time.Duration
}

// Expired reports whether the entry is past its TTL at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.TTL > 0 && now.After(e.CreatedAt.Add(e.TTL))
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	Cleanups  int64   `json:"cleanups"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	HitRatio  float64 `json:"hit_ratio"`
}

// Manager is an LRU cache with per-entry TTL. The front of the list is the
// most recently used entry.
type Manager struct {
	mu      sync.Mutex
	order   *list.List
	entries map[string]*list.Element

	maxSize         int
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	now             func() time.Time

	hits, misses, evictions, cleanups int64

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxSize sets the capacity.
func WithMaxSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxSize = n
		}
	}
}

// WithDefaultTTL sets the TTL used by Put. Zero disables expiry.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl >= 0 {
			m.defaultTTL = ttl
		}
	}
}

// WithCleanupInterval sets how often the background sweep runs.
func WithCleanupInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.cleanupInterval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates a Manager. Call Start to run the periodic sweep.
func New(opts ...Option) *Manager {
	m := &Manager{
		order:           list.New(),
		entries:         make(map[string]*list.Element),
		maxSize:         DefaultMaxSize,
		defaultTTL:      DefaultTTL,
		cleanupInterval: DefaultCleanupInterval,
		now:             time.Now,
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns a copy of the cached document, or nil when it is absent or
// expired. Expired entries are removed on access.
func (m *Manager) Get(id string) *document.Document {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[id]
	if !ok {
		m.misses++
		return nil
	}

	e := el.Value.(*Entry)
	now := m.now()
	if e.Expired(now) {
		m.removeElement(el)
		m.evictions++
		m.misses++
		return nil
	}

	e.LastAccessed = now
	e.AccessCount++
	m.order.MoveToFront(el)
	m.hits++
	return e.Document.Clone()
}

// Touch records one use of the cached document id and returns its new usage
// count. It returns 0 when id is absent or expired. Hit counters and LRU
// order are left alone.
func (m *Manager) Touch(id string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[id]
	if !ok {
		return 0
	}
	e := el.Value.(*Entry)
	if e.Expired(m.now()) {
		return 0
	}
	return e.Document.IncrementUsage()
}

// Put caches doc with the default TTL.
func (m *Manager) Put(doc *document.Document) {
	m.PutWithTTL(doc, m.defaultTTL)
}

// PutWithTTL caches doc, replacing any entry with the same id. Least recently
// used entries are evicted while the cache is full.
func (m *Manager) PutWithTTL(doc *document.Document, ttl time.Duration) {
	if doc == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.entries[doc.ID]; ok {
		m.removeElement(el)
	}

	for m.order.Len() >= m.maxSize {
		oldest := m.order.Back()
		if oldest == nil {
			break
		}
		slog.Debug("document cache eviction", "document_id", oldest.Value.(*Entry).Document.ID)
		m.removeElement(oldest)
		m.evictions++
	}

	now := m.now()
	m.entries[doc.ID] = m.order.PushFront(&Entry{
		Document:     doc.Clone(),
		CreatedAt:    now,
		LastAccessed: now,
		TTL:          max(ttl, 0),
	})
}

// Remove drops id and reports whether it was cached.
func (m *Manager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.entries[id]
	if !ok {
		return false
	}
	m.removeElement(el)
	return true
}

// Cleanup removes every expired entry and returns how many were removed.
func (m *Manager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*Entry).Expired(now) {
			m.removeElement(el)
			removed++
		}
		el = next
	}
	m.evictions += int64(removed)
	m.cleanups++

	if removed > 0 {
		slog.Debug("document cache cleanup", "removed", removed, "size", m.order.Len())
	}
	return removed
}

// Clear drops all entries. Counters are kept.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.order.Init()
	clear(m.entries)
}

// Len returns the number of entries, expired or not.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Stats returns the current counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
		Cleanups:  m.cleanups,
		Size:      m.order.Len(),
		MaxSize:   m.maxSize,
	}
	if total := m.hits + m.misses; total > 0 {
		s.HitRatio = float64(m.hits) / float64(total)
	}
	return s
}

// Start runs Cleanup every cleanup interval until ctx is done or Close is
// called.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.Cleanup()
			}
		}
	}()
}

// Close stops the background sweep and waits for it to exit.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *Manager) removeElement(el *list.Element) {
	m.order.Remove(el)
	delete(m.entries, el.Value.(*Entry).Document.ID)
}
