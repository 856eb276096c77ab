// Package memory is an in-process vector store using brute-force cosine
// similarity. Nothing is persisted.
package memory

import (
	"context"
	"maps"
	"math"
	"sort"
	"sync"

	"github.com/barekit/ragchat/pkg/vectorstore"
)

var _ vectorstore.Store = (*Store)(nil)

type record struct {
	id       string
	vector   []float32
	norm     float64
	text     string
	metadata map[string]any
	seq      int
}

// Store implements vectorstore.Store in memory.
type Store struct {
	mu      sync.RWMutex
	records map[string]*record
	seq     int
}

// New creates an empty Store.
func New() *Store {
	return &Store{records: make(map[string]*record)}
}

// Add inserts or replaces records.
func (s *Store) Add(_ context.Context, ids []string, vectors [][]float32, texts []string, metadatas []map[string]any) error {
	if err := vectorstore.CheckAdd(ids, vectors, texts, metadatas); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, id := range ids {
		s.put(id, vectors[i], texts[i], metadatas[i])
	}
	return nil
}

func (s *Store) put(id string, vector []float32, text string, md map[string]any) {
	seq := s.seq
	if old, ok := s.records[id]; ok {
		seq = old.seq
	} else {
		s.seq++
	}
	s.records[id] = &record{
		id:       id,
		vector:   append([]float32(nil), vector...),
		norm:     norm(vector),
		text:     text,
		metadata: maps.Clone(md),
		seq:      seq,
	}
}

// Query returns the n records nearest to vector that match filter.
func (s *Store) Query(_ context.Context, vector []float32, n int, filter vectorstore.Filter) (*vectorstore.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type hit struct {
		rec      *record
		distance float64
	}
	qn := norm(vector)
	hits := make([]hit, 0, len(s.records))
	for _, r := range s.records {
		if !vectorstore.Matches(r.metadata, filter) {
			continue
		}
		hits = append(hits, hit{rec: r, distance: 1 - cosine(vector, qn, r.vector, r.norm)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].distance != hits[j].distance {
			return hits[i].distance < hits[j].distance
		}
		return hits[i].rec.seq < hits[j].rec.seq
	})
	if n >= 0 && n < len(hits) {
		hits = hits[:n]
	}

	res := vectorstore.NewQueryResult()
	for _, h := range hits {
		res.Append(h.rec.id, h.rec.text, maps.Clone(h.rec.metadata), h.distance)
	}
	return res, nil
}

// Get returns every record matching filter in insertion order.
func (s *Store) Get(_ context.Context, filter vectorstore.Filter) (*vectorstore.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*record, 0)
	for _, r := range s.records {
		if vectorstore.Matches(r.metadata, filter) {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	res := vectorstore.NewQueryResult()
	for _, r := range matched {
		res.Append(r.id, r.text, maps.Clone(r.metadata), 0)
	}
	res.Distances = nil
	return res, nil
}

// Delete removes ids. Unknown ids are ignored.
func (s *Store) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.records, id)
	}
	return nil
}

// Update replaces a single record.
func (s *Store) Update(_ context.Context, id string, vector []float32, text string, md map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(id, vector, text, md)
	return nil
}

// Count returns the number of records.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, na float64, b []float32, nb float64) float64 {
	if na == 0 || nb == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (na * nb)
}
