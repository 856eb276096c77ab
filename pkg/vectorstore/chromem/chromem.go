// Package chromem is a persistent, embedded vector store backed by
// chromem-go. It needs no external service and is the default backend.
package chromem

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/vectorstore"
)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "documents"

var _ vectorstore.Store = (*Store)(nil)

// Store implements vectorstore.Store on a chromem collection.
type Store struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	dimension  int
}

// New opens the database at path, or an in-memory database when path is
// empty. dimension is the embedding size; it is needed to enumerate records
// by metadata.
func New(path, collection string, dimension int) (*Store, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: invalid dimension %d", errdefs.ErrValidation, dimension)
	}

	var (
		db  *chromem.DB
		err error
	)
	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, true)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open chromem database: %w", errdefs.ErrStorage, err)
		}
	}

	// Embeddings are always supplied by the caller, so no embedding func.
	col, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create collection: %w", errdefs.ErrStorage, err)
	}

	slog.Info("chromem vector store ready", "path", path, "collection", collection, "documents", col.Count())
	return &Store{db: db, collection: col, dimension: dimension}, nil
}

// Add upserts records.
func (s *Store) Add(ctx context.Context, ids []string, vectors [][]float32, texts []string, metadatas []map[string]any) error {
	if err := vectorstore.CheckAdd(ids, vectors, texts, metadatas); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		docs[i] = chromem.Document{
			ID:        id,
			Content:   texts[i],
			Metadata:  vectorstore.StringMap(metadatas[i]),
			Embedding: append([]float32(nil), vectors[i]...),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("%w: failed to add documents: %w", errdefs.ErrStorage, err)
	}
	return nil
}

// Query returns up to n records nearest to vector.
func (s *Store) Query(ctx context.Context, vector []float32, n int, filter vectorstore.Filter) (*vectorstore.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.query(ctx, vector, n, filter)
}

func (s *Store) query(ctx context.Context, vector []float32, n int, filter vectorstore.Filter) (*vectorstore.QueryResult, error) {
	res := vectorstore.NewQueryResult()

	// chromem rejects n larger than the collection.
	n = min(n, s.collection.Count())
	if n <= 0 {
		return res, nil
	}

	hits, err := s.collection.QueryEmbedding(ctx, vector, n, vectorstore.StringMap(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query failed: %w", errdefs.ErrStorage, err)
	}
	for _, h := range hits {
		res.Append(h.ID, h.Content, toAny(h.Metadata), 1-float64(h.Similarity))
	}
	return res, nil
}

// Get returns every record matching filter. chromem has no metadata scan,
// so this runs an unranked query over the whole collection.
func (s *Store) Get(ctx context.Context, filter vectorstore.Filter) (*vectorstore.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, err := s.query(ctx, s.scanVector(), s.collection.Count(), filter)
	if err != nil {
		return nil, err
	}
	res.Distances = nil
	return res, nil
}

func (s *Store) scanVector() []float32 {
	v := make([]float32, s.dimension)
	x := float32(1 / math.Sqrt(float64(s.dimension)))
	for i := range v {
		v[i] = x
	}
	return v
}

// Delete removes ids.
func (s *Store) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("%w: failed to delete documents: %w", errdefs.ErrStorage, err)
	}
	return nil
}

// Update replaces a single record.
func (s *Store) Update(ctx context.Context, id string, vector []float32, text string, md map[string]any) error {
	return s.Add(ctx, []string{id}, [][]float32{vector}, []string{text}, []map[string]any{md})
}

// Count returns the number of records.
func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count(), nil
}

// Close is a no-op: the persistent database writes through on every change.
func (s *Store) Close() error { return nil }

func toAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
