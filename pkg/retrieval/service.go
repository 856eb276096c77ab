// Package retrieval indexes documents in a vector store and answers
// similarity queries over them.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/barekit/ragchat/pkg/cache"
	"github.com/barekit/ragchat/pkg/chunker"
	"github.com/barekit/ragchat/pkg/document"
	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/metadata"
	"github.com/barekit/ragchat/pkg/trace"
	"github.com/barekit/ragchat/pkg/vectorstore"
)

// Embedder produces vectors for texts. *embedding.Client implements it.
type Embedder interface {
	GetEmbedding(ctx context.Context, text string) ([]float32, error)
	GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Service orchestrates chunking, embedding, storage and document caching.
type Service struct {
	store     vectorstore.Store
	embedder  Embedder
	chunker   *chunker.Chunker
	metadata  *metadata.Manager
	factory   *document.Factory
	validator *document.Validator
	processor *Processor
	cache     *cache.Manager

	maxDistance *float64
	debug       bool
}

// Option configures a Service.
type Option func(*Service)

// WithChunker replaces the default chunker.
func WithChunker(c *chunker.Chunker) Option {
	return func(s *Service) {
		s.chunker = c
	}
}

// WithMetadataManager replaces the default metadata manager.
func WithMetadataManager(m *metadata.Manager) Option {
	return func(s *Service) {
		s.metadata = m
	}
}

// WithFactory replaces the default document factory.
func WithFactory(f *document.Factory) Option {
	return func(s *Service) {
		s.factory = f
	}
}

// WithValidator replaces the default (non-strict) validator.
func WithValidator(v *document.Validator) Option {
	return func(s *Service) {
		s.validator = v
	}
}

// WithCache replaces the default document cache.
func WithCache(c *cache.Manager) Option {
	return func(s *Service) {
		s.cache = c
	}
}

// WithMaxDistance drops search hits farther than d.
func WithMaxDistance(d float64) Option {
	return func(s *Service) {
		s.maxDistance = &d
	}
}

// WithDebug enables per-step debug logging.
func WithDebug(debug bool) Option {
	return func(s *Service) {
		s.debug = debug
	}
}

// NewService creates a Service over store and embedder.
func NewService(store vectorstore.Store, embedder Embedder, opts ...Option) *Service {
	s := &Service{
		store:    store,
		embedder: embedder,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunker == nil {
		s.chunker = chunker.New()
	}
	if s.metadata == nil {
		s.metadata = metadata.NewManager()
	}
	if s.factory == nil {
		s.factory = document.NewFactory()
	}
	if s.validator == nil {
		s.validator = document.NewValidator(false)
	}
	if s.cache == nil {
		s.cache = cache.New()
	}
	s.processor = NewProcessor(s.factory, s.validator)
	return s
}

// Factory returns the document factory used for ingestion.
func (s *Service) Factory() *document.Factory {
	return s.factory
}

// Cache returns the document cache.
func (s *Service) Cache() *cache.Manager {
	return s.cache
}

// AddDocument extracts metadata, chunks, embeds and stores doc. doc.Status
// moves to processing, then completed or failed.
func (s *Service) AddDocument(ctx context.Context, doc *document.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", errdefs.ErrRetrieval)
	}

	err := trace.Run(ctx, "retrieval.add_document", func(ctx context.Context) error {
		return s.addDocument(ctx, doc)
	}, "document_id", doc.ID, "content_length", len(doc.Content))
	if err != nil {
		doc.Status = document.StatusFailed
		return fmt.Errorf("%w: add document %s: %w", errdefs.ErrRetrieval, doc.ID, err)
	}
	return nil
}

func (s *Service) addDocument(ctx context.Context, doc *document.Document) error {
	if err := s.chunker.ValidateDocument(doc.Content); err != nil {
		if errors.Is(err, chunker.ErrTooLong) {
			return err
		}
		// Short documents are kept whole as a single chunk.
		if s.debug {
			slog.Debug("document below minimum chunk size", "document_id", doc.ID, "error", err)
		}
	}
	if err := s.validator.Validate(doc); err != nil {
		return err
	}
	doc.Status = document.StatusProcessing

	extracted := s.metadata.Extract(doc.Content)
	doc.UpdateMetadata(s.metadata.Merge(doc.Metadata, extracted.Map()))
	if len(doc.Topics) == 0 {
		doc.Topics = extracted.Topics
	}
	if err := s.metadata.Validate(doc.Metadata); err != nil {
		slog.Warn("document metadata incomplete", "document_id", doc.ID, "error", err)
	}

	chunks := s.buildChunks(doc)
	if s.debug {
		slog.Debug("document chunked", "document_id", doc.ID, "chunks", len(chunks))
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := s.embedder.GetEmbeddings(ctx, texts)
	if err != nil {
		return err
	}

	doc.Status = document.StatusCompleted
	ids := make([]string, len(chunks))
	metadatas := make([]map[string]any, len(chunks))
	for i, c := range chunks {
		c.Status = document.StatusCompleted
		ids[i] = c.ID
		metadatas[i] = s.factory.RecordMetadata(c)
	}

	if err := s.store.Add(ctx, ids, vectors, texts, metadatas); err != nil {
		return err
	}

	s.cacheStored(doc.ID, ids, texts, metadatas)
	slog.Info("document added", "document_id", doc.ID, "chunks", len(chunks))
	return nil
}

// cacheStored caches the document and its chunks in the form GetDocument
// rebuilds from the store, so a cached and an uncached read agree.
func (s *Service) cacheStored(id string, ids, texts []string, metadatas []map[string]any) {
	raw := vectorstore.NewQueryResult()
	raw.Distances = nil
	for i := range ids {
		s.cache.Put(s.factory.FromRecord(ids[i], texts[i], metadatas[i]))
		raw.IDs[0] = append(raw.IDs[0], ids[i])
		raw.Documents[0] = append(raw.Documents[0], texts[i])
		raw.Metadatas[0] = append(raw.Metadatas[0], metadatas[i])
	}

	doc, err := s.processor.ProcessChunkResults(raw, id)
	if err != nil {
		slog.Warn("stored document not cached", "document_id", id, "error", err)
		return
	}
	s.cache.Put(doc)
}

// buildChunks splits doc and stamps chunk_count on it. A document too short
// to yield any chunk is stored as a single chunk holding its whole content.
func (s *Service) buildChunks(doc *document.Document) []*document.Document {
	parts := s.chunker.Split(doc.Content)
	if len(parts) == 0 {
		parts = []chunker.Chunk{{Text: doc.Content, Start: 0, End: utf8.RuneCountInString(doc.Content)}}
	}

	doc.Metadata[document.KeyChunkCount] = len(parts)
	chunks := make([]*document.Document, len(parts))
	for i, p := range parts {
		chunks[i] = s.factory.CreateChunk(doc, document.ChunkSpec{
			Content: p.Text,
			Index:   i,
			Total:   len(parts),
			Start:   p.Start,
			End:     p.End,
		})
	}
	return chunks
}

// GetDocument returns document id from the cache or by reconstructing it from
// its chunks, and counts the read in its usage count. A chunk id returns that
// chunk. It returns nil without error when the document does not exist.
func (s *Service) GetDocument(ctx context.Context, id string) (*document.Document, error) {
	doc, err := s.lookup(ctx, id)
	if err != nil || doc == nil {
		return doc, err
	}
	s.recordUse(doc)
	return doc, nil
}

// lookup is GetDocument without usage accounting.
func (s *Service) lookup(ctx context.Context, id string) (*document.Document, error) {
	if doc := s.cache.Get(id); doc != nil {
		if s.debug {
			slog.Debug("document cache hit", "document_id", id)
		}
		return doc, nil
	}

	doc, err := trace.Value(ctx, "retrieval.get_document", func(ctx context.Context) (*document.Document, error) {
		raw, err := s.store.Get(ctx, vectorstore.Filter{document.KeyOriginalID: id})
		if err != nil {
			return nil, err
		}
		if raw.Len() > 0 {
			return s.processor.ProcessChunkResults(raw, id)
		}
		return s.chunk(ctx, id)
	}, "document_id", id)
	if err != nil {
		return nil, fmt.Errorf("%w: get document %s: %w", errdefs.ErrRetrieval, id, err)
	}
	if doc != nil {
		s.cache.Put(doc)
	}
	return doc, nil
}

// chunk loads a single chunk record by its id.
func (s *Service) chunk(ctx context.Context, id string) (*document.Document, error) {
	parent, ok := parentID(id)
	if !ok {
		return nil, nil
	}
	raw, err := s.store.Get(ctx, vectorstore.Filter{document.KeyOriginalID: parent})
	if err != nil {
		return nil, err
	}
	for i := 0; i < raw.Len(); i++ {
		if raw.IDs[0][i] == id {
			return s.factory.FromRecord(id, raw.Documents[0][i], raw.Metadatas[0][i]), nil
		}
	}
	return nil, nil
}

// recordUse increments the usage count of doc and of its cache entry. Counts
// live in the cache and restart when the entry expires.
func (s *Service) recordUse(doc *document.Document) {
	if n := s.cache.Touch(doc.ID); n > 0 {
		doc.UsageCount = n
		return
	}
	doc.IncrementUsage()
}

// SearchDocuments returns up to limit chunk documents nearest to query, in
// store order, with search_score and distance in their metadata. An empty
// store or a non-positive limit yields an empty result.
func (s *Service) SearchDocuments(ctx context.Context, query string, limit int, filter vectorstore.Filter) ([]*document.Document, error) {
	docs, err := trace.Value(ctx, "retrieval.search_documents", func(ctx context.Context) ([]*document.Document, error) {
		if limit <= 0 {
			return []*document.Document{}, nil
		}
		count, err := s.store.Count(ctx)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return []*document.Document{}, nil
		}

		vector, err := s.embedder.GetEmbedding(ctx, query)
		if err != nil {
			return nil, err
		}
		raw, err := s.store.Query(ctx, vector, limit, filter)
		if err != nil {
			return nil, err
		}
		return s.processor.ProcessSearchResults(raw, SearchOptions{IncludeScores: true, MaxDistance: s.maxDistance})
	}, "query_length", len(query), "limit", limit)
	if err != nil {
		return nil, fmt.Errorf("%w: search documents: %w", errdefs.ErrRetrieval, err)
	}

	for _, d := range docs {
		s.recordUse(d)
		if d.OriginalDocID != "" {
			s.cache.Touch(d.OriginalDocID)
		}
	}

	if s.debug {
		slog.Debug("search completed", "query_length", len(query), "results", len(docs))
	}
	return docs, nil
}

// DeleteDocument removes every chunk of id and its cache entry. It reports
// false when the document does not exist.
func (s *Service) DeleteDocument(ctx context.Context, id string) (bool, error) {
	doc, err := s.lookup(ctx, id)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}

	ids := chunkIDs(id, 0, chunkCount(doc))
	err = trace.Run(ctx, "retrieval.delete_document", func(ctx context.Context) error {
		return s.store.Delete(ctx, ids)
	}, "document_id", id)
	if err != nil {
		return false, fmt.Errorf("%w: delete document %s: %w", errdefs.ErrRetrieval, id, err)
	}

	s.cache.Remove(id)
	for _, cid := range ids {
		s.cache.Remove(cid)
	}
	slog.Info("document deleted", "document_id", id)
	return true, nil
}

// UpdateDocument replaces document id with doc. The new chunks are written
// first and surplus old chunks are deleted afterwards, so a failed write
// leaves the previous version readable.
func (s *Service) UpdateDocument(ctx context.Context, id string, doc *document.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: nil document", errdefs.ErrRetrieval)
	}

	old, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}

	doc.ID = id
	s.cache.Remove(id)
	if err := s.AddDocument(ctx, doc); err != nil {
		return err
	}

	if old == nil {
		return nil
	}
	oldCount, newCount := chunkCount(old), chunkCount(doc)
	if oldCount <= newCount {
		return nil
	}
	stale := chunkIDs(id, newCount, oldCount)
	if err := s.store.Delete(ctx, stale); err != nil {
		return fmt.Errorf("%w: prune chunks of %s: %w", errdefs.ErrRetrieval, id, err)
	}
	for _, cid := range stale {
		s.cache.Remove(cid)
	}
	if s.debug {
		slog.Debug("stale chunks pruned", "document_id", id, "old_chunks", oldCount, "new_chunks", newCount)
	}
	return nil
}

// GetSimilarDocuments searches with the content of document id and returns up
// to limit hits that do not belong to it. With a threshold, hits scoring
// below it are dropped. It returns an empty result when id does not exist.
func (s *Service) GetSimilarDocuments(ctx context.Context, id string, limit int, threshold *float64) ([]*document.Document, error) {
	ref, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if ref == nil || limit <= 0 {
		return []*document.Document{}, nil
	}

	hits, err := s.SearchDocuments(ctx, ref.Content, limit+1, nil)
	if err != nil {
		return nil, err
	}

	out := make([]*document.Document, 0, limit)
	for _, d := range hits {
		if d.ID == id || d.OriginalDocID == id {
			continue
		}
		if threshold != nil {
			score, ok := metadata.Float(d.Metadata[document.KeySearchScore])
			if !ok || score < *threshold {
				continue
			}
		}
		out = append(out, d)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Close stops the cache sweep and closes the store.
func (s *Service) Close() error {
	s.cache.Close()
	return s.store.Close()
}

func chunkCount(doc *document.Document) int {
	if n, ok := metadata.Int(doc.Metadata[document.KeyChunkCount]); ok && n > 0 {
		return n
	}
	return 1
}

// parentID splits a chunk id into the id of its document.
func parentID(id string) (string, bool) {
	i := strings.LastIndex(id, document.ChunkIDSeparator)
	if i <= 0 {
		return "", false
	}
	if _, err := strconv.Atoi(id[i+len(document.ChunkIDSeparator):]); err != nil {
		return "", false
	}
	return id[:i], true
}

func chunkIDs(id string, from, to int) []string {
	ids := make([]string, 0, max(to-from, 0))
	for i := from; i < to; i++ {
		ids = append(ids, document.ChunkID(id, i))
	}
	return ids
}
