package retrieval

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barekit/ragchat/pkg/cache"
	"github.com/barekit/ragchat/pkg/chunker"
	"github.com/barekit/ragchat/pkg/document"
	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/metadata"
	"github.com/barekit/ragchat/pkg/vectorstore"
	"github.com/barekit/ragchat/pkg/vectorstore/memory"
)

type fixture struct {
	svc      *Service
	store    *memory.Store
	embedder *wordEmbedder
	factory  *document.Factory
}

func newFixture(opts ...Option) *fixture {
	store := memory.New()
	emb := &wordEmbedder{}
	f := document.NewFactory(document.WithFactoryClock(fixedNow))
	opts = append([]Option{
		WithFactory(f),
		WithChunker(chunker.New(chunker.WithChunkSize(1000), chunker.WithOverlap(200), chunker.WithMinChunkSize(100))),
	}, opts...)
	return &fixture{
		svc:      NewService(store, emb, opts...),
		store:    store,
		embedder: emb,
		factory:  f,
	}
}

func (fx *fixture) chunkRecords(t *testing.T, id string) *vectorstore.QueryResult {
	t.Helper()
	raw, err := fx.store.Get(context.Background(), vectorstore.Filter{document.KeyOriginalID: id})
	require.NoError(t, err)
	return raw
}

func TestAddDocument_ChunksIngestedDocument(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	content := longText("die Wartung des Motors", 3000)
	doc := newDoc(fx.factory, "handbuch", "Werkstatthandbuch", content)
	require.NoError(t, fx.svc.AddDocument(ctx, doc))

	assert.Equal(t, document.StatusCompleted, doc.Status)

	raw := fx.chunkRecords(t, "handbuch")
	n := raw.Len()
	require.GreaterOrEqual(t, n, 3)
	assert.Equal(t, n, doc.Metadata[document.KeyChunkCount])

	seen := make(map[int]bool, n)
	for i, id := range raw.IDs[0] {
		md := raw.Metadatas[0][i]
		idx, ok := metadata.Int(md[document.KeyChunkIndex])
		require.True(t, ok)
		total, ok := metadata.Int(md[document.KeyTotalChunks])
		require.True(t, ok)

		assert.Equal(t, n, total)
		assert.Equal(t, fmt.Sprintf("handbuch_chunk_%d", idx), id)
		assert.Equal(t, "completed", md[document.KeyStatus])
		assert.LessOrEqual(t, len([]rune(raw.Documents[0][i])), 1000)
		seen[idx] = true
	}
	for i := 0; i < n; i++ {
		assert.True(t, seen[i], "chunk %d missing", i)
	}

	// Extracted metadata was merged before storage.
	assert.Contains(t, doc.Metadata, metadata.KeyKeywords)
	assert.Contains(t, doc.Topics, "wartung")
}

func TestAddDocument_ShortDocumentStoredAsSingleChunk(t *testing.T) {
	fx := newFixture()
	doc := newDoc(fx.factory, "kurz", "Kurze Notiz", "Nur ein kurzer Satz.")
	require.NoError(t, fx.svc.AddDocument(context.Background(), doc))

	raw := fx.chunkRecords(t, "kurz")
	require.Equal(t, 1, raw.Len())
	assert.Equal(t, "kurz_chunk_0", raw.IDs[0][0])
}

func TestAddDocument_RejectsOversizedDocument(t *testing.T) {
	fx := newFixture()
	doc := newDoc(fx.factory, "gross", "Zu groß", strings.Repeat("a", chunker.MaxDocumentLength+1))

	err := fx.svc.AddDocument(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrValidation)
	assert.ErrorIs(t, err, chunker.ErrTooLong)
	assert.Equal(t, document.StatusFailed, doc.Status)
	assert.Zero(t, fx.embedder.calls)
}

func TestAddDocument_InvalidDocument(t *testing.T) {
	fx := newFixture()
	doc := newDoc(fx.factory, "bad", "Titel", "Ausreichend langer Inhalt")
	doc.SourceLink = "ftp://example.org"

	err := fx.svc.AddDocument(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrRetrieval)
	assert.ErrorIs(t, err, errdefs.ErrValidation)
	assert.Equal(t, document.StatusFailed, doc.Status)
	assert.Zero(t, fx.embedder.calls)
}

func TestAddDocument_EmbeddingFailure(t *testing.T) {
	fx := newFixture()
	fx.embedder.err = errEmbedDown

	doc := newDoc(fx.factory, "doc", "Dokument", longText("Bremsen", 500))
	err := fx.svc.AddDocument(context.Background(), doc)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrProvider)
	assert.Equal(t, document.StatusFailed, doc.Status)

	n, _ := fx.store.Count(context.Background())
	assert.Zero(t, n)
	assert.Nil(t, fx.svc.Cache().Get("doc"))
}

func TestGetDocument_ReconstructsOnCacheMiss(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	content := longText("die Prüfung der Bremsanlage", 2500)
	doc := newDoc(fx.factory, "bremsen", "Bremsenhandbuch", content)
	require.NoError(t, fx.svc.AddDocument(ctx, doc))

	cached, err := fx.svc.GetDocument(ctx, "bremsen")
	require.NoError(t, err)
	assert.Equal(t, strings.Fields(content), strings.Fields(cached.Content))

	fx.svc.Cache().Clear()
	got, err := fx.svc.GetDocument(ctx, "bremsen")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Bremsenhandbuch", got.Title)
	assert.Equal(t, cached.Content, got.Content)
	assert.Equal(t, cached.Title, got.Title)
	assert.Equal(t, cached.Metadata, got.Metadata)
	assert.Equal(t, "fahrzeug", got.Category)
	assert.False(t, got.IsChunk())

	// The rebuilt document is cached again.
	assert.Equal(t, 1, fx.svc.Cache().Len())
}

func TestGetDocument_CachedFormMatchesStoredForm(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	raw := "Erste Zeile  der Anleitung.\n\nZweite Zeile mit Sonderzeichen: §12 & mehr."
	require.NoError(t, fx.svc.AddDocument(ctx, newDoc(fx.factory, "roh", "Rohtext", raw)))

	cached, err := fx.svc.GetDocument(ctx, "roh")
	require.NoError(t, err)
	chunk, err := fx.svc.GetDocument(ctx, "roh_chunk_0")
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.True(t, chunk.IsChunk())

	fx.svc.Cache().Clear()
	rebuilt, err := fx.svc.GetDocument(ctx, "roh")
	require.NoError(t, err)
	assert.Equal(t, rebuilt.Content, cached.Content)

	stored, err := fx.svc.GetDocument(ctx, "roh_chunk_0")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, chunk.Content, stored.Content)
	assert.Equal(t, "roh", stored.OriginalDocID)

	missing, err := fx.svc.GetDocument(ctx, "roh_chunk_9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetDocument_CountsUsage(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	require.NoError(t, fx.svc.AddDocument(ctx, newDoc(fx.factory, "u1", "Motor", "Der Motor wird alle zwei Jahre gewartet.")))

	for i := 1; i <= 3; i++ {
		doc, err := fx.svc.GetDocument(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, int64(i), doc.Usage())
	}

	hits, err := fx.svc.SearchDocuments(ctx, "Motor", 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].Usage())

	doc, err := fx.svc.GetDocument(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), doc.Usage(), "search hits count towards their document")

	// Counts restart once the cache entry is gone.
	fx.svc.Cache().Clear()
	doc, err = fx.svc.GetDocument(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Usage())
}

func TestGetDocument_Missing(t *testing.T) {
	fx := newFixture()
	doc, err := fx.svc.GetDocument(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestSearchDocuments_EmptyStore(t *testing.T) {
	fx := newFixture()
	docs, err := fx.svc.SearchDocuments(context.Background(), "anything", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.NotNil(t, docs)
	assert.Zero(t, fx.embedder.calls)
}

func TestSearchDocuments_RanksMatchingDocumentFirst(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	require.NoError(t, fx.svc.AddDocument(ctx, newDoc(fx.factory, "reifen", "Reifenwechsel", "Reifen wechseln mit Wagenheber und Radkreuz am Fahrzeug.")))
	require.NoError(t, fx.svc.AddDocument(ctx, newDoc(fx.factory, "oel", "Ölwechsel", "Motoröl ablassen und neues Motoröl mit Filter einfüllen.")))

	docs, err := fx.svc.SearchDocuments(ctx, "Reifen wechseln Wagenheber", 2, nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "reifen", docs[0].OriginalDocID)

	s0, ok := metadata.Float(docs[0].Metadata[document.KeySearchScore])
	require.True(t, ok)
	s1, _ := metadata.Float(docs[1].Metadata[document.KeySearchScore])
	assert.Greater(t, s0, s1)
	assert.LessOrEqual(t, s0, 1.0)

	docs, err = fx.svc.SearchDocuments(ctx, "Reifen", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSearchDocuments_Filter(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	a := newDoc(fx.factory, "a", "Gesetz A", "Regelung zur Zulassung von Fahrzeugen.")
	a.Type = document.TypeLaw
	require.NoError(t, fx.svc.AddDocument(ctx, a))
	require.NoError(t, fx.svc.AddDocument(ctx, newDoc(fx.factory, "b", "Handbuch B", "Regelung zur Zulassung im Handbuch.")))

	docs, err := fx.svc.SearchDocuments(ctx, "Zulassung", 5, vectorstore.Filter{document.KeyDocumentType: "law"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].OriginalDocID)
}

func TestSearchDocuments_MaxDistance(t *testing.T) {
	fx := newFixture(WithMaxDistance(0.5))
	ctx := context.Background()
	require.NoError(t, fx.svc.AddDocument(ctx, newDoc(fx.factory, "x", "Dokument X", "Alpha Beta Gamma Delta Epsilon")))

	docs, err := fx.svc.SearchDocuments(ctx, "völlig andere Wörter hier", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDeleteDocument(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	require.NoError(t, fx.svc.AddDocument(ctx, newDoc(fx.factory, "weg", "Zu löschen", longText("das Löschen", 2500))))
	require.NoError(t, fx.svc.AddDocument(ctx, newDoc(fx.factory, "bleibt", "Bleibt", "Dieses Dokument bleibt erhalten.")))

	ok, err := fx.svc.DeleteDocument(ctx, "weg")
	require.NoError(t, err)
	assert.True(t, ok)

	doc, err := fx.svc.GetDocument(ctx, "weg")
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Zero(t, fx.chunkRecords(t, "weg").Len())
	assert.Nil(t, fx.svc.Cache().Get("weg_chunk_0"))

	ok, err = fx.svc.DeleteDocument(ctx, "weg")
	require.NoError(t, err)
	assert.False(t, ok)

	n, _ := fx.store.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestUpdateDocument_PrunesSurplusChunks(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	require.NoError(t, fx.svc.AddDocument(ctx, newDoc(fx.factory, "doc", "Version Eins", longText("die alte Fassung", 3000))))
	require.GreaterOrEqual(t, fx.chunkRecords(t, "doc").Len(), 3)

	next := newDoc(fx.factory, "ignored", "Version Zwei", "Die neue Fassung ist deutlich kürzer.")
	require.NoError(t, fx.svc.UpdateDocument(ctx, "doc", next))
	assert.Equal(t, "doc", next.ID)

	raw := fx.chunkRecords(t, "doc")
	require.Equal(t, 1, raw.Len())
	assert.Equal(t, "doc_chunk_0", raw.IDs[0][0])

	assert.Nil(t, fx.svc.Cache().Get("doc_chunk_1"), "pruned chunks leave the cache")

	fx.svc.Cache().Clear()
	got, err := fx.svc.GetDocument(ctx, "doc")
	require.NoError(t, err)
	assert.Equal(t, "Version Zwei", got.Title)
	assert.Equal(t, "Die neue Fassung ist deutlich kürzer.", got.Content)
}

func TestUpdateDocument_FailureKeepsPreviousVersion(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	require.NoError(t, fx.svc.AddDocument(ctx, newDoc(fx.factory, "doc", "Version Eins", "Die erste Fassung des Dokuments.")))
	fx.embedder.err = errEmbedDown

	err := fx.svc.UpdateDocument(ctx, "doc", newDoc(fx.factory, "doc", "Version Zwei", "Die zweite Fassung des Dokuments."))
	require.Error(t, err)

	fx.embedder.err = nil
	got, err := fx.svc.GetDocument(ctx, "doc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Version Eins", got.Title)
}

func TestGetSimilarDocuments_ExcludesReference(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	require.NoError(t, fx.svc.AddDocument(ctx, newDoc(fx.factory, "ref", "Referenz", longText("den Austausch der Zündkerzen", 2500))))
	require.NoError(t, fx.svc.AddDocument(ctx, newDoc(fx.factory, "nah", "Ähnlich", "Austausch der Zündkerzen erklärt in wenigen Schritten.")))
	require.NoError(t, fx.svc.AddDocument(ctx, newDoc(fx.factory, "fern", "Anders", "Lackpflege mit Politur und Wachs.")))

	docs, err := fx.svc.GetSimilarDocuments(ctx, "ref", 5, nil)
	require.NoError(t, err)
	require.NotEmpty(t, docs)
	for _, d := range docs {
		assert.NotEqual(t, "ref", d.OriginalDocID)
		assert.NotEqual(t, "ref", d.ID)
	}
	assert.Equal(t, "nah", docs[0].OriginalDocID)

	threshold := 0.99
	docs, err = fx.svc.GetSimilarDocuments(ctx, "ref", 5, &threshold)
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = fx.svc.GetSimilarDocuments(ctx, "missing", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestClose(t *testing.T) {
	c := cache.New()
	c.Start(context.Background())
	fx := newFixture(WithCache(c))
	require.NoError(t, fx.svc.Close())
}
