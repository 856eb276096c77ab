package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barekit/ragchat/pkg/document"
	"github.com/barekit/ragchat/pkg/errdefs"
)

// mockRunner is a test double for CommandRunner.
type mockRunner struct {
	output []byte
	err    error
	name   string
	args   []string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.name = name
	m.args = args
	return m.output, m.err
}

type fakeStore struct {
	mu   sync.Mutex
	docs []*document.Document
	err  error
}

func (f *fakeStore) AddDocument(_ context.Context, doc *document.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		doc.Status = document.StatusFailed
		return f.err
	}
	doc.Status = document.StatusCompleted
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeStore) UpdateDocument(_ context.Context, id string, doc *document.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		doc.Status = document.StatusFailed
		return f.err
	}
	doc.ID = id
	doc.Status = document.StatusCompleted
	for i, d := range f.docs {
		if d.ID == id {
			f.docs[i] = doc
			return nil
		}
	}
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeStore) stored() []*document.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*document.Document(nil), f.docs...)
}

var meta = Metadata{
	SourceLink:   "https://example.com/docs",
	DocumentType: "manual",
	Language:     "de",
	Topics:       []string{"Motor"},
	Additional:   map[string]any{"owner": "ops"},
}

func TestExtract_Text(t *testing.T) {
	e := NewExtractor(&mockRunner{})

	got, err := e.Extract(context.Background(), "notes.TXT", []byte("  erste Zeile  \n\t zweite Zeile\n\n"))
	require.NoError(t, err)
	assert.Equal(t, "erste Zeile\nzweite Zeile", got)
}

func TestExtract_PDF(t *testing.T) {
	r := &mockRunner{output: []byte("Seite eins\n  Seite zwei \n")}
	e := NewExtractor(r)

	got, err := e.Extract(context.Background(), "manual.pdf", []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "Seite eins\nSeite zwei", got)
	assert.Equal(t, PDFToText, r.name)
	require.NotEmpty(t, r.args)
	assert.Equal(t, "-", r.args[len(r.args)-1])

	_, statErr := os.Stat(r.args[len(r.args)-2])
	assert.True(t, os.IsNotExist(statErr), "temporary file is removed")
}

func TestExtract_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewExtractor(&mockRunner{}).Extract(ctx, "image.png", []byte("x"))
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedFile)

	_, err = NewExtractor(&mockRunner{}).Extract(ctx, "empty.txt", []byte(" \n \n"))
	assert.ErrorIs(t, err, errdefs.ErrProcessing)

	_, err = NewExtractor(&mockRunner{}).Extract(ctx, "bad.txt", []byte{0xff, 0xfe})
	assert.ErrorIs(t, err, errdefs.ErrProcessing)

	_, err = NewExtractor(&mockRunner{err: errors.New("exit status 1")}).Extract(ctx, "a.pdf", []byte("x"))
	assert.ErrorIs(t, err, errdefs.ErrProcessing)
}

func TestProcessUpload(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store)

	doc, err := svc.ProcessUpload(context.Background(), Upload{
		Filename: "dir/bremsen.txt",
		Data:     []byte("Die Bremsen muessen jaehrlich geprueft werden."),
	}, meta)
	require.NoError(t, err)

	assert.Equal(t, "bremsen.txt", doc.Title)
	assert.Equal(t, document.TypeManual, doc.Type)
	assert.Equal(t, document.StatusCompleted, doc.Status)
	assert.Equal(t, "Die Bremsen muessen jaehrlich geprueft werden.", doc.Content)
	assert.Equal(t, []string{"Motor"}, doc.Topics)
	assert.Equal(t, "bremsen.txt", doc.Metadata[KeyOriginalFilename])
	assert.Equal(t, int64(46), doc.Metadata[KeyFileSize])
	assert.Equal(t, "ops", doc.Metadata["owner"])
	assert.Len(t, store.stored(), 1)
}

func TestProcessUpload_FixedIDReplacesDocument(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	svc := NewService(store)

	first, err := svc.ProcessUpload(ctx, Upload{Filename: "notiz.txt", Data: []byte("Erste Fassung"), ID: "notiz"}, meta)
	require.NoError(t, err)
	assert.Equal(t, "notiz", first.ID)

	_, err = svc.ProcessUpload(ctx, Upload{Filename: "notiz.txt", Data: []byte("Zweite Fassung"), ID: "notiz"}, meta)
	require.NoError(t, err)

	docs := store.stored()
	require.Len(t, docs, 1)
	assert.Equal(t, "notiz", docs[0].ID)
	assert.Equal(t, "Zweite Fassung", docs[0].Content)
}

func TestDocumentID_StablePerPath(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")

	assert.Equal(t, DocumentID(a), DocumentID(a))
	assert.NotEqual(t, DocumentID(a), DocumentID(filepath.Join(dir, "b.txt")))
	_, err := uuid.Parse(DocumentID(a))
	assert.NoError(t, err)
}

func TestProcessUpload_Rejects(t *testing.T) {
	ctx := context.Background()
	store := &fakeStore{}
	svc := NewService(store, WithMaxFileSize(10))

	_, err := svc.ProcessUpload(ctx, Upload{Filename: "a.txt", Data: []byte(strings.Repeat("x", 11))}, meta)
	assert.ErrorIs(t, err, errdefs.ErrUpload)
	assert.ErrorIs(t, err, errdefs.ErrValidation)

	_, err = svc.ProcessUpload(ctx, Upload{Filename: "a.docx", Data: []byte("x")}, meta)
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedFile)

	_, err = svc.ProcessUpload(ctx, Upload{Filename: "a.txt", Data: []byte("x")}, Metadata{SourceLink: "ftp://host"})
	assert.ErrorIs(t, err, errdefs.ErrValidation)

	assert.Empty(t, store.stored())
}

func TestProcessUpload_StoreFailureMarksDocument(t *testing.T) {
	store := &fakeStore{err: errdefs.ErrStorage}
	svc := NewService(store)

	doc, err := svc.ProcessUpload(context.Background(), Upload{Filename: "a.txt", Data: []byte("genug Inhalt hier")}, meta)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrStorage)
	require.NotNil(t, doc)
	assert.Equal(t, document.StatusFailed, doc.Status)
}

func TestProcessMultiple(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, WithConcurrency(2))

	uploads := []Upload{
		{Filename: "a.txt", Data: []byte("Erstes Dokument mit Text")},
		{Filename: "b.exe", Data: []byte("binary")},
		{Filename: "c.txt", Data: []byte("Drittes Dokument mit Text")},
	}
	docs, err := svc.ProcessMultiple(context.Background(), uploads, meta)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrUnsupportedFile)
	assert.Contains(t, err.Error(), "1 of 3 uploads failed")
	assert.Contains(t, err.Error(), "b.exe")

	require.Len(t, docs, 2)
	assert.Equal(t, "a.txt", docs[0].Title)
	assert.Equal(t, "c.txt", docs[1].Title)
}

func TestWatcher_IngestsNewFiles(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{}
	svc := NewService(store)

	var mu sync.Mutex
	var results []Result
	w := NewWatcher(svc, dir, meta, WithSettle(20*time.Millisecond), WithResultHandler(func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Files written before the watch is registered are missed, so keep
	// writing until one is picked up.
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(filepath.Join(dir, "ignored.bin"), []byte("x"), 0o644)
		_ = os.WriteFile(filepath.Join(dir, "neu.txt"), []byte("Neue Datei im Ordner"), 0o644)
		return len(store.stored()) > 0
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	// Every rewrite replaced the same document.
	docs := store.stored()
	require.Len(t, docs, 1)
	assert.Equal(t, "neu.txt", docs[0].Title)
	assert.Equal(t, DocumentID(filepath.Join(dir, "neu.txt")), docs[0].ID)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, filepath.Join(dir, "neu.txt"), r.Path, "only allowed extensions are ingested")
	}
}
