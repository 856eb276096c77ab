package retrieval

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/barekit/ragchat/pkg/document"
	"github.com/barekit/ragchat/pkg/errdefs"
)

const dims = 64

// wordEmbedder hashes each lowercased word into one of dims buckets, so texts
// sharing words are close.
type wordEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (e *wordEmbedder) vector(text string) []float32 {
	v := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?")
		if w == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%dims]++
	}
	return v
}

func (e *wordEmbedder) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.GetEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *wordEmbedder) GetEmbeddings(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

var errEmbedDown = fmt.Errorf("%w: provider unavailable", errdefs.ErrProvider)

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newDoc(f *document.Factory, id, title, content string) *document.Document {
	return f.CreateDocument(id, title, content, "https://example.org/"+id, "manual", map[string]any{"category": "fahrzeug"})
}

// longText returns about n characters of sentences built around topic.
func longText(topic string, n int) string {
	var b strings.Builder
	for i := 0; b.Len() < n; i++ {
		fmt.Fprintf(&b, "Abschnitt %d erklärt %s und die zugehörigen Schritte genau. ", i, topic)
	}
	return strings.TrimSpace(b.String())
}
