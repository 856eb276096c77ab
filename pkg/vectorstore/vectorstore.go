// Package vectorstore defines the narrow interface to the nearest-neighbour
// index that holds chunk vectors, texts and flattened metadata.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/barekit/ragchat/pkg/errdefs"
)

// Filter restricts results to records whose metadata equals every entry.
type Filter map[string]any

// QueryResult holds parallel arrays, one inner list per query vector. Hits
// are ordered by ascending cosine distance. Distances is empty for Get.
type QueryResult struct {
	IDs       [][]string
	Documents [][]string
	Metadatas [][]map[string]any
	Distances [][]float64
}

// NewQueryResult returns a result for a single query with no hits.
func NewQueryResult() *QueryResult {
	return &QueryResult{
		IDs:       [][]string{{}},
		Documents: [][]string{{}},
		Metadatas: [][]map[string]any{{}},
		Distances: [][]float64{{}},
	}
}

// Append adds one hit to the first query's lists.
func (r *QueryResult) Append(id, doc string, md map[string]any, distance float64) {
	r.IDs[0] = append(r.IDs[0], id)
	r.Documents[0] = append(r.Documents[0], doc)
	r.Metadatas[0] = append(r.Metadatas[0], md)
	r.Distances[0] = append(r.Distances[0], distance)
}

// Len returns the number of hits of the first query.
func (r *QueryResult) Len() int {
	if r == nil || len(r.IDs) == 0 {
		return 0
	}
	return len(r.IDs[0])
}

// Store is a vector index. Add is an upsert. All methods wrap backend
// failures in errdefs.ErrStorage.
type Store interface {
	Add(ctx context.Context, ids []string, vectors [][]float32, texts []string, metadatas []map[string]any) error
	Query(ctx context.Context, vector []float32, n int, filter Filter) (*QueryResult, error)
	Get(ctx context.Context, filter Filter) (*QueryResult, error)
	Delete(ctx context.Context, ids []string) error
	Update(ctx context.Context, id string, vector []float32, text string, metadata map[string]any) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// CheckAdd validates the parallel arguments of Store.Add.
func CheckAdd(ids []string, vectors [][]float32, texts []string, metadatas []map[string]any) error {
	if len(ids) != len(vectors) || len(ids) != len(texts) || len(ids) != len(metadatas) {
		return fmt.Errorf("%w: mismatched lengths ids=%d vectors=%d texts=%d metadatas=%d",
			errdefs.ErrValidation, len(ids), len(vectors), len(texts), len(metadatas))
	}
	return nil
}

// Matches reports whether md satisfies filter. Values are compared by their
// string form because backends disagree on numeric types.
func Matches(md map[string]any, filter Filter) bool {
	for k, want := range filter {
		got, ok := md[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// StringMap renders a filter or metadata map as strings.
func StringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}
