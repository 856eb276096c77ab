package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/barekit/ragchat/pkg/errdefs"
	"github.com/barekit/ragchat/pkg/vectorstore"
)

func seed(t *testing.T) *Store {
	t.Helper()
	s := New()
	err := s.Add(context.Background(),
		[]string{"a_chunk_0", "a_chunk_1", "b_chunk_0"},
		[][]float32{{1, 0}, {0.8, 0.6}, {0, 1}},
		[]string{"erster", "zweiter", "dritter"},
		[]map[string]any{
			{"original_id": "a", "chunk_index": 0},
			{"original_id": "a", "chunk_index": 1},
			{"original_id": "b", "chunk_index": 0},
		},
	)
	require.NoError(t, err)
	return s
}

func TestQuery_OrdersByDistance(t *testing.T) {
	s := seed(t)
	res, err := s.Query(context.Background(), []float32{1, 0}, 2, nil)
	require.NoError(t, err)

	require.Equal(t, 2, res.Len())
	assert.Equal(t, []string{"a_chunk_0", "a_chunk_1"}, res.IDs[0])
	assert.InDelta(t, 0.0, res.Distances[0][0], 1e-9)
	assert.InDelta(t, 0.2, res.Distances[0][1], 1e-6)
	assert.Equal(t, "erster", res.Documents[0][0])
}

func TestQuery_Filter(t *testing.T) {
	s := seed(t)
	res, err := s.Query(context.Background(), []float32{1, 0}, 10, vectorstore.Filter{"original_id": "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b_chunk_0"}, res.IDs[0])
}

func TestGet_FilterInsertionOrder(t *testing.T) {
	s := seed(t)
	res, err := s.Get(context.Background(), vectorstore.Filter{"original_id": "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a_chunk_0", "a_chunk_1"}, res.IDs[0])
	assert.Nil(t, res.Distances)

	res, err = s.Get(context.Background(), vectorstore.Filter{"original_id": "zzz"})
	require.NoError(t, err)
	assert.Zero(t, res.Len())
}

func TestAdd_UpsertsAndValidates(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, "a_chunk_0", []float32{0, 1}, "neu", map[string]any{"original_id": "a"}))
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	res, err := s.Get(ctx, vectorstore.Filter{"original_id": "a"})
	require.NoError(t, err)
	assert.Equal(t, "neu", res.Documents[0][0])

	err = s.Add(ctx, []string{"x"}, nil, []string{"t"}, []map[string]any{{}})
	assert.ErrorIs(t, err, errdefs.ErrValidation)
}

func TestDelete(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	require.NoError(t, s.Delete(ctx, []string{"a_chunk_0", "a_chunk_1", "unknown"}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQuery_ReturnsCopies(t *testing.T) {
	s := seed(t)
	res, err := s.Query(context.Background(), []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	res.Metadatas[0][0]["original_id"] = "changed"

	again, err := s.Query(context.Background(), []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Metadatas[0][0]["original_id"])
}
