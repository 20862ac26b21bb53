package provider

import (
	"context"
	"testing"

	"news-rag-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) VectorIndex {
	t.Helper()
	idx := NewMemoryIndex()
	require.NoError(t, idx.EnsureCollection(context.Background(), 3))
	return idx
}

func TestMemoryIndex_QueryOrdersByScore(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	chunks := []model.Chunk{
		{ID: "a", Text: "完全同向", Title: "A"},
		{ID: "b", Text: "正交", Title: "B"},
		{ID: "c", Text: "反向", Title: "C"},
	}
	vectors := [][]float32{
		{1, 0, 0},
		{0, 1, 0},
		{-1, 0, 0},
	}
	require.NoError(t, idx.Upsert(ctx, chunks, vectors))

	matches, err := idx.Query(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)

	// 同向 → 1.0，正交 → 0.5，反向 → 0.0
	assert.Equal(t, "a", matches[0].ChunkID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.Equal(t, "b", matches[1].ChunkID)
	assert.InDelta(t, 0.5, matches[1].Score, 1e-9)
	assert.Equal(t, "c", matches[2].ChunkID)
	assert.InDelta(t, 0.0, matches[2].Score, 1e-9)
}

// 索引中只有 2 个条目时，topK=5 只返回 2 条，不伪造结果。
func TestMemoryIndex_TopKLargerThanIndex(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	chunks := []model.Chunk{{ID: "a"}, {ID: "b"}}
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}}
	require.NoError(t, idx.Upsert(ctx, chunks, vectors))

	matches, err := idx.Query(ctx, []float32{1, 1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestMemoryIndex_UpsertOverwritesByID(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx,
		[]model.Chunk{{ID: "a", Text: "旧文本"}}, [][]float32{{1, 0, 0}}))
	require.NoError(t, idx.Upsert(ctx,
		[]model.Chunk{{ID: "a", Text: "新文本"}}, [][]float32{{0, 1, 0}}))

	matches, err := idx.Query(ctx, []float32{0, 1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "新文本", matches[0].Text)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestMemoryIndex_DeleteAndClear(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	chunks := []model.Chunk{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	vectors := [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	require.NoError(t, idx.Upsert(ctx, chunks, vectors))

	require.NoError(t, idx.Delete(ctx, []string{"a", "不存在"}))
	matches, err := idx.Query(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, matches, 2)

	require.NoError(t, idx.Clear(ctx))
	matches, err = idx.Query(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMemoryIndex_DimensionMismatch(t *testing.T) {
	idx := newTestIndex(t)
	err := idx.Upsert(context.Background(),
		[]model.Chunk{{ID: "a"}}, [][]float32{{1, 0}})
	assert.Error(t, err)
}

func TestMemoryIndex_LengthMismatch(t *testing.T) {
	idx := newTestIndex(t)
	err := idx.Upsert(context.Background(),
		[]model.Chunk{{ID: "a"}, {ID: "b"}}, [][]float32{{1, 0, 0}})
	assert.Error(t, err)
}
