package provider

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"news-rag-go/internal/model"
	"news-rag-go/pkg/errs"
)

// memoryIndex 是进程内的 VectorIndex 后端，用于本地开发与测试。
// 余弦相似度全量扫描，数据不持久化。
type memoryIndex struct {
	mu      sync.RWMutex
	dims    int
	entries map[string]memoryEntry
}

type memoryEntry struct {
	chunk  model.Chunk
	vector []float32
}

// NewMemoryIndex 创建内存向量索引后端。
func NewMemoryIndex() VectorIndex {
	return &memoryIndex{entries: make(map[string]memoryEntry)}
}

func (m *memoryIndex) EnsureCollection(_ context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("%w: dims 必须为正, got %d", errs.ErrIndex, dims)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dims = dims
	return nil
}

func (m *memoryIndex) Upsert(_ context.Context, chunks []model.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: chunks(%d) 与 vectors(%d) 数量不一致", errs.ErrIndex, len(chunks), len(vectors))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, chunk := range chunks {
		if m.dims > 0 && len(vectors[i]) != m.dims {
			return fmt.Errorf("%w: 条目 %s 的向量维度 %d 与集合维度 %d 不一致",
				errs.ErrIndex, chunk.ID, len(vectors[i]), m.dims)
		}
		m.entries[chunk.ID] = memoryEntry{chunk: chunk, vector: vectors[i]}
	}
	return nil
}

func (m *memoryIndex) Query(_ context.Context, vector []float32, topK int) ([]model.RetrievedMatch, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK 必须为正, got %d", errs.ErrIndex, topK)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]model.RetrievedMatch, 0, len(m.entries))
	for _, e := range m.entries {
		matches = append(matches, model.RetrievedMatch{
			ChunkID: e.chunk.ID,
			Text:    e.chunk.Text,
			Title:   e.chunk.Title,
			URL:     e.chunk.URL,
			Source:  e.chunk.Source,
			Score:   normalizedCosine(vector, e.vector),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (m *memoryIndex) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

func (m *memoryIndex) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

// normalizedCosine 计算 (1+cos)/2，与其余后端的统一标度一致。
// 零向量或维度不匹配时返回 0。
func normalizedCosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return (1 + cos) / 2
}
