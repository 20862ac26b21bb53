package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"news-rag-go/internal/chunker"
	"news-rag-go/internal/config"
	"news-rag-go/internal/model"
	"news-rag-go/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFetcher 返回固定的文章列表或错误。
type stubFetcher struct {
	label    string
	articles []model.SourceArticle
	err      error
}

func (s *stubFetcher) Source() string { return s.label }

func (s *stubFetcher) Fetch(_ context.Context, limit int) ([]model.SourceArticle, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit > 0 && len(s.articles) > limit {
		return s.articles[:limit], nil
	}
	return s.articles, nil
}

// stubEmbedder 返回与文本长度相关的固定向量；failAfter>0 时从该批次开始失败。
type stubEmbedder struct {
	batches   int
	failAfter int
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.batches++
	if s.failAfter > 0 && s.batches > s.failAfter {
		return nil, errors.New("embedding backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = s.Embed(ctx, t)
	}
	return out, nil
}

func article(title, url string, bodyLen int) model.SourceArticle {
	return model.SourceArticle{
		Title:       title,
		URL:         url,
		Body:        strings.Repeat("正", bodyLen),
		PublishedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		Source:      "test",
	}
}

func newTestPipeline(t *testing.T, embedder provider.Embedder, index provider.VectorIndex, cfg config.IngestConfig) *Pipeline {
	t.Helper()
	splitter, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	require.NoError(t, err)
	return NewPipeline(splitter, embedder, index, nil, nil, nil, cfg)
}

func testCfg() config.IngestConfig {
	return config.IngestConfig{
		ChunkSize:     100,
		ChunkOverlap:  20,
		MaxArticles:   10,
		MinBodyLength: 50,
		BatchSize:     4,
	}
}

// 3 篇文章其中 1 篇提取失败 → 报告 2 成功 1 跳过，
// 索引只包含成功文章的分块。
func TestRun_SkipsFailedArticle(t *testing.T) {
	index := provider.NewMemoryIndex()
	require.NoError(t, index.EnsureCollection(context.Background(), 3))
	p := newTestPipeline(t, &stubEmbedder{}, index, testCfg())

	fetcher := &stubFetcher{label: "news", articles: []model.SourceArticle{
		article("一", "https://example.com/1", 150),
		article("付费墙残片", "https://example.com/2", 10), // 正文过短，视作提取失败
		article("三", "https://example.com/3", 150),
	}}

	report, err := p.Run(context.Background(), []Fetcher{fetcher})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 2, report.DocumentsAdded)
	assert.Equal(t, 1, report.Skipped)
	assert.Positive(t, report.ChunksIndexed)

	matches, err := index.Query(context.Background(), []float32{100, 1, 0}, 100)
	require.NoError(t, err)
	assert.Len(t, matches, report.ChunksIndexed)
	for _, m := range matches {
		assert.NotEqual(t, "付费墙残片", m.Title)
	}
}

func TestRun_FetcherFailureSkipsSource(t *testing.T) {
	index := provider.NewMemoryIndex()
	require.NoError(t, index.EnsureCollection(context.Background(), 3))
	p := newTestPipeline(t, &stubEmbedder{}, index, testCfg())

	ok := &stubFetcher{label: "ok", articles: []model.SourceArticle{article("一", "u1", 150)}}
	broken := &stubFetcher{label: "broken", err: errors.New("connection refused")}

	report, err := p.Run(context.Background(), []Fetcher{ok, broken})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, report.DocumentsAdded)
	assert.Equal(t, 1, report.Skipped)
}

// 总量封顶均分到各来源。
func TestRun_CapDistributedAcrossSources(t *testing.T) {
	index := provider.NewMemoryIndex()
	require.NoError(t, index.EnsureCollection(context.Background(), 3))
	cfg := testCfg()
	cfg.MaxArticles = 2
	p := newTestPipeline(t, &stubEmbedder{}, index, cfg)

	a := &stubFetcher{label: "a", articles: []model.SourceArticle{
		article("a1", "ua1", 150), article("a2", "ua2", 150), article("a3", "ua3", 150),
	}}
	b := &stubFetcher{label: "b", articles: []model.SourceArticle{
		article("b1", "ub1", 150), article("b2", "ub2", 150),
	}}

	report, err := p.Run(context.Background(), []Fetcher{a, b})
	require.NoError(t, err)
	// 每来源至多 2/2 = 1 篇
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 2, report.DocumentsAdded)
}

// 向量化批次失败中止整次运行并向调用方报错，已确认的批次不回滚。
func TestRun_EmbeddingBatchFailureAbortsRun(t *testing.T) {
	index := provider.NewMemoryIndex()
	require.NoError(t, index.EnsureCollection(context.Background(), 3))
	p := newTestPipeline(t, &stubEmbedder{failAfter: 1}, index, testCfg())

	fetcher := &stubFetcher{label: "news", articles: []model.SourceArticle{
		article("长文", "u1", 800), // 800 字符 / step 80 → 多个批次
	}}

	report, err := p.Run(context.Background(), []Fetcher{fetcher})
	require.Error(t, err)
	assert.Zero(t, report.DocumentsAdded)
	// 第一批已确认入库
	assert.Equal(t, 4, report.ChunksIndexed)
}

// 所有分块 id 全局唯一。
func TestIngestArticles_ChunkIDsUnique(t *testing.T) {
	index := provider.NewMemoryIndex()
	require.NoError(t, index.EnsureCollection(context.Background(), 3))
	p := newTestPipeline(t, &stubEmbedder{}, index, testCfg())

	articles := []model.SourceArticle{
		article("一", "u1", 300),
		article("二", "u2", 300),
	}
	added, skipped, indexed, err := p.IngestArticles(context.Background(), articles)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Zero(t, skipped)

	matches, err := index.Query(context.Background(), []float32{1, 1, 0}, 100)
	require.NoError(t, err)
	require.Len(t, matches, indexed)
	seen := make(map[string]bool)
	for _, m := range matches {
		assert.Falsef(t, seen[m.ChunkID], "chunk id %s 重复", m.ChunkID)
		seen[m.ChunkID] = true
	}
}

func TestDirFetcher_ReadsSeedArticles(t *testing.T) {
	dir := t.TempDir()
	writeSeed(t, dir, "a.json", `{"title":"种子文章","body":"正文内容","url":"https://example.com/a","source":""}`)
	writeSeed(t, dir, "broken.json", `{not json`)
	writeSeed(t, dir, "ignored.txt", "not an article")

	f := NewDirFetcher(dir, "seed")
	articles, err := f.Fetch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "种子文章", articles[0].Title)
	assert.Equal(t, "seed", articles[0].Source) // 空 source 回填目录标签
}

func writeSeed(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
