// Package ingest 实现文章摄取管线：抓取 → 过滤 → 分块 → 向量化 → 入库。
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"news-rag-go/internal/model"
	"news-rag-go/pkg/errs"
)

// Fetcher 是文章来源的边界接口：管线不关心文章如何获得。
// limit 是本来源单次最多返回的文章数。
type Fetcher interface {
	Fetch(ctx context.Context, limit int) ([]model.SourceArticle, error)
	// Source 返回来源标签，写入分块元数据。
	Source() string
}

// DirFetcher 从本地目录读取 JSON 文章文件作为来源，
// 用于初始化导入与离线环境（类比种子数据目录）。
type DirFetcher struct {
	dir   string
	label string
}

// NewDirFetcher 创建一个目录来源。目录下每个 .json 文件是一篇 SourceArticle。
func NewDirFetcher(dir, label string) *DirFetcher {
	return &DirFetcher{dir: dir, label: label}
}

func (f *DirFetcher) Source() string { return f.label }

// Fetch 遍历目录解析文章，单个文件解析失败按篇跳过。
func (f *DirFetcher) Fetch(ctx context.Context, limit int) ([]model.SourceArticle, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: 读取文章目录 '%s' 失败: %v", errs.ErrExtraction, f.dir, err)
	}

	var articles []model.SourceArticle
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		if limit > 0 && len(articles) >= limit {
			break
		}

		data, err := os.ReadFile(filepath.Join(f.dir, entry.Name()))
		if err != nil {
			continue // 按篇跳过，由管线统计
		}
		var article model.SourceArticle
		if err := json.Unmarshal(data, &article); err != nil {
			continue
		}
		if article.Source == "" {
			article.Source = f.label
		}
		articles = append(articles, article)
	}
	return articles, nil
}
