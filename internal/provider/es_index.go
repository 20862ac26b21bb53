package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"news-rag-go/internal/config"
	"news-rag-go/internal/model"
	"news-rag-go/pkg/errs"
	"news-rag-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// esIndex 是基于 Elasticsearch dense_vector + knn 的 VectorIndex 后端。
// 集合对应一个索引，条目以 chunk id 作为文档 ID。
type esIndex struct {
	client     *elasticsearch.Client
	collection string
}

// esEntry 定义了索引中每个分块的存储结构。
type esEntry struct {
	ChunkID     string    `json:"chunk_id"`
	Text        string    `json:"text"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt string    `json:"published_at"`
	Source      string    `json:"source"`
	Vector      []float32 `json:"vector"`
}

// NewESIndex 创建 Elasticsearch 向量索引后端。
func NewESIndex(cfg config.ElasticsearchConfig, collection string) (VectorIndex, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Addresses},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: 创建 es 客户端失败: %v", errs.ErrIndex, err)
	}
	return &esIndex{client: client, collection: collection}, nil
}

// EnsureCollection 检查索引是否存在，不存在则按配置维度创建 cosine 映射。
func (e *esIndex) EnsureCollection(ctx context.Context, dims int) error {
	res, err := e.client.Indices.Exists([]string{e.collection}, e.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("%w: 检查索引是否存在时出错: %v", errs.ErrIndex, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", e.collection)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: 检查索引是否存在时收到意外的状态码: %d", errs.ErrIndex, res.StatusCode)
	}

	// dense_vector 使用 cosine 相似度，knn 检索得分即为 (1+cos)/2
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"chunk_id":     { "type": "keyword" },
				"text":         { "type": "text" },
				"title":        { "type": "keyword" },
				"url":          { "type": "keyword" },
				"published_at": { "type": "date" },
				"source":       { "type": "keyword" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				}
			}
		}
	}`, dims)

	res, err = e.client.Indices.Create(
		e.collection,
		e.client.Indices.Create.WithContext(ctx),
		e.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		return fmt.Errorf("%w: 创建索引 '%s' 失败: %v", errs.ErrIndex, e.collection, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: 创建索引时 Elasticsearch 返回错误: %s", errs.ErrIndex, res.String())
	}
	log.Infof("索引 '%s' 创建成功", e.collection)
	return nil
}

// Upsert 逐条写入（以 chunk id 为文档 ID，重复写入即覆盖），
// 整批写完后 Refresh，使写入对后续查询立即可见。
func (e *esIndex) Upsert(ctx context.Context, chunks []model.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: chunks(%d) 与 vectors(%d) 数量不一致", errs.ErrIndex, len(chunks), len(vectors))
	}
	for i, chunk := range chunks {
		entry := esEntry{
			ChunkID:     chunk.ID,
			Text:        chunk.Text,
			Title:       chunk.Title,
			URL:         chunk.URL,
			PublishedAt: chunk.PublishedAt.Format("2006-01-02T15:04:05Z07:00"),
			Source:      chunk.Source,
			Vector:      vectors[i],
		}
		docBytes, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("%w: 序列化条目失败: %v", errs.ErrIndex, err)
		}

		req := esapi.IndexRequest{
			Index:      e.collection,
			DocumentID: chunk.ID,
			Body:       bytes.NewReader(docBytes),
		}
		res, err := req.Do(ctx, e.client)
		if err != nil {
			return fmt.Errorf("%w: 索引条目 %s 失败: %v", errs.ErrIndex, chunk.ID, err)
		}
		if res.IsError() {
			s := res.String()
			res.Body.Close()
			return fmt.Errorf("%w: 索引条目 %s 时 Elasticsearch 返回错误: %s", errs.ErrIndex, chunk.ID, s)
		}
		res.Body.Close()
	}

	// 批次确认：刷新使本批立即可检索
	res, err := e.client.Indices.Refresh(
		e.client.Indices.Refresh.WithContext(ctx),
		e.client.Indices.Refresh.WithIndex(e.collection),
	)
	if err != nil {
		return fmt.Errorf("%w: refresh 失败: %v", errs.ErrIndex, err)
	}
	res.Body.Close()
	return nil
}

// Query 执行 knn 检索。ES 对 cosine 相似度的 knn 得分即为 (1+cos)/2，无需再换算。
func (e *esIndex) Query(ctx context.Context, vector []float32, topK int) ([]model.RetrievedMatch, error) {
	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": topK * 10,
		},
		"size": topK,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("%w: failed to encode es query: %v", errs.ErrIndex, err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.collection),
		e.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: elasticsearch search failed: %v", errs.ErrIndex, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("%w: elasticsearch returned an error: %s", errs.ErrIndex, res.String())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source esEntry `json:"_source"`
				Score  float64 `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("%w: failed to decode es response: %v", errs.ErrIndex, err)
	}

	matches := make([]model.RetrievedMatch, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		matches = append(matches, model.RetrievedMatch{
			ChunkID: hit.Source.ChunkID,
			Text:    hit.Source.Text,
			Title:   hit.Source.Title,
			URL:     hit.Source.URL,
			Source:  hit.Source.Source,
			Score:   hit.Score,
		})
	}
	return matches, nil
}

// Delete 按文档 ID 删除条目，忽略不存在的 ID。
func (e *esIndex) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		req := esapi.DeleteRequest{Index: e.collection, DocumentID: id}
		res, err := req.Do(ctx, e.client)
		if err != nil {
			return fmt.Errorf("%w: 删除条目 %s 失败: %v", errs.ErrIndex, id, err)
		}
		if res.IsError() && res.StatusCode != http.StatusNotFound {
			s := res.String()
			res.Body.Close()
			return fmt.Errorf("%w: 删除条目 %s 时 Elasticsearch 返回错误: %s", errs.ErrIndex, id, s)
		}
		res.Body.Close()
	}
	return nil
}

// Clear 用 delete_by_query 清空集合，保留映射。
func (e *esIndex) Clear(ctx context.Context) error {
	body := strings.NewReader(`{"query":{"match_all":{}}}`)
	res, err := e.client.DeleteByQuery([]string{e.collection}, body,
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("%w: 清空集合失败: %v", errs.ErrIndex, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: 清空集合时 Elasticsearch 返回错误: %s", errs.ErrIndex, res.String())
	}
	return nil
}
