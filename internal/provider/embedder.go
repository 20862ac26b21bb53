// Package provider 定义了三个能力接口（Embedder、Generator、VectorIndex）
// 及其由配置选择的封闭后端变体集合。管线其余部分只依赖接口，对后端无感知。
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"news-rag-go/internal/config"
	"news-rag-go/pkg/errs"
	"news-rag-go/pkg/log"
)

// Embedder 将文本映射为稠密向量。
// 同一后端对相同输入是确定性的；不同后端产生的向量不可混入同一索引集合。
type Embedder interface {
	// Embed 向量化单条文本。
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch 向量化一批文本，返回顺序与输入一致。
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// NewEmbedder 按配置选择后端变体，启动期调用一次。
func NewEmbedder(cfg config.EmbedderConfig) (Embedder, error) {
	switch cfg.Backend {
	case "openai":
		return &openAIEmbedder{cfg: cfg.OpenAI, client: &http.Client{}}, nil
	case "ollama":
		return &ollamaEmbedder{cfg: cfg.Ollama, client: &http.Client{}}, nil
	default:
		return nil, fmt.Errorf("%w: embedder '%s'", errs.ErrBackendUnknown, cfg.Backend)
	}
}

// openAIEmbedder 调用 OpenAI 兼容的 /embeddings 端点。
type openAIEmbedder struct {
	cfg    config.OpenAIClientConfig
	client *http.Client
}

type openAIEmbeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 一次请求向量化整批输入，并按 index 字段还原输入顺序。
func (c *openAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	log.Infof("[Embedder] 调用 Embedding API, model: %s, batch: %d", c.cfg.Model, len(texts))

	reqBody := openAIEmbeddingRequest{
		Model:      c.cfg.Model,
		Input:      texts,
		Dimensions: c.cfg.Dimensions,
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: embedding api returned non-200 status: %s", errs.ErrEmbedding, resp.Status)
	}

	var embeddingResp openAIEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode embedding response: %v", errs.ErrEmbedding, err)
	}
	if len(embeddingResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: embedding api 返回 %d 条向量, 期望 %d 条",
			errs.ErrEmbedding, len(embeddingResp.Data), len(texts))
	}

	// API 不保证 data 的排列顺序，按 index 还原
	vectors := make([][]float32, len(texts))
	for _, d := range embeddingResp.Data {
		if d.Index < 0 || d.Index >= len(texts) || len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: embedding api 返回了非法的向量条目 (index=%d)", errs.ErrEmbedding, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("%w: 输入 %d 缺少对应向量", errs.ErrEmbedding, i)
		}
	}
	return vectors, nil
}

// ollamaEmbedder 调用本地 Ollama 的 /api/embeddings 端点，逐条请求。
type ollamaEmbedder struct {
	cfg    config.OllamaClientConfig
	client *http.Client
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *ollamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBytes, err := json.Marshal(ollamaEmbeddingRequest{Model: c.cfg.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/api/embeddings", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ollama embeddings returned non-200 status: %s", errs.ErrEmbedding, resp.Status)
	}

	var out ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode embedding response: %v", errs.ErrEmbedding, err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: received empty embedding from ollama", errs.ErrEmbedding)
	}
	return out.Embedding, nil
}

// EmbedBatch 并发调用 Embed（Ollama 无批量端点），并发度以批大小为界。
// 结果按输入下标写回，顺序与输入一致；任一条失败则整批失败。
func (c *ollamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	errsCh := make(chan error, len(texts))
	var wg sync.WaitGroup
	for i, t := range texts {
		wg.Add(1)
		go func(i int, t string) {
			defer wg.Done()
			v, err := c.Embed(ctx, t)
			if err != nil {
				errsCh <- err
				return
			}
			vectors[i] = v
		}(i, t)
	}
	wg.Wait()
	close(errsCh)
	if err := <-errsCh; err != nil {
		return nil, err
	}
	return vectors, nil
}
