package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"news-rag-go/internal/config"
	"news-rag-go/internal/model"
	"news-rag-go/pkg/errs"
	"news-rag-go/pkg/log"
)

// Message 表示一条发给生成后端的角色消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest 是一次生成调用的完整输入。
// System 已包含检索上下文；History 是截断后的近 N 轮会话。
type GenerateRequest struct {
	System      string
	History     []model.ConversationTurn
	UserMessage string
}

// Generator 根据系统提示、历史与当前消息产出回答文本。
// Stream 按序回调每个增量分片，返回值为分片拼接后的完整文本，
// 与 Generate 对相同输入产出的文本一致。
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Stream(ctx context.Context, req GenerateRequest, onDelta func(delta string) error) (string, error)
	// Name 返回后端变体名，用于回退链日志。
	Name() string
}

// NewGenerator 按配置构建生成后端的有序回退链。
// 单后端时直接返回该后端，不引入包装层。
func NewGenerator(cfg config.GeneratorConfig) (Generator, error) {
	var chain []Generator
	for _, name := range cfg.Backends {
		switch name {
		case "openai":
			chain = append(chain, &openAIGenerator{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}})
		case "ollama":
			chain = append(chain, &ollamaGenerator{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}})
		default:
			return nil, fmt.Errorf("%w: generator '%s'", errs.ErrBackendUnknown, name)
		}
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return &fallbackGenerator{chain: chain}, nil
}

// NewFallbackChain 将已构建的后端组合为回退链，测试与自定义装配使用。
func NewFallbackChain(chain ...Generator) Generator {
	return &fallbackGenerator{chain: chain}
}

// fallbackGenerator 依次尝试链中的后端：前者失败记录日志后换下一个，
// 全部耗尽才把最后一个错误交给调用方。
type fallbackGenerator struct {
	chain []Generator
}

func (f *fallbackGenerator) Name() string { return "fallback" }

func (f *fallbackGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	var lastErr error
	for _, g := range f.chain {
		text, err := g.Generate(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		log.Errorf("[Generator] 后端 %s 生成失败, 尝试回退链下一项: %v", g.Name(), err)
	}
	return "", fmt.Errorf("%w: 回退链全部耗尽: %v", errs.ErrGeneration, lastErr)
}

func (f *fallbackGenerator) Stream(ctx context.Context, req GenerateRequest, onDelta func(string) error) (string, error) {
	var lastErr error
	for _, g := range f.chain {
		// 分片一旦开始下发便不可撤回，因此只对“未产出任何分片”的失败回退
		emitted := false
		text, err := g.Stream(ctx, req, func(delta string) error {
			emitted = true
			return onDelta(delta)
		})
		if err == nil {
			return text, nil
		}
		lastErr = err
		if emitted {
			return "", fmt.Errorf("%w: 流式生成中断: %v", errs.ErrGeneration, err)
		}
		log.Errorf("[Generator] 后端 %s 流式生成失败, 尝试回退链下一项: %v", g.Name(), err)
	}
	return "", fmt.Errorf("%w: 回退链全部耗尽: %v", errs.ErrGeneration, lastErr)
}

// composeMessages 把 GenerateRequest 展开为 role-based 消息序列。
func composeMessages(req GenerateRequest) []Message {
	msgs := make([]Message, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	for _, turn := range req.History {
		msgs = append(msgs, Message{Role: turn.Role, Content: turn.Content})
	}
	msgs = append(msgs, Message{Role: "user", Content: req.UserMessage})
	return msgs
}

// openAIGenerator 调用 OpenAI 兼容的 /chat/completions 端点。
type openAIGenerator struct {
	cfg    config.GeneratorConfig
	client *http.Client
}

type openAIChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *openAIGenerator) Name() string { return "openai" }

func (c *openAIGenerator) buildRequest(req GenerateRequest, stream bool) openAIChatRequest {
	body := openAIChatRequest{
		Model:    c.cfg.OpenAI.Model,
		Messages: composeMessages(req),
		Stream:   stream,
	}
	// 生成参数零值不注入，交由后端默认值
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		body.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		body.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		body.MaxTokens = &m
	}
	return body
}

func (c *openAIGenerator) post(ctx context.Context, body openAIChatRequest, sse bool) (*http.Response, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.OpenAI.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.OpenAI.APIKey)
	if sse {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrGeneration, err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: chat api returned non-200 status: %s, body: %s",
			errs.ErrGeneration, resp.Status, string(bodyBytes))
	}
	return resp, nil
}

func (c *openAIGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	resp, err := c.post(ctx, c.buildRequest(req, false), false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out openAIChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: failed to decode chat response: %v", errs.ErrGeneration, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: chat api 返回空 choices", errs.ErrGeneration)
	}
	return out.Choices[0].Message.Content, nil
}

// Stream 解析 SSE 流，每个 data 行的增量按序回调 onDelta。
func (c *openAIGenerator) Stream(ctx context.Context, req GenerateRequest, onDelta func(string) error) (string, error) {
	resp, err := c.post(ctx, c.buildRequest(req, true), true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return "", fmt.Errorf("%w: failed to read from stream: %v", errs.ErrGeneration, err)
		}

		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(data) == "[DONE]" {
			break
		}

		var chunk openAIChatResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return "", err
		}
	}
	return full.String(), nil
}

// ollamaGenerator 调用本地 Ollama 的 /api/chat 端点（NDJSON 流）。
type ollamaGenerator struct {
	cfg    config.GeneratorConfig
	client *http.Client
}

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []Message              `json:"messages"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (c *ollamaGenerator) Name() string { return "ollama" }

func (c *ollamaGenerator) post(ctx context.Context, req GenerateRequest, stream bool) (*http.Response, error) {
	body := ollamaChatRequest{
		Model:    c.cfg.Ollama.Model,
		Messages: composeMessages(req),
		Stream:   stream,
	}
	opts := map[string]interface{}{}
	if c.cfg.Generation.Temperature != 0 {
		opts["temperature"] = c.cfg.Generation.Temperature
	}
	if c.cfg.Generation.TopP != 0 {
		opts["top_p"] = c.cfg.Generation.TopP
	}
	if len(opts) > 0 {
		body.Options = opts
	}

	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.Ollama.BaseURL+"/api/chat", bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrGeneration, err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: ollama chat returned non-200 status: %s, body: %s",
			errs.ErrGeneration, resp.Status, string(bodyBytes))
	}
	return resp, nil
}

func (c *ollamaGenerator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: failed to decode chat response: %v", errs.ErrGeneration, err)
	}
	return out.Message.Content, nil
}

func (c *ollamaGenerator) Stream(ctx context.Context, req GenerateRequest, onDelta func(string) error) (string, error) {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	dec := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaChatResponse
		if err := dec.Decode(&chunk); err != nil {
			if err == io.EOF {
				break
			}
			return "", fmt.Errorf("%w: failed to read from stream: %v", errs.ErrGeneration, err)
		}
		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			if err := onDelta(chunk.Message.Content); err != nil {
				return "", err
			}
		}
		if chunk.Done {
			break
		}
	}
	return full.String(), nil
}
