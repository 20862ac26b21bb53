// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"news-rag-go/internal/config"
	"news-rag-go/internal/model"
	"news-rag-go/internal/provider"
	"news-rag-go/internal/session"
	"news-rag-go/pkg/log"

	"github.com/google/uuid"
)

// apologyText 是生成回退链全部耗尽后的兜底回答。
// 对用户永远返回格式完好的回答，原始错误只进日志。
const apologyText = "抱歉，我暂时无法回答这个问题，请稍后再试。"

// fragmentBuffer 是流式分片通道的容量：生产者在消费者短暂落后时不阻塞，
// 同时保持内存有界。
const fragmentBuffer = 32

// ChatService 定义了问答操作的接口。
type ChatService interface {
	// SendMessage 执行一次完整的检索增强问答。
	// sessionID 为空时铸造新会话 ID，随结果返回。
	SendMessage(ctx context.Context, sessionID, message string) (*model.ChatAnswer, error)
	// StreamMessage 与 SendMessage 输入相同，回答按分片经通道下发，
	// 终止事件携带会话 ID 与引用列表。检索阶段的错误同步返回；
	// 通道在终止事件后或调用方取消时关闭。
	StreamMessage(ctx context.Context, sessionID, message string) (<-chan model.Fragment, error)
	// GetHistory 返回按插入顺序排列的会话历史，不存在或已过期时为空。
	GetHistory(ctx context.Context, sessionID string) ([]model.ConversationTurn, error)
	// ResetSession 立即删除会话历史。
	ResetSession(ctx context.Context, sessionID string) error
}

type chatService struct {
	embedder  provider.Embedder
	generator provider.Generator
	index     provider.VectorIndex
	sessions  session.Store
	chatCfg   config.ChatConfig
	promptCfg config.PromptConfig
}

// NewChatService 创建一个新的 ChatService 实例。
// 所有依赖都是必需的，缺失即构造失败，不做运行期兜底。
func NewChatService(
	embedder provider.Embedder,
	generator provider.Generator,
	index provider.VectorIndex,
	sessions session.Store,
	chatCfg config.ChatConfig,
	promptCfg config.PromptConfig,
) (ChatService, error) {
	if embedder == nil || generator == nil || index == nil || sessions == nil {
		return nil, errors.New("chat service 的 embedder/generator/index/sessions 依赖不能为空")
	}
	return &chatService{
		embedder:  embedder,
		generator: generator,
		index:     index,
		sessions:  sessions,
		chatCfg:   chatCfg,
		promptCfg: promptCfg,
	}, nil
}

// SendMessage 协调一次非流式问答：检索 → 生成 → 落会话。
func (s *chatService) SendMessage(ctx context.Context, sessionID, message string) (*model.ChatAnswer, error) {
	sessionID, req, citations, err := s.prepare(ctx, sessionID, message)
	if err != nil {
		return nil, err
	}

	answer, err := s.generator.Generate(ctx, *req)
	if err != nil {
		// 回退链已耗尽：降级为固定道歉回答，引用置空，错误只进日志
		log.Errorf("[Chat] 会话 %s 生成失败, 返回兜底回答: %v", sessionID, err)
		answer = apologyText
		citations = nil
	}

	s.saveExchange(sessionID, message, answer, citations)
	return &model.ChatAnswer{SessionID: sessionID, Answer: answer, Citations: citations}, nil
}

// StreamMessage 协调一次流式问答。检索与提示构建同步完成，
// 生成分片经有界通道异步下发。
func (s *chatService) StreamMessage(ctx context.Context, sessionID, message string) (<-chan model.Fragment, error) {
	sessionID, req, citations, err := s.prepare(ctx, sessionID, message)
	if err != nil {
		return nil, err
	}

	ch := make(chan model.Fragment, fragmentBuffer)
	go func() {
		defer close(ch)

		emitted := false
		answer, genErr := s.generator.Stream(ctx, *req, func(delta string) error {
			select {
			case ch <- model.Fragment{Delta: delta}:
				emitted = true
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})

		if genErr != nil {
			if ctx.Err() != nil {
				// 调用方断开：停止下发即可，无人消费终止事件
				log.Infof("[Chat] 会话 %s 流式生成被取消", sessionID)
				return
			}
			if emitted {
				// 分片已下发一部分，无法撤回，只能把中断如实告知调用方
				log.Errorf("[Chat] 会话 %s 流式生成中断: %v", sessionID, genErr)
				ch <- model.Fragment{Done: true, SessionID: sessionID, Err: genErr}
				return
			}
			// 尚未产出任何分片：与非流式路径同样降级为道歉回答
			log.Errorf("[Chat] 会话 %s 生成失败, 返回兜底回答: %v", sessionID, genErr)
			answer = apologyText
			citations = nil
			select {
			case ch <- model.Fragment{Delta: answer}:
			case <-ctx.Done():
				return
			}
		}

		s.saveExchange(sessionID, message, answer, citations)
		select {
		case ch <- model.Fragment{Done: true, SessionID: sessionID, Citations: citations}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (s *chatService) GetHistory(ctx context.Context, sessionID string) ([]model.ConversationTurn, error) {
	return s.sessions.Get(ctx, sessionID)
}

func (s *chatService) ResetSession(ctx context.Context, sessionID string) error {
	return s.sessions.Clear(ctx, sessionID)
}

// prepare 完成两条问答路径共享的前半段：
// 解析会话 ID → 载入历史 → 向量化查询 → 检索 → 构建提示。
// 向量化与检索失败按请求级错误上抛，不做兜底。
func (s *chatService) prepare(ctx context.Context, sessionID, message string) (string, *provider.GenerateRequest, []model.Citation, error) {
	if strings.TrimSpace(message) == "" {
		return "", nil, nil, errors.New("消息不能为空")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	history, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		// 会话存储故障不应阻断问答，按空历史继续
		log.Errorf("[Chat] 载入会话 %s 历史失败, 按空历史继续: %v", sessionID, err)
		history = nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.chatCfg.CallTimeout)
	defer cancel()

	vector, err := s.embedder.Embed(callCtx, message)
	if err != nil {
		return "", nil, nil, fmt.Errorf("向量化查询失败: %w", err)
	}
	matches, err := s.index.Query(callCtx, vector, s.chatCfg.TopK)
	if err != nil {
		return "", nil, nil, fmt.Errorf("检索相关内容失败: %w", err)
	}

	citations := make([]model.Citation, 0, len(matches))
	for _, m := range matches {
		citations = append(citations, model.Citation{Title: m.Title, URL: m.URL, Score: m.Score})
	}

	req := &provider.GenerateRequest{
		System:      s.buildSystemMessage(buildContextBlock(matches)),
		History:     truncateHistory(history, s.chatCfg.HistoryTurns),
		UserMessage: message,
	}
	return sessionID, req, citations, nil
}

// saveExchange 把一问一答追加进会话并刷新 TTL。
// 使用后台上下文：即使请求已被取消，成功生成的回答也应该被保存。
func (s *chatService) saveExchange(sessionID, question, answer string, citations []model.Citation) {
	now := time.Now()
	err := s.sessions.Append(context.Background(), sessionID,
		model.ConversationTurn{Role: "user", Content: question, Timestamp: now},
		model.ConversationTurn{Role: "assistant", Content: answer, Timestamp: now, Citations: citations},
	)
	if err != nil {
		// 流式回答已经下发成功，保存失败只记录，不回传给客户端
		log.Errorf("[Chat] 保存会话 %s 历史失败: %v", sessionID, err)
	}
}

// buildContextBlock 把检索结果拼成按相关度降序编号的上下文块。
func buildContextBlock(matches []model.RetrievedMatch) string {
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	for i, m := range matches {
		title := m.Title
		if title == "" {
			title = "unknown"
		}
		b.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, title, m.Text))
	}
	return b.String()
}

// buildSystemMessage 按 规则 + 包裹符 + 上下文块 组装系统提示。
// 检索为空时显式告知生成后端“无检索结果”，决不让它拿到空白上下文。
func (s *chatService) buildSystemMessage(contextBlock string) string {
	refStart := s.promptCfg.RefStart
	if refStart == "" {
		refStart = "<<REF>>"
	}
	refEnd := s.promptCfg.RefEnd
	if refEnd == "" {
		refEnd = "<<END>>"
	}

	var sys strings.Builder
	if s.promptCfg.Rules != "" {
		sys.WriteString(s.promptCfg.Rules)
		sys.WriteString("\n\n")
	}
	sys.WriteString(refStart)
	sys.WriteString("\n")
	if contextBlock != "" {
		sys.WriteString(contextBlock)
	} else {
		noRes := s.promptCfg.NoResultText
		if noRes == "" {
			noRes = "（本轮无检索结果）"
		}
		sys.WriteString(noRes)
		sys.WriteString("\n")
	}
	sys.WriteString(refEnd)
	return sys.String()
}

// truncateHistory 保留最近 turns 轮问答（一轮 = 一问一答两条消息），
// 控制提示长度。
func truncateHistory(history []model.ConversationTurn, turns int) []model.ConversationTurn {
	limit := turns * 2
	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}
