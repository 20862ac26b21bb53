package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"news-rag-go/internal/config"
	"news-rag-go/internal/model"
	"news-rag-go/internal/provider"
	"news-rag-go/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedEmbedder 对任意文本返回同一向量，使检索结果可控。
type fixedEmbedder struct {
	vector []float32
	err    error
}

func (e *fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return e.vector, e.err
}

func (e *fixedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := e.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// scriptedGenerator 回放固定回答，流式时按 pieces 逐片下发，
// 并记录最近一次请求供断言。
type scriptedGenerator struct {
	answer  string
	pieces  []string
	err     error
	lastReq provider.GenerateRequest
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) Generate(_ context.Context, req provider.GenerateRequest) (string, error) {
	g.lastReq = req
	if g.err != nil {
		return "", g.err
	}
	return g.answer, nil
}

func (g *scriptedGenerator) Stream(ctx context.Context, req provider.GenerateRequest, onDelta func(string) error) (string, error) {
	g.lastReq = req
	if g.err != nil {
		return "", g.err
	}
	var full strings.Builder
	for _, p := range g.pieces {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := onDelta(p); err != nil {
			return "", err
		}
		full.WriteString(p)
	}
	return full.String(), nil
}

func newTestIndex(t *testing.T, chunks []model.Chunk, vectors [][]float32) provider.VectorIndex {
	t.Helper()
	index := provider.NewMemoryIndex()
	require.NoError(t, index.EnsureCollection(context.Background(), 3))
	if len(chunks) > 0 {
		require.NoError(t, index.Upsert(context.Background(), chunks, vectors))
	}
	return index
}

func newTestChatService(t *testing.T, gen provider.Generator, index provider.VectorIndex) (ChatService, session.Store) {
	t.Helper()
	sessions := session.NewMemoryStore(time.Hour, 20)
	svc, err := NewChatService(
		&fixedEmbedder{vector: []float32{1, 0, 0}},
		gen,
		index,
		sessions,
		config.ChatConfig{TopK: 5, HistoryTurns: 2, CallTimeout: time.Second},
		config.PromptConfig{Rules: "只根据参考资料回答"},
	)
	require.NoError(t, err)
	return svc, sessions
}

func twoChunks() ([]model.Chunk, [][]float32) {
	chunks := []model.Chunk{
		{ID: "a:0", Text: "央行宣布降息", Title: "降息新闻", URL: "https://example.com/a"},
		{ID: "b:0", Text: "股市收盘上涨", Title: "股市新闻", URL: "https://example.com/b"},
	}
	vectors := [][]float32{
		{1, 0, 0}, // 与查询向量相同 → 得分 1.0
		{0, 1, 0}, // 正交 → 得分 0.5
	}
	return chunks, vectors
}

func TestNewChatService_RequiresDependencies(t *testing.T) {
	_, err := NewChatService(nil, &scriptedGenerator{}, provider.NewMemoryIndex(),
		session.NewMemoryStore(time.Hour, 20), config.ChatConfig{}, config.PromptConfig{})
	assert.Error(t, err)
}

func TestSendMessage_MintsAndReusesSessionID(t *testing.T) {
	gen := &scriptedGenerator{answer: "答案"}
	svc, _ := newTestChatService(t, gen, newTestIndex(t, nil, nil))

	first, err := svc.SendMessage(context.Background(), "", "今天有什么新闻？")
	require.NoError(t, err)
	assert.NotEmpty(t, first.SessionID)

	second, err := svc.SendMessage(context.Background(), first.SessionID, "还有吗？")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)

	history, err := svc.GetHistory(context.Background(), first.SessionID)
	require.NoError(t, err)
	// 两次问答 → 4 条消息，插入顺序不变
	require.Len(t, history, 4)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "今天有什么新闻？", history[0].Content)
	assert.Equal(t, "assistant", history[1].Role)
	assert.Equal(t, "还有吗？", history[2].Content)
}

func TestSendMessage_CitationsFollowScoreOrder(t *testing.T) {
	chunks, vectors := twoChunks()
	gen := &scriptedGenerator{answer: "根据报道，央行宣布降息。"}
	svc, _ := newTestChatService(t, gen, newTestIndex(t, chunks, vectors))

	answer, err := svc.SendMessage(context.Background(), "", "降息了吗")
	require.NoError(t, err)
	// topK=5 但索引只有 2 条 → 2 条引用
	require.Len(t, answer.Citations, 2)
	assert.Equal(t, "降息新闻", answer.Citations[0].Title)
	assert.Equal(t, "https://example.com/a", answer.Citations[0].URL)
	assert.InDelta(t, 1.0, answer.Citations[0].Score, 1e-6)
	assert.InDelta(t, 0.5, answer.Citations[1].Score, 1e-6)

	// 上下文块按相关度降序编号，系统提示携带规则
	assert.Contains(t, gen.lastReq.System, "只根据参考资料回答")
	assert.Contains(t, gen.lastReq.System, "[1] (降息新闻) 央行宣布降息")
	assert.Contains(t, gen.lastReq.System, "[2] (股市新闻) 股市收盘上涨")
}

func TestSendMessage_EmptyIndexTellsGenerator(t *testing.T) {
	gen := &scriptedGenerator{answer: "没有相关消息。"}
	svc, _ := newTestChatService(t, gen, newTestIndex(t, nil, nil))

	answer, err := svc.SendMessage(context.Background(), "", "降息了吗")
	require.NoError(t, err)
	assert.Empty(t, answer.Citations)
	assert.Contains(t, gen.lastReq.System, "（本轮无检索结果）")
}

func TestSendMessage_ApologyWhenGenerationExhausted(t *testing.T) {
	chunks, vectors := twoChunks()
	gen := &scriptedGenerator{err: errors.New("quota exceeded")}
	svc, _ := newTestChatService(t, gen, newTestIndex(t, chunks, vectors))

	answer, err := svc.SendMessage(context.Background(), "", "降息了吗")
	require.NoError(t, err) // 对调用方永远是格式完好的回答
	assert.Equal(t, apologyText, answer.Answer)
	assert.Empty(t, answer.Citations)

	// 兜底回答同样进入会话历史
	history, err := svc.GetHistory(context.Background(), answer.SessionID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, apologyText, history[1].Content)
}

func TestSendMessage_RejectsBlankMessage(t *testing.T) {
	gen := &scriptedGenerator{answer: "x"}
	svc, _ := newTestChatService(t, gen, newTestIndex(t, nil, nil))

	_, err := svc.SendMessage(context.Background(), "", "   ")
	assert.Error(t, err)
}

func TestSendMessage_EmbedFailureAbortsRequest(t *testing.T) {
	sessions := session.NewMemoryStore(time.Hour, 20)
	svc, err := NewChatService(
		&fixedEmbedder{err: errors.New("backend down")},
		&scriptedGenerator{answer: "x"},
		newTestIndex(t, nil, nil),
		sessions,
		config.ChatConfig{TopK: 5, HistoryTurns: 2, CallTimeout: time.Second},
		config.PromptConfig{},
	)
	require.NoError(t, err)

	_, err = svc.SendMessage(context.Background(), "", "降息了吗")
	assert.Error(t, err)
}

func TestStreamMessage_MatchesBatchedAnswer(t *testing.T) {
	chunks, vectors := twoChunks()
	gen := &scriptedGenerator{
		answer: "根据报道，央行宣布降息。",
		pieces: []string{"根据报道，", "央行宣布", "降息。"},
	}
	svc, _ := newTestChatService(t, gen, newTestIndex(t, chunks, vectors))

	batched, err := svc.SendMessage(context.Background(), "", "降息了吗")
	require.NoError(t, err)

	ch, err := svc.StreamMessage(context.Background(), "", "降息了吗")
	require.NoError(t, err)

	var streamed strings.Builder
	var terminal model.Fragment
	for f := range ch {
		if f.Done {
			terminal = f
			continue
		}
		streamed.WriteString(f.Delta)
	}

	// 流式拼接结果与非流式回答一致，不允许两条路径漂移
	assert.Equal(t, batched.Answer, streamed.String())
	assert.True(t, terminal.Done)
	assert.NotEmpty(t, terminal.SessionID)
	require.Len(t, terminal.Citations, 2)
	assert.Equal(t, "降息新闻", terminal.Citations[0].Title)
}

func TestStreamMessage_ApologyBeforeFirstDelta(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("quota exceeded")}
	svc, _ := newTestChatService(t, gen, newTestIndex(t, nil, nil))

	ch, err := svc.StreamMessage(context.Background(), "", "降息了吗")
	require.NoError(t, err)

	var deltas []string
	var terminal model.Fragment
	for f := range ch {
		if f.Done {
			terminal = f
			continue
		}
		deltas = append(deltas, f.Delta)
	}
	require.Len(t, deltas, 1)
	assert.Equal(t, apologyText, deltas[0])
	assert.True(t, terminal.Done)
	assert.Empty(t, terminal.Citations)
	assert.NoError(t, terminal.Err)
}

func TestStreamMessage_CancellationStopsEmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &scriptedGenerator{pieces: []string{"片段"}}
	svc, _ := newTestChatService(t, gen, newTestIndex(t, nil, nil))

	ch, err := svc.StreamMessage(ctx, "", "降息了吗")
	require.NoError(t, err)
	cancel()

	// 通道最终关闭，进程不崩溃；取消后不保证终止事件
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("取消后分片通道未关闭")
		}
	}
}

func TestTruncateHistory_KeepsRecentTurns(t *testing.T) {
	var history []model.ConversationTurn
	for i := 0; i < 3; i++ {
		history = append(history,
			model.ConversationTurn{Role: "user", Content: "问"},
			model.ConversationTurn{Role: "assistant", Content: "答"},
		)
	}
	history[4].Content = "最近的问题"

	got := truncateHistory(history, 2)
	require.Len(t, got, 4)
	assert.Equal(t, "最近的问题", got[0].Content)

	// 不足上限时原样返回
	assert.Len(t, truncateHistory(history[:2], 2), 2)
}
