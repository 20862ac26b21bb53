package chunker

import (
	"strings"
	"testing"

	"news-rag-go/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_InvalidParams(t *testing.T) {
	cases := []struct {
		name    string
		size    int
		overlap int
	}{
		{"overlap 等于 size", 100, 100},
		{"overlap 大于 size", 100, 150},
		{"size 为零", 0, 0},
		{"size 为负", -1, 0},
		{"overlap 为负", 100, -1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.size, tc.overlap)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrInvalidChunking)
		})
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	s, err := New(1000, 200)
	require.NoError(t, err)

	chunks := s.Split("  短文本，远小于窗口。  ")
	require.Len(t, chunks, 1)
	assert.Equal(t, "短文本，远小于窗口。", chunks[0])
}

func TestSplit_EmptyAndWhitespace(t *testing.T) {
	s, err := New(10, 2)
	require.NoError(t, err)

	assert.Nil(t, s.Split(""))
	assert.Nil(t, s.Split("     \n\t  "))
}

// chunkSize=1000, overlap=200, 文档长度 2500 → 有序分块，
// 每块 ≤1000 字符，相邻块共享 200 字符重叠。
func TestSplit_OverlapScenario(t *testing.T) {
	s, err := New(1000, 200)
	require.NoError(t, err)

	text := buildText(2500)
	chunks := s.Split(text)

	require.GreaterOrEqual(t, len(chunks), 3)
	require.LessOrEqual(t, len(chunks), 4)
	for i, c := range chunks {
		assert.LessOrEqualf(t, len([]rune(c)), 1000, "chunk %d 超出窗口大小", i)
	}
	// 相邻块共享 200 字符重叠
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		cur := []rune(chunks[i])
		tail := string(prev[len(prev)-200:])
		head := string(cur[:200])
		assert.Equalf(t, tail, head, "chunk %d 与 %d 的重叠区不一致", i-1, i)
	}
}

// 往返性质：用每个分块去掉与前一块重叠的前缀后依次拼接，应精确还原原文。
func TestSplit_RoundTrip(t *testing.T) {
	s, err := New(50, 10)
	require.NoError(t, err)

	text := buildText(487)
	chunks := s.Split(text)
	require.NotEmpty(t, chunks)

	var b strings.Builder
	b.WriteString(chunks[0])
	for i := 1; i < len(chunks); i++ {
		runes := []rune(chunks[i])
		b.WriteString(string(runes[10:]))
	}
	assert.Equal(t, text, b.String())
}

// 幂等性质：同一输入与参数重复切分结果完全一致。
func TestSplit_Deterministic(t *testing.T) {
	s, err := New(100, 30)
	require.NoError(t, err)

	text := buildText(1234)
	first := s.Split(text)
	second := s.Split(text)
	assert.Equal(t, first, second)
}

// 多字节字符按 rune 计数，不会把一个字符切成两半。
func TestSplit_MultibyteRunes(t *testing.T) {
	s, err := New(10, 3)
	require.NoError(t, err)

	text := strings.Repeat("联邦快讯热点新闻稿件", 5) // 50 个汉字
	chunks := s.Split(text)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 10)
		assert.True(t, strings.ContainsAny(c, "联邦快讯热点新闻稿件"))
	}
}

// buildText 生成一段长度确定、无空白的可校验文本。
func buildText(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(alphabet[i%len(alphabet)])
	}
	return b.String()
}
