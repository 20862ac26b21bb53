// Package chunker 将长文本切分为带重叠的定长窗口。
package chunker

import (
	"fmt"
	"strings"

	"news-rag-go/pkg/errs"
)

// Splitter 按固定窗口与重叠量切分文本。
// Split 是输入的纯函数，不携带任何隐藏状态，可重复调用得到相同结果。
type Splitter struct {
	chunkSize    int
	chunkOverlap int
}

// New 创建一个 Splitter。
// 要求 chunkSize > 0 且 0 <= chunkOverlap < chunkSize，否则窗口无法前进，直接报错而不是死循环。
func New(chunkSize, chunkOverlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunkSize 必须为正, got %d", errs.ErrInvalidChunking, chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunkOverlap 必须满足 0 <= overlap < chunkSize, got overlap=%d size=%d",
			errs.ErrInvalidChunking, chunkOverlap, chunkSize)
	}
	return &Splitter{chunkSize: chunkSize, chunkOverlap: chunkOverlap}, nil
}

// ChunkSize 返回配置的窗口大小。
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Split 将文本切分为有序的窗口序列。
// 相邻窗口的起点相距 chunkSize−chunkOverlap 个字符（按 rune 计），
// 最后一个窗口可以短于 chunkSize；修剪后为空白的窗口被丢弃。
// 文本短于 chunkSize 时返回单块全文（修剪后）。
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	// 全文可容纳在单个窗口内：返回修剪后的全文
	if len(runes) <= s.chunkSize {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	var chunks []string
	step := s.chunkSize - s.chunkOverlap
	for i := 0; i < len(runes); i += step {
		end := i + s.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		window := string(runes[i:end])
		if strings.TrimSpace(window) != "" {
			chunks = append(chunks, window)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}
