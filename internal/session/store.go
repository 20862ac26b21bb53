// Package session 提供按会话 ID 分片、滑动 TTL 的对话历史存储。
package session

import (
	"context"
	"fmt"

	"news-rag-go/internal/config"
	"news-rag-go/internal/model"
	"news-rag-go/pkg/errs"

	"github.com/go-redis/redis/v8"
)

// Store 定义了会话历史的操作接口。
// 每次 Append 都从当前时刻重新计算过期时间（滑动 TTL）；
// 过期与从未存在在读取口径上不作区分，都返回空历史。
type Store interface {
	// Append 追加若干轮消息，会话不存在时自动创建，并刷新 TTL。
	Append(ctx context.Context, sessionID string, turns ...model.ConversationTurn) error
	// Get 返回按插入顺序排列的历史，不存在或已过期时返回空切片。
	Get(ctx context.Context, sessionID string) ([]model.ConversationTurn, error)
	// Clear 立即删除会话，与 TTL 无关。
	Clear(ctx context.Context, sessionID string) error
}

// New 按配置选择会话存储后端。
func New(cfg config.SessionConfig, rdb *redis.Client) (Store, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedisStore(rdb, cfg.TTL, cfg.MaxTurns), nil
	case "memory":
		return NewMemoryStore(cfg.TTL, cfg.MaxTurns), nil
	default:
		return nil, fmt.Errorf("%w: session backend '%s'", errs.ErrBackendUnknown, cfg.Backend)
	}
}
