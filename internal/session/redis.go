package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"news-rag-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// redisStore 把每个会话存为 Redis 中的一个 JSON 值。
// 每次 Append 以配置的 TTL 重新 SET，天然实现滑动过期；
// 会话间互不共享键，无跨会话锁。
type redisStore struct {
	rdb      *redis.Client
	ttl      time.Duration
	maxTurns int
}

// NewRedisStore 创建 Redis 会话存储。
func NewRedisStore(rdb *redis.Client, ttl time.Duration, maxTurns int) Store {
	return &redisStore{rdb: rdb, ttl: ttl, maxTurns: maxTurns}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func (s *redisStore) Append(ctx context.Context, sessionID string, turns ...model.ConversationTurn) error {
	history, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	history = append(history, turns...)

	// 控制单个会话的存储规模，只保留最近的轮次
	if s.maxTurns > 0 && len(history) > s.maxTurns {
		history = history[len(history)-s.maxTurns:]
	}

	jsonData, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal session history: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sessionID), jsonData, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session history: %w", err)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, sessionID string) ([]model.ConversationTurn, error) {
	jsonData, err := s.rdb.Get(ctx, sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return []model.ConversationTurn{}, nil // 不存在或已过期
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session history: %w", err)
	}
	var turns []model.ConversationTurn
	if err := json.Unmarshal([]byte(jsonData), &turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session history: %w", err)
	}
	return turns, nil
}

func (s *redisStore) Clear(ctx context.Context, sessionID string) error {
	if err := s.rdb.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
