package session

import (
	"context"
	"sync"
	"time"

	"news-rag-go/internal/model"
)

// memoryStore 是进程内的会话存储后端，用于本地开发与测试。
// 语义与 redisStore 对齐：滑动 TTL，过期读取等同于不存在。
type memoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	maxTurns int
	sessions map[string]*memorySession
	now      func() time.Time // 可注入时钟，TTL 测试用
}

type memorySession struct {
	turns     []model.ConversationTurn
	expiresAt time.Time
}

// NewMemoryStore 创建内存会话存储。
func NewMemoryStore(ttl time.Duration, maxTurns int) Store {
	return &memoryStore{
		ttl:      ttl,
		maxTurns: maxTurns,
		sessions: make(map[string]*memorySession),
		now:      time.Now,
	}
}

func (s *memoryStore) Append(_ context.Context, sessionID string, turns ...model.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.sessions[sessionID]
	if sess == nil || s.now().After(sess.expiresAt) {
		sess = &memorySession{}
		s.sessions[sessionID] = sess
	}
	sess.turns = append(sess.turns, turns...)
	if s.maxTurns > 0 && len(sess.turns) > s.maxTurns {
		sess.turns = sess.turns[len(sess.turns)-s.maxTurns:]
	}
	sess.expiresAt = s.now().Add(s.ttl) // 滑动 TTL
	return nil
}

func (s *memoryStore) Get(_ context.Context, sessionID string) ([]model.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess := s.sessions[sessionID]
	if sess == nil || s.now().After(sess.expiresAt) {
		return []model.ConversationTurn{}, nil
	}
	out := make([]model.ConversationTurn, len(sess.turns))
	copy(out, sess.turns)
	return out, nil
}

func (s *memoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
