// Package token 提供流式通道令牌的生成与验证。
// websocket 握手无法携带自定义请求头，客户端先换取短时 JWT，再以令牌建立连接。
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StreamClaims 是流式通道令牌携带的声明：绑定会话与首条消息。
type StreamClaims struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	jwt.RegisteredClaims
}

// Manager 负责流式通道令牌的签发与验证。
type Manager struct {
	secretKey []byte
	expires   time.Duration
}

// NewManager 创建令牌管理器。expireMinutes 是令牌有效期（分钟）。
func NewManager(secret string, expireMinutes int) *Manager {
	return &Manager{
		secretKey: []byte(secret),
		expires:   time.Duration(expireMinutes) * time.Minute,
	}
}

// GenerateStreamToken 签发一个绑定 (sessionID, message) 的短时令牌。
func (m *Manager) GenerateStreamToken(sessionID, message string) (string, error) {
	now := time.Now()
	claims := StreamClaims{
		SessionID: sessionID,
		Message:   message,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expires)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secretKey)
}

// VerifyStreamToken 验证令牌并取出绑定的声明。
// 签名不符或已过期均返回错误。
func (m *Manager) VerifyStreamToken(tokenString string) (*StreamClaims, error) {
	t, err := jwt.ParseWithClaims(tokenString, &StreamClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	})
	if err != nil {
		return nil, err
	}
	if claims, ok := t.Claims.(*StreamClaims); ok && t.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
