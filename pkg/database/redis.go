package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"news-rag-go/internal/config"
	"news-rag-go/pkg/log"
)

// NewRedis 建立 Redis 连接并以 Ping 验证可达性。
func NewRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	log.Info("Redis client connected successfully")
	return rdb, nil
}
