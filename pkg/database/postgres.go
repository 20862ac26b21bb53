package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"news-rag-go/pkg/log"
)

// NewPostgres 建立 Postgres 连接，供 pgvector 向量索引后端使用。
func NewPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开 Postgres 连接失败: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("连接 Postgres 失败: %w", err)
	}

	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(50)

	log.Info("Postgres database connected successfully")
	return db, nil
}
