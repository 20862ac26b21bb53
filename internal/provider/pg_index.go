package provider

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"news-rag-go/internal/model"
	"news-rag-go/pkg/errs"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// pgIndex 是基于 Postgres + pgvector 的 VectorIndex 后端。
// 一个集合对应一张表，余弦距离（<=> 算子）在边界处换算为归一化相似度。
type pgIndex struct {
	db         *sql.DB
	collection string
}

var collectionNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// NewPgIndex 创建 pgvector 向量索引后端。
// collection 直接用作表名，因此限制为合法的小写标识符。
func NewPgIndex(db *sql.DB, collection string) (VectorIndex, error) {
	if !collectionNamePattern.MatchString(collection) {
		return nil, fmt.Errorf("%w: 非法的集合名 '%s'", errs.ErrIndex, collection)
	}
	return &pgIndex{db: db, collection: collection}, nil
}

// EnsureCollection 启用 vector 扩展并按维度建表（幂等）。
func (p *pgIndex) EnsureCollection(ctx context.Context, dims int) error {
	if _, err := p.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("%w: 启用 vector 扩展失败: %v", errs.ErrIndex, err)
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			chunk_id     text PRIMARY KEY,
			text_content text NOT NULL,
			title        text,
			url          text,
			published_at timestamptz,
			source       text,
			embedding    vector(%d) NOT NULL
		)`, p.collection, dims)
	if _, err := p.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: 创建集合表失败: %v", errs.ErrIndex, err)
	}
	return nil
}

// Upsert 按 chunk_id 做 ON CONFLICT 覆盖写入；事务提交即视为本批已确认。
func (p *pgIndex) Upsert(ctx context.Context, chunks []model.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: chunks(%d) 与 vectors(%d) 数量不一致", errs.ErrIndex, len(chunks), len(vectors))
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: 开启事务失败: %v", errs.ErrIndex, err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (chunk_id, text_content, title, url, published_at, source, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (chunk_id) DO UPDATE
		SET text_content = EXCLUDED.text_content,
		    title        = EXCLUDED.title,
		    url          = EXCLUDED.url,
		    published_at = EXCLUDED.published_at,
		    source       = EXCLUDED.source,
		    embedding    = EXCLUDED.embedding`, p.collection)

	for i, chunk := range chunks {
		vec := pgvector.NewVector(vectors[i])
		if _, err := tx.ExecContext(ctx, query,
			chunk.ID, chunk.Text, chunk.Title, chunk.URL, chunk.PublishedAt, chunk.Source, vec); err != nil {
			return fmt.Errorf("%w: 写入条目 %s 失败: %v", errs.ErrIndex, chunk.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: 提交事务失败: %v", errs.ErrIndex, err)
	}
	return nil
}

// Query 按余弦距离排序取前 topK。
// <=> 返回的余弦距离 d = 1−cos ∈ [0,2]，换算 1−d/2 即为统一标度 (1+cos)/2。
func (p *pgIndex) Query(ctx context.Context, vector []float32, topK int) ([]model.RetrievedMatch, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK 必须为正, got %d", errs.ErrIndex, topK)
	}
	vec := pgvector.NewVector(vector)
	query := fmt.Sprintf(`
		SELECT chunk_id, text_content, title, url, source,
		       1 - (embedding <=> $1) / 2 AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`, p.collection)

	rows, err := p.db.QueryContext(ctx, query, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: 相似度查询失败: %v", errs.ErrIndex, err)
	}
	defer rows.Close()

	var matches []model.RetrievedMatch
	for rows.Next() {
		var m model.RetrievedMatch
		if err := rows.Scan(&m.ChunkID, &m.Text, &m.Title, &m.URL, &m.Source, &m.Score); err != nil {
			return nil, fmt.Errorf("%w: 扫描查询结果失败: %v", errs.ErrIndex, err)
		}
		matches = append(matches, m)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("%w: 遍历查询结果失败: %v", errs.ErrIndex, rows.Err())
	}
	return matches, nil
}

// Delete 按 chunk id 批量删除。
func (p *pgIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE chunk_id = ANY($1)`, p.collection)
	if _, err := p.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("%w: 删除条目失败: %v", errs.ErrIndex, err)
	}
	return nil
}

// Clear 清空整个集合表。
func (p *pgIndex) Clear(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE %s`, p.collection)); err != nil {
		return fmt.Errorf("%w: 清空集合失败: %v", errs.ErrIndex, err)
	}
	return nil
}
