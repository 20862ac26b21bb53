package provider

import (
	"context"

	"news-rag-go/internal/model"
)

// VectorIndex 是向量索引的能力接口。
// 所有后端在边界处把相似度统一换算为 [0,1] 上的归一化余弦相似度
// （(1+cos)/2，越大越相关），后端原生的距离语义不向上层泄漏。
type VectorIndex interface {
	// EnsureCollection 确保集合存在且维度一致，启动期调用一次。
	EnsureCollection(ctx context.Context, dims int) error
	// Upsert 按 chunk id 写入或覆盖一批条目；chunks 与 vectors 按下标一一对应。
	// 返回时写入已获确认，调用方以此实现批次间背压。
	Upsert(ctx context.Context, chunks []model.Chunk, vectors [][]float32) error
	// Query 返回与 vector 最相似的至多 topK 条结果，按分数降序。
	// 索引中条目不足 topK 时只返回实际存在的条目。
	Query(ctx context.Context, vector []float32, topK int) ([]model.RetrievedMatch, error)
	// Delete 按 chunk id 删除条目。
	Delete(ctx context.Context, ids []string) error
	// Clear 清空整个集合。
	Clear(ctx context.Context) error
}
