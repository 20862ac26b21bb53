// Package tasks 定义投递到 Kafka 的任务结构。
package tasks

import "news-rag-go/internal/model"

// ArticleIngestTask 表示一条异步文章摄取任务。
// TaskID 全局唯一，消费端用它做失败重试计数。
type ArticleIngestTask struct {
	TaskID  string              `json:"task_id"`
	Article model.SourceArticle `json:"article"`
}
