// Package model 包含了应用的数据模型定义。
package model

import "time"

// SourceArticle 代表一篇已抓取、尚未分块的新闻文章。
// 由外部抓取方提供，摄取管线消费一次后即丢弃。
type SourceArticle struct {
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"publishedAt"`
	Source      string    `json:"source"`
}

// Chunk 是检索的最小单元：一段定长文本窗口及其所属文章的元数据。
// ID 全局唯一（uuid 前缀 + 块序号），创建后不可变。
type Chunk struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"publishedAt"`
	Source      string    `json:"source"`
}

// RetrievedMatch 是一次相似度查询的单条结果。
// Score 为统一标度下的余弦相似度，已归一化到 [0,1]，越大越相关。
type RetrievedMatch struct {
	ChunkID string  `json:"chunkId"`
	Text    string  `json:"text"`
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// Citation 是随回答返回的引用来源。
type Citation struct {
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// ConversationTurn 代表会话中的一条消息。
type ConversationTurn struct {
	Role      string     `json:"role"` // "user" 或 "assistant"
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Citations []Citation `json:"citations,omitempty"`
}

// ChatAnswer 是一次非流式问答的完整结果。
type ChatAnswer struct {
	SessionID string     `json:"sessionId"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// Fragment 是流式回答通道中的一个事件。
// Done 为 false 时只有 Delta 有效；终止事件携带会话 ID 与引用列表。
type Fragment struct {
	Delta     string     `json:"delta,omitempty"`
	Done      bool       `json:"done"`
	SessionID string     `json:"sessionId,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
	Err       error      `json:"-"`
}

// IngestReport 汇总一次摄取运行的结果，供运维诊断部分失败的运行。
type IngestReport struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Fetched        int       `gorm:"not null" json:"fetched"`
	Skipped        int       `gorm:"not null" json:"skipped"`
	DocumentsAdded int       `gorm:"not null;column:documents_added" json:"documentsAdded"`
	ChunksIndexed  int       `gorm:"not null;column:chunks_indexed" json:"chunksIndexed"`
	StartedAt      time.Time `gorm:"column:started_at" json:"startedAt"`
	FinishedAt     time.Time `gorm:"column:finished_at" json:"finishedAt"`
}

func (IngestReport) TableName() string {
	return "ingest_reports"
}

// IngestedArticle 对应 ingested_articles 表，登记已入库的文章用于按 URL 去重。
type IngestedArticle struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	URL         string    `gorm:"type:varchar(768);uniqueIndex;not null" json:"url"`
	Title       string    `gorm:"type:varchar(512)" json:"title"`
	Source      string    `gorm:"type:varchar(100);index" json:"source"`
	ChunkCount  int       `gorm:"not null" json:"chunkCount"`
	PublishedAt time.Time `gorm:"column:published_at" json:"publishedAt"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (IngestedArticle) TableName() string {
	return "ingested_articles"
}
