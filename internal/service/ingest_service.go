package service

import (
	"context"
	"errors"
	"fmt"

	"news-rag-go/internal/ingest"
	"news-rag-go/internal/model"
	"news-rag-go/internal/repository"
	"news-rag-go/pkg/kafka"
	"news-rag-go/pkg/log"
	"news-rag-go/pkg/tasks"

	"github.com/google/uuid"
)

// IngestService 定义了摄取操作的接口。
// Trigger 同步执行一次完整运行；EnqueueArticle 把单篇文章投递到
// Kafka 队列异步处理，两条路径共用同一条管线。
type IngestService interface {
	// Trigger 同步执行一次摄取运行并返回报告。
	Trigger(ctx context.Context) (*model.IngestReport, error)
	// EnqueueArticle 投递一篇文章到异步摄取队列，返回任务 ID。
	EnqueueArticle(ctx context.Context, article model.SourceArticle) (string, error)
	// LatestReport 返回最近一次摄取运行的报告，从未运行过时返回 nil。
	LatestReport(ctx context.Context) (*model.IngestReport, error)

	// Process 消费一条队列任务，实现 kafka.TaskProcessor。
	Process(ctx context.Context, task tasks.ArticleIngestTask) error
}

type ingestService struct {
	pipeline   *ingest.Pipeline
	fetchers   []ingest.Fetcher
	producer   *kafka.Producer // 可为 nil（队列关闭，EnqueueArticle 不可用）
	reportRepo repository.ReportRepository
}

// NewIngestService 创建一个新的 IngestService 实例。
func NewIngestService(
	pipeline *ingest.Pipeline,
	fetchers []ingest.Fetcher,
	producer *kafka.Producer,
	reportRepo repository.ReportRepository,
) (IngestService, error) {
	if pipeline == nil {
		return nil, errors.New("ingest service 的 pipeline 依赖不能为空")
	}
	return &ingestService{
		pipeline:   pipeline,
		fetchers:   fetchers,
		producer:   producer,
		reportRepo: reportRepo,
	}, nil
}

func (s *ingestService) Trigger(ctx context.Context) (*model.IngestReport, error) {
	return s.pipeline.Run(ctx, s.fetchers)
}

func (s *ingestService) EnqueueArticle(ctx context.Context, article model.SourceArticle) (string, error) {
	if s.producer == nil {
		return "", errors.New("摄取队列未启用")
	}
	task := tasks.ArticleIngestTask{TaskID: uuid.NewString(), Article: article}
	if err := s.producer.ProduceArticleTask(ctx, task); err != nil {
		return "", fmt.Errorf("投递摄取任务失败: %w", err)
	}
	log.Infof("[Ingest] 已投递摄取任务: TaskID=%s, Title=%s", task.TaskID, article.Title)
	return task.TaskID, nil
}

func (s *ingestService) LatestReport(ctx context.Context) (*model.IngestReport, error) {
	if s.reportRepo == nil {
		return nil, nil
	}
	return s.reportRepo.Latest()
}

// Process 把队列里的单篇文章走一遍 过滤 → 分块 → 向量化 → 入库。
func (s *ingestService) Process(ctx context.Context, task tasks.ArticleIngestTask) error {
	added, skipped, indexed, err := s.pipeline.IngestArticles(ctx, []model.SourceArticle{task.Article})
	if err != nil {
		return err
	}
	log.Infof("[Ingest] 队列任务完成: TaskID=%s added=%d skipped=%d chunks=%d",
		task.TaskID, added, skipped, indexed)
	return nil
}
