package ingest

import (
	"context"
	"fmt"
	"time"

	"news-rag-go/internal/chunker"
	"news-rag-go/internal/config"
	"news-rag-go/internal/model"
	"news-rag-go/internal/provider"
	"news-rag-go/internal/repository"
	"news-rag-go/pkg/log"

	"github.com/google/uuid"
)

// Archiver 把原始文章正文归档到对象存储，失败不影响摄取结果。
type Archiver interface {
	PutArticle(ctx context.Context, article model.SourceArticle) error
}

// Pipeline 封装了文章摄取的所有依赖和逻辑。
// 状态机：抓取 → 过滤 → 分块 → 向量化 → 入库 → 完成；
// 向量化或索引失败会中止整次运行，单篇文章的问题只会跳过该篇。
type Pipeline struct {
	splitter    *chunker.Splitter
	embedder    provider.Embedder
	index       provider.VectorIndex
	archive     Archiver                     // 可为 nil（归档关闭）
	articleRepo repository.ArticleRepository // 可为 nil（去重与登记关闭）
	reportRepo  repository.ReportRepository  // 可为 nil（报告不落库）
	cfg         config.IngestConfig
}

// NewPipeline 创建一个新的 Pipeline 实例。
func NewPipeline(
	splitter *chunker.Splitter,
	embedder provider.Embedder,
	index provider.VectorIndex,
	archive Archiver,
	articleRepo repository.ArticleRepository,
	reportRepo repository.ReportRepository,
	cfg config.IngestConfig,
) *Pipeline {
	return &Pipeline{
		splitter:    splitter,
		embedder:    embedder,
		index:       index,
		archive:     archive,
		articleRepo: articleRepo,
		reportRepo:  reportRepo,
		cfg:         cfg,
	}
}

// Run 执行一次完整的摄取运行：从各来源取文，总量封顶并均分到各来源。
// 返回的报告无论成败都会尽量填充，供运维对照“抓到多少、进了多少”。
func (p *Pipeline) Run(ctx context.Context, fetchers []Fetcher) (*model.IngestReport, error) {
	report := &model.IngestReport{StartedAt: time.Now()}

	if len(fetchers) == 0 {
		report.FinishedAt = time.Now()
		return report, nil
	}

	// 1. 抓取：总量封顶，均分到各来源；单来源失败按来源跳过
	perSource := p.cfg.MaxArticles / len(fetchers)
	if perSource < 1 {
		perSource = 1
	}
	var articles []model.SourceArticle
	for _, f := range fetchers {
		fetched, err := f.Fetch(ctx, perSource)
		if err != nil {
			log.Errorf("[Ingest] 来源 '%s' 抓取失败, 跳过该来源: %v", f.Source(), err)
			report.Skipped++
			continue
		}
		log.Infof("[Ingest] 来源 '%s' 抓取到 %d 篇文章", f.Source(), len(fetched))
		articles = append(articles, fetched...)
	}
	report.Fetched = len(articles)

	added, skipped, chunksIndexed, err := p.IngestArticles(ctx, articles)
	report.DocumentsAdded = added
	report.Skipped += skipped
	report.ChunksIndexed = chunksIndexed
	report.FinishedAt = time.Now()

	if p.reportRepo != nil {
		if repErr := p.reportRepo.Create(report); repErr != nil {
			log.Errorf("[Ingest] 保存摄取报告失败: %v", repErr)
		}
	}
	if err != nil {
		return report, err
	}
	log.Infof("[Ingest] 摄取运行完成: fetched=%d added=%d skipped=%d chunks=%d",
		report.Fetched, report.DocumentsAdded, report.Skipped, report.ChunksIndexed)
	return report, nil
}

// IngestArticles 把一批文章分块、向量化并写入索引。
// 返回 (入库文章数, 跳过文章数, 入库分块数)。
func (p *Pipeline) IngestArticles(ctx context.Context, articles []model.SourceArticle) (int, int, int, error) {
	// 2. 过滤：正文过短（付费墙残片等）或已入库的文章按篇跳过
	var kept []model.SourceArticle
	skipped := 0
	for _, a := range articles {
		if len([]rune(a.Body)) < p.cfg.MinBodyLength {
			log.Warnf("[Ingest] 文章 '%s' 正文过短(%d < %d), 跳过", a.Title, len([]rune(a.Body)), p.cfg.MinBodyLength)
			skipped++
			continue
		}
		if p.articleRepo != nil && a.URL != "" {
			exists, err := p.articleRepo.ExistsByURL(a.URL)
			if err != nil {
				log.Errorf("[Ingest] 查询文章登记失败, 当作未入库处理: %v", err)
			} else if exists {
				log.Infof("[Ingest] 文章已入库, 跳过: %s", a.URL)
				skipped++
				continue
			}
		}
		kept = append(kept, a)
	}

	// 3. 分块：每块携带所属文章元数据；id = uuid 前缀 + 块序号，跨运行防碰撞
	type ownedChunks struct {
		article model.SourceArticle
		chunks  []model.Chunk
	}
	var owned []ownedChunks
	var allChunks []model.Chunk
	for _, a := range kept {
		pieces := p.splitter.Split(a.Body)
		if len(pieces) == 0 {
			skipped++
			continue
		}
		articleUID := uuid.NewString()
		chunks := make([]model.Chunk, 0, len(pieces))
		for i, text := range pieces {
			chunks = append(chunks, model.Chunk{
				ID:          fmt.Sprintf("%s:%d", articleUID, i),
				Text:        text,
				Title:       a.Title,
				URL:         a.URL,
				PublishedAt: a.PublishedAt,
				Source:      a.Source,
			})
		}
		owned = append(owned, ownedChunks{article: a, chunks: chunks})
		allChunks = append(allChunks, chunks...)
	}
	log.Infof("[Ingest] 分块完成: %d 篇文章共 %d 个分块", len(owned), len(allChunks))

	// 4/5. 向量化并入库：按批推进，每批写入确认后才开始下一批（背压、内存有界）
	indexed := 0
	for start := 0; start < len(allChunks); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(allChunks) {
			end = len(allChunks)
		}
		batch := allChunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			// 已确认的批次保留在索引中，但整次运行按失败上报
			return 0, skipped, indexed, fmt.Errorf("向量化批次 [%d:%d] 失败: %w", start, end, err)
		}
		if err := p.index.Upsert(ctx, batch, vectors); err != nil {
			return 0, skipped, indexed, fmt.Errorf("索引批次 [%d:%d] 失败: %w", start, end, err)
		}
		indexed = end
		log.Infof("[Ingest] 批次 [%d:%d] 向量化并入库成功", start, end)
	}

	// 6. 收尾：归档原文、登记文章（均为尽力而为，不影响本次结果）
	for _, oc := range owned {
		if p.archive != nil {
			if err := p.archive.PutArticle(ctx, oc.article); err != nil {
				log.Warnf("[Ingest] 归档文章 '%s' 失败: %v", oc.article.Title, err)
			}
		}
		if p.articleRepo != nil {
			record := &model.IngestedArticle{
				URL:         oc.article.URL,
				Title:       oc.article.Title,
				Source:      oc.article.Source,
				ChunkCount:  len(oc.chunks),
				PublishedAt: oc.article.PublishedAt,
			}
			if err := p.articleRepo.Create(record); err != nil {
				log.Errorf("[Ingest] 登记文章 '%s' 失败: %v", oc.article.Title, err)
			}
		}
	}
	return len(owned), skipped, indexed, nil
}
