// Package main 是应用程序的入口点。
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"news-rag-go/internal/chunker"
	"news-rag-go/internal/config"
	"news-rag-go/internal/handler"
	"news-rag-go/internal/ingest"
	"news-rag-go/internal/middleware"
	"news-rag-go/internal/model"
	"news-rag-go/internal/provider"
	"news-rag-go/internal/repository"
	"news-rag-go/internal/service"
	"news-rag-go/internal/session"
	"news-rag-go/pkg/database"
	"news-rag-go/pkg/kafka"
	"news-rag-go/pkg/log"
	"news-rag-go/pkg/storage"
	"news-rag-go/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 加载并校验配置，失败即退出
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 按配置建立外部连接；未配置的基础设施保持关闭
	var db *gorm.DB
	if cfg.Database.MySQL.DSN != "" {
		db, err = database.NewMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			log.Fatalf("初始化 MySQL 失败: %v", err)
		}
		if err := db.AutoMigrate(&model.IngestedArticle{}, &model.IngestReport{}); err != nil {
			log.Fatalf("MySQL 建表迁移失败: %v", err)
		}
	}

	var rdb *redis.Client
	if cfg.Session.Backend == "redis" || cfg.Kafka.Brokers != "" {
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			log.Fatalf("初始化 Redis 失败: %v", err)
		}
	}

	var archive *storage.Archive
	if cfg.MinIO.Endpoint != "" {
		archive, err = storage.NewArchive(cfg.MinIO)
		if err != nil {
			log.Fatalf("初始化 MinIO 失败: %v", err)
		}
	}

	// 4. 构建 Provider：向量化、生成回退链、向量索引
	embedder, err := provider.NewEmbedder(cfg.Provider.Embedder)
	if err != nil {
		log.Fatalf("初始化向量化后端失败: %v", err)
	}
	generator, err := provider.NewGenerator(cfg.Provider.Generator)
	if err != nil {
		log.Fatalf("初始化生成后端失败: %v", err)
	}
	index, err := buildVectorIndex(cfg)
	if err != nil {
		log.Fatalf("初始化向量索引失败: %v", err)
	}
	// 启动期确保集合存在且维度一致
	if err := index.EnsureCollection(context.Background(), cfg.Provider.VectorIndex.Dimensions); err != nil {
		log.Fatalf("初始化向量索引集合失败: %v", err)
	}

	// 5. 会话存储与仓库层
	sessions, err := session.New(cfg.Session, rdb)
	if err != nil {
		log.Fatalf("初始化会话存储失败: %v", err)
	}
	var articleRepo repository.ArticleRepository
	var reportRepo repository.ReportRepository
	if db != nil {
		articleRepo = repository.NewArticleRepository(db)
		reportRepo = repository.NewReportRepository(db)
	}

	// 6. 摄取管线与业务服务
	splitter, err := chunker.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		log.Fatalf("初始化分块器失败: %v", err)
	}
	var archiver ingest.Archiver
	if archive != nil {
		archiver = archive
	}
	pipeline := ingest.NewPipeline(splitter, embedder, index, archiver, articleRepo, reportRepo, cfg.Ingest)

	var fetchers []ingest.Fetcher
	if cfg.Ingest.SeedDir != "" {
		fetchers = append(fetchers, ingest.NewDirFetcher(cfg.Ingest.SeedDir, "seed"))
	}

	var producer *kafka.Producer
	if cfg.Kafka.Brokers != "" {
		producer = kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
	}

	chatService, err := service.NewChatService(embedder, generator, index, sessions, cfg.Chat, cfg.Provider.Generator.Prompt)
	if err != nil {
		log.Fatalf("初始化 chat service 失败: %v", err)
	}
	ingestService, err := service.NewIngestService(pipeline, fetchers, producer, reportRepo)
	if err != nil {
		log.Fatalf("初始化 ingest service 失败: %v", err)
	}

	// 7. 启动后台 Kafka 消费者
	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()
	if cfg.Kafka.Brokers != "" {
		go kafka.StartConsumer(rootCtx, cfg.Kafka, rdb, ingestService)
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	tokenManager := token.NewManager(cfg.JWT.Secret, cfg.JWT.StreamTokenExpires)
	chatHandler := handler.NewChatHandler(chatService, tokenManager)
	ingestHandler := handler.NewIngestHandler(ingestService)

	r.GET("/healthz", handler.NewHealthHandler().Check)
	apiV1 := r.Group("/api/v1")
	{
		chat := apiV1.Group("/chat")
		{
			chat.POST("", chatHandler.SendMessage)
			chat.GET("/history", chatHandler.GetHistory)
			chat.DELETE("/session/:sessionId", chatHandler.ResetSession)
			chat.POST("/stream-token", chatHandler.GetStreamToken)
		}
		ig := apiV1.Group("/ingest")
		{
			ig.POST("/trigger", ingestHandler.Trigger)
			ig.POST("/articles", ingestHandler.Enqueue)
			ig.GET("/report", ingestHandler.LatestReport)
		}
	}
	r.GET("/chat/stream/:token", chatHandler.Stream)

	// 10. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务异常退出: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("收到退出信号，开始优雅停机...")
	cancelRoot()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("优雅停机失败: %v", err)
	}
	log.Info("服务已退出")
}

// buildVectorIndex 按配置选择向量索引后端。
func buildVectorIndex(cfg *config.Config) (provider.VectorIndex, error) {
	vi := cfg.Provider.VectorIndex
	switch vi.Backend {
	case "es":
		return provider.NewESIndex(vi.Elasticsearch, vi.Collection)
	case "pgvector":
		pg, err := database.NewPostgres(cfg.Database.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return provider.NewPgIndex(pg, vi.Collection)
	case "memory":
		return provider.NewMemoryIndex(), nil
	default:
		return nil, fmt.Errorf("未知的向量索引后端: %s", vi.Backend)
	}
}
