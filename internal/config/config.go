// Package config 负责加载和校验应用程序的配置。
// 配置通过 Load 显式返回并由 main 注入各组件构造函数，任何组件都不读取全局状态。
package config

import (
	"fmt"
	"time"

	"news-rag-go/pkg/errs"

	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	MinIO    MinIOConfig    `mapstructure:"minio"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Provider ProviderConfig `mapstructure:"provider"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Session  SessionConfig  `mapstructure:"session"`
}

// ServerConfig 存储 HTTP 服务相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// MySQLConfig 存储 MySQL（文章登记与摄取报告）的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis（会话存储）的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig 存储 pgvector 向量索引后端的连接配置。
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// KafkaConfig 存储文章摄取任务队列的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储原始文章归档所用对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// JWTConfig 存储流式通道令牌的配置。
type JWTConfig struct {
	Secret             string `mapstructure:"secret"`
	StreamTokenExpires int    `mapstructure:"stream_token_expire_minutes"`
}

// ProviderConfig 按能力声明各后端变体及其选择。
type ProviderConfig struct {
	Embedder    EmbedderConfig    `mapstructure:"embedder"`
	Generator   GeneratorConfig   `mapstructure:"generator"`
	VectorIndex VectorIndexConfig `mapstructure:"vector_index"`
}

// EmbedderConfig 选择一个向量化后端；同一索引集合内的向量必须来自同一后端。
type EmbedderConfig struct {
	Backend string             `mapstructure:"backend"` // openai | ollama
	OpenAI  OpenAIClientConfig `mapstructure:"openai"`
	Ollama  OllamaClientConfig `mapstructure:"ollama"`
}

// GeneratorConfig 声明一个有序的生成后端回退链：依次尝试，直至成功或耗尽。
type GeneratorConfig struct {
	Backends   []string           `mapstructure:"backends"` // 有序回退链，元素 ∈ {openai, ollama}
	OpenAI     OpenAIClientConfig `mapstructure:"openai"`
	Ollama     OllamaClientConfig `mapstructure:"ollama"`
	Generation GenerationConfig   `mapstructure:"generation"`
	Prompt     PromptConfig       `mapstructure:"prompt"`
	Timeout    time.Duration      `mapstructure:"timeout"`
}

// OpenAIClientConfig 描述一个 OpenAI 兼容端点。
type OpenAIClientConfig struct {
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// OllamaClientConfig 描述一个本地 Ollama 端点。
type OllamaClientConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

// GenerationConfig 配置生成相关参数（可选，零值不注入）。
type GenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// PromptConfig 配置系统提示规则与上下文包裹格式。
type PromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// VectorIndexConfig 选择向量索引后端与集合参数。
type VectorIndexConfig struct {
	Backend    string `mapstructure:"backend"` // es | pgvector | memory
	Collection string `mapstructure:"collection"`
	Dimensions int    `mapstructure:"dimensions"`

	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
}

// ElasticsearchConfig 存储 Elasticsearch 后端的连接配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// ChatConfig 存储查询管线的可调参数。
type ChatConfig struct {
	TopK         int           `mapstructure:"top_k"`
	HistoryTurns int           `mapstructure:"history_turns"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
}

// IngestConfig 存储摄取管线的可调参数。
type IngestConfig struct {
	ChunkSize     int    `mapstructure:"chunk_size"`
	ChunkOverlap  int    `mapstructure:"chunk_overlap"`
	MaxArticles   int    `mapstructure:"max_articles"`
	MinBodyLength int    `mapstructure:"min_body_length"`
	BatchSize     int    `mapstructure:"batch_size"`
	SeedDir       string `mapstructure:"seed_dir"`
}

// SessionConfig 存储会话存储的后端选择与滑动 TTL。
type SessionConfig struct {
	Backend  string        `mapstructure:"backend"` // redis | memory
	TTL      time.Duration `mapstructure:"ttl"`
	MaxTurns int           `mapstructure:"max_turns"`
}

// Load 从指定路径读取 YAML 配置并完成校验。
// 校验失败属于启动期致命错误，不在请求级恢复。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 填充未显式配置的可调参数。
func (c *Config) applyDefaults() {
	if c.Chat.TopK <= 0 {
		c.Chat.TopK = 5
	}
	if c.Chat.HistoryTurns <= 0 {
		c.Chat.HistoryTurns = 5
	}
	if c.Chat.CallTimeout <= 0 {
		c.Chat.CallTimeout = 60 * time.Second
	}
	if c.Ingest.ChunkSize <= 0 {
		c.Ingest.ChunkSize = 1000
	}
	if c.Ingest.ChunkOverlap <= 0 {
		c.Ingest.ChunkOverlap = 200
	}
	if c.Ingest.BatchSize <= 0 {
		c.Ingest.BatchSize = 100
	}
	if c.Ingest.MaxArticles <= 0 {
		c.Ingest.MaxArticles = 50
	}
	if c.Ingest.MinBodyLength <= 0 {
		c.Ingest.MinBodyLength = 200
	}
	if c.Session.TTL <= 0 {
		c.Session.TTL = 7 * 24 * time.Hour
	}
	if c.Session.MaxTurns <= 0 {
		c.Session.MaxTurns = 20
	}
	if c.Session.Backend == "" {
		c.Session.Backend = "redis"
	}
	if c.Provider.Generator.Timeout <= 0 {
		c.Provider.Generator.Timeout = 120 * time.Second
	}
	if c.JWT.StreamTokenExpires <= 0 {
		c.JWT.StreamTokenExpires = 10
	}
}

// Validate 在启动期检查配置一致性，失败即终止进程。
func (c *Config) Validate() error {
	if c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap(%d) 必须小于 chunk_size(%d)",
			errs.ErrInvalidChunking, c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}

	switch c.Provider.Embedder.Backend {
	case "openai":
		if c.Provider.Embedder.OpenAI.APIKey == "" || c.Provider.Embedder.OpenAI.BaseURL == "" {
			return fmt.Errorf("%w: embedder openai 需要 api_key 与 base_url", errs.ErrMissingCredential)
		}
	case "ollama":
		if c.Provider.Embedder.Ollama.BaseURL == "" {
			return fmt.Errorf("%w: embedder ollama 需要 base_url", errs.ErrMissingCredential)
		}
	default:
		return fmt.Errorf("%w: embedder backend '%s'", errs.ErrBackendUnknown, c.Provider.Embedder.Backend)
	}

	if len(c.Provider.Generator.Backends) == 0 {
		return fmt.Errorf("%w: generator 回退链不能为空", errs.ErrBackendUnknown)
	}
	for _, name := range c.Provider.Generator.Backends {
		switch name {
		case "openai":
			if c.Provider.Generator.OpenAI.APIKey == "" || c.Provider.Generator.OpenAI.BaseURL == "" {
				return fmt.Errorf("%w: generator openai 需要 api_key 与 base_url", errs.ErrMissingCredential)
			}
		case "ollama":
			if c.Provider.Generator.Ollama.BaseURL == "" {
				return fmt.Errorf("%w: generator ollama 需要 base_url", errs.ErrMissingCredential)
			}
		default:
			return fmt.Errorf("%w: generator backend '%s'", errs.ErrBackendUnknown, name)
		}
	}

	switch c.Provider.VectorIndex.Backend {
	case "es":
		if c.Provider.VectorIndex.Elasticsearch.Addresses == "" {
			return fmt.Errorf("%w: vector_index es 需要 addresses", errs.ErrMissingCredential)
		}
	case "pgvector":
		if c.Database.Postgres.DSN == "" {
			return fmt.Errorf("%w: vector_index pgvector 需要 database.postgres.dsn", errs.ErrMissingCredential)
		}
	case "memory":
		// 内存后端仅用于开发与测试，无外部依赖
	default:
		return fmt.Errorf("%w: vector_index backend '%s'", errs.ErrBackendUnknown, c.Provider.VectorIndex.Backend)
	}
	if c.Provider.VectorIndex.Dimensions <= 0 {
		return fmt.Errorf("%w: vector_index.dimensions 必须为正", errs.ErrMissingCredential)
	}
	if c.Provider.VectorIndex.Collection == "" {
		return fmt.Errorf("%w: vector_index.collection 不能为空", errs.ErrMissingCredential)
	}

	switch c.Session.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("%w: session backend '%s'", errs.ErrBackendUnknown, c.Session.Backend)
	}
	return nil
}
