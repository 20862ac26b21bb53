// Package storage 提供与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"news-rag-go/internal/config"
	"news-rag-go/internal/model"
	"news-rag-go/pkg/log"
)

// Archive 把摄取到的原始文章以 JSON 形式归档到对象存储，
// 供回放重建索引与人工核对使用。
type Archive struct {
	client *minio.Client
	bucket string
}

// NewArchive 初始化 MinIO 客户端并确保归档存储桶存在。
func NewArchive(cfg config.MinIOConfig) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}

	log.Info("MinIO 客户端初始化成功")
	return &Archive{client: client, bucket: cfg.BucketName}, nil
}

// PutArticle 按 来源/日期/标题 组织对象名写入一篇文章。
// 对象名冲突时直接覆盖：同一篇文章的归档是幂等的。
func (a *Archive) PutArticle(ctx context.Context, article model.SourceArticle) error {
	data, err := json.Marshal(article)
	if err != nil {
		return fmt.Errorf("序列化文章失败: %w", err)
	}

	source := article.Source
	if source == "" {
		source = "unknown"
	}
	day := article.PublishedAt
	if day.IsZero() {
		day = time.Now()
	}
	objectName := fmt.Sprintf("articles/%s/%s/%s.json", source, day.Format("2006-01-02"), sanitizeName(article.Title))

	_, err = a.client.PutObject(ctx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("写入归档对象 '%s' 失败: %w", objectName, err)
	}
	return nil
}

// GetPresignedURL 为归档对象生成限时下载链接。
func (a *Archive) GetPresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	u, err := a.client.PresignedGetObject(ctx, a.bucket, objectName, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("生成预签名链接失败: %w", err)
	}
	return u.String(), nil
}

// sanitizeName 把标题收敛为对象名安全的形式。
func sanitizeName(title string) string {
	if title == "" {
		return "untitled"
	}
	out := make([]rune, 0, len(title))
	for _, r := range title {
		switch r {
		case '/', '\\', '#', '?', '%', ' ':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	const maxLen = 120
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return string(out)
}
