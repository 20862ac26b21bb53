// Package repository 提供了数据访问层的实现。
package repository

import (
	"errors"
	"fmt"

	"news-rag-go/internal/model"

	"gorm.io/gorm"
)

// ArticleRepository 登记已入库的文章，供摄取管线按 URL 去重。
type ArticleRepository interface {
	ExistsByURL(url string) (bool, error)
	Create(article *model.IngestedArticle) error
	CountDocuments() (int64, error)
}

type mysqlArticleRepository struct {
	db *gorm.DB
}

// NewArticleRepository 创建一个新的 ArticleRepository 实例。
func NewArticleRepository(db *gorm.DB) ArticleRepository {
	return &mysqlArticleRepository{db: db}
}

func (r *mysqlArticleRepository) ExistsByURL(url string) (bool, error) {
	var article model.IngestedArticle
	err := r.db.Select("id").Where("url = ?", url).First(&article).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询文章登记失败: %w", err)
	}
	return true, nil
}

func (r *mysqlArticleRepository) Create(article *model.IngestedArticle) error {
	if err := r.db.Create(article).Error; err != nil {
		return fmt.Errorf("登记文章失败: %w", err)
	}
	return nil
}

func (r *mysqlArticleRepository) CountDocuments() (int64, error) {
	var count int64
	if err := r.db.Model(&model.IngestedArticle{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("统计文章数量失败: %w", err)
	}
	return count, nil
}
