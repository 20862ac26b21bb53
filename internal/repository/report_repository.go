package repository

import (
	"errors"
	"fmt"

	"news-rag-go/internal/model"

	"gorm.io/gorm"
)

// ReportRepository 持久化摄取运行汇总，供运维诊断部分失败的运行。
type ReportRepository interface {
	Create(report *model.IngestReport) error
	Latest() (*model.IngestReport, error)
}

type mysqlReportRepository struct {
	db *gorm.DB
}

// NewReportRepository 创建一个新的 ReportRepository 实例。
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &mysqlReportRepository{db: db}
}

func (r *mysqlReportRepository) Create(report *model.IngestReport) error {
	if err := r.db.Create(report).Error; err != nil {
		return fmt.Errorf("保存摄取报告失败: %w", err)
	}
	return nil
}

func (r *mysqlReportRepository) Latest() (*model.IngestReport, error) {
	var report model.IngestReport
	err := r.db.Order("id DESC").First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询最近摄取报告失败: %w", err)
	}
	return &report, nil
}
