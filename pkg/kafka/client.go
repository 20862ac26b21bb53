// Package kafka 提供文章摄取任务队列的生产者与消费者。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"news-rag-go/internal/config"
	"news-rag-go/pkg/log"
	"news-rag-go/pkg/tasks"
)

// maxAttempts 是单条任务的最大处理次数，超过后提交 offset 终止重试。
const maxAttempts = 3

// TaskProcessor 定义可以处理摄取任务的服务接口，
// 把消费者与具体管线实现解耦。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.ArticleIngestTask) error
}

// Producer 向摄取任务主题写消息。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 创建 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// ProduceArticleTask 发送一条文章摄取任务。
func (p *Producer) ProduceArticleTask(ctx context.Context, task tasks.ArticleIngestTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.TaskID),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// StartConsumer 启动消费循环处理文章摄取任务，ctx 取消后退出。
// 失败的任务依靠 Redis 计数：未达 maxAttempts 不提交 offset 让 Kafka 重投，
// 达到后提交 offset 终止重试，避免毒消息阻塞队列。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, rdb *redis.Client, processor TaskProcessor) {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "news-rag-consumer"
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者收到退出信号")
				return
			}
			log.Errorf("从 Kafka 读取消息失败: %v", err)
			return
		}

		var task tasks.ArticleIngestTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		log.Infof("开始处理摄取任务: TaskID=%s, Title=%s", task.TaskID, task.Article.Title)
		if err := processor.Process(ctx, task); err != nil {
			log.Errorf("处理摄取任务失败: TaskID=%s, Error: %v", task.TaskID, err)
			attemptsKey := fmt.Sprintf("kafka:attempts:%s", task.TaskID)
			attempts, incErr := rdb.Incr(ctx, attemptsKey).Result()
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				continue
			}
			_ = rdb.Expire(ctx, attemptsKey, 24*time.Hour).Err()
			if attempts >= maxAttempts {
				log.Errorf("摄取任务多次失败(>=%d)，提交 offset 终止重试: TaskID=%s", maxAttempts, task.TaskID)
				if err := r.CommitMessages(ctx, m); err != nil {
					log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
				}
			}
			continue
		}

		log.Infof("摄取任务处理成功: TaskID=%s", task.TaskID)
		_ = rdb.Del(ctx, fmt.Sprintf("kafka:attempts:%s", task.TaskID)).Err()
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
		}
	}
}
