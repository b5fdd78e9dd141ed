package mq

import (
	"context"
	"fmt"

	"github.com/Rarurei/Raruin/internal/config"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Publisher 通知投递，OutboxSender 和 BackupJob 共用
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
	Close() error
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)

// KafkaPublisher 基于 sarama.SyncProducer，SendMessage 返回即代表 broker 已确认
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

// NewKafkaPublisher 连接 kafka.brokers 创建同步生产者
func NewKafkaPublisher(cfg *config.KafkaConfig) (*KafkaPublisher, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3                    // 重试次数
	kafkaConfig.Producer.Return.Successes = true          // SyncProducer 必须开启
	kafkaConfig.Producer.MaxMessageBytes = 4 << 20 // 备份快照可能较大

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}
	return WrapProducer(producer), nil
}

// WrapProducer 包装已有的生产者，测试里传入 sarama/mocks
func WrapProducer(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("发送消息到 %s 失败: %w", topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher kafka.enabled=false 时使用，只把通知写进日志
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic, key string, value []byte) error {
	p.logger.Info("通知",
		zap.String("topic", topic),
		zap.String("key", key),
		zap.ByteString("payload", value),
	)
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
