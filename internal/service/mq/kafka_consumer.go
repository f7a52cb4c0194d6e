package mq

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"custody-core/pkg/logger"
)

// KafkaConsumer 实现 Consumer 接口，手动提交 Offset。
type KafkaConsumer struct {
	brokers []string
	groupID string
	reader  *kafka.Reader
}

func NewKafkaConsumer(brokers []string, groupID string) *KafkaConsumer {
	return &KafkaConsumer{brokers: brokers, groupID: groupID}
}

// Subscribe 订阅主题并在后台启动消费循环
func (c *KafkaConsumer) Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error {
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		GroupID:     c.groupID,
		Topic:       topic,
		MinBytes:    10e3,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})

	logger.Info("开始监听 Kafka 主题", zap.String("topic", topic), zap.String("group", c.groupID))
	go c.consumeLoop(ctx, topic, handler)
	return nil
}

func (c *KafkaConsumer) consumeLoop(ctx context.Context, topic string, handler func(msg *Message) error) {
	defer c.reader.Close()

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("Kafka 读取消息失败", zap.String("topic", topic), zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		msg := &Message{
			ID:      string(m.Key),
			Topic:   topic,
			Key:     string(m.Key),
			Payload: m.Value,
		}

		if err := handler(msg); err != nil {
			// 充值信号入口侧已有去重，重复消费是安全的;
			// 处理失败不提交 Offset，下次 rebalance 后重投
			logger.Warn("Kafka 消息处理失败", zap.String("topic", topic), zap.Error(err))
			continue
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			logger.Warn("Kafka 提交 Offset 失败", zap.Error(err))
		}
	}
}

func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
