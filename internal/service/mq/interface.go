package mq

import "context"

// 托管核心对外发布/订阅的主题
const (
	TopicDepositEvents = "custody_deposit_events" // 入站: 链上监听器上报的充值
	TopicNotifications = "custody_notifications"  // 出站: 用户通知
	TopicAuditLogs     = "custody_audit_logs"     // 出站: 审计日志
)

// Message 一条通用业务消息
type Message struct {
	ID      string // 消息 ID
	Topic   string
	Key     string // 分区键 (通常是 UserID)，保证同一用户的事件有序
	Payload []byte // JSON
}

// Producer 生产者。key 为空时随机分区。
type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte) error
	Close() error
}

// Consumer 消费者。handler 返回 error 表示处理失败，
// 该条消息不提交 Offset 之外的补救 (重试主题/死信) 由上层决定。
type Consumer interface {
	Subscribe(ctx context.Context, topic string, handler func(msg *Message) error) error
	Close() error
}
