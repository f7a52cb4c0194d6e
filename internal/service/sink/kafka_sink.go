package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"custody-core/internal/service/mq"
)

// 通知与审计事件都走 Kafka 外发。
// 调用方 (service 层) 对这两类投递的契约是 fire-and-forget:
// 失败记日志后继续，绝不回滚业务状态。

// NotificationEvent 用户通知事件
type NotificationEvent struct {
	UserID    uint64            `json:"user_id"`
	Type      string            `json:"type"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// AuditEvent 审计日志事件
type AuditEvent struct {
	ActorID      uint64            `json:"actor_id"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	Details      map[string]string `json:"details,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// KafkaNotifier 实现 service.Notifier
type KafkaNotifier struct {
	producer mq.Producer
}

func NewKafkaNotifier(producer mq.Producer) *KafkaNotifier {
	return &KafkaNotifier{producer: producer}
}

func (n *KafkaNotifier) Notify(ctx context.Context, userID uint64, typ, title, body string, metadata map[string]string) error {
	event := NotificationEvent{
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Body:      body,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	// 分区键用 UserID，同一用户的通知保持有序
	return n.producer.Publish(ctx, mq.TopicNotifications, fmt.Sprint(userID), payload)
}

// KafkaAuditor 实现 service.Auditor
type KafkaAuditor struct {
	producer mq.Producer
}

func NewKafkaAuditor(producer mq.Producer) *KafkaAuditor {
	return &KafkaAuditor{producer: producer}
}

func (a *KafkaAuditor) Log(ctx context.Context, actorID uint64, action, resourceType, resourceID string, details map[string]string) error {
	event := AuditEvent{
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		CreatedAt:    time.Now(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return a.producer.Publish(ctx, mq.TopicAuditLogs, resourceID, payload)
}
