package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"custody-core/internal/service/mq"
	"custody-core/pkg/logger"
)

// DepositEvent 链上监听器上报的充值事件。
// DepositRef 是上报方生成的稳定引用 (通常是 txHash:logIndex)，
// 是整条归集链路去重的锚点。
type DepositEvent struct {
	UserID        uint64 `json:"user_id"`
	WalletAddress string `json:"wallet_address"`
	Asset         string `json:"asset"`
	Contract      string `json:"contract,omitempty"`
	Amount        string `json:"amount"`
	DepositRef    string `json:"deposit_ref"`
}

// DepositListener 消费充值事件流，为每笔充值排一个归集任务。
type DepositListener struct {
	consumer mq.Consumer
	sweeper  *SweeperService
}

func NewDepositListener(consumer mq.Consumer, sweeper *SweeperService) *DepositListener {
	return &DepositListener{consumer: consumer, sweeper: sweeper}
}

// Start 开始监听充值主题。消息处理失败不提交 Offset，
// 依赖 QueueSweep 的去重键保证重投安全。
func (l *DepositListener) Start(ctx context.Context) error {
	return l.consumer.Subscribe(ctx, mq.TopicDepositEvents, func(msg *mq.Message) error {
		var event DepositEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			// 坏消息重投也不会变好: 记日志后提交，避免卡死分区
			logger.Error("充值事件反序列化失败，丢弃", zap.String("raw", string(msg.Payload)), zap.Error(err))
			return nil
		}
		if event.DepositRef == "" || event.WalletAddress == "" {
			logger.Warn("充值事件缺少必要字段，丢弃", zap.Any("event", event))
			return nil
		}

		return l.sweeper.QueueSweep(ctx, SweepJobPayload{
			UserID:        event.UserID,
			WalletAddress: event.WalletAddress,
			Asset:         event.Asset,
			Contract:      event.Contract,
			DepositRef:    event.DepositRef,
			Amount:        event.Amount,
		})
	})
}

func (l *DepositListener) Close() error {
	return l.consumer.Close()
}
