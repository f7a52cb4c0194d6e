package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"custody-core/internal/service"
)

// WithdrawHandler 提现相关任务的处理器
type WithdrawHandler struct {
	withdraw *service.WithdrawService
}

func NewWithdrawHandler(withdraw *service.WithdrawService) *WithdrawHandler {
	return &WithdrawHandler{withdraw: withdraw}
}

// HandleUnlock 时间锁到期任务: PENDING_24H -> PENDING_APPROVAL
func (h *WithdrawHandler) HandleUnlock(ctx context.Context, t *asynq.Task) error {
	var p service.WithdrawJobPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		// JSON 解析失败，重试也没用，进 Archived 队列排查
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return h.withdraw.ProcessTimeLock(ctx, p.WithdrawalID)
}

// HandleExecute 审批通过后的执行任务: APPROVED -> PROCESSING -> COMPLETED
func (h *WithdrawHandler) HandleExecute(ctx context.Context, t *asynq.Task) error {
	var p service.WithdrawJobPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return h.withdraw.Execute(ctx, p.WithdrawalID)
}
