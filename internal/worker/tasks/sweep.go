package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"custody-core/internal/service"
)

// SweepHandler 归集任务的处理器
type SweepHandler struct {
	sweeper *service.SweeperService
}

func NewSweepHandler(sweeper *service.SweeperService) *SweepHandler {
	return &SweepHandler{sweeper: sweeper}
}

// HandleSweep 处理一笔充值的归集 (原生或代币)。
// 返回 error 触发 Asynq 的指数退避重试，幂等性由服务层保证。
func (h *SweepHandler) HandleSweep(ctx context.Context, t *asynq.Task) error {
	var p service.SweepJobPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	return h.sweeper.ProcessSweep(ctx, p)
}
