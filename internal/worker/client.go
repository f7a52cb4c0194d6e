package worker

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"

	"custody-core/internal/service"
)

// Client 封装 Asynq Client，实现 service.JobQueue。
// 服务层只认识 JobQueue 接口，队列实现细节不外泄。
type Client struct {
	client *asynq.Client
}

// NewClient 初始化 Client
// addr: "localhost:6379"
func NewClient(addr string, password string, db int) *Client {
	c := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Client{client: c}
}

// Enqueue 入队。DedupeKey 映射为 Asynq TaskID:
// 相同 ID 的任务在完成前重复入队会被拒绝，这里翻译成 ErrDuplicateJob
// 让调用方按幂等 no-op 处理。
func (c *Client) Enqueue(ctx context.Context, jobType string, payload []byte, opts service.JobOptions) error {
	var options []asynq.Option
	if opts.Delay > 0 {
		options = append(options, asynq.ProcessIn(opts.Delay))
	}
	if opts.DedupeKey != "" {
		options = append(options, asynq.TaskID(opts.DedupeKey))
	}
	if opts.MaxAttempts > 0 {
		options = append(options, asynq.MaxRetry(opts.MaxAttempts))
	}

	task := asynq.NewTask(jobType, payload)
	_, err := c.client.EnqueueContext(ctx, task, options...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return service.ErrDuplicateJob
	}
	return err
}

// Close 关闭客户端连接
func (c *Client) Close() error {
	return c.client.Close()
}
