package service

import (
	"context"
	"errors"
	"math/big"
	"time"
)

// ChainAdapter 链适配器。核心只依赖这组能力，不关心节点实现。
// 所有调用都可能因网络或节点拒绝而失败；是否重试由调用方的队列策略决定。
type ChainAdapter interface {
	// GetNativeBalance 查询原生资产余额 (最小单位 wei)
	GetNativeBalance(ctx context.Context, address string) (*big.Int, error)
	// GetTokenBalance 查询 ERC-20 代币余额 (最小单位)
	GetTokenBalance(ctx context.Context, address, contract string) (*big.Int, error)
	// SendNative 用私钥签名并广播一笔原生资产转账，返回交易哈希
	SendNative(ctx context.Context, privKeyHex, to string, amount *big.Int) (string, error)
	// SendToken 用私钥签名并广播一笔代币转账，返回交易哈希
	SendToken(ctx context.Context, privKeyHex, to, contract string, amount *big.Int) (string, error)
	// IsValidAddress 校验地址语法
	IsValidAddress(address string) bool
}

// Notifier 用户通知。核心视角下 fire-and-forget:
// 投递失败绝不回滚任何状态转移，调用方记日志后继续。
type Notifier interface {
	Notify(ctx context.Context, userID uint64, typ, title, body string, metadata map[string]string) error
}

// Auditor 审计日志，与 Notifier 同样的 fire-and-forget 契约。
type Auditor interface {
	Log(ctx context.Context, actorID uint64, action, resourceType, resourceID string, details map[string]string) error
}

// ErrDuplicateJob 重复入队 (相同去重键的任务已存在或已处理)
var ErrDuplicateJob = errors.New("duplicate job")

// JobOptions 入队选项
type JobOptions struct {
	// Delay 延迟执行
	Delay time.Duration
	// DedupeKey 任务唯一标识; 冲突时 Enqueue 返回 ErrDuplicateJob
	DedupeKey string
	// MaxAttempts 最大尝试次数 (0 = 队列默认)
	MaxAttempts int
}

// JobQueue 异步任务队列。假设 at-least-once 投递和延迟原语，
// 不假设 exactly-once 或跨任务的 FIFO 顺序；所有 handler 必须幂等。
type JobQueue interface {
	Enqueue(ctx context.Context, jobType string, payload []byte, opts JobOptions) error
}
