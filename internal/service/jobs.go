package service

// 任务类型常量。服务层负责入队，internal/worker/tasks 负责消费。
const (
	TypeWithdrawUnlock  = "withdraw:unlock"  // 时间锁到期转移
	TypeWithdrawExecute = "withdraw:execute" // 审批通过后的执行
	TypeSweepProcess    = "sweep:process"    // 资金归集
)

// WithdrawJobPayload 提现相关任务的参数
type WithdrawJobPayload struct {
	WithdrawalID uint64 `json:"withdrawal_id"`
}

// SweepJobPayload 归集任务的参数。
// DepositRef 派生任务去重键: 同一笔充值只会产生一个归集任务。
// Funded 标记代币归集的第二阶段 (Gas 注资已完成，等待期已过)。
type SweepJobPayload struct {
	UserID        uint64 `json:"user_id"`
	WalletAddress string `json:"wallet_address"`
	Asset         string `json:"asset"`
	Contract      string `json:"contract,omitempty"`
	DepositRef    string `json:"deposit_ref"`
	Amount        string `json:"amount"` // 触发充值的金额 (展示单位)
	Funded        bool   `json:"funded,omitempty"`
}
