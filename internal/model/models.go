package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 提现状态机
// PENDING_24H --(时间锁到期)--> PENDING_APPROVAL
// PENDING_APPROVAL --(审核通过)--> APPROVED --(预检通过)--> PROCESSING --(广播成功)--> COMPLETED
// PENDING_APPROVAL --(审核拒绝)--> REJECTED
// APPROVED/PROCESSING 失败 --> FAILED
const (
	WithdrawStatusPending24h      = "PENDING_24H"
	WithdrawStatusPendingApproval = "PENDING_APPROVAL"
	WithdrawStatusApproved        = "APPROVED"
	WithdrawStatusProcessing      = "PROCESSING"
	WithdrawStatusCompleted       = "COMPLETED"
	WithdrawStatusRejected        = "REJECTED"
	WithdrawStatusFailed          = "FAILED"
)

// NonTerminalWithdrawStatuses 占用可用余额的状态 (Hold)
var NonTerminalWithdrawStatuses = []string{
	WithdrawStatusPending24h,
	WithdrawStatusPendingApproval,
	WithdrawStatusApproved,
	WithdrawStatusProcessing,
}

// 结算交易类型
const (
	SettlementTypeInternal    = "internal"     // 用户间账本划转，不上链
	SettlementTypeExternalOut = "external_out" // 提现
	SettlementTypeExternalIn  = "external_in"  // 外部转入
	SettlementTypeDeposit     = "deposit"      // 充值
	SettlementTypeSweep       = "sweep"        // 归集
)

const (
	SettlementStatusConfirmed = "confirmed"
	SettlementStatusPending   = "pending"
)

// TreasuryWallet 热钱包 (金库)
// 同一时间只允许一条 active 记录 (迁移里有部分唯一索引兜底)。
// NextDerivationIndex 每派生一个子钱包加一，永不复用。
type TreasuryWallet struct {
	ID                  uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Address             string    `gorm:"type:varchar(64);not null;uniqueIndex" json:"address"`
	EncryptedSeed       string    `gorm:"type:text;not null" json:"-"`
	EncryptedPrivKey    string    `gorm:"type:text;not null" json:"-"`
	NextDerivationIndex uint32    `gorm:"not null;default:1" json:"next_derivation_index"`
	Active              bool      `gorm:"not null;default:true;index" json:"active"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// UserWallet 用户充值钱包 (1:1)
// 地址创建后不可变，只有锁定/解锁两个管理操作会修改记录。
type UserWallet struct {
	ID               uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           uint64     `gorm:"not null;uniqueIndex" json:"user_id"`
	Address          string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"address"`
	EncryptedPrivKey string     `gorm:"type:text;not null" json:"-"`
	DerivationIndex  uint32     `gorm:"not null;uniqueIndex" json:"derivation_index"`
	Locked           bool       `gorm:"not null;default:false" json:"locked"`
	LockReason       string     `gorm:"type:text" json:"lock_reason,omitempty"`
	LockedBy         *uint64    `json:"locked_by,omitempty"`
	LockedAt         *time.Time `json:"locked_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// WithdrawalRequest 提现申请
// 只由 WithdrawService 的状态转移函数修改；终态记录永不删除，作为审计痕迹。
type WithdrawalRequest struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint64          `gorm:"not null;index" json:"user_id"`
	ToAddress    string          `gorm:"type:varchar(64);not null" json:"to_address"`
	Amount       decimal.Decimal `gorm:"type:decimal(32,18);not null" json:"amount"`
	Asset        string          `gorm:"type:varchar(20);not null" json:"asset"`
	Contract     string          `gorm:"type:varchar(64)" json:"contract,omitempty"` // 空 = 原生资产
	Status       string          `gorm:"type:varchar(32);not null;default:'PENDING_24H';index" json:"status"`
	IsFirst      bool            `gorm:"not null;default:false" json:"is_first"`
	AvailableAt  time.Time       `gorm:"not null" json:"available_at"` // 时间锁到期时间
	ReviewerID   *uint64         `json:"reviewer_id,omitempty"`
	ReviewedAt   *time.Time      `json:"reviewed_at,omitempty"`
	ReviewNote   string          `gorm:"type:text" json:"review_note,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	SettlementID *uint64         `gorm:"index" json:"settlement_id,omitempty"`
	FailReason   string          `gorm:"type:text" json:"fail_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsTerminal 是否处于终态
func (w *WithdrawalRequest) IsTerminal() bool {
	switch w.Status {
	case WithdrawStatusCompleted, WithdrawStatusRejected, WithdrawStatusFailed:
		return true
	}
	return false
}

// SettlementTransaction 结算流水，"钱动过" 的唯一事实来源。
// 只追加；TxHash 唯一索引同时承担归集去重职责。
// 内部账本划转 (用户对用户) 创建时即为终态，因为它们不上链。
type SettlementTransaction struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TxHash      string          `gorm:"type:varchar(80);not null;uniqueIndex" json:"tx_hash"`
	Type        string          `gorm:"type:varchar(20);not null;index" json:"type"`
	FromUserID  *uint64         `gorm:"index" json:"from_user_id,omitempty"`
	ToUserID    *uint64         `gorm:"index" json:"to_user_id,omitempty"`
	FromAddress string          `gorm:"type:varchar(64)" json:"from_address,omitempty"`
	ToAddress   string          `gorm:"type:varchar(64)" json:"to_address,omitempty"`
	Amount      decimal.Decimal `gorm:"type:decimal(32,18);not null" json:"amount"`
	Asset       string          `gorm:"type:varchar(20);not null;index" json:"asset"`
	Status      string          `gorm:"type:varchar(20);not null;default:'confirmed'" json:"status"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func (TreasuryWallet) TableName() string {
	return "treasury_wallets"
}

func (UserWallet) TableName() string {
	return "user_wallets"
}

func (WithdrawalRequest) TableName() string {
	return "withdrawal_requests"
}

func (SettlementTransaction) TableName() string {
	return "settlement_transactions"
}
