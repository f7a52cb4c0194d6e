package request

import "github.com/shopspring/decimal"

type ProvisionWalletRequest struct {
	UserID uint64 `json:"user_id" binding:"required"`
}

type CreateWithdrawalRequest struct {
	UserID    uint64          `json:"user_id" binding:"required"`
	ToAddress string          `json:"to_address" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Asset     string          `json:"asset" binding:"required"`
}

type InternalTransferRequest struct {
	FromUserID uint64          `json:"from_user_id" binding:"required"`
	ToUserID   uint64          `json:"to_user_id" binding:"required"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	Asset      string          `json:"asset" binding:"required"`
}

type ReviewWithdrawalRequest struct {
	AdminID uint64 `json:"admin_id" binding:"required"`
	Approve *bool  `json:"approve" binding:"required"`
	Note    string `json:"note"`
}

type LockWalletRequest struct {
	AdminID uint64 `json:"admin_id" binding:"required"`
	Reason  string `json:"reason" binding:"required"`
}

type UnlockWalletRequest struct {
	AdminID uint64 `json:"admin_id" binding:"required"`
}

type AdminTransferRequest struct {
	AdminID   uint64          `json:"admin_id" binding:"required"`
	ToAddress string          `json:"to_address" binding:"required"`
	Amount    decimal.Decimal `json:"amount" binding:"required"`
	Asset     string          `json:"asset" binding:"required"`
}
