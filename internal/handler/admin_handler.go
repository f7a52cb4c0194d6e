package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"custody-core/internal/handler/request"
	"custody-core/internal/handler/response"
	"custody-core/internal/service"
	"custody-core/pkg/errno"
)

// AdminHandler 管理接口: 提现审核、钱包锁定、对账与金库操作
type AdminHandler struct {
	withdraw  *service.WithdrawService
	wallets   *service.WalletService
	reconcile *service.ReconcileService
}

func NewAdminHandler(withdraw *service.WithdrawService, wallets *service.WalletService, reconcile *service.ReconcileService) *AdminHandler {
	return &AdminHandler{withdraw: withdraw, wallets: wallets, reconcile: reconcile}
}

// ReviewWithdrawal 审核提现
// @Summary 审核提现
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path int true "Withdrawal ID"
// @Param request body request.ReviewWithdrawalRequest true "Review Request"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/withdraw/{id}/review [post]
func (h *AdminHandler) ReviewWithdrawal(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	var req request.ReviewWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	w, err := h.withdraw.Review(c.Request.Context(), req.AdminID, id, *req.Approve, req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, w)
}

// LockWallet 锁定用户钱包
// @Summary 锁定用户钱包
// @Tags Admin
// @Accept json
// @Produce json
// @Param user_id path int true "User ID"
// @Param request body request.LockWalletRequest true "Lock Request"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/wallet/{user_id}/lock [post]
func (h *AdminHandler) LockWallet(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	var req request.LockWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	if err := h.wallets.LockWallet(c.Request.Context(), req.AdminID, userID, req.Reason); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// UnlockWallet 解锁用户钱包
// @Summary 解锁用户钱包
// @Tags Admin
// @Accept json
// @Produce json
// @Param user_id path int true "User ID"
// @Param request body request.UnlockWalletRequest true "Unlock Request"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/wallet/{user_id}/unlock [post]
func (h *AdminHandler) UnlockWallet(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	var req request.UnlockWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	if err := h.wallets.UnlockWallet(c.Request.Context(), req.AdminID, userID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// BalanceSummary 全量对账报告
// @Summary 全量对账报告
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Response
// @Router /api/v1/admin/reconcile/summary [get]
func (h *AdminHandler) BalanceSummary(c *gin.Context) {
	report, err := h.reconcile.BalanceSummary(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, report)
}

// TreasuryTransfer 热钱包管理转账
// @Summary 热钱包管理转账
// @Tags Admin
// @Accept json
// @Produce json
// @Param request body request.AdminTransferRequest true "Transfer Request"
// @Success 200 {object} response.Response
// @Router /api/v1/admin/treasury/transfer [post]
func (h *AdminHandler) TreasuryTransfer(c *gin.Context) {
	var req request.AdminTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	txHash, err := h.reconcile.AdminTransfer(c.Request.Context(), req.AdminID, req.ToAddress, req.Asset, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"tx_hash": txHash})
}
