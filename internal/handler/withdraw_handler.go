package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"custody-core/internal/handler/request"
	"custody-core/internal/handler/response"
	"custody-core/internal/service"
	"custody-core/pkg/errno"
)

type WithdrawHandler struct {
	withdraw *service.WithdrawService
}

func NewWithdrawHandler(withdraw *service.WithdrawService) *WithdrawHandler {
	return &WithdrawHandler{withdraw: withdraw}
}

// Create 申请提现
// @Summary 申请提现
// @Description 用户发起提现申请，进入 24 小时安全锁定期
// @Tags Withdraw
// @Accept json
// @Produce json
// @Param request body request.CreateWithdrawalRequest true "Withdraw Request"
// @Success 200 {object} response.Response
// @Router /api/v1/withdraw [post]
func (h *WithdrawHandler) Create(c *gin.Context) {
	var req request.CreateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	w, err := h.withdraw.Create(c.Request.Context(), req.UserID, req.ToAddress, req.Amount, req.Asset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, w)
}

// Get 查询提现申请
// @Summary 查询提现申请
// @Tags Withdraw
// @Produce json
// @Param id path int true "Withdrawal ID"
// @Success 200 {object} response.Response
// @Router /api/v1/withdraw/{id} [get]
func (h *WithdrawHandler) Get(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	w, err := h.withdraw.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, w)
}

// ListByUser 查询用户提现记录
// @Summary 查询用户提现记录
// @Tags Withdraw
// @Produce json
// @Param user_id path int true "User ID"
// @Success 200 {object} response.Response
// @Router /api/v1/withdraw/user/{user_id} [get]
func (h *WithdrawHandler) ListByUser(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	list, err := h.withdraw.ListByUser(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, list)
}

// Transfer 内部划转
// @Summary 内部划转
// @Description 用户间账本划转，不触链，即时终态
// @Tags Withdraw
// @Accept json
// @Produce json
// @Param request body request.InternalTransferRequest true "Transfer Request"
// @Success 200 {object} response.Response
// @Router /api/v1/transfer [post]
func (h *WithdrawHandler) Transfer(c *gin.Context) {
	var req request.InternalTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	settlement, err := h.withdraw.InternalTransfer(c.Request.Context(), req.FromUserID, req.ToUserID, req.Amount, req.Asset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, settlement)
}
