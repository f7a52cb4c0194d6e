package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"custody-core/internal/handler/request"
	"custody-core/internal/handler/response"
	"custody-core/internal/service"
	"custody-core/pkg/errno"
)

type WalletHandler struct {
	wallets  *service.WalletService
	balances *service.BalanceService
}

func NewWalletHandler(wallets *service.WalletService, balances *service.BalanceService) *WalletHandler {
	return &WalletHandler{wallets: wallets, balances: balances}
}

// Provision 开通充值钱包 (幂等)
// @Summary 开通充值钱包
// @Tags Wallet
// @Accept json
// @Produce json
// @Param request body request.ProvisionWalletRequest true "Provision Request"
// @Success 200 {object} response.Response
// @Router /api/v1/wallet/provision [post]
func (h *WalletHandler) Provision(c *gin.Context) {
	var req request.ProvisionWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	wallet, err := h.wallets.ProvisionUserWallet(c.Request.Context(), req.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, wallet)
}

// Get 查询用户钱包
// @Summary 查询用户钱包
// @Tags Wallet
// @Produce json
// @Param user_id path int true "User ID"
// @Success 200 {object} response.Response
// @Router /api/v1/wallet/{user_id} [get]
func (h *WalletHandler) Get(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	wallet, err := h.wallets.GetUserWallet(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, wallet)
}

// Balance 查询可用余额 (两种口径一起返回)
// @Summary 查询可用余额
// @Tags Wallet
// @Produce json
// @Param user_id path int true "User ID"
// @Param asset query string true "Asset symbol"
// @Success 200 {object} response.Response
// @Router /api/v1/wallet/{user_id}/balance [get]
func (h *WalletHandler) Balance(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		response.Error(c, errno.ErrBind)
		return
	}
	asset := c.Query("asset")

	external, err := h.balances.ExternalAvailable(c.Request.Context(), userID, asset)
	if err != nil {
		response.Error(c, err)
		return
	}
	internal, err := h.balances.InternalAvailable(c.Request.Context(), userID, asset)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"asset":              asset,
		"withdrawable":       external.String(),
		"internal_available": internal.String(),
	})
}
