package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"custody-core/internal/handler"
	"custody-core/pkg/monitor"
)

// NewHTTPRouter 初始化并返回一个 Gin Engine
func NewHTTPRouter(walletHandler *handler.WalletHandler, withdrawHandler *handler.WithdrawHandler, adminHandler *handler.AdminHandler) *gin.Engine {
	// 1. 创建 Engine (使用默认中间件: Logger, Recovery)
	r := gin.Default()

	// 2. 注册通用中间件
	r.Use(monitor.PrometheusMiddleware())

	// 3. 注册基础路由
	r.GET("/health", handler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 4. 注册 API 路由组
	api := r.Group("/api/v1")
	{
		wallet := api.Group("/wallet")
		{
			wallet.POST("/provision", walletHandler.Provision)
			wallet.GET("/:user_id", walletHandler.Get)
			wallet.GET("/:user_id/balance", walletHandler.Balance)
		}

		api.POST("/withdraw", withdrawHandler.Create)
		api.GET("/withdraw/:id", withdrawHandler.Get)
		api.GET("/withdraw/user/:user_id", withdrawHandler.ListByUser)
		api.POST("/transfer", withdrawHandler.Transfer)

		admin := api.Group("/admin")
		{
			admin.POST("/withdraw/:id/review", adminHandler.ReviewWithdrawal)
			admin.POST("/wallet/:user_id/lock", adminHandler.LockWallet)
			admin.POST("/wallet/:user_id/unlock", adminHandler.UnlockWallet)
			admin.GET("/reconcile/summary", adminHandler.BalanceSummary)
			admin.POST("/treasury/transfer", adminHandler.TreasuryTransfer)
		}
	}

	return r
}
