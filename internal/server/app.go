package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"custody-core/internal/worker"
	"custody-core/pkg/logger"
)

type Config struct {
	HttpPort string
}

// App 聚合 HTTP 服务、任务 Worker 和定时任务的生命周期
type App struct {
	httpServer *http.Server
	worker     *worker.Server
	cron       *cron.Cron
}

func New(cfg Config, httpHandler *gin.Engine, w *worker.Server, c *cron.Cron) *App {
	httpSrv := &http.Server{
		Addr:    ":" + cfg.HttpPort,
		Handler: httpHandler,
	}

	return &App{
		httpServer: httpSrv,
		worker:     w,
		cron:       c,
	}
}

// Run 启动服务并阻塞，直到收到关闭信号
func (a *App) Run() {
	// 1. Start HTTP
	go func() {
		logger.Info("Starting HTTP Server", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP Server failure", zap.Error(err))
		}
	}()

	// 2. Start Worker
	if a.worker != nil {
		a.worker.Start()
	}

	// 3. Start Cron
	if a.cron != nil {
		a.cron.Start()
	}

	// 4. Signal Handling (Blocking)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("⚠️  Shutting down server...")

	// 5. Graceful Shutdown: 先停入口，再等在途任务
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP Server forced to shutdown", zap.Error(err))
	}

	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
	if a.worker != nil {
		a.worker.Stop()
	}

	logger.Info("Server exited properly")
}
