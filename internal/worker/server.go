package worker

import (
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"custody-core/internal/service"
	"custody-core/internal/worker/tasks"
	"custody-core/pkg/logger"
)

// Server 封装 Asynq Server (Worker)
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewServer 初始化 Worker Server 并注册全部任务处理器
func NewServer(addr string, password string, db int, concurrency int, withdrawHandler *tasks.WithdrawHandler, sweepHandler *tasks.SweepHandler) *Server {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     addr,
			Password: password,
			DB:       db,
		},
		asynq.Config{
			// 并发数：同时处理多少个任务
			Concurrency: concurrency,
			// 队列优先级: 提现执行动钱，优先于归集
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			Logger: logger.NewAsynqLogger(),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TypeWithdrawUnlock, withdrawHandler.HandleUnlock)
	mux.HandleFunc(service.TypeWithdrawExecute, withdrawHandler.HandleExecute)
	mux.HandleFunc(service.TypeSweepProcess, sweepHandler.HandleSweep)

	return &Server{
		server: srv,
		mux:    mux,
	}
}

// Run 启动 Worker (阻塞)
func (s *Server) Run() error {
	logger.Info("Worker Server starting...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动 (用于集成到 main.go)
func (s *Server) Start() {
	go func() {
		if err := s.server.Run(s.mux); err != nil {
			logger.Fatal("Worker Server failed", zap.Error(err))
		}
	}()
}

// Stop 停止 Worker
func (s *Server) Stop() {
	s.server.Stop()
	s.server.Shutdown()
}
