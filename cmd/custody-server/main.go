package main

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"custody-core/internal/handler"
	"custody-core/internal/model"
	"custody-core/internal/server"
	"custody-core/internal/service"
	"custody-core/internal/service/chain"
	"custody-core/internal/service/mq"
	"custody-core/internal/service/sink"
	"custody-core/internal/worker"
	"custody-core/internal/worker/tasks"
	"custody-core/pkg/cache"
	"custody-core/pkg/config"
	"custody-core/pkg/database"
	"custody-core/pkg/logger"
	"custody-core/pkg/monitor"
	"custody-core/pkg/utils/lock"
	"custody-core/pkg/vault"
)

func main() {
	// 0. 初始化 Config (Vault 密钥缺失或非法会在这里直接拒绝启动)
	config.Init()

	// 1. 初始化 Logger
	logger.Init(config.Global.App.Env)
	defer logger.Sync()

	// 2. 初始化监控指标
	monitor.Init()

	// 3. 连接数据库
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=Asia/Shanghai",
		config.Global.DB.Host,
		config.Global.DB.User,
		config.Global.DB.Password,
		config.Global.DB.Name,
		config.Global.DB.Port,
	)
	db, err := database.ConnectPostgres(dsn)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}

	// 4. 连接 Redis
	rdb, err := database.ConnectRedis(config.Global.Redis.Addr, config.Global.Redis.Password, config.Global.Redis.DB)
	if err != nil {
		logger.Fatal("Redis 连接失败", zap.Error(err))
	}

	// 5. 数据库迁移: 开发环境 AutoMigrate，生产环境走 migrate 工具
	if config.Global.App.Env == "development" {
		logger.Info("开发环境: 尝试自动迁移 Schema (GORM AutoMigrate)...")
		if err := db.AutoMigrate(model.AllModels()...); err != nil {
			logger.Fatal("数据库自动迁移失败", zap.Error(err))
		}
	} else {
		logger.Info("生产环境: 跳过 AutoMigrate，请使用 migrate 工具管理 Schema")
	}

	// 6. 初始化 Vault (密钥在 config.Init 已校验过)
	v, err := vault.New(config.Global.Vault.EncryptionKey)
	if err != nil {
		logger.Fatal("Vault 初始化失败", zap.Error(err))
	}

	// 7. 链适配器
	ethAdapter, err := chain.NewEthAdapter(
		config.Global.Chain.RpcUrl,
		config.Global.Chain.GasLimit,
		config.Global.Chain.TokenGas,
	)
	if err != nil {
		logger.Fatal("ETH 适配器初始化失败", zap.Error(err))
	}

	// 8. Kafka: 通知/审计外发 + 充值事件消费
	producer := mq.NewKafkaProducer(config.Global.Kafka.Brokers)
	defer producer.Close()
	consumer := mq.NewKafkaConsumer(config.Global.Kafka.Brokers, config.Global.Kafka.ConsumerGroup)

	notifier := sink.NewKafkaNotifier(producer)
	auditor := sink.NewKafkaAuditor(producer)

	// 9. 任务队列与分布式锁
	queueClient := worker.NewClient(config.Global.Redis.Addr, config.Global.Redis.Password, config.Global.Redis.DB)
	defer queueClient.Close()
	distLock := lock.NewRedisLock(rdb)

	// 10. 组装服务层
	walletService := service.NewWalletService(db, v, auditor)
	balanceService := service.NewBalanceService(db, ethAdapter, walletService, cache.NewRedisCache(rdb))
	withdrawService := service.NewWithdrawService(
		db, walletService, balanceService, ethAdapter, v,
		queueClient, notifier, auditor,
		time.Duration(config.Global.Withdraw.LockHours)*time.Hour,
	)

	reserveWei, ok := new(big.Int).SetString(config.Global.Sweep.ReserveWei, 10)
	if !ok {
		logger.Fatal("sweep.reserve_wei 不是合法整数", zap.String("value", config.Global.Sweep.ReserveWei))
	}
	gasThresholdWei, ok := new(big.Int).SetString(config.Global.Sweep.GasThresholdWei, 10)
	if !ok {
		logger.Fatal("sweep.gas_threshold_wei 不是合法整数", zap.String("value", config.Global.Sweep.GasThresholdWei))
	}
	sweeperService := service.NewSweeperService(db, walletService, ethAdapter, v, queueClient, distLock, service.SweeperOptions{
		ReserveWei:      reserveWei,
		GasThresholdWei: gasThresholdWei,
		Delay:           time.Duration(config.Global.Sweep.DelaySeconds) * time.Second,
		FundingWait:     time.Duration(config.Global.Sweep.FundingWaitSeconds) * time.Second,
		MaxAttempts:     config.Global.Sweep.MaxAttempts,
	})

	reconcileService := service.NewReconcileService(db, ethAdapter, walletService, balanceService, v, auditor, distLock)

	// 11. 启动充值事件监听 (Kafka -> 归集任务)
	depositListener := service.NewDepositListener(consumer, sweeperService)
	if err := depositListener.Start(context.Background()); err != nil {
		logger.Fatal("充值事件监听启动失败", zap.Error(err))
	}
	defer depositListener.Close()

	// 12. Worker Server (异步任务消费)
	workerServer := worker.NewServer(
		config.Global.Redis.Addr,
		config.Global.Redis.Password,
		config.Global.Redis.DB,
		config.Global.App.WorkerConcurrency,
		tasks.NewWithdrawHandler(withdrawService),
		tasks.NewSweepHandler(sweeperService),
	)

	// 13. 定时对账
	cronRunner := cron.New()
	if _, err := cronRunner.AddFunc(config.Global.Reconcile.Cron, func() {
		reconcileService.RunScheduledSummary(context.Background())
	}); err != nil {
		logger.Fatal("注册定时对账失败", zap.Error(err))
	}

	// 14. HTTP Router
	r := server.NewHTTPRouter(
		handler.NewWalletHandler(walletService, balanceService),
		handler.NewWithdrawHandler(withdrawService),
		handler.NewAdminHandler(withdrawService, walletService, reconcileService),
	)

	// 15. 启动应用 (阻塞至收到退出信号)
	app := server.New(server.Config{HttpPort: config.Global.App.HttpPort}, r, workerServer, cronRunner)
	app.Run()

	// 16. 退出后资源清理
	logger.Info("正在关闭数据库连接...")
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	rdb.Close()
	logger.Info("系统已退出")
}
