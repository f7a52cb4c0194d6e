package config

import (
	"encoding/hex"
	"errors"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig              `mapstructure:"app"`
	DB        DBConfig               `mapstructure:"db"`
	Redis     RedisConfig            `mapstructure:"redis"`
	Kafka     KafkaConfig            `mapstructure:"kafka"`
	Vault     VaultConfig            `mapstructure:"vault"`
	Chain     ChainConfig            `mapstructure:"chain"`
	Withdraw  WithdrawConfig         `mapstructure:"withdraw"`
	Sweep     SweepConfig            `mapstructure:"sweep"`
	Reconcile ReconcileConfig        `mapstructure:"reconcile"`
	Assets    map[string]AssetConfig `mapstructure:"assets"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
	// WorkerConcurrency 异步任务 Worker 的并发处理数
	WorkerConcurrency int `mapstructure:"worker_concurrency"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

type VaultConfig struct {
	// EncryptionKey hex 编码的 AES 密钥 (16/24/32 字节)。
	// 通常通过环境变量 VAULT_ENCRYPTION_KEY 注入。
	EncryptionKey string `mapstructure:"encryption_key"`
}

type ChainConfig struct {
	RpcUrl       string `mapstructure:"rpc_url"`
	NativeSymbol string `mapstructure:"native_symbol"`
	GasLimit     uint64 `mapstructure:"gas_limit"`
	TokenGas     uint64 `mapstructure:"token_gas_limit"`
}

type WithdrawConfig struct {
	// LockHours 提现时间锁，默认 24 小时
	LockHours int `mapstructure:"lock_hours"`
}

type SweepConfig struct {
	// DelaySeconds 充值到账后延迟多久归集 (等待确认深度)
	DelaySeconds int `mapstructure:"delay_seconds"`
	// ReserveWei 归集时在用户地址保留的原生币 (支付后续手续费)
	ReserveWei string `mapstructure:"reserve_wei"`
	// GasThresholdWei 代币归集前用户地址需要的最低原生币余额
	GasThresholdWei string `mapstructure:"gas_threshold_wei"`
	// FundingWaitSeconds Gas 注资交易落块的固定等待时间
	FundingWaitSeconds int `mapstructure:"funding_wait_seconds"`
	// MaxAttempts 归集任务最大重试次数
	MaxAttempts int `mapstructure:"max_attempts"`
}

type ReconcileConfig struct {
	// Cron 定时对账的调度表达式 (robfig/cron 语法，支持 @every)
	Cron string `mapstructure:"cron"`
}

type AssetConfig struct {
	Contract string `mapstructure:"contract"` // 空字符串 = 原生资产
	Decimals int32  `mapstructure:"decimals"`
}

var Global Config

func Init() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// 环境变量设置
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	// Vault 密钥是硬性要求: 缺失或长度非法直接拒绝启动。
	// 绝不回退到随机密钥: 那会让重启后所有已加密的数据永久不可读。
	if err := validateVaultKey(Global.Vault.EncryptionKey); err != nil {
		log.Fatalf("Invalid vault.encryption_key: %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

func validateVaultKey(hexKey string) error {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return err
	}
	switch len(key) {
	case 16, 24, 32:
		return nil
	}
	return errors.New("key must be 16, 24 or 32 bytes of hex")
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")
	viper.SetDefault("app.worker_concurrency", 10)

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "custody_user")
	viper.SetDefault("db.password", "custody_password")
	viper.SetDefault("db.name", "custody_db")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.consumer_group", "custody_sweeper_group")

	viper.SetDefault("chain.rpc_url", "http://localhost:8545")
	viper.SetDefault("chain.native_symbol", "ETH")
	viper.SetDefault("chain.gas_limit", 21000)
	viper.SetDefault("chain.token_gas_limit", 90000)

	viper.SetDefault("withdraw.lock_hours", 24)

	viper.SetDefault("sweep.delay_seconds", 30)
	viper.SetDefault("sweep.reserve_wei", "500000000000000")        // 0.0005 ETH
	viper.SetDefault("sweep.gas_threshold_wei", "3000000000000000") // 0.003 ETH
	viper.SetDefault("sweep.funding_wait_seconds", 15)
	viper.SetDefault("sweep.max_attempts", 5)

	viper.SetDefault("reconcile.cron", "@every 10m")
}
