package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"custody-core/internal/model"
	"custody-core/pkg/errno"
	"custody-core/pkg/logger"
	"custody-core/pkg/monitor"
	"custody-core/pkg/utils/lock"
	"custody-core/pkg/vault"
)

// SweeperService 资金归集: 把用户地址上新到账的资金转入热钱包，
// 用户地址只保留够付手续费的最低原生币。
//
// 幂等性三重保障 (任务 at-least-once 投递):
//  1. 任务去重键由充值引用派生，重复入队是 no-op
//  2. 处理前抢分布式锁，多节点只有一个执行
//  3. 结算流水按交易哈希唯一，重复落库按良性冲突吞掉
type SweeperService struct {
	db       *gorm.DB
	wallets  *WalletService
	chain    ChainAdapter
	vault    *vault.Vault
	queue    JobQueue
	distLock lock.DistributedLock

	reserveWei      *big.Int // 原生归集后留在用户地址的储备
	gasThresholdWei *big.Int // 代币归集前用户地址需要的最低原生币
	delay           time.Duration
	fundingWait     time.Duration
	maxAttempts     int
}

type SweeperOptions struct {
	ReserveWei      *big.Int
	GasThresholdWei *big.Int
	Delay           time.Duration
	FundingWait     time.Duration
	MaxAttempts     int
}

func NewSweeperService(
	db *gorm.DB,
	wallets *WalletService,
	chain ChainAdapter,
	v *vault.Vault,
	queue JobQueue,
	distLock lock.DistributedLock,
	opts SweeperOptions,
) *SweeperService {
	return &SweeperService{
		db:              db,
		wallets:         wallets,
		chain:           chain,
		vault:           v,
		queue:           queue,
		distLock:        distLock,
		reserveWei:      opts.ReserveWei,
		gasThresholdWei: opts.GasThresholdWei,
		delay:           opts.Delay,
		fundingWait:     opts.FundingWait,
		maxAttempts:     opts.MaxAttempts,
	}
}

// QueueSweep 充值信号入口。延迟执行等待充值交易的确认深度；
// 同一充值引用重复入队是安全 no-op。
func (s *SweeperService) QueueSweep(ctx context.Context, job SweepJobPayload) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	err = s.queue.Enqueue(ctx, TypeSweepProcess, payload, JobOptions{
		Delay:       s.delay,
		DedupeKey:   "sweep:" + job.DepositRef,
		MaxAttempts: s.maxAttempts,
	})
	if errors.Is(err, ErrDuplicateJob) {
		logger.Info("归集任务已存在，跳过", zap.String("deposit_ref", job.DepositRef))
		return nil
	}
	return err
}

// ProcessSweep 归集任务处理。返回非 nil 错误会触发队列的退避重试；
// 返回 nil 表示完成或确认无需处理 (钱包缺失、余额不足等)。
func (s *SweeperService) ProcessSweep(ctx context.Context, job SweepJobPayload) error {
	kind := "native"
	if job.Contract != "" {
		kind = "token"
	}
	if monitor.Business != nil {
		timer := prometheus.NewTimer(monitor.Business.SweepJobDuration.WithLabelValues(kind))
		defer timer.ObserveDuration()
	}

	// 分布式锁: 同一充值 (同一阶段) 同时只有一个节点处理
	lockKey := "sweeper:deposit:" + job.DepositRef
	if job.Funded {
		lockKey += ":funded"
	}
	locked, err := s.distLock.Acquire(ctx, lockKey, 10*time.Minute)
	if err != nil {
		return err // 锁系统错误，重试
	}
	if !locked {
		logger.Warn("归集任务正在被其他节点处理，跳过", zap.String("deposit_ref", job.DepositRef))
		return nil
	}
	defer s.distLock.Release(ctx, lockKey)

	userWallet, err := s.wallets.GetUserWalletByAddress(ctx, job.WalletAddress)
	if err != nil {
		if errors.Is(err, errno.ErrWalletNotFound) {
			// 没有钱包就没有可归集的东西: 丢弃任务，不重试
			logger.Warn("归集目标钱包不存在，丢弃任务",
				zap.String("address", job.WalletAddress), zap.String("deposit_ref", job.DepositRef))
			return nil
		}
		return err
	}

	treasury, err := s.wallets.GetActiveTreasury(ctx)
	if err != nil {
		if errors.Is(err, errno.ErrTreasuryNotFound) {
			logger.Warn("热钱包不存在，丢弃归集任务", zap.String("deposit_ref", job.DepositRef))
			return nil
		}
		return err
	}

	// 自归集保护: 充值直接进了热钱包就无需归集
	if strings.EqualFold(job.WalletAddress, treasury.Address) {
		return nil
	}

	asset, err := ResolveAsset(job.Asset)
	if err != nil {
		logger.Warn("归集任务携带未配置的资产，丢弃",
			zap.String("asset", job.Asset), zap.String("deposit_ref", job.DepositRef))
		return nil
	}

	if asset.IsNative() {
		return s.sweepNative(ctx, &job, userWallet, treasury, asset)
	}
	return s.sweepToken(ctx, &job, userWallet, treasury, asset)
}

// sweepNative 原生资产归集: 余额减去固定储备全部转入热钱包
func (s *SweeperService) sweepNative(ctx context.Context, job *SweepJobPayload, userWallet *model.UserWallet, treasury *model.TreasuryWallet, asset Asset) error {
	balance, err := s.chain.GetNativeBalance(ctx, userWallet.Address)
	if err != nil {
		return err
	}

	sweepAmount := new(big.Int).Sub(balance, s.reserveWei)
	if sweepAmount.Sign() <= 0 {
		logger.Info("余额不超过储备线，跳过归集",
			zap.String("address", userWallet.Address), zap.String("balance", balance.String()))
		return nil
	}

	privKey, err := s.vault.DecryptString(userWallet.EncryptedPrivKey)
	if err != nil {
		logger.Error("用户钱包密钥完整性校验失败", zap.Uint64("user_id", userWallet.UserID), zap.Error(err))
		return err
	}

	txHash, err := s.chain.SendNative(ctx, privKey, treasury.Address, sweepAmount)
	if err != nil {
		return err // 广播失败交给队列退避重试
	}

	amount := asset.FromSmallestUnit(sweepAmount)
	if err := s.recordSweep(ctx, txHash, userWallet, treasury.Address, amount, asset.Symbol); err != nil {
		return err
	}

	logger.Info("原生资产归集完成",
		zap.String("deposit_ref", job.DepositRef),
		zap.String("tx_hash", txHash),
		zap.String("amount", amount.String()))
	return nil
}

// sweepToken 代币归集 (两阶段)。
// 代币转账需要用户地址持有原生币付 Gas；不足时先由热钱包注资，
// 再把代币阶段作为新任务延迟入队，等注资交易落块。
func (s *SweeperService) sweepToken(ctx context.Context, job *SweepJobPayload, userWallet *model.UserWallet, treasury *model.TreasuryWallet, asset Asset) error {
	contract := asset.Contract
	if contract == "" {
		contract = job.Contract
	}

	if !job.Funded {
		nativeBalance, err := s.chain.GetNativeBalance(ctx, userWallet.Address)
		if err != nil {
			return err
		}

		if nativeBalance.Cmp(s.gasThresholdWei) < 0 {
			// 注资金额精确等于缺口
			shortfall := new(big.Int).Sub(s.gasThresholdWei, nativeBalance)

			treasuryKey, err := s.vault.DecryptString(treasury.EncryptedPrivKey)
			if err != nil {
				logger.Error("热钱包密钥完整性校验失败", zap.Error(err))
				return err
			}

			fundTx, err := s.chain.SendNative(ctx, treasuryKey, userWallet.Address, shortfall)
			if err != nil {
				return err
			}
			logger.Info("Gas 注资已发出",
				zap.String("deposit_ref", job.DepositRef),
				zap.String("tx_hash", fundTx),
				zap.String("shortfall", shortfall.String()))

			// 代币阶段延迟入队等注资落块 (handler 里不 sleep，
			// 重新投递保持 at-least-once 下的幂等)
			funded := *job
			funded.Funded = true
			payload, err := json.Marshal(funded)
			if err != nil {
				return err
			}
			err = s.queue.Enqueue(ctx, TypeSweepProcess, payload, JobOptions{
				Delay:       s.fundingWait,
				DedupeKey:   "sweep:" + job.DepositRef + ":funded",
				MaxAttempts: s.maxAttempts,
			})
			if errors.Is(err, ErrDuplicateJob) {
				return nil
			}
			return err
		}
	}

	tokenBalance, err := s.chain.GetTokenBalance(ctx, userWallet.Address, contract)
	if err != nil {
		return err
	}
	if tokenBalance.Sign() <= 0 {
		return nil
	}

	privKey, err := s.vault.DecryptString(userWallet.EncryptedPrivKey)
	if err != nil {
		logger.Error("用户钱包密钥完整性校验失败", zap.Uint64("user_id", userWallet.UserID), zap.Error(err))
		return err
	}

	txHash, err := s.chain.SendToken(ctx, privKey, treasury.Address, contract, tokenBalance)
	if err != nil {
		return err
	}

	// 审计口径用触发充值上报的金额，而不是重查的余额:
	// 期间若有其他充值进来，流水仍对应触发本次归集的那笔充值
	amount, err := decimal.NewFromString(job.Amount)
	if err != nil {
		amount = asset.FromSmallestUnit(tokenBalance)
	}

	if err := s.recordSweep(ctx, txHash, userWallet, treasury.Address, amount, asset.Symbol); err != nil {
		return err
	}

	logger.Info("代币归集完成",
		zap.String("deposit_ref", job.DepositRef),
		zap.String("tx_hash", txHash),
		zap.String("amount", amount.String()))
	return nil
}

// recordSweep 落归集流水。相同交易哈希的重复记录是 at-least-once
// 下的良性冲突，吞掉不上抛。
func (s *SweeperService) recordSweep(ctx context.Context, txHash string, userWallet *model.UserWallet, treasuryAddress string, amount decimal.Decimal, assetSymbol string) error {
	now := time.Now()
	settlement := model.SettlementTransaction{
		TxHash:      txHash,
		Type:        model.SettlementTypeSweep,
		FromUserID:  &userWallet.UserID,
		FromAddress: userWallet.Address,
		ToAddress:   treasuryAddress,
		Amount:      amount,
		Asset:       assetSymbol,
		Status:      model.SettlementStatusConfirmed,
		ConfirmedAt: &now,
	}

	err := s.db.WithContext(ctx).Create(&settlement).Error
	if err != nil {
		if isDuplicateKeyError(err) {
			logger.Info("归集流水已存在，跳过", zap.String("tx_hash", txHash))
			return nil
		}
		return fmt.Errorf("保存归集流水失败: %w", err)
	}

	if monitor.Business != nil {
		f, _ := amount.Float64()
		monitor.Business.SweepAmountTotal.WithLabelValues(assetSymbol).Add(f)
	}
	return nil
}

// isDuplicateKeyError 识别唯一索引冲突 (postgres / sqlite 措辞不同)
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
