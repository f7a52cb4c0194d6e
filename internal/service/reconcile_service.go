package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

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

// summaryConcurrency 对账时并发查链的上限，避免打爆节点
const summaryConcurrency = 8

// ReconcileService 金库对账: 汇总链上资金与账本口径余额，
// 暴露偏差指标；并承载需要动用热钱包密钥的管理转账。
type ReconcileService struct {
	db       *gorm.DB
	chain    ChainAdapter
	wallets  *WalletService
	balances *BalanceService
	vault    *vault.Vault
	auditor  Auditor
	distLock lock.DistributedLock
}

func NewReconcileService(
	db *gorm.DB,
	chain ChainAdapter,
	wallets *WalletService,
	balances *BalanceService,
	v *vault.Vault,
	auditor Auditor,
	distLock lock.DistributedLock,
) *ReconcileService {
	return &ReconcileService{
		db:       db,
		chain:    chain,
		wallets:  wallets,
		balances: balances,
		vault:    v,
		auditor:  auditor,
		distLock: distLock,
	}
}

// AssetSummary 单一资产的对账结果
type AssetSummary struct {
	Asset            string          `json:"asset"`
	TreasuryOnchain  decimal.Decimal `json:"treasury_onchain"`
	UserOnchainTotal decimal.Decimal `json:"user_onchain_total"`
	OffchainTotal    decimal.Decimal `json:"offchain_total"`
	Drift            decimal.Decimal `json:"drift"` // 链上用户资金 - 账本口径
	FailedWallets    int             `json:"failed_wallets"`
}

// SummaryReport 全量对账报告
type SummaryReport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WalletCount int            `json:"wallet_count"`
	Assets      []AssetSummary `json:"assets"`
}

// BalanceSummary 对配置的每种资产汇总:
// 热钱包链上余额、用户地址链上总额、账本口径总额，以及两者之差。
//
// 单个钱包查询失败按 0 计入并累加失败数，不让一个坏地址拖垮整份报告。
// 报告是尽力而为的观测，不是结算依据。
func (s *ReconcileService) BalanceSummary(ctx context.Context) (*SummaryReport, error) {
	userWallets, err := s.wallets.ListUserWallets(ctx)
	if err != nil {
		return nil, err
	}

	treasury, err := s.wallets.GetActiveTreasury(ctx)
	if err != nil && !errors.Is(err, errno.ErrTreasuryNotFound) {
		return nil, err
	}

	report := &SummaryReport{
		GeneratedAt: time.Now(),
		WalletCount: len(userWallets),
	}

	for _, asset := range ListAssets() {
		summary := s.summarizeAsset(ctx, asset, userWallets, treasury)
		report.Assets = append(report.Assets, summary)

		if monitor.Business != nil {
			tb, _ := summary.TreasuryOnchain.Float64()
			monitor.Business.TreasuryBalance.WithLabelValues(asset.Symbol).Set(tb)
			drift, _ := summary.Drift.Float64()
			monitor.Business.LedgerDrift.WithLabelValues(asset.Symbol).Set(drift)
		}
	}

	return report, nil
}

func (s *ReconcileService) summarizeAsset(ctx context.Context, asset Asset, userWallets []model.UserWallet, treasury *model.TreasuryWallet) AssetSummary {
	summary := AssetSummary{Asset: asset.Symbol}

	if treasury != nil {
		bal, err := s.balances.OnchainBalance(ctx, treasury.Address, asset)
		if err != nil {
			logger.Warn("查询热钱包余额失败", zap.String("asset", asset.Symbol), zap.Error(err))
		} else {
			summary.TreasuryOnchain = bal
		}
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, summaryConcurrency)
		onchain = decimal.Zero
		ledger  = decimal.Zero
		failed  int
	)

	for i := range userWallets {
		wallet := userWallets[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			bal, err := s.balances.OnchainBalance(ctx, wallet.Address, asset)
			if err != nil {
				logger.Warn("对账查询链上余额失败，按 0 计入",
					zap.Uint64("user_id", wallet.UserID), zap.String("asset", asset.Symbol), zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return
			}

			avail, err := s.balances.InternalAvailable(ctx, wallet.UserID, asset.Symbol)
			if err != nil {
				logger.Warn("对账计算账本余额失败，按 0 计入",
					zap.Uint64("user_id", wallet.UserID), zap.String("asset", asset.Symbol), zap.Error(err))
				mu.Lock()
				failed++
				onchain = onchain.Add(bal)
				mu.Unlock()
				return
			}

			mu.Lock()
			onchain = onchain.Add(bal)
			ledger = ledger.Add(avail)
			mu.Unlock()
		}()
	}
	wg.Wait()

	summary.UserOnchainTotal = onchain
	summary.OffchainTotal = ledger
	summary.Drift = onchain.Sub(ledger)
	summary.FailedWallets = failed
	return summary
}

// RunScheduledSummary 定时对账入口 (cron 调度)。
// 分布式锁保证多实例部署时每个周期只跑一份报告。
func (s *ReconcileService) RunScheduledSummary(ctx context.Context) {
	locked, err := s.distLock.Acquire(ctx, "reconcile:summary", 5*time.Minute)
	if err != nil {
		logger.Warn("获取对账锁失败", zap.Error(err))
		return
	}
	if !locked {
		return
	}
	defer s.distLock.Release(ctx, "reconcile:summary")

	report, err := s.BalanceSummary(ctx)
	if err != nil {
		logger.Error("定时对账失败", zap.Error(err))
		return
	}

	for _, a := range report.Assets {
		logger.Info("对账结果",
			zap.String("asset", a.Asset),
			zap.String("treasury_onchain", a.TreasuryOnchain.String()),
			zap.String("user_onchain_total", a.UserOnchainTotal.String()),
			zap.String("offchain_total", a.OffchainTotal.String()),
			zap.String("drift", a.Drift.String()),
			zap.Int("failed_wallets", a.FailedWallets))
	}
}

// AdminTransfer 管理转账: 从热钱包直接向任意地址转账。
// 运维兜底通道，每次调用都留审计记录。返回交易哈希。
func (s *ReconcileService) AdminTransfer(ctx context.Context, adminID uint64, toAddress, assetSymbol string, amount decimal.Decimal) (string, error) {
	if !s.chain.IsValidAddress(toAddress) {
		return "", errno.ErrInvalidAddress
	}
	if amount.Sign() <= 0 {
		return "", errno.ErrInvalidAmount
	}

	asset, err := ResolveAsset(assetSymbol)
	if err != nil {
		return "", err
	}

	treasury, err := s.wallets.GetActiveTreasury(ctx)
	if err != nil {
		return "", err
	}

	privKey, err := s.vault.DecryptString(treasury.EncryptedPrivKey)
	if err != nil {
		logger.Error("热钱包密钥完整性校验失败", zap.Error(err))
		return "", err
	}

	raw := asset.ToSmallestUnit(amount)
	var txHash string
	if asset.IsNative() {
		txHash, err = s.chain.SendNative(ctx, privKey, toAddress, raw)
	} else {
		txHash, err = s.chain.SendToken(ctx, privKey, toAddress, asset.Contract, raw)
	}
	if err != nil {
		return "", fmt.Errorf("管理转账广播失败: %w", err)
	}

	now := time.Now()
	settlement := model.SettlementTransaction{
		TxHash:      txHash,
		Type:        model.SettlementTypeExternalOut,
		FromAddress: treasury.Address,
		ToAddress:   toAddress,
		Amount:      amount,
		Asset:       asset.Symbol,
		Status:      model.SettlementStatusConfirmed,
		ConfirmedAt: &now,
	}
	if err := s.db.WithContext(ctx).Create(&settlement).Error; err != nil {
		// 已广播，流水落库失败只记日志: 交易无法撤回
		logger.Error("管理转账流水落库失败", zap.String("tx_hash", txHash), zap.Error(err))
	}

	if s.auditor != nil {
		if aerr := s.auditor.Log(ctx, adminID, "treasury.transfer", "settlement", txHash, map[string]string{
			"to":     toAddress,
			"asset":  asset.Symbol,
			"amount": amount.String(),
		}); aerr != nil {
			logger.Warn("审计日志投递失败", zap.String("action", "treasury.transfer"), zap.Error(aerr))
		}
	}

	return txHash, nil
}
