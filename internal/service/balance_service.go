package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"custody-core/internal/model"
	"custody-core/pkg/cache"
	"custody-core/pkg/logger"
)

// BalanceService 余额聚合器: 链上余额 + 内部划转净额 - 提现占用。
//
// 两种口径，差异是有意为之且必须精确保持:
//   - 内部划转口径 (InternalAvailable): onchain + internalNet - hold
//   - 对外提现口径 (ExternalAvailable): onchain - hold
//
// 内部划转产生的净入账是账本承诺，不是已结算的链上余额，
// 因此可以在内部继续流转，但不允许提现出金。
type BalanceService struct {
	db       *gorm.DB
	chain    ChainAdapter
	wallets  *WalletService
	cache    cache.Cache
	cacheTTL time.Duration
}

func NewBalanceService(db *gorm.DB, chain ChainAdapter, wallets *WalletService, c cache.Cache) *BalanceService {
	return &BalanceService{
		db:       db,
		chain:    chain,
		wallets:  wallets,
		cache:    c,
		cacheTTL: 30 * time.Second,
	}
}

// ExternalAvailable 对外提现口径的可用余额，下限为 0
func (s *BalanceService) ExternalAvailable(ctx context.Context, userID uint64, assetSymbol string) (decimal.Decimal, error) {
	asset, err := ResolveAsset(assetSymbol)
	if err != nil {
		return decimal.Zero, err
	}

	wallet, err := s.wallets.GetUserWallet(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	onchain, err := s.OnchainBalance(ctx, wallet.Address, asset)
	if err != nil {
		return decimal.Zero, err
	}

	hold, err := s.pendingHold(ctx, userID, asset.Symbol)
	if err != nil {
		return decimal.Zero, err
	}

	return decimal.Max(decimal.Zero, onchain.Sub(hold)), nil
}

// InternalAvailable 内部划转口径的可用余额，下限为 0
func (s *BalanceService) InternalAvailable(ctx context.Context, userID uint64, assetSymbol string) (decimal.Decimal, error) {
	asset, err := ResolveAsset(assetSymbol)
	if err != nil {
		return decimal.Zero, err
	}

	wallet, err := s.wallets.GetUserWallet(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}

	onchain, err := s.OnchainBalance(ctx, wallet.Address, asset)
	if err != nil {
		return decimal.Zero, err
	}

	net, err := s.internalNet(ctx, userID, asset.Symbol)
	if err != nil {
		return decimal.Zero, err
	}

	hold, err := s.pendingHold(ctx, userID, asset.Symbol)
	if err != nil {
		return decimal.Zero, err
	}

	return decimal.Max(decimal.Zero, onchain.Add(net).Sub(hold)), nil
}

// OnchainBalance 查询链上余额 (展示单位)，带短 TTL 缓存。
// 缓存不可用绝不阻塞余额计算，直接退化为实时查链。
func (s *BalanceService) OnchainBalance(ctx context.Context, address string, asset Asset) (decimal.Decimal, error) {
	cacheKey := fmt.Sprintf("balance:%s:%s", address, asset.Symbol)

	if s.cache != nil {
		var cached string
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			if d, perr := decimal.NewFromString(cached); perr == nil {
				return d, nil
			}
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			logger.Debug("余额缓存读取失败，退化为实时查链", zap.Error(err))
		}
	}

	var raw decimal.Decimal
	if asset.IsNative() {
		bal, err := s.chain.GetNativeBalance(ctx, address)
		if err != nil {
			return decimal.Zero, err
		}
		raw = asset.FromSmallestUnit(bal)
	} else {
		bal, err := s.chain.GetTokenBalance(ctx, address, asset.Contract)
		if err != nil {
			return decimal.Zero, err
		}
		raw = asset.FromSmallestUnit(bal)
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, cacheKey, raw.String(), s.cacheTTL)
	}

	return raw, nil
}

// pendingHold 非终态提现占用之和
func (s *BalanceService) pendingHold(ctx context.Context, userID uint64, assetSymbol string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.WithContext(ctx).
		Model(&model.WithdrawalRequest{}).
		Where("user_id = ? AND asset = ? AND status IN ?", userID, assetSymbol, model.NonTerminalWithdrawStatuses).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("统计提现占用失败: %w", err)
	}
	return total, nil
}

// internalNet 已确认内部划转净额 (收到 - 转出)
func (s *BalanceService) internalNet(ctx context.Context, userID uint64, assetSymbol string) (decimal.Decimal, error) {
	var received, sent decimal.Decimal

	err := s.db.WithContext(ctx).
		Model(&model.SettlementTransaction{}).
		Where("type = ? AND status = ? AND asset = ? AND to_user_id = ?",
			model.SettlementTypeInternal, model.SettlementStatusConfirmed, assetSymbol, userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&received).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("统计内部入账失败: %w", err)
	}

	err = s.db.WithContext(ctx).
		Model(&model.SettlementTransaction{}).
		Where("type = ? AND status = ? AND asset = ? AND from_user_id = ?",
			model.SettlementTypeInternal, model.SettlementStatusConfirmed, assetSymbol, userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sent).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("统计内部出账失败: %w", err)
	}

	return received.Sub(sent), nil
}
