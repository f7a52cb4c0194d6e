package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"custody-core/internal/model"
	"custody-core/pkg/bip39"
	"custody-core/pkg/errno"
	"custody-core/pkg/logger"
	"custody-core/pkg/vault"
)

// WalletService 钱包目录: 唯一的活跃热钱包 + 每用户充值钱包。
// 所有私钥材料经 Vault 加密后落库，解密只发生在签名前的瞬间。
type WalletService struct {
	db      *gorm.DB
	vault   *vault.Vault
	auditor Auditor
}

func NewWalletService(db *gorm.DB, v *vault.Vault, auditor Auditor) *WalletService {
	return &WalletService{db: db, vault: v, auditor: auditor}
}

// GetActiveTreasury 获取当前活跃热钱包。不存在时返回 ErrTreasuryNotFound，
// 由调用方决定这是可恢复错误 (等待首次开通) 还是致命错误 (提现执行期)。
func (s *WalletService) GetActiveTreasury(ctx context.Context) (*model.TreasuryWallet, error) {
	var treasury model.TreasuryWallet
	err := s.db.WithContext(ctx).Where("active = ?", true).First(&treasury).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errno.ErrTreasuryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询热钱包失败: %w", err)
	}
	return &treasury, nil
}

// ProvisionUserWallet 为用户开通充值钱包 (幂等)。
// 热钱包不存在时在同一事务内懒创建。
// 派生索引的 读取-递增-写入 在行锁保护下完成: 两个并发开通请求
// 不可能拿到同一个 index。
func (s *WalletService) ProvisionUserWallet(ctx context.Context, userID uint64) (*model.UserWallet, error) {
	// 已有钱包直接返回，地址创建后不可变
	var existing model.UserWallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询用户钱包失败: %w", err)
	}

	var created model.UserWallet
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		treasury, err := s.lockOrCreateTreasury(tx)
		if err != nil {
			return err
		}

		index := treasury.NextDerivationIndex

		seedMnemonic, err := s.vault.DecryptString(treasury.EncryptedSeed)
		if err != nil {
			// 完整性错误必须向上冒泡，绝不静默换一个 index 重试
			return err
		}
		seed := bip39.NewMnemonicService().MnemonicToSeed(seedMnemonic, "")

		kp, err := s.vault.DeriveChild(seed, index)
		if err != nil {
			// 派生失败对本次开通是致命的: 中止事务，index 不被消耗
			return err
		}

		encPriv, err := s.vault.EncryptString(kp.PrivKeyHex)
		if err != nil {
			return err
		}

		created = model.UserWallet{
			UserID:           userID,
			Address:          kp.Address,
			EncryptedPrivKey: encPriv,
			DerivationIndex:  index,
		}
		if err := tx.Create(&created).Error; err != nil {
			return fmt.Errorf("保存用户钱包失败: %w", err)
		}

		// 与钱包创建同事务递增，index 永不复用
		if err := tx.Model(&model.TreasuryWallet{}).
			Where("id = ?", treasury.ID).
			Update("next_derivation_index", index+1).Error; err != nil {
			return fmt.Errorf("递增派生索引失败: %w", err)
		}

		return nil
	})
	if err != nil {
		// 并发开通同一用户: 唯一索引冲突后重查一次
		var again model.UserWallet
		if e := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&again).Error; e == nil {
			return &again, nil
		}
		return nil, err
	}

	s.auditLog(ctx, 0, "wallet.provision", "user_wallet", fmt.Sprint(created.ID), map[string]string{
		"user_id": fmt.Sprint(userID),
		"address": created.Address,
	})

	return &created, nil
}

// lockOrCreateTreasury 行锁读取活跃热钱包；不存在则在当前事务内创建。
// 迁移里的部分唯一索引保证并发创建只会成功一个，失败方会因
// 唯一冲突回滚后重试。
func (s *WalletService) lockOrCreateTreasury(tx *gorm.DB) (*model.TreasuryWallet, error) {
	var treasury model.TreasuryWallet
	q := tx
	// sqlite 没有 FOR UPDATE，退化为普通读 (单连接内存库不会并发)
	if tx.Dialector.Name() != "sqlite" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("active = ?", true).
		First(&treasury).Error
	if err == nil {
		return &treasury, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("锁定热钱包失败: %w", err)
	}

	// 懒创建: 生成助记词 -> 种子 -> index 0 作为热钱包自身的密钥
	mnemonicService := bip39.NewMnemonicService()
	mnemonic, err := mnemonicService.GenerateMnemonic(256)
	if err != nil {
		return nil, fmt.Errorf("生成热钱包助记词失败: %w", err)
	}
	seed := mnemonicService.MnemonicToSeed(mnemonic, "")

	kp, err := s.vault.DeriveChild(seed, 0)
	if err != nil {
		return nil, err
	}

	encSeed, err := s.vault.EncryptString(mnemonic)
	if err != nil {
		return nil, err
	}
	encPriv, err := s.vault.EncryptString(kp.PrivKeyHex)
	if err != nil {
		return nil, err
	}

	treasury = model.TreasuryWallet{
		Address:             kp.Address,
		EncryptedSeed:       encSeed,
		EncryptedPrivKey:    encPriv,
		NextDerivationIndex: 1, // index 0 已被热钱包自身占用
		Active:              true,
	}
	if err := tx.Create(&treasury).Error; err != nil {
		return nil, fmt.Errorf("创建热钱包失败: %w", err)
	}

	logger.Info("热钱包已创建", zap.String("address", treasury.Address))
	return &treasury, nil
}

// GetUserWallet 按用户查询钱包
func (s *WalletService) GetUserWallet(ctx context.Context, userID uint64) (*model.UserWallet, error) {
	var wallet model.UserWallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errno.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户钱包失败: %w", err)
	}
	return &wallet, nil
}

// GetUserWalletByAddress 按地址查询钱包 (归集用)
func (s *WalletService) GetUserWalletByAddress(ctx context.Context, address string) (*model.UserWallet, error) {
	var wallet model.UserWallet
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errno.ErrWalletNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询用户钱包失败: %w", err)
	}
	return &wallet, nil
}

// ListUserWallets 列出全部用户钱包 (对账用)
func (s *WalletService) ListUserWallets(ctx context.Context) ([]model.UserWallet, error) {
	var wallets []model.UserWallet
	if err := s.db.WithContext(ctx).Find(&wallets).Error; err != nil {
		return nil, fmt.Errorf("查询用户钱包失败: %w", err)
	}
	return wallets, nil
}

// LockWallet 管理操作: 锁定用户钱包
func (s *WalletService) LockWallet(ctx context.Context, adminID, userID uint64, reason string) error {
	wallet, err := s.GetUserWallet(ctx, userID)
	if err != nil {
		return err
	}
	if wallet.Locked {
		return errno.ErrAlreadyLocked
	}

	now := time.Now()
	updates := map[string]interface{}{
		"locked":      true,
		"lock_reason": reason,
		"locked_by":   adminID,
		"locked_at":   now,
	}
	if err := s.db.WithContext(ctx).Model(wallet).Updates(updates).Error; err != nil {
		return fmt.Errorf("锁定钱包失败: %w", err)
	}

	s.auditLog(ctx, adminID, "wallet.lock", "user_wallet", fmt.Sprint(wallet.ID), map[string]string{
		"user_id": fmt.Sprint(userID),
		"reason":  reason,
	})
	return nil
}

// UnlockWallet 管理操作: 解锁用户钱包
func (s *WalletService) UnlockWallet(ctx context.Context, adminID, userID uint64) error {
	wallet, err := s.GetUserWallet(ctx, userID)
	if err != nil {
		return err
	}
	if !wallet.Locked {
		return errno.ErrAlreadyUnlocked
	}

	updates := map[string]interface{}{
		"locked":      false,
		"lock_reason": "",
		"locked_by":   nil,
		"locked_at":   nil,
	}
	if err := s.db.WithContext(ctx).Model(wallet).Updates(updates).Error; err != nil {
		return fmt.Errorf("解锁钱包失败: %w", err)
	}

	s.auditLog(ctx, adminID, "wallet.unlock", "user_wallet", fmt.Sprint(wallet.ID), map[string]string{
		"user_id": fmt.Sprint(userID),
	})
	return nil
}

// auditLog fire-and-forget: 审计失败只记日志，不影响业务结果
func (s *WalletService) auditLog(ctx context.Context, actorID uint64, action, resourceType, resourceID string, details map[string]string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Log(ctx, actorID, action, resourceType, resourceID, details); err != nil {
		logger.Warn("审计日志投递失败", zap.String("action", action), zap.Error(err))
	}
}
