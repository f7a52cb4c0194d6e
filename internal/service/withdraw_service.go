package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"custody-core/internal/model"
	"custody-core/pkg/errno"
	"custody-core/pkg/logger"
	"custody-core/pkg/monitor"
	"custody-core/pkg/vault"
)

// WithdrawService 提现生命周期管理。
//
// 所有状态转移都在写入前以 WHERE status = ? 条件更新再次校验当前状态；
// 前置条件不再成立时转移是 no-op 而非错误 (容忍任务的重复投递)，
// 管理审核是唯一的例外 (显式报 StateConflict 给调用方)。
type WithdrawService struct {
	db           *gorm.DB
	wallets      *WalletService
	balances     *BalanceService
	chain        ChainAdapter
	vault        *vault.Vault
	queue        JobQueue
	notifier     Notifier
	auditor      Auditor
	lockDuration time.Duration
}

func NewWithdrawService(
	db *gorm.DB,
	wallets *WalletService,
	balances *BalanceService,
	chain ChainAdapter,
	v *vault.Vault,
	queue JobQueue,
	notifier Notifier,
	auditor Auditor,
	lockDuration time.Duration,
) *WithdrawService {
	return &WithdrawService{
		db:           db,
		wallets:      wallets,
		balances:     balances,
		chain:        chain,
		vault:        v,
		queue:        queue,
		notifier:     notifier,
		auditor:      auditor,
		lockDuration: lockDuration,
	}
}

// Create 创建提现申请，初始状态 PENDING_24H。
// 校验失败时同步拒绝，不落任何记录。
func (s *WithdrawService) Create(ctx context.Context, userID uint64, toAddress string, amount decimal.Decimal, assetSymbol string) (*model.WithdrawalRequest, error) {
	asset, err := ResolveAsset(assetSymbol)
	if err != nil {
		return nil, err
	}

	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errno.ErrInvalidAmount
	}
	if !s.chain.IsValidAddress(toAddress) {
		return nil, errno.ErrInvalidAddress
	}

	wallet, err := s.wallets.GetUserWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	if wallet.Locked {
		return nil, errno.ErrWalletLocked
	}
	if strings.EqualFold(toAddress, wallet.Address) {
		return nil, errno.ErrSelfTransfer
	}

	// 提现口径余额: 内部划转入账不可出金
	available, err := s.balances.ExternalAvailable(ctx, userID, asset.Symbol)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(available) {
		return nil, errno.ErrInsufficientFunds
	}

	req := model.WithdrawalRequest{
		UserID:      userID,
		ToAddress:   toAddress,
		Amount:      amount,
		Asset:       asset.Symbol,
		Contract:    asset.Contract,
		Status:      model.WithdrawStatusPending24h,
		AvailableAt: time.Now().Add(s.lockDuration),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 首次提现标记: 没有任何非 REJECTED/FAILED 的历史申请。
		// 与创建同事务计算，并发创建不会标出两个 "首次"。
		var prior int64
		if err := tx.Model(&model.WithdrawalRequest{}).
			Where("user_id = ? AND status NOT IN ?", userID,
				[]string{model.WithdrawStatusRejected, model.WithdrawStatusFailed}).
			Count(&prior).Error; err != nil {
			return fmt.Errorf("统计历史提现失败: %w", err)
		}
		req.IsFirst = prior == 0

		if err := tx.Create(&req).Error; err != nil {
			return fmt.Errorf("创建提现申请失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 时间锁到期任务。队列不可用时申请停留在 PENDING_24H，
	// 等基础设施恢复由运维补偿，不做静默兜底。
	if err := s.enqueueWithdrawJob(ctx, TypeWithdrawUnlock, req.ID, JobOptions{
		Delay:     time.Until(req.AvailableAt),
		DedupeKey: fmt.Sprintf("withdraw:unlock:%d", req.ID),
	}); err != nil && !errors.Is(err, ErrDuplicateJob) {
		logger.Error("时间锁任务入队失败，申请将停留在 PENDING_24H",
			zap.Uint64("withdrawal_id", req.ID), zap.Error(err))
	}

	if monitor.Business != nil {
		monitor.Business.WithdrawRequestedTotal.WithLabelValues(asset.Symbol).Inc()
	}

	s.notify(ctx, userID, "withdraw.pending", "提现申请已受理",
		fmt.Sprintf("%s %s 提现申请进入 24 小时安全锁定期", amount.String(), asset.Symbol),
		map[string]string{"withdrawal_id": fmt.Sprint(req.ID)})

	return &req, nil
}

// ProcessTimeLock 时间锁到期: PENDING_24H -> PENDING_APPROVAL。
// 申请已不在 PENDING_24H 时是幂等 no-op (不会产生重复通知)。
func (s *WithdrawService) ProcessTimeLock(ctx context.Context, withdrawalID uint64) error {
	res := s.db.WithContext(ctx).Model(&model.WithdrawalRequest{}).
		Where("id = ? AND status = ?", withdrawalID, model.WithdrawStatusPending24h).
		Update("status", model.WithdrawStatusPendingApproval)
	if res.Error != nil {
		return fmt.Errorf("时间锁转移失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	if monitor.Business != nil {
		monitor.Business.WithdrawStatusTotal.WithLabelValues(model.WithdrawStatusPendingApproval).Inc()
	}

	var req model.WithdrawalRequest
	if err := s.db.WithContext(ctx).First(&req, withdrawalID).Error; err == nil {
		s.notify(ctx, req.UserID, "withdraw.pending_approval", "提现进入人工审核",
			fmt.Sprintf("%s %s 提现申请锁定期已满，等待审核", req.Amount.String(), req.Asset),
			map[string]string{"withdrawal_id": fmt.Sprint(req.ID)})
	}
	return nil
}

// Review 管理审核。只有 PENDING_APPROVAL 可审，其他状态报 StateConflict。
func (s *WithdrawService) Review(ctx context.Context, adminID, withdrawalID uint64, approve bool, note string) (*model.WithdrawalRequest, error) {
	var req model.WithdrawalRequest

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&req, withdrawalID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errno.ErrWithdrawalNotFound
			}
			return fmt.Errorf("查询提现申请失败: %w", err)
		}
		if req.Status != model.WithdrawStatusPendingApproval {
			return errno.ErrNotReviewable
		}

		status := model.WithdrawStatusApproved
		if !approve {
			status = model.WithdrawStatusRejected
		}

		now := time.Now()
		res := tx.Model(&model.WithdrawalRequest{}).
			Where("id = ? AND status = ?", withdrawalID, model.WithdrawStatusPendingApproval).
			Updates(map[string]interface{}{
				"status":      status,
				"reviewer_id": adminID,
				"reviewed_at": now,
				"review_note": note,
			})
		if res.Error != nil {
			return fmt.Errorf("更新审核状态失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errno.ErrNotReviewable
		}

		req.Status = status
		req.ReviewerID = &adminID
		req.ReviewedAt = &now
		req.ReviewNote = note
		return nil
	})
	if err != nil {
		return nil, err
	}

	if monitor.Business != nil {
		monitor.Business.WithdrawStatusTotal.WithLabelValues(req.Status).Inc()
	}

	action := "withdraw.reject"
	if approve {
		action = "withdraw.approve"

		if err := s.enqueueWithdrawJob(ctx, TypeWithdrawExecute, req.ID, JobOptions{
			DedupeKey: fmt.Sprintf("withdraw:execute:%d", req.ID),
		}); err != nil && !errors.Is(err, ErrDuplicateJob) {
			logger.Error("执行任务入队失败，申请将停留在 APPROVED",
				zap.Uint64("withdrawal_id", req.ID), zap.Error(err))
		}

		s.notify(ctx, req.UserID, "withdraw.approved", "提现已批准",
			fmt.Sprintf("%s %s 提现申请已批准，正在执行", req.Amount.String(), req.Asset),
			map[string]string{"withdrawal_id": fmt.Sprint(req.ID)})
	} else {
		body := fmt.Sprintf("%s %s 提现申请被拒绝", req.Amount.String(), req.Asset)
		if note != "" {
			body += ": " + note
		}
		s.notify(ctx, req.UserID, "withdraw.rejected", "提现被拒绝", body,
			map[string]string{"withdrawal_id": fmt.Sprint(req.ID)})
	}

	s.auditLog(ctx, adminID, action, "withdrawal_request", fmt.Sprint(req.ID), map[string]string{
		"note": note,
	})

	return &req, nil
}

// Execute 执行已批准的提现 (异步任务触发)。
// 广播前先转移到 PROCESSING: 广播中途崩溃会停在 PROCESSING，
// 而不是退回 APPROVED 冒二次广播的风险。
// 广播失败是终态 FAILED: 链上广播不保证幂等，不做自动重试。
func (s *WithdrawService) Execute(ctx context.Context, withdrawalID uint64) error {
	var req model.WithdrawalRequest
	if err := s.db.WithContext(ctx).First(&req, withdrawalID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Warn("执行任务指向不存在的提现申请", zap.Uint64("withdrawal_id", withdrawalID))
			return nil
		}
		return fmt.Errorf("查询提现申请失败: %w", err)
	}
	if req.Status != model.WithdrawStatusApproved {
		// 重复投递或已被处理
		return nil
	}

	// 1. 热钱包缺失没有自动恢复路径: 直接终态，等运维介入
	treasury, err := s.wallets.GetActiveTreasury(ctx)
	if err != nil {
		if errors.Is(err, errno.ErrTreasuryNotFound) {
			s.markFailed(ctx, &req, "fatal: no active treasury wallet")
			return nil
		}
		return err
	}

	asset, err := ResolveAsset(req.Asset)
	if err != nil {
		s.markFailed(ctx, &req, fmt.Sprintf("unsupported asset %s", req.Asset))
		return nil
	}
	amountWei := asset.ToSmallestUnit(req.Amount)

	// 2. 预检热钱包余额，不足则不触链直接失败
	var treasuryBalance = decimal.Zero
	if asset.IsNative() {
		bal, err := s.chain.GetNativeBalance(ctx, treasury.Address)
		if err != nil {
			return err // 预检失败可安全重试，还未广播
		}
		treasuryBalance = asset.FromSmallestUnit(bal)
	} else {
		bal, err := s.chain.GetTokenBalance(ctx, treasury.Address, asset.Contract)
		if err != nil {
			return err
		}
		treasuryBalance = asset.FromSmallestUnit(bal)
	}
	if treasuryBalance.LessThan(req.Amount) {
		s.markFailed(ctx, &req, "insufficient treasury balance")
		return nil
	}

	// 3. 先转 PROCESSING 再广播
	res := s.db.WithContext(ctx).Model(&model.WithdrawalRequest{}).
		Where("id = ? AND status = ?", req.ID, model.WithdrawStatusApproved).
		Update("status", model.WithdrawStatusProcessing)
	if res.Error != nil {
		return fmt.Errorf("转移 PROCESSING 失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	req.Status = model.WithdrawStatusProcessing

	// 4. 解密签名密钥，仅存在于本函数栈
	privKey, err := s.vault.DecryptString(treasury.EncryptedPrivKey)
	if err != nil {
		// 完整性错误意味着篡改或密钥配置错误，必须升级为进程级告警
		logger.Error("热钱包密钥完整性校验失败", zap.Error(err))
		s.markFailed(ctx, &req, "treasury key integrity failure")
		return nil
	}

	var txHash string
	if asset.IsNative() {
		txHash, err = s.chain.SendNative(ctx, privKey, req.ToAddress, amountWei)
	} else {
		txHash, err = s.chain.SendToken(ctx, privKey, req.ToAddress, asset.Contract, amountWei)
	}
	if err != nil {
		// 适配器错误原文保留，便于运维诊断
		s.markFailed(ctx, &req, err.Error())
		return nil
	}

	// 5. 落结算流水并关联，进入终态 COMPLETED
	now := time.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		settlement := model.SettlementTransaction{
			TxHash:      txHash,
			Type:        model.SettlementTypeExternalOut,
			FromUserID:  &req.UserID,
			FromAddress: treasury.Address,
			ToAddress:   req.ToAddress,
			Amount:      req.Amount,
			Asset:       req.Asset,
			Status:      model.SettlementStatusConfirmed,
			ConfirmedAt: &now,
		}
		if err := tx.Create(&settlement).Error; err != nil {
			return fmt.Errorf("保存结算流水失败: %w", err)
		}

		return tx.Model(&model.WithdrawalRequest{}).
			Where("id = ? AND status = ?", req.ID, model.WithdrawStatusProcessing).
			Updates(map[string]interface{}{
				"status":        model.WithdrawStatusCompleted,
				"completed_at":  now,
				"settlement_id": settlement.ID,
			}).Error
	})
	if err != nil {
		// 链上已成功，本地记录失败: 停在 PROCESSING 等人工对账，
		// 绝不重试广播
		logger.Error("提现已广播但落库失败",
			zap.Uint64("withdrawal_id", req.ID), zap.String("tx_hash", txHash), zap.Error(err))
		return nil
	}

	if monitor.Business != nil {
		monitor.Business.WithdrawStatusTotal.WithLabelValues(model.WithdrawStatusCompleted).Inc()
	}

	s.notify(ctx, req.UserID, "withdraw.completed", "提现已完成",
		fmt.Sprintf("%s %s 已发送至 %s", req.Amount.String(), req.Asset, req.ToAddress),
		map[string]string{"withdrawal_id": fmt.Sprint(req.ID), "tx_hash": txHash})

	return nil
}

// InternalTransfer 用户间账本划转。不触链，创建即终态。
func (s *WithdrawService) InternalTransfer(ctx context.Context, fromUserID, toUserID uint64, amount decimal.Decimal, assetSymbol string) (*model.SettlementTransaction, error) {
	asset, err := ResolveAsset(assetSymbol)
	if err != nil {
		return nil, err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, errno.ErrInvalidAmount
	}
	if fromUserID == toUserID {
		return nil, errno.ErrSelfTransfer
	}

	fromWallet, err := s.wallets.GetUserWallet(ctx, fromUserID)
	if err != nil {
		return nil, err
	}
	if fromWallet.Locked {
		return nil, errno.ErrWalletLocked
	}
	toWallet, err := s.wallets.GetUserWallet(ctx, toUserID)
	if err != nil {
		return nil, err
	}

	// 内部口径余额: 账本入账可以继续在内部流转
	available, err := s.balances.InternalAvailable(ctx, fromUserID, asset.Symbol)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(available) {
		return nil, errno.ErrInsufficientFunds
	}

	now := time.Now()
	settlement := model.SettlementTransaction{
		TxHash:      internalTxRef(),
		Type:        model.SettlementTypeInternal,
		FromUserID:  &fromUserID,
		ToUserID:    &toUserID,
		FromAddress: fromWallet.Address,
		ToAddress:   toWallet.Address,
		Amount:      amount,
		Asset:       asset.Symbol,
		Status:      model.SettlementStatusConfirmed,
		ConfirmedAt: &now,
	}
	if err := s.db.WithContext(ctx).Create(&settlement).Error; err != nil {
		return nil, fmt.Errorf("保存内部划转失败: %w", err)
	}

	s.notify(ctx, fromUserID, "transfer.sent", "转账已完成",
		fmt.Sprintf("已向用户 %d 转出 %s %s", toUserID, amount.String(), asset.Symbol), nil)
	s.notify(ctx, toUserID, "transfer.received", "收到转账",
		fmt.Sprintf("收到来自用户 %d 的 %s %s", fromUserID, amount.String(), asset.Symbol), nil)

	return &settlement, nil
}

// Get 查询单条提现申请
func (s *WithdrawService) Get(ctx context.Context, withdrawalID uint64) (*model.WithdrawalRequest, error) {
	var req model.WithdrawalRequest
	err := s.db.WithContext(ctx).First(&req, withdrawalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errno.ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询提现申请失败: %w", err)
	}
	return &req, nil
}

// ListByUser 查询用户的提现记录 (倒序)
func (s *WithdrawService) ListByUser(ctx context.Context, userID uint64) ([]model.WithdrawalRequest, error) {
	var reqs []model.WithdrawalRequest
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("查询提现记录失败: %w", err)
	}
	return reqs, nil
}

// markFailed 从任意非终态转移到 FAILED 并通知用户
func (s *WithdrawService) markFailed(ctx context.Context, req *model.WithdrawalRequest, reason string) {
	res := s.db.WithContext(ctx).Model(&model.WithdrawalRequest{}).
		Where("id = ? AND status IN ?", req.ID, model.NonTerminalWithdrawStatuses).
		Updates(map[string]interface{}{
			"status":      model.WithdrawStatusFailed,
			"fail_reason": reason,
		})
	if res.Error != nil {
		logger.Error("标记提现失败时出错", zap.Uint64("withdrawal_id", req.ID), zap.Error(res.Error))
		return
	}
	if res.RowsAffected == 0 {
		return
	}

	if monitor.Business != nil {
		monitor.Business.WithdrawStatusTotal.WithLabelValues(model.WithdrawStatusFailed).Inc()
	}

	s.notify(ctx, req.UserID, "withdraw.failed", "提现失败",
		fmt.Sprintf("%s %s 提现执行失败: %s", req.Amount.String(), req.Asset, reason),
		map[string]string{"withdrawal_id": fmt.Sprint(req.ID)})
}

func (s *WithdrawService) enqueueWithdrawJob(ctx context.Context, jobType string, withdrawalID uint64, opts JobOptions) error {
	payload, err := json.Marshal(WithdrawJobPayload{WithdrawalID: withdrawalID})
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, jobType, payload, opts)
}

func (s *WithdrawService) notify(ctx context.Context, userID uint64, typ, title, body string, metadata map[string]string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, typ, title, body, metadata); err != nil {
		logger.Warn("通知投递失败", zap.String("type", typ), zap.Error(err))
	}
}

func (s *WithdrawService) auditLog(ctx context.Context, actorID uint64, action, resourceType, resourceID string, details map[string]string) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Log(ctx, actorID, action, resourceType, resourceID, details); err != nil {
		logger.Warn("审计日志投递失败", zap.String("action", action), zap.Error(err))
	}
}

// internalTxRef 内部划转的流水号 (占用 TxHash 唯一索引的命名空间)
func internalTxRef() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return "internal-" + hex.EncodeToString(buf)
}
