package service

import (
	"context"
	"errors"
	"testing"

	"custody-core/pkg/bip39"
	"custody-core/pkg/errno"
)

func TestProvisionUserWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 首次开通懒创建热钱包，index 0 归热钱包自身
	w1 := env.provision(t, 101)
	treasury := env.treasury(t)

	if w1.DerivationIndex != 1 {
		t.Errorf("第一个用户应得 index 1, 得到 %d", w1.DerivationIndex)
	}
	if treasury.NextDerivationIndex != 2 {
		t.Errorf("热钱包 next index 应为 2, 得到 %d", treasury.NextDerivationIndex)
	}
	if w1.Address == treasury.Address {
		t.Error("用户地址不应与热钱包地址相同")
	}

	// 第二个用户拿到下一个 index
	w2 := env.provision(t, 102)
	if w2.DerivationIndex != 2 {
		t.Errorf("第二个用户应得 index 2, 得到 %d", w2.DerivationIndex)
	}
	if w2.Address == w1.Address {
		t.Error("两个用户派生出了相同地址")
	}

	// 幂等: 重复开通返回原钱包，index 不被消耗
	again, err := env.wallets.ProvisionUserWallet(ctx, 101)
	if err != nil {
		t.Fatalf("重复开通失败: %v", err)
	}
	if again.Address != w1.Address || again.DerivationIndex != w1.DerivationIndex {
		t.Errorf("重复开通返回了不同钱包: %s != %s", again.Address, w1.Address)
	}
	if env.treasury(t).NextDerivationIndex != 3 {
		t.Errorf("幂等开通不应消耗 index, next 应为 3, 得到 %d", env.treasury(t).NextDerivationIndex)
	}
}

func TestProvisionUserWallet_Deterministic(t *testing.T) {
	env := newTestEnv(t)

	w1 := env.provision(t, 201)
	treasury := env.treasury(t)

	// 从加密种子重新派生同一 index 必须得到同一地址
	mnemonic, err := env.vault.DecryptString(treasury.EncryptedSeed)
	if err != nil {
		t.Fatalf("解密种子失败: %v", err)
	}
	seed := bip39.NewMnemonicService().MnemonicToSeed(mnemonic, "")
	kp, err := env.vault.DeriveChild(seed, w1.DerivationIndex)
	if err != nil {
		t.Fatalf("重派生失败: %v", err)
	}
	if kp.Address != w1.Address {
		t.Errorf("重派生地址不一致: %s != %s", kp.Address, w1.Address)
	}

	// 落库的私钥解密后与重派生结果一致
	priv, err := env.vault.DecryptString(w1.EncryptedPrivKey)
	if err != nil {
		t.Fatalf("解密私钥失败: %v", err)
	}
	if priv != kp.PrivKeyHex {
		t.Error("落库私钥与派生结果不一致")
	}
}

func TestLockUnlockWallet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provision(t, 301)

	if err := env.wallets.LockWallet(ctx, 9, 301, "risk review"); err != nil {
		t.Fatalf("锁定失败: %v", err)
	}

	w, err := env.wallets.GetUserWallet(ctx, 301)
	if err != nil {
		t.Fatal(err)
	}
	if !w.Locked || w.LockReason != "risk review" {
		t.Errorf("锁定状态未落库: locked=%v reason=%q", w.Locked, w.LockReason)
	}

	// 重复锁定报状态冲突
	if err := env.wallets.LockWallet(ctx, 9, 301, "again"); !errors.Is(err, errno.ErrAlreadyLocked) {
		t.Errorf("期望 ErrAlreadyLocked, 得到: %v", err)
	}

	if err := env.wallets.UnlockWallet(ctx, 9, 301); err != nil {
		t.Fatalf("解锁失败: %v", err)
	}
	if err := env.wallets.UnlockWallet(ctx, 9, 301); !errors.Is(err, errno.ErrAlreadyUnlocked) {
		t.Errorf("期望 ErrAlreadyUnlocked, 得到: %v", err)
	}

	// 不存在的用户
	if err := env.wallets.LockWallet(ctx, 9, 999, "x"); !errors.Is(err, errno.ErrWalletNotFound) {
		t.Errorf("期望 ErrWalletNotFound, 得到: %v", err)
	}
}
