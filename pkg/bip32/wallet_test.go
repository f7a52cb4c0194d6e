package bip32

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
)

// 固定种子，派生结果必须可复现
const testSeedHex = "fffcf9f6da3247d8a846f4b6113e6173"

func testWallet(t *testing.T) *Wallet {
	t.Helper()
	seed, _ := hex.DecodeString(testSeedHex)
	w, err := NewMasterKeyFromSeed(seed, &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("生成主密钥失败: %v", err)
	}
	return w
}

func TestNewMasterKeyFromSeed_SeedLength(t *testing.T) {
	// 种子必须在 16-64 字节之间
	if _, err := NewMasterKeyFromSeed(make([]byte, 8), nil); err == nil {
		t.Error("8 字节种子应该被拒绝")
	}
	if _, err := NewMasterKeyFromSeed(make([]byte, 65), nil); err == nil {
		t.Error("65 字节种子应该被拒绝")
	}
	seed, _ := hex.DecodeString(testSeedHex)
	if _, err := NewMasterKeyFromSeed(seed, nil); err != nil {
		t.Errorf("16 字节种子应该被接受: %v", err)
	}
}

func TestDerivePath_EthAccountPath(t *testing.T) {
	w := testWallet(t)

	// 充值钱包派生用的路径模板
	for _, index := range []uint32{0, 1, 7} {
		path := fmt.Sprintf("m/44'/60'/0'/0/%d", index)
		child, err := w.DerivePath(path)
		if err != nil {
			t.Fatalf("派生 %s 失败: %v", path, err)
		}
		if !child.IsPrivate() {
			t.Errorf("%s 应派生出私钥", path)
		}

		// 同一路径两次派生必须一致
		again, err := w.DerivePath(path)
		if err != nil {
			t.Fatal(err)
		}
		if child.String() != again.String() {
			t.Errorf("路径 %s 派生不确定", path)
		}
	}

	// 不同 index 必须不同
	a, _ := w.DerivePath("m/44'/60'/0'/0/0")
	b, _ := w.DerivePath("m/44'/60'/0'/0/1")
	if a.String() == b.String() {
		t.Error("index 0 与 1 派生出了相同密钥")
	}
}

func TestDerivePath_HardenedMarkers(t *testing.T) {
	w := testWallet(t)

	// ' 与 h 两种写法等价
	quote, err := w.DerivePath("m/44'/60'/0'")
	if err != nil {
		t.Fatal(err)
	}
	letter, err := w.DerivePath("m/44h/60h/0h")
	if err != nil {
		t.Fatal(err)
	}
	if quote.String() != letter.String() {
		t.Error("' 与 h 写法派生结果不一致")
	}

	// hardened 与非 hardened 必须不同
	plain, err := w.DerivePath("m/44/60/0")
	if err != nil {
		t.Fatal(err)
	}
	if plain.String() == quote.String() {
		t.Error("hardened 与普通派生结果相同")
	}
}

func TestDerivePath_Invalid(t *testing.T) {
	w := testWallet(t)
	for _, path := range []string{"m/abc", "m/44'/xyz/0", "m/-1"} {
		if _, err := w.DerivePath(path); err == nil {
			t.Errorf("路径 %q 应该被拒绝", path)
		}
	}
}

func TestNeuter(t *testing.T) {
	w := testWallet(t)
	child, err := w.DerivePath("m/44'/60'/0'/0/0")
	if err != nil {
		t.Fatal(err)
	}

	pub, err := child.Neuter()
	if err != nil {
		t.Fatalf("转换为扩展公钥失败: %v", err)
	}
	if pub.IsPrivate() {
		t.Error("Neuter() 应该返回公钥，但 IsPrivate() 返回 true")
	}

	// 公私钥对应同一个 EC 公钥
	pk1, err := child.ECPubKey()
	if err != nil {
		t.Fatal(err)
	}
	pk2, err := pub.ECPubKey()
	if err != nil {
		t.Fatal(err)
	}
	if !pk1.IsEqual(pk2) {
		t.Error("Neuter 前后 EC 公钥不一致")
	}
}
