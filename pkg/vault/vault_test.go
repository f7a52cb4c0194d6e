package vault

import (
	"encoding/hex"
	"regexp"
	"strings"
	"testing"

	"custody-core/pkg/bip39"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("New 失败: %v", err)
	}
	return v
}

func TestNew_BadKey(t *testing.T) {
	cases := []string{"", "abcd", "zzzz", "0001020304050607"}
	for _, c := range cases {
		if _, err := New(c); err == nil {
			t.Errorf("密钥 %q 应该被拒绝", c)
		}
	}
}

func TestDeriveChild_Deterministic(t *testing.T) {
	v := newTestVault(t)
	seedHex := "fffcf9f6da3247d8a846f4b6113e6173"
	seed, _ := hex.DecodeString(seedHex)

	// 同一 (seed, index) 两次派生必须得到完全相同的密钥对
	kp1, err := v.DeriveChild(seed, 7)
	if err != nil {
		t.Fatalf("派生失败: %v", err)
	}
	kp2, err := v.DeriveChild(seed, 7)
	if err != nil {
		t.Fatalf("派生失败: %v", err)
	}

	if kp1.PrivKeyHex != kp2.PrivKeyHex || kp1.Address != kp2.Address {
		t.Errorf("派生不确定: %s != %s", kp1.Address, kp2.Address)
	}

	// 不同 index 必须得到不同密钥
	kp3, err := v.DeriveChild(seed, 8)
	if err != nil {
		t.Fatalf("派生失败: %v", err)
	}
	if kp3.PrivKeyHex == kp1.PrivKeyHex {
		t.Error("index 7 与 8 派生出了相同私钥")
	}
}

func TestDeriveChild_AddressFormat(t *testing.T) {
	v := newTestVault(t)
	mnemonicService := bip39.NewMnemonicService()
	mnemonic, err := mnemonicService.GenerateMnemonic(128)
	if err != nil {
		t.Fatalf("生成助记词失败: %v", err)
	}
	seed := mnemonicService.MnemonicToSeed(mnemonic, "")

	kp, err := v.DeriveChild(seed, 0)
	if err != nil {
		t.Fatalf("派生失败: %v", err)
	}

	if !regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`).MatchString(kp.Address) {
		t.Errorf("地址格式错误: %s", kp.Address)
	}

	// AddressFromPrivateKey 与派生结果必须一致
	addr, err := v.AddressFromPrivateKey(kp.PrivKeyHex)
	if err != nil {
		t.Fatalf("AddressFromPrivateKey 失败: %v", err)
	}
	if addr != kp.Address {
		t.Errorf("地址不一致: %s != %s", addr, kp.Address)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	v := newTestVault(t)
	plaintext := "abandon abandon abandon abandon about"

	blob, err := v.EncryptString(plaintext)
	if err != nil {
		t.Fatalf("加密失败: %v", err)
	}

	got, err := v.DecryptString(blob)
	if err != nil {
		t.Fatalf("解密失败: %v", err)
	}
	if got != plaintext {
		t.Errorf("解密结果不匹配: %q", got)
	}
}

func TestDecrypt_Tampered(t *testing.T) {
	v := newTestVault(t)
	blob, err := v.EncryptString("secret")
	if err != nil {
		t.Fatal(err)
	}

	// 翻转一个 hex 字符
	var c byte = '0'
	if blob[10] == '0' {
		c = '1'
	}
	tampered := blob[:10] + string(c) + blob[11:]

	if _, err := v.Decrypt(tampered); err != ErrIntegrity {
		t.Errorf("期望 ErrIntegrity, 得到: %v", err)
	}

	// 非法 hex 同样按完整性错误处理
	if _, err := v.Decrypt(strings.Repeat("zz", 24)); err != ErrIntegrity {
		t.Errorf("期望 ErrIntegrity, 得到: %v", err)
	}
}
