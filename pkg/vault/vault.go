package vault

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"

	"custody-core/pkg/address"
	"custody-core/pkg/bip32"
	"custody-core/pkg/crypto_util"
)

// DerivationPath 固定派生路径模板 (BIP-44, coin type 60)。
// 同一 (seed, index) 永远派生出同一密钥对，数据库丢失后可凭种子 + 已记录的
// index 重建全部用户钱包。
const DerivationPath = "m/44'/60'/0'/0/%d"

var (
	// ErrBadKeySize 加密密钥长度非法 (必须 16/24/32 字节)
	ErrBadKeySize = errors.New("vault: 加密密钥必须是 16/24/32 字节的 hex")
	// ErrIntegrity 解密认证失败，密文被篡改或密钥配置错误
	ErrIntegrity = errors.New("vault: 密文完整性校验失败")
)

// KeyPair 一次派生的结果
type KeyPair struct {
	Index      uint32
	PrivKeyHex string // 32 字节私钥 hex (不带 0x)
	PubKeyHex  string // 非压缩公钥 hex
	Address    string // EIP-55 地址
}

// Vault 负责密钥派生与静态加密。
// 加密密钥是进程级配置，启动时装载一次；配置缺失属于启动期错误，
// 由 config.Init 负责 fail-fast，这里只做最后一道校验。
type Vault struct {
	encKey  []byte
	network *chaincfg.Params
	ethGen  *address.ETHGenerator
}

// New 创建 Vault。hexKey 为 hex 编码的对称密钥。
func New(hexKey string) (*Vault, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, ErrBadKeySize
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrBadKeySize
	}

	return &Vault{
		encKey:  key,
		network: &chaincfg.MainNetParams,
		ethGen:  address.NewETHGenerator(),
	}, nil
}

// DeriveChild 从种子按固定路径派生第 index 个子密钥。
// 派生失败对调用方是致命错误: 不允许静默跳号，必须中止钱包创建。
func (v *Vault) DeriveChild(seed []byte, index uint32) (*KeyPair, error) {
	wallet, err := bip32.NewMasterKeyFromSeed(seed, v.network)
	if err != nil {
		return nil, fmt.Errorf("vault: 主密钥生成失败: %w", err)
	}

	path := fmt.Sprintf(DerivationPath, index)
	child, err := wallet.DerivePath(path)
	if err != nil {
		return nil, fmt.Errorf("vault: 派生 %s 失败: %w", path, err)
	}

	privKey, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("vault: 获取私钥失败: %w", err)
	}
	pubKey := privKey.PubKey()

	addr, err := v.ethGen.PubKeyToAddress(pubKey.SerializeUncompressed())
	if err != nil {
		return nil, fmt.Errorf("vault: 地址生成失败: %w", err)
	}

	return &KeyPair{
		Index:      index,
		PrivKeyHex: hex.EncodeToString(privKey.Serialize()),
		PubKeyHex:  hex.EncodeToString(pubKey.SerializeUncompressed()),
		Address:    addr,
	}, nil
}

// AddressFromPrivateKey 纯函数: 私钥 hex -> EIP-55 地址
func (v *Vault) AddressFromPrivateKey(privKeyHex string) (string, error) {
	raw, err := hex.DecodeString(privKeyHex)
	if err != nil || len(raw) != 32 {
		return "", fmt.Errorf("vault: 无效的私钥 hex")
	}

	privKey, _ := btcec.PrivKeyFromBytes(raw)
	return v.ethGen.PubKeyToAddress(privKey.PubKey().SerializeUncompressed())
}

// Encrypt 加密任意明文，返回 hex(nonce || ciphertext || tag)。
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	blob, err := crypto_util.EncryptAESGCM(v.encKey, plaintext)
	if err != nil {
		return "", fmt.Errorf("vault: 加密失败: %w", err)
	}
	return hex.EncodeToString(blob), nil
}

// Decrypt 解密 Encrypt 产出的 blob。
// 认证失败统一映射为 ErrIntegrity: 这是篡改或配置错误的信号，调用方
// 不得捕获后忽略。
func (v *Vault) Decrypt(blobHex string) ([]byte, error) {
	blob, err := hex.DecodeString(blobHex)
	if err != nil {
		return nil, ErrIntegrity
	}

	plaintext, err := crypto_util.DecryptAESGCM(v.encKey, blob)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// EncryptString / DecryptString 是字符串便捷封装 (助记词、私钥 hex)
func (v *Vault) EncryptString(s string) (string, error) {
	return v.Encrypt([]byte(s))
}

func (v *Vault) DecryptString(blobHex string) (string, error) {
	b, err := v.Decrypt(blobHex)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
