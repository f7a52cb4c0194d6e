package service

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"custody-core/pkg/config"
	"custody-core/pkg/errno"
)

// Asset 资产描述: 原生资产 Contract 为空，代币为 ERC-20 合约地址
type Asset struct {
	Symbol   string
	Contract string
	Decimals int32
}

// IsNative 是否原生资产
func (a Asset) IsNative() bool {
	return a.Contract == ""
}

// ResolveAsset 从配置解析资产。未配置的符号一律拒绝，
// 防止把余额查询打到任意合约上。
func ResolveAsset(symbol string) (Asset, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Asset{}, errno.ErrUnsupportedAsset
	}

	if symbol == strings.ToUpper(config.Global.Chain.NativeSymbol) {
		return Asset{Symbol: symbol, Decimals: 18}, nil
	}

	cfg, ok := config.Global.Assets[symbol]
	if !ok {
		return Asset{}, errno.ErrUnsupportedAsset
	}
	decimals := cfg.Decimals
	if decimals == 0 {
		decimals = 18
	}
	return Asset{Symbol: symbol, Contract: cfg.Contract, Decimals: decimals}, nil
}

// ListAssets 返回全部已配置资产 (原生资产在前)，对账遍历用
func ListAssets() []Asset {
	assets := []Asset{{Symbol: strings.ToUpper(config.Global.Chain.NativeSymbol), Decimals: 18}}
	for symbol, cfg := range config.Global.Assets {
		decimals := cfg.Decimals
		if decimals == 0 {
			decimals = 18
		}
		assets = append(assets, Asset{Symbol: strings.ToUpper(symbol), Contract: cfg.Contract, Decimals: decimals})
	}
	return assets
}

// FromSmallestUnit 最小单位 -> 展示单位 (精确十进制运算，禁止浮点)
func (a Asset) FromSmallestUnit(v *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(v, -a.Decimals)
}

// ToSmallestUnit 展示单位 -> 最小单位
func (a Asset) ToSmallestUnit(d decimal.Decimal) *big.Int {
	return d.Shift(a.Decimals).BigInt()
}
