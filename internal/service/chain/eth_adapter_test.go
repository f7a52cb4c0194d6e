package chain

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestPackBalanceOf(t *testing.T) {
	owner := common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")
	data := PackBalanceOf(owner)

	if len(data) != 36 {
		t.Fatalf("calldata 长度错误: %d", len(data))
	}
	if hex.EncodeToString(data[:4]) != "70a08231" {
		t.Errorf("选择器错误: %x", data[:4])
	}
	if hex.EncodeToString(data[16:36]) != "1234567890abcdef1234567890abcdef12345678" {
		t.Errorf("地址填充错误: %x", data[4:])
	}
}

func TestPackTransfer(t *testing.T) {
	to := common.HexToAddress("0x000000000000000000000000000000000000dead")
	amount := big.NewInt(1000000)
	data := PackTransfer(to, amount)

	if len(data) != 68 {
		t.Fatalf("calldata 长度错误: %d", len(data))
	}
	if hex.EncodeToString(data[:4]) != "a9059cbb" {
		t.Errorf("选择器错误: %x", data[:4])
	}

	gotAmount := new(big.Int).SetBytes(data[36:])
	if gotAmount.Cmp(amount) != 0 {
		t.Errorf("金额编码错误: %s", gotAmount)
	}
}
