package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ERC-20 函数选择器
var (
	selectorBalanceOf = []byte{0x70, 0xa0, 0x82, 0x31} // balanceOf(address)
	selectorTransfer  = []byte{0xa9, 0x05, 0x9c, 0xbb} // transfer(address,uint256)
)

// EthAdapter 基于 go-ethereum 的链适配器实现
type EthAdapter struct {
	client   *ethclient.Client
	chainID  *big.Int
	gasLimit uint64 // 原生转账 gas
	tokenGas uint64 // 代币转账 gas
}

// NewEthAdapter 连接 RPC 节点并读取 ChainID (EIP-155 签名需要)
func NewEthAdapter(rpcURL string, gasLimit, tokenGas uint64) (*EthAdapter, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("无法连接 ETH RPC (%s): %w", rpcURL, err)
	}

	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("读取 ChainID 失败: %w", err)
	}

	return &EthAdapter{
		client:   client,
		chainID:  chainID,
		gasLimit: gasLimit,
		tokenGas: tokenGas,
	}, nil
}

func (a *EthAdapter) GetNativeBalance(ctx context.Context, address string) (*big.Int, error) {
	bal, err := a.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}
	return bal, nil
}

func (a *EthAdapter) GetTokenBalance(ctx context.Context, address, contract string) (*big.Int, error) {
	contractAddr := common.HexToAddress(contract)
	msg := ethereum.CallMsg{
		To:   &contractAddr,
		Data: PackBalanceOf(common.HexToAddress(address)),
	}

	out, err := a.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf 调用失败: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

// SendNative 签名并广播原生资产转账
func (a *EthAdapter) SendNative(ctx context.Context, privKeyHex, to string, amount *big.Int) (string, error) {
	return a.send(ctx, privKeyHex, common.HexToAddress(to), amount, a.gasLimit, nil)
}

// SendToken 签名并广播 ERC-20 transfer
func (a *EthAdapter) SendToken(ctx context.Context, privKeyHex, to, contract string, amount *big.Int) (string, error) {
	data := PackTransfer(common.HexToAddress(to), amount)
	return a.send(ctx, privKeyHex, common.HexToAddress(contract), big.NewInt(0), a.tokenGas, data)
}

func (a *EthAdapter) IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// send 构造 -> EIP-155 签名 -> 广播。私钥只在本函数栈上短暂存在。
func (a *EthAdapter) send(ctx context.Context, privKeyHex string, to common.Address, value *big.Int, gasLimit uint64, data []byte) (string, error) {
	key, err := crypto.HexToECDSA(privKeyHex)
	if err != nil {
		return "", fmt.Errorf("无效的私钥: %w", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	nonce, err := a.client.PendingNonceAt(ctx, from)
	if err != nil {
		return "", fmt.Errorf("获取 nonce 失败: %w", err)
	}

	gasPrice, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("获取 gas price 失败: %w", err)
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)

	signer := types.NewEIP155Signer(a.chainID)
	signedTx, err := types.SignTx(tx, signer, key)
	if err != nil {
		return "", fmt.Errorf("签名失败: %w", err)
	}

	if err := a.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("广播失败: %w", err)
	}

	return signedTx.Hash().Hex(), nil
}

// PackBalanceOf 构造 balanceOf(address) 的 calldata
func PackBalanceOf(owner common.Address) []byte {
	data := make([]byte, 0, 36)
	data = append(data, selectorBalanceOf...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)
	return data
}

// PackTransfer 构造 transfer(address,uint256) 的 calldata
func PackTransfer(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 68)
	data = append(data, selectorTransfer...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}
