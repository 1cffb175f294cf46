package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// コントラクトのview関数セレクタ（keccak256先頭4バイト）
var (
	selLastClaim   = crypto.Keccak256([]byte("lastClaim(address)"))[:4]
	selClaimAmount = crypto.Keccak256([]byte("claimAmount()"))[:4]
	selPaused      = crypto.Keccak256([]byte("paused()"))[:4]
	selOwner       = crypto.Keccak256([]byte("owner()"))[:4]
)

// ContractCaller はReaderが必要とするRPCクライアントの最小インターフェース。
// *ethclient.Client が実装する。
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Reader はフォーセットコントラクトの公開状態を読み取る。読み取り専用。
type Reader struct {
	caller   ContractCaller
	contract common.Address
}

// NewReader はReaderを生成する。
func NewReader(caller ContractCaller, contractAddress string) (*Reader, error) {
	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address: %q", contractAddress)
	}
	return &Reader{
		caller:   caller,
		contract: common.HexToAddress(contractAddress),
	}, nil
}

// LastClaim は指定ウォレットの最終請求時刻（unix秒）を返す。未請求なら0。
func (r *Reader) LastClaim(ctx context.Context, wallet string) (int64, error) {
	if !common.IsHexAddress(wallet) {
		return 0, fmt.Errorf("invalid wallet address: %q", wallet)
	}

	data := make([]byte, 0, 4+32)
	data = append(data, selLastClaim...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(wallet).Bytes(), 32)...)

	out, err := r.call(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("failed to read lastClaim: %w", err)
	}
	return new(big.Int).SetBytes(out).Int64(), nil
}

// ClaimAmount はコントラクトに設定された1回あたり配布額（wei）を返す。
func (r *Reader) ClaimAmount(ctx context.Context) (*big.Int, error) {
	out, err := r.call(ctx, selClaimAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to read claimAmount: %w", err)
	}
	return new(big.Int).SetBytes(out), nil
}

// Paused はコントラクトの一時停止フラグを返す。
func (r *Reader) Paused(ctx context.Context) (bool, error) {
	out, err := r.call(ctx, selPaused)
	if err != nil {
		return false, fmt.Errorf("failed to read paused: %w", err)
	}
	return out[len(out)-1] != 0, nil
}

// Owner はコントラクトのownerアドレスを返す。
func (r *Reader) Owner(ctx context.Context) (common.Address, error) {
	out, err := r.call(ctx, selOwner)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to read owner: %w", err)
	}
	return common.BytesToAddress(out), nil
}

// Balance はコントラクトのネイティブトークン残高（wei）を返す。
func (r *Reader) Balance(ctx context.Context) (*big.Int, error) {
	balance, err := r.caller.BalanceAt(ctx, r.contract, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract balance: %w", err)
	}
	return balance, nil
}

// call はコントラクトへのeth_callを実行し、32バイトの返り値を検証して返す。
func (r *Reader) call(ctx context.Context, data []byte) ([]byte, error) {
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &r.contract,
		Data: data,
	}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) != 32 {
		return nil, fmt.Errorf("unexpected return size: %d bytes", len(out))
	}
	return out, nil
}
