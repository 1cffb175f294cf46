// Package voucher は署名付き請求バウチャーの発行を提供する。
package voucher

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/hitoshi/faucetgate/internal/model"
)

// EIP-712ドメインの定数。コントラクト側の検証と一致している必要がある。
const (
	signingDomainName    = "FaucetGateClaim"
	signingDomainVersion = "1"
	claimPrimaryType     = "Claim"
)

// Signer はEIP-712ドメイン分離付きでClaimVoucherに署名する。
// ドメインにchainIdと検証コントラクトアドレスを含めることで、
// 別チェーン・別デプロイへのリプレイを防ぐ。
type Signer struct {
	key      *ecdsa.PrivateKey
	chainID  int64
	contract common.Address
}

// NewSigner はSignerを生成する。privateKeyHexは16進数64桁（0xプレフィックス任意）。
func NewSigner(privateKeyHex string, chainID int64, contractAddress string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}

	if !common.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("invalid contract address: %q", contractAddress)
	}

	return &Signer{
		key:      key,
		chainID:  chainID,
		contract: common.HexToAddress(contractAddress),
	}, nil
}

// Address は署名キーに対応するアドレスを返す。
// コントラクトに設定されたissuerアドレスと一致している必要がある。
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Sign はバウチャーの構造化ペイロードに署名し、
// 0xプレフィックス付きの65バイト署名（r||s||v、v∈{27,28}）を返す。
func (s *Signer) Sign(v *model.ClaimVoucher) (string, error) {
	typedData := s.typedData(v)

	sighash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return "", fmt.Errorf("failed to hash typed data: %w", err)
	}

	sig, err := crypto.Sign(sighash, s.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign voucher: %w", err)
	}

	// crypto.Signはv=0/1を返すが、コントラクトのecrecoverは27/28を期待する
	sig[64] += 27

	return "0x" + common.Bytes2Hex(sig), nil
}

// typedData はバウチャーからEIP-712 typed dataを構築する。
func (s *Signer) typedData(v *model.ClaimVoucher) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			claimPrimaryType: []apitypes.Type{
				{Name: "wallet", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "identityHash", Type: "bytes32"},
			},
		},
		PrimaryType: claimPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              signingDomainName,
			Version:           signingDomainVersion,
			ChainId:           math.NewHexOrDecimal256(s.chainID),
			VerifyingContract: s.contract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"wallet":       v.Wallet,
			"amount":       (*math.HexOrDecimal256)(v.Amount),
			"nonce":        math.NewHexOrDecimal256(v.Nonce),
			"deadline":     math.NewHexOrDecimal256(v.Deadline),
			"identityHash": v.IdentityHash,
		},
	}
}

// RecoverSigner は署名からアドレスを復元する。テストおよび診断用。
func RecoverSigner(v *model.ClaimVoucher, chainID int64, contractAddress string) (common.Address, error) {
	sigHex := strings.TrimPrefix(v.Signature, "0x")
	sig := common.Hex2Bytes(sigHex)
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}

	// 復元用にvを0/1に戻す
	recSig := make([]byte, 65)
	copy(recSig, sig)
	if recSig[64] >= 27 {
		recSig[64] -= 27
	}

	helper := Signer{chainID: chainID, contract: common.HexToAddress(contractAddress)}
	sighash, _, err := apitypes.TypedDataAndHash(helper.typedData(v))
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash typed data: %w", err)
	}

	pub, err := crypto.SigToPub(sighash, recSig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pub), nil
}
