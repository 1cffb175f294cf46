package voucher

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/hitoshi/faucetgate/internal/model"
	"github.com/hitoshi/faucetgate/internal/replay"
)

// walletPattern は小文字化後のウォレットアドレスの厳密なパターン。
var walletPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// identityHashPattern は0xプレフィックス付き32バイトハッシュのパターン。
var identityHashPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

// ServiceConfig はバウチャー発行サービスの設定。
type ServiceConfig struct {
	ClaimAmountWei *big.Int      // 1回あたり配布額（wei）
	VoucherTTL     time.Duration // deadline = 発行時刻 + VoucherTTL
}

// Service はバウチャー発行のビジネスロジックを提供する。
type Service struct {
	signer *Signer
	set    *replay.Set
	config ServiceConfig

	// テスト用に差し替え可能な時刻源
	now func() time.Time
}

// NewService はServiceを生成する。
func NewService(signer *Signer, set *replay.Set, config ServiceConfig) *Service {
	return &Service{
		signer: signer,
		set:    set,
		config: config,
		now:    time.Now,
	}
}

// Issue は連携済みIDハッシュに対して署名付きバウチャーを1回だけ発行する。
//
// 署名の計算はリプレイセットへの予約より先に行う。署名の失敗要因は
// ローカルのみであり、予約後に失敗してハッシュを消費してしまう経路を
// 作らないため。予約が成功した場合のみ署名を呼び出し側に返すので、
// 並行リクエストのどちらも「未発行」を観測する窓は存在しない。
func (s *Service) Issue(ctx context.Context, wallet, identityHash string) (*model.ClaimVoucher, error) {
	wallet = strings.ToLower(wallet)
	if !walletPattern.MatchString(wallet) {
		return nil, model.NewBadWalletError(wallet)
	}

	if identityHash == "" {
		return nil, model.NewIdentityNotLinkedError()
	}
	if !identityHashPattern.MatchString(strings.ToLower(identityHash)) {
		return nil, model.NewIdentityNotLinkedError()
	}

	now := s.now()
	v := &model.ClaimVoucher{
		Wallet:       wallet,
		Amount:       new(big.Int).Set(s.config.ClaimAmountWei),
		Nonce:        now.UnixMilli(),
		Deadline:     now.Unix() + int64(s.config.VoucherTTL.Seconds()),
		IdentityHash: identityHash,
	}

	signature, err := s.signer.Sign(v)
	if err != nil {
		return nil, fmt.Errorf("failed to sign voucher: %w", err)
	}
	v.Signature = signature

	reserved, err := s.set.TryReserve(ctx, &model.IssuedIdentity{
		IdentityHash: identityHash,
		Wallet:       wallet,
		Amount:       v.Amount,
		Nonce:        v.Nonce,
		Deadline:     v.Deadline,
		IssuedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reserve identity hash: %w", err)
	}
	if !reserved {
		return nil, model.NewIdentityAlreadyUsedError()
	}

	slog.Info("voucher issued",
		slog.String("wallet", wallet),
		slog.String("identity_hash", identityHash),
		slog.Int64("nonce", v.Nonce),
		slog.Int64("deadline", v.Deadline),
	)

	return v, nil
}
