package model

import (
	"math/big"
	"time"
)

// ClaimVoucher はオンチェーン請求を1回だけ許可する署名済みバウチャーを表す。
// 発行後はイミュータブル。署名はEIP-712ドメイン分離付きで、
// chainIdと請求コントラクトアドレスに束縛される。
type ClaimVoucher struct {
	Wallet       string   // 小文字の0xプレフィックス付きアドレス
	Amount       *big.Int // 配布額（wei）
	Nonce        int64    // 発行時刻（ミリ秒）由来
	Deadline     int64    // unix秒。発行時刻 + 有効期間
	IdentityHash string   // 0xプレフィックス付き32バイトハッシュ
	Signature    string   // 0xプレフィックス付き65バイト署名（r||s||v）
}

// IssuedIdentity は発行済みIDハッシュの永続化レコードを表す。
// identity_hashが主キーであり、同一ハッシュへの2回目の挿入は失敗する。
type IssuedIdentity struct {
	IdentityHash string
	Wallet       string
	Amount       *big.Int
	Nonce        int64
	Deadline     int64
	IssuedAt     time.Time
}
