// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, replay, upstream, chain, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeBadWallet           = "BAD_WALLET"
	ErrCodeIdentityNotLinked   = "IDENTITY_NOT_LINKED"
	ErrCodeIdentityAlreadyUsed = "IDENTITY_ALREADY_USED"
	ErrCodeStateMismatch       = "STATE_MISMATCH"
	ErrCodeMissingVerifier     = "MISSING_VERIFIER"
	ErrCodeTokenMismatch       = "TOKEN_MISMATCH"
	ErrCodeInvalidProtocol     = "INVALID_PROTOCOL"
	ErrCodeUpstream            = "UPSTREAM_ERROR"
	ErrCodeSubjectNotResolved  = "SUBJECT_NOT_RESOLVED"
	ErrCodeChainUnavailable    = "CHAIN_UNAVAILABLE"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewBadWalletError は不正なウォレットアドレスのエラーを生成する。
func NewBadWalletError(wallet string) *APIError {
	return &APIError{
		Code:     ErrCodeBadWallet,
		Message:  fmt.Sprintf("無効なウォレットアドレスです: %s", wallet),
		Category: "validation",
		Action:   "0xで始まる40桁の16進数アドレスを指定してください。",
	}
}

// NewIdentityNotLinkedError はソーシャルアカウント未連携のエラーを生成する。
func NewIdentityNotLinkedError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityNotLinked,
		Message:  "ソーシャルアカウントが連携されていません。",
		Category: "auth",
		Action:   "先にアカウント連携を完了してください。",
	}
}

// NewIdentityAlreadyUsedError は連携済みアカウントの使用済みエラーを生成する。
func NewIdentityAlreadyUsedError() *APIError {
	return &APIError{
		Code:     ErrCodeIdentityAlreadyUsed,
		Message:  "このアカウントでは既にバウチャーが発行されています。",
		Category: "replay",
		Action:   "1アカウントにつき発行は1回のみです。",
	}
}

// NewStateMismatchError はOAuth stateの不一致エラーを生成する。
func NewStateMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeStateMismatch,
		Message:  "OAuth stateパラメータが一致しません。",
		Category: "auth",
		Action:   "連携フローを最初からやり直してください。",
	}
}

// NewMissingVerifierError はPKCE verifier欠落のエラーを生成する。
func NewMissingVerifierError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingVerifier,
		Message:  "PKCE verifierが見つかりません。",
		Category: "auth",
		Action:   "連携フローを最初からやり直してください。",
	}
}

// NewTokenMismatchError はリクエストトークン不一致のエラーを生成する。
func NewTokenMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodeTokenMismatch,
		Message:  "OAuthリクエストトークンが一致しません。",
		Category: "auth",
		Action:   "連携フローを最初からやり直してください。",
	}
}

// NewInvalidProtocolError は不明なプロトコルタグのエラーを生成する。
func NewInvalidProtocolError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProtocol,
		Message:  "連携プロトコルを特定できません。",
		Category: "auth",
		Action:   "連携フローを最初からやり直してください。",
	}
}

// NewUpstreamError はIDプロバイダーとの通信失敗エラーを生成する。
// 診断のためreasonには上流のエラーテキストを含める。
func NewUpstreamError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  fmt.Sprintf("IDプロバイダーとの通信に失敗しました: %s", reason),
		Category: "upstream",
		Action:   "しばらく待ってから連携フローをやり直してください。",
	}
}

// NewSubjectNotResolvedError はユーザーID解決失敗のエラーを生成する。
func NewSubjectNotResolvedError() *APIError {
	return &APIError{
		Code:     ErrCodeSubjectNotResolved,
		Message:  "IDプロバイダーからユーザーIDを取得できませんでした。",
		Category: "upstream",
		Action:   "しばらく待ってから連携フローをやり直してください。",
	}
}

// NewChainUnavailableError はチェーンRPC利用不可のエラーを生成する。
func NewChainUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeChainUnavailable,
		Message:  fmt.Sprintf("チェーンの状態を取得できませんでした: %s", reason),
		Category: "chain",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
