// Package identity はソーシャルアカウント連携（OAuthハンドシェイク）と
// IDハッシュの導出を提供する。
package identity

import "context"

// PKCEProvider はOAuth 2.0 + PKCEによる連携プロバイダーのインターフェース。
type PKCEProvider interface {
	// AuthorizeURL は認可エンドポイントへのリダイレクトURLを生成する。
	// challengeのみを含め、verifierは決して含めない。
	AuthorizeURL(state, challenge string) string

	// Exchange は認可コードとverifierをアクセストークンに交換し、
	// プロバイダー側の安定したユーザーIDを解決する。
	Exchange(ctx context.Context, code, verifier string) (string, error)
}

// LegacyProvider はOAuth 1.0a（署名付きリクエスト）による連携プロバイダーのインターフェース。
type LegacyProvider interface {
	// RequestToken はサーバー間のrequest token交換を行い、
	// トークンとトークンシークレットを返す。
	RequestToken(ctx context.Context) (token, secret string, err error)

	// AuthenticateURL は認証エンドポイントへのリダイレクトURLを生成する。
	AuthenticateURL(token string) string

	// AccessToken は署名付きaccess token交換を行い、
	// レスポンスボディからプロバイダー側のユーザーIDを解決する。
	AccessToken(ctx context.Context, token, tokenSecret, verifier string) (string, error)
}
