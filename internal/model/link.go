package model

// LinkProtocol はアカウント連携に使用するOAuthプロトコルを表す。
// コールバック時のディスパッチはこの明示的なタグで行い、
// どのCookieが存在するかからの推測は行わない。
type LinkProtocol string

const (
	// ProtocolOAuth2 はOAuth 2.0 + PKCEによる連携を示す。
	ProtocolOAuth2 LinkProtocol = "oauth2"
	// ProtocolOAuth1 はOAuth 1.0a（レガシー）による連携を示す。
	ProtocolOAuth1 LinkProtocol = "oauth1"
)

// Valid はプロトコルタグが既知の値かどうかを返す。
func (p LinkProtocol) Valid() bool {
	return p == ProtocolOAuth2 || p == ProtocolOAuth1
}

// LinkCredential は連携フロー中だけ有効なセッションスコープの資格情報を表す。
// HTTP Only / SameSite=Lax のCookieとして保存される。
type LinkCredential struct {
	Name   string
	Value  string
	MaxAge int // 秒。0以下でセッションCookie、負で削除
}

// LinkStart は連携フロー開始の結果を表す。
// RedirectURLはIDプロバイダーの認可エンドポイント。
// Credentialsはコールバックまで保持すべき一時資格情報。
type LinkStart struct {
	Protocol    LinkProtocol
	RedirectURL string
	Credentials []LinkCredential
}
