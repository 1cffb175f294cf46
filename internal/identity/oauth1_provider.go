package identity

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultXRequestTokenURL = "https://api.twitter.com/oauth/request_token"
	defaultXAuthenticateURL = "https://api.twitter.com/oauth/authenticate"
	defaultXAccessTokenURL  = "https://api.twitter.com/oauth/access_token"
)

// XOAuth1Config はX (Twitter) OAuth 1.0aプロバイダーの設定。
type XOAuth1Config struct {
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string

	// テスト用にオーバーライド可能なURL
	RequestTokenURL string
	AuthenticateURL string
	AccessTokenURL  string

	// 外向き通信用クライアント。nilの場合はhttp.DefaultClientを使用する。
	HTTPClient *http.Client

	// テスト用に固定可能なnonce/タイムスタンプ生成関数
	NonceFn     func() (string, error)
	TimestampFn func() int64
}

// XOAuth1Provider はX OAuth 1.0a（HMAC-SHA1署名付きリクエスト）による連携を提供する。
type XOAuth1Provider struct {
	config XOAuth1Config
}

// NewXOAuth1Provider はXOAuth1Providerを生成する。
func NewXOAuth1Provider(config XOAuth1Config) *XOAuth1Provider {
	if config.RequestTokenURL == "" {
		config.RequestTokenURL = defaultXRequestTokenURL
	}
	if config.AuthenticateURL == "" {
		config.AuthenticateURL = defaultXAuthenticateURL
	}
	if config.AccessTokenURL == "" {
		config.AccessTokenURL = defaultXAccessTokenURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.NonceFn == nil {
		config.NonceFn = generateNonce
	}
	if config.TimestampFn == nil {
		config.TimestampFn = func() int64 { return time.Now().Unix() }
	}
	return &XOAuth1Provider{config: config}
}

// RequestToken はoauth_callback付きのrequest token交換を行う。
func (p *XOAuth1Provider) RequestToken(ctx context.Context) (string, string, error) {
	extra := map[string]string{"oauth_callback": p.config.CallbackURL}

	values, err := p.signedPost(ctx, p.config.RequestTokenURL, "", extra)
	if err != nil {
		return "", "", fmt.Errorf("request token exchange failed: %w", err)
	}

	token := values.Get("oauth_token")
	secret := values.Get("oauth_token_secret")
	if token == "" || secret == "" {
		return "", "", fmt.Errorf("request token response missing oauth_token")
	}

	return token, secret, nil
}

// AuthenticateURL は認証エンドポイントへのリダイレクトURLを生成する。
func (p *XOAuth1Provider) AuthenticateURL(token string) string {
	params := url.Values{"oauth_token": {token}}
	return p.config.AuthenticateURL + "?" + params.Encode()
}

// AccessToken は署名付きaccess token交換を行い、user_idを解決する。
func (p *XOAuth1Provider) AccessToken(ctx context.Context, token, tokenSecret, verifier string) (string, error) {
	extra := map[string]string{
		"oauth_token":    token,
		"oauth_verifier": verifier,
	}

	values, err := p.signedPost(ctx, p.config.AccessTokenURL, tokenSecret, extra)
	if err != nil {
		return "", fmt.Errorf("access token exchange failed: %w", err)
	}

	userID := values.Get("user_id")
	if userID == "" {
		return "", fmt.Errorf("access token response missing user_id")
	}

	return userID, nil
}

// signedPost はHMAC-SHA1署名付きPOSTリクエストを送信し、
// url-encodedレスポンスボディをパースして返す。
func (p *XOAuth1Provider) signedPost(ctx context.Context, endpoint, tokenSecret string, extra map[string]string) (url.Values, error) {
	nonce, err := p.config.NonceFn()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	oauthParams := map[string]string{
		"oauth_consumer_key":     p.config.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(p.config.TimestampFn(), 10),
		"oauth_version":          "1.0",
	}
	for k, v := range extra {
		oauthParams[k] = v
	}

	signature := signHMACSHA1(http.MethodPost, endpoint, oauthParams, p.config.ConsumerSecret, tokenSecret)
	oauthParams["oauth_signature"] = signature

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", authorizationHeader(oauthParams))

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse response body: %w", err)
	}

	return values, nil
}

// signHMACSHA1 はRFC 5849のsignature base stringを構築し、HMAC-SHA1署名を返す。
func signHMACSHA1(method, endpoint string, params map[string]string, consumerSecret, tokenSecret string) string {
	// パラメータをキーでソートし、percent-encodingして連結する
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, rfc3986Escape(k)+"="+rfc3986Escape(params[k]))
	}
	paramString := strings.Join(pairs, "&")

	baseString := strings.Join([]string{
		method,
		rfc3986Escape(endpoint),
		rfc3986Escape(paramString),
	}, "&")

	signingKey := rfc3986Escape(consumerSecret) + "&" + rfc3986Escape(tokenSecret)

	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// authorizationHeader はOAuth形式のAuthorizationヘッダー値を構築する。
func authorizationHeader(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%q", rfc3986Escape(k), rfc3986Escape(params[k])))
	}
	return "OAuth " + strings.Join(pairs, ", ")
}

// rfc3986Escape はRFC 3986のunreserved文字以外をpercent-encodingする。
// url.QueryEscapeはスペースを+に変換するためOAuth 1.0a署名には使えない。
func rfc3986Escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// generateNonce は暗号的に安全なランダムnonceを生成する。
func generateNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// compile-time interface check
var _ LegacyProvider = (*XOAuth1Provider)(nil)
