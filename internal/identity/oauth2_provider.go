package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultXAuthorizeURL = "https://twitter.com/i/oauth2/authorize"
	defaultXTokenURL     = "https://api.twitter.com/2/oauth2/token"
	defaultXUserInfoURL  = "https://api.twitter.com/2/users/me"
)

// XOAuth2Config はX (Twitter) OAuth 2.0プロバイダーの設定。
type XOAuth2Config struct {
	ClientID     string
	ClientSecret string // 任意。設定時はトークン交換でHTTP Basic認証を使用する
	RedirectURL  string

	// テスト用にオーバーライド可能なURL
	AuthorizeURL string
	TokenURL     string
	UserInfoURL  string

	// 外向き通信用クライアント。nilの場合はhttp.DefaultClientを使用する。
	HTTPClient *http.Client
}

// XOAuth2Provider はX OAuth 2.0 + PKCEによる連携を提供する。
type XOAuth2Provider struct {
	config XOAuth2Config
}

// NewXOAuth2Provider はXOAuth2Providerを生成する。
func NewXOAuth2Provider(config XOAuth2Config) *XOAuth2Provider {
	if config.AuthorizeURL == "" {
		config.AuthorizeURL = defaultXAuthorizeURL
	}
	if config.TokenURL == "" {
		config.TokenURL = defaultXTokenURL
	}
	if config.UserInfoURL == "" {
		config.UserInfoURL = defaultXUserInfoURL
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	return &XOAuth2Provider{config: config}
}

// AuthorizeURL は認可エンドポイントへのリダイレクトURLを生成する。
// code_challengeのみを送り、verifierは送らない。
func (p *XOAuth2Provider) AuthorizeURL(state, challenge string) string {
	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {p.config.ClientID},
		"redirect_uri":          {p.config.RedirectURL},
		"scope":                 {"openid users.read offline.access"},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	return p.config.AuthorizeURL + "?" + params.Encode()
}

// xTokenResponse はトークンエンドポイントのレスポンス。
type xTokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
}

// xUserInfo はusers/meエンドポイントのレスポンス。
type xUserInfo struct {
	Data struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

// Exchange は認可コードをアクセストークンに交換し、ユーザーIDを解決する。
// id_tokenが返る場合はそのsubクレームを優先する。id_tokenは認証済みの
// 直接交換で取得するため署名検証は行わない。subが得られない場合は
// users/meへのフォールバックを行う。
func (p *XOAuth2Provider) Exchange(ctx context.Context, code, verifier string) (string, error) {
	tokenResp, err := p.exchangeToken(ctx, code, verifier)
	if err != nil {
		return "", fmt.Errorf("failed to exchange token: %w", err)
	}

	if tokenResp.IDToken != "" {
		if sub := subjectFromIDToken(tokenResp.IDToken); sub != "" {
			return sub, nil
		}
	}

	subject, err := p.fetchUserID(ctx, tokenResp.AccessToken)
	if err != nil {
		return "", fmt.Errorf("failed to fetch user id: %w", err)
	}

	return subject, nil
}

// exchangeToken は認可コードをアクセストークンに交換する。
func (p *XOAuth2Provider) exchangeToken(ctx context.Context, code, verifier string) (*xTokenResponse, error) {
	data := url.Values{
		"code":          {code},
		"grant_type":    {"authorization_code"},
		"client_id":     {p.config.ClientID},
		"redirect_uri":  {p.config.RedirectURL},
		"code_verifier": {verifier},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// confidential clientとして登録されている場合のみBasic認証を付与する
	if p.config.ClientSecret != "" {
		basic := base64.StdEncoding.EncodeToString([]byte(p.config.ClientID + ":" + p.config.ClientSecret))
		req.Header.Set("Authorization", "Basic "+basic)
	}

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp xTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &tokenResp, nil
}

// fetchUserID はアクセストークンでユーザーIDを取得する。
func (p *XOAuth2Provider) fetchUserID(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.UserInfoURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := p.config.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("user info request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read user info response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("user info fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var userInfo xUserInfo
	if err := json.Unmarshal(body, &userInfo); err != nil {
		return "", fmt.Errorf("failed to parse user info response: %w", err)
	}

	if userInfo.Data.ID == "" {
		return "", fmt.Errorf("empty user id in response: %s", string(body))
	}

	return userInfo.Data.ID, nil
}

// subjectFromIDToken はid_tokenのペイロードからsubクレームを取り出す。
// トークンは認証済みの直接交換で得たものなので署名検証は行わない。
// 取り出せない場合は空文字列を返し、呼び出し側でフォールバックする。
func subjectFromIDToken(idToken string) string {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(idToken, claims); err != nil {
		return ""
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// compile-time interface check
var _ PKCEProvider = (*XOAuth2Provider)(nil)
