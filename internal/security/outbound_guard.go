// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// OutboundGuardService はIDプロバイダーへの外向きHTTP通信の防御機能を定義する。
// プロバイダーのエンドポイントURLは設定で差し替え可能なため、
// 誤設定や注入によるプライベートネットワークへの到達をクライアント側で遮断する。
type OutboundGuardService interface {
	// NewSafeClient はプライベートIP、ループバック、リンクローカル、
	// メタデータIPへのリクエストを遮断するHTTPクライアントを生成する。
	// DNS解決後のIPアドレスもダイヤラレベルで検証される。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はリクエスト送信前のURLの静的検証を行う。
	ValidateURL(rawURL string) error
}

// allowedSchemes は外向き通信で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks は外向き通信で遮断されるネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		// プライベートIPアドレス (RFC 1918)
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		// ループバック (RFC 1122)
		"127.0.0.0/8",
		// リンクローカル (RFC 3927) - クラウドメタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		// カレントネットワーク
		"0.0.0.0/8",
		// IPv6ループバック
		"::1/128",
		// IPv6リンクローカル
		"fe80::/10",
		// IPv6ユニークローカル
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// outboundGuard はOutboundGuardServiceの実装。
type outboundGuard struct {
	allowLocal bool
}

// NewOutboundGuard はOutboundGuardServiceの新しいインスタンスを生成する。
func NewOutboundGuard() *outboundGuard {
	return &outboundGuard{}
}

// NewPermissiveGuard はローカルアドレスへの通信を許可するガードを生成する。
// httptestサーバーに向けた開発・テスト専用であり、本番では使用しないこと。
func NewPermissiveGuard() *outboundGuard {
	return &outboundGuard{allowLocal: true}
}

// NewSafeClient は外向き通信防御付きのHTTPクライアントを生成する。
func (g *outboundGuard) NewSafeClient(timeout time.Duration) *http.Client {
	if g.allowLocal {
		return &http.Client{Timeout: timeout}
	}

	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	wrappedClient := safeurl.Client(config)
	return wrappedClient.Client
}

// ValidateURL はURLの安全性を事前に検証する。
// DNS解決を伴わない静的な検証のみを行う。ホストがIPリテラルの場合は
// 遮断ネットワークに含まれないことを確認する。
func (g *outboundGuard) ValidateURL(rawURL string) error {
	if g.allowLocal {
		return nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	schemeOK := false
	for _, s := range allowedSchemes {
		if strings.EqualFold(u.Scheme, s) {
			schemeOK = true
			break
		}
	}
	if !schemeOK {
		return fmt.Errorf("scheme %q is not allowed", u.Scheme)
	}

	if u.Hostname() == "" {
		return fmt.Errorf("URL has no host")
	}

	if ip := net.ParseIP(u.Hostname()); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("IP %s is in a blocked network range", ip)
			}
		}
	}

	return nil
}

// compile-time interface check
var _ OutboundGuardService = (*outboundGuard)(nil)
