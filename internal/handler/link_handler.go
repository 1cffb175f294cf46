// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/faucetgate/internal/identity"
	"github.com/hitoshi/faucetgate/internal/model"
)

// identityCookieName は連携済みIDハッシュを保持するCookieの名前。
const identityCookieName = "identity_hash"

// identityCookieMaxAge はIDハッシュCookieの有効期間（180日、秒）。
const identityCookieMaxAge = 180 * 24 * 60 * 60

// LinkServiceInterface は連携ハンドラーが必要とするサービスインターフェース。
type LinkServiceInterface interface {
	StartLink(ctx context.Context, protocol model.LinkProtocol) (*model.LinkStart, error)
	CompleteLink(ctx context.Context, in *identity.CallbackInput) (string, error)
}

// LinkMetrics は連携フローのメトリクス記録インターフェース。
type LinkMetrics interface {
	RecordLinkSuccess(protocol string)
	RecordLinkFailure(protocol string, reason string)
	RecordProviderLatency(duration time.Duration)
}

// LinkHandlerConfig は連携ハンドラーの設定。
type LinkHandlerConfig struct {
	BaseURL      string
	CookieDomain string
	CookieSecure bool
	// ForceOAuth1 が真の場合、?v=1指定がなくてもOAuth 1.0aフローを選ぶ。
	ForceOAuth1 bool
	// LegacyAvailable はOAuth 1.0aのconsumer credentialが設定されているか。
	LegacyAvailable bool
}

// LinkHandler はソーシャルアカウント連携のHTTPハンドラー。
type LinkHandler struct {
	service LinkServiceInterface
	metrics LinkMetrics
	config  LinkHandlerConfig
}

// NewLinkHandler はLinkHandlerを生成する。metricsはnil可。
func NewLinkHandler(service LinkServiceInterface, metrics LinkMetrics, config LinkHandlerConfig) *LinkHandler {
	return &LinkHandler{
		service: service,
		metrics: metrics,
		config:  config,
	}
}

// Start は連携フローを開始する。
// GET /auth/x/start[?v=1]
// v=1 またはFORCE_OAUTH1設定時はOAuth 1.0aを、それ以外はOAuth 2.0 + PKCEを使う。
func (h *LinkHandler) Start(w http.ResponseWriter, r *http.Request) {
	protocol := model.ProtocolOAuth2
	if h.config.LegacyAvailable && (h.config.ForceOAuth1 || r.URL.Query().Get("v") == "1") {
		protocol = model.ProtocolOAuth1
	}

	start, err := h.service.StartLink(r.Context(), protocol)
	if err != nil {
		slog.Error("failed to start link flow",
			slog.String("protocol", string(protocol)),
			slog.String("error", err.Error()),
		)
		http.Error(w, "failed to start link flow", http.StatusInternalServerError)
		return
	}

	// 一時資格情報（state / verifier / request token / プロトコルタグ）をCookieに保存
	for _, cred := range start.Credentials {
		http.SetCookie(w, &http.Cookie{
			Name:     cred.Name,
			Value:    cred.Value,
			Path:     "/",
			Domain:   h.config.CookieDomain,
			MaxAge:   cred.MaxAge,
			HttpOnly: true,
			Secure:   h.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	http.Redirect(w, r, start.RedirectURL, http.StatusTemporaryRedirect)
}

// Callback は連携コールバックを処理する。
// GET|POST /auth/x/callback
// どちらのフローだったかは開始時に書き込んだプロトコルタグCookieのみで決定し、
// どの資格情報Cookieが存在するかからは推測しない。
func (h *LinkHandler) Callback(w http.ResponseWriter, r *http.Request) {
	protocol := model.LinkProtocol(cookieValue(r, identity.CredProtocol))
	if !protocol.Valid() {
		h.failCallback(w, protocol, model.NewInvalidProtocolError())
		return
	}

	in := &identity.CallbackInput{
		Protocol:       protocol,
		Code:           r.FormValue("code"),
		State:          r.FormValue("state"),
		OAuthToken:     r.FormValue("oauth_token"),
		OAuthVerifier:  r.FormValue("oauth_verifier"),
		StoredState:    cookieValue(r, identity.CredState),
		StoredVerifier: cookieValue(r, identity.CredVerifier),
		StoredToken:    cookieValue(r, identity.CredToken),
		StoredSecret:   cookieValue(r, identity.CredTokenSecret),
	}

	// CompleteLinkはプロバイダーとのトークン交換を含むため、所要時間を記録する
	exchangeStart := time.Now()
	hash, err := h.service.CompleteLink(r.Context(), in)
	if h.metrics != nil {
		h.metrics.RecordProviderLatency(time.Since(exchangeStart))
	}
	if err != nil {
		h.failCallback(w, protocol, err)
		return
	}

	// 成功: IDハッシュCookieを設定し、一時資格情報を破棄してフロントエンドへ戻す
	http.SetCookie(w, &http.Cookie{
		Name:     identityCookieName,
		Value:    hash,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   identityCookieMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	h.clearTransientCookies(w)

	if h.metrics != nil {
		h.metrics.RecordLinkSuccess(string(protocol))
	}

	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// failCallback は失敗時の共通処理。一時資格情報を破棄し、400を返す。
// エラーの詳細はログのみに残し、レスポンスには汎用メッセージを使う。
func (h *LinkHandler) failCallback(w http.ResponseWriter, protocol model.LinkProtocol, err error) {
	h.clearTransientCookies(w)

	reason := model.ErrCodeInternal
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		reason = apiErr.Code
	}
	slog.Warn("link callback failed",
		slog.String("protocol", string(protocol)),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	if h.metrics != nil {
		h.metrics.RecordLinkFailure(string(protocol), reason)
	}

	http.Error(w, "account linking failed", http.StatusBadRequest)
}

// clearTransientCookies は連携フロー中の一時資格情報Cookieをすべて破棄する。
func (h *LinkHandler) clearTransientCookies(w http.ResponseWriter) {
	for _, name := range []string{
		identity.CredState,
		identity.CredVerifier,
		identity.CredToken,
		identity.CredTokenSecret,
		identity.CredProtocol,
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   h.config.CookieDomain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   h.config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// cookieValue はCookieの値を返す。存在しない場合は空文字。
func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
