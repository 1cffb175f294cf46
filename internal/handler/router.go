package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/faucetgate/internal/metrics"
	"github.com/hitoshi/faucetgate/internal/middleware"
)

// Pinger はヘルスチェックが必要とするDB接続の最小インターフェース。
// *sql.DB が実装する。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	Gatherer          prometheus.Gatherer

	// アカウント連携
	LinkService LinkServiceInterface
	LinkConfig  LinkHandlerConfig

	// バウチャー発行
	VoucherService VoucherServiceInterface

	// オンチェーン状態。RPC未設定の場合はnil。
	ChainReader ChainReaderInterface

	// ヘルスチェック
	DB Pinger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → StatusMetrics
//
// レート制限は/api配下のみに適用し、バウチャー発行はさらに厳しい独立バジェットを持つ。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewStatusMetricsMiddleware(deps.Metrics))
	}

	linkHandler := NewLinkHandler(deps.LinkService, deps.Metrics, deps.LinkConfig)
	voucherHandler := NewVoucherHandler(deps.VoucherService, deps.Metrics)
	statusHandler := NewStatusHandler(deps.ChainReader)

	// アカウント連携フロー
	r.Route("/auth/x", func(r chi.Router) {
		r.Get("/start", linkHandler.Start)
		// 一部のプロバイダーはコールバックをPOSTで返す
		r.Get("/callback", linkHandler.Callback)
		r.Post("/callback", linkHandler.Callback)
	})

	// API（レート制限付き）
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// バウチャー発行は発行専用の厳しいバジェットを追加
		r.With(deps.RateLimiter.IssueMiddleware()).Get("/api/claim-sig", voucherHandler.Issue)
		r.Get("/api/status", statusHandler.Status)
	})

	// ヘルスチェック
	r.Get("/health", NewHealthHandler(deps.DB))

	// Prometheusスクレイプ
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	return r
}

// NewHealthHandler はDB到達性を確認するヘルスチェックハンドラーを返す。
// GET /health
func NewHealthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.PingContext(r.Context()); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
