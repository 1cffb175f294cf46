// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// weiPerToken はゲージ表示用のwei→トークン換算係数。
var weiPerToken = big.NewFloat(1e18)

// MetricsCollector はメトリクス収集のインターフェース。
// ハンドラーやワーカーから利用する。
type MetricsCollector interface {
	RecordLinkSuccess(protocol string)
	RecordLinkFailure(protocol string, reason string)
	RecordVoucherIssued()
	RecordReplayRejected()
	RecordHTTPStatus(statusCode int)
	RecordProviderLatency(duration time.Duration)
	SetFaucetBalance(wei *big.Int)
	SetFaucetPaused(paused bool)
	SetClaimAmount(wei *big.Int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	linkSuccess     *prometheus.CounterVec
	linkFail        *prometheus.CounterVec
	vouchersIssued  prometheus.Counter
	replayRejected  prometheus.Counter
	httpStatus      *prometheus.CounterVec
	providerLatency prometheus.Histogram
	faucetBalance   prometheus.Gauge
	faucetPaused    prometheus.Gauge
	claimAmount     prometheus.Gauge
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		linkSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucetgate_link_success_total",
			Help: "アカウント連携成功の合計数",
		}, []string{"protocol"}),
		linkFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucetgate_link_fail_total",
			Help: "アカウント連携失敗の合計数",
		}, []string{"protocol", "reason"}),
		vouchersIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faucetgate_vouchers_issued_total",
			Help: "発行されたバウチャーの合計数",
		}),
		replayRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "faucetgate_replay_rejected_total",
			Help: "発行済みIDハッシュの再利用として拒否した回数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucetgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		providerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "faucetgate_provider_latency_seconds",
			Help:    "IDプロバイダーへのリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		faucetBalance: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faucetgate_contract_balance_tokens",
			Help: "フォーセットコントラクトの残高（トークン単位）",
		}),
		faucetPaused: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faucetgate_contract_paused",
			Help: "コントラクトの一時停止フラグ（1=停止中）",
		}),
		claimAmount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faucetgate_claim_amount_tokens",
			Help: "1回あたり配布額（トークン単位）",
		}),
	}

	reg.MustRegister(
		c.linkSuccess,
		c.linkFail,
		c.vouchersIssued,
		c.replayRejected,
		c.httpStatus,
		c.providerLatency,
		c.faucetBalance,
		c.faucetPaused,
		c.claimAmount,
	)

	return c
}

// RecordLinkSuccess はアカウント連携成功を記録する。
func (c *Collector) RecordLinkSuccess(protocol string) {
	c.linkSuccess.WithLabelValues(protocol).Inc()
}

// RecordLinkFailure はアカウント連携失敗を記録する。
func (c *Collector) RecordLinkFailure(protocol string, reason string) {
	c.linkFail.WithLabelValues(protocol, reason).Inc()
}

// RecordVoucherIssued はバウチャー発行を記録する。
func (c *Collector) RecordVoucherIssued() {
	c.vouchersIssued.Inc()
}

// RecordReplayRejected はリプレイ拒否を記録する。
func (c *Collector) RecordReplayRejected() {
	c.replayRejected.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordProviderLatency はIDプロバイダーへのリクエストのレイテンシを記録する。
func (c *Collector) RecordProviderLatency(duration time.Duration) {
	c.providerLatency.Observe(duration.Seconds())
}

// SetFaucetBalance はコントラクト残高ゲージを更新する。
func (c *Collector) SetFaucetBalance(wei *big.Int) {
	c.faucetBalance.Set(weiToTokens(wei))
}

// SetFaucetPaused は一時停止フラグゲージを更新する。
func (c *Collector) SetFaucetPaused(paused bool) {
	if paused {
		c.faucetPaused.Set(1)
	} else {
		c.faucetPaused.Set(0)
	}
}

// SetClaimAmount は配布額ゲージを更新する。
func (c *Collector) SetClaimAmount(wei *big.Int) {
	c.claimAmount.Set(weiToTokens(wei))
}

func weiToTokens(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerToken).Float64()
	return f
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
