// Package chainwatch はフォーセットコントラクト状態の定期監視を提供する。
// 残高・一時停止フラグ・配布額をポーリングしてPrometheusゲージに反映する。
package chainwatch

import (
	"context"
	"log/slog"
	"math/big"
	"time"
)

// StateReader はコントラクト状態の読み取りインターフェース。
type StateReader interface {
	ClaimAmount(ctx context.Context) (*big.Int, error)
	Paused(ctx context.Context) (bool, error)
	Balance(ctx context.Context) (*big.Int, error)
}

// GaugeSetter は監視結果を反映するメトリクスインターフェース。
type GaugeSetter interface {
	SetFaucetBalance(wei *big.Int)
	SetFaucetPaused(paused bool)
	SetClaimAmount(wei *big.Int)
}

// Watcher はコントラクト状態のポーリングを行う。
type Watcher struct {
	reader    StateReader
	collector GaugeSetter
	logger    *slog.Logger
}

// NewWatcher はWatcherの新しいインスタンスを生成する。
func NewWatcher(reader StateReader, collector GaugeSetter, logger *slog.Logger) *Watcher {
	return &Watcher{
		reader:    reader,
		collector: collector,
		logger:    logger,
	}
}

// Start は指定間隔のティッカーで監視を起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Watcher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("コントラクト監視を開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := w.RunOnce(ctx); err != nil {
		w.logger.Error("コントラクト状態の取得に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("コントラクト監視を停止しました")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("コントラクト状態の取得に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はコントラクト状態を1回読み取り、ゲージに反映する。
// 残高が配布額を下回った場合は警告を出す。
func (w *Watcher) RunOnce(ctx context.Context) error {
	balance, err := w.reader.Balance(ctx)
	if err != nil {
		return err
	}
	paused, err := w.reader.Paused(ctx)
	if err != nil {
		return err
	}
	claimAmount, err := w.reader.ClaimAmount(ctx)
	if err != nil {
		return err
	}

	w.collector.SetFaucetBalance(balance)
	w.collector.SetFaucetPaused(paused)
	w.collector.SetClaimAmount(claimAmount)

	if balance.Cmp(claimAmount) < 0 {
		w.logger.Warn("フォーセット残高が配布額を下回っています",
			slog.String("balance_wei", balance.String()),
			slog.String("claim_amount_wei", claimAmount.String()),
		)
	}

	w.logger.Info("コントラクト状態を更新しました",
		slog.String("balance_wei", balance.String()),
		slog.Bool("paused", paused),
	)

	return nil
}
