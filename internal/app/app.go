// Package app はアプリケーションの初期化と起動を提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/faucetgate/internal/chain"
	"github.com/hitoshi/faucetgate/internal/config"
	"github.com/hitoshi/faucetgate/internal/database"
	"github.com/hitoshi/faucetgate/internal/handler"
	"github.com/hitoshi/faucetgate/internal/identity"
	"github.com/hitoshi/faucetgate/internal/logger"
	"github.com/hitoshi/faucetgate/internal/metrics"
	"github.com/hitoshi/faucetgate/internal/middleware"
	"github.com/hitoshi/faucetgate/internal/replay"
	"github.com/hitoshi/faucetgate/internal/repository"
	"github.com/hitoshi/faucetgate/internal/security"
	"github.com/hitoshi/faucetgate/internal/voucher"
	"github.com/hitoshi/faucetgate/internal/worker/chainwatch"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリとリプレイセットの初期化
	issuedRepo := repository.NewPostgresIssuedIdentityRepo(db)
	replaySet := replay.NewSet(issuedRepo)

	// 3. IDプロバイダーの初期化（外向き通信防御付きクライアントを使用）
	guard := security.NewOutboundGuard()
	providerClient := guard.NewSafeClient(cfg.ProviderTimeout)

	callbackURL := cfg.BaseURL + "/auth/x/callback"
	pkce := identity.NewXOAuth2Provider(identity.XOAuth2Config{
		ClientID:     cfg.XClientID,
		ClientSecret: cfg.XClientSecret,
		RedirectURL:  callbackURL,
		HTTPClient:   providerClient,
	})

	var legacy identity.LegacyProvider
	legacyAvailable := cfg.XConsumerKey != "" && cfg.XConsumerSecret != ""
	if legacyAvailable {
		legacy = identity.NewXOAuth1Provider(identity.XOAuth1Config{
			ConsumerKey:    cfg.XConsumerKey,
			ConsumerSecret: cfg.XConsumerSecret,
			CallbackURL:    callbackURL,
			HTTPClient:     providerClient,
		})
	}

	linkService := identity.NewService(pkce, legacy, cfg.IdentitySalt)

	// 4. バウチャー署名サービスの初期化
	signer, err := voucher.NewSigner(cfg.SignerPrivateKey, cfg.ChainID, cfg.ContractAddress)
	if err != nil {
		return fmt.Errorf("failed to initialize voucher signer: %w", err)
	}

	slog.Info("voucher signer initialized",
		slog.String("signer_address", signer.Address().Hex()),
		slog.Int64("chain_id", cfg.ChainID),
		slog.String("contract", cfg.ContractAddress),
	)

	voucherService := voucher.NewService(signer, replaySet, voucher.ServiceConfig{
		ClaimAmountWei: cfg.ClaimAmountWei,
		VoucherTTL:     cfg.VoucherTTL,
	})

	// 5. チェーンリーダーの初期化（RPC未設定時はステータスAPIが503を返す）
	var chainReader handler.ChainReaderInterface
	if cfg.RPCURL != "" {
		rpcClient, err := ethclient.Dial(cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("failed to connect to RPC: %w", err)
		}
		defer rpcClient.Close()

		reader, err := chain.NewReader(rpcClient, cfg.ContractAddress)
		if err != nil {
			return fmt.Errorf("failed to initialize chain reader: %w", err)
		}
		chainReader = reader
	} else {
		slog.Warn("RPC_URL is not set; /api/status will be unavailable")
	}

	// 6. メトリクスとレート制限の初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		GeneralRate:     rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		GeneralBurst:    cfg.RateLimitGeneral,
		IssueRate:       rate.Limit(float64(cfg.RateLimitIssue) / 60.0),
		IssueBurst:      cfg.RateLimitIssue,
		CleanupInterval: 5 * time.Minute,
	})
	defer rateLimiter.Stop()

	// 7. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		Gatherer:          registry,

		LinkService: linkService,
		LinkConfig: handler.LinkHandlerConfig{
			BaseURL:         cfg.BaseURL,
			CookieDomain:    cfg.CookieDomain,
			CookieSecure:    cfg.CookieSecure,
			ForceOAuth1:     cfg.ForceOAuth1,
			LegacyAvailable: legacyAvailable,
		},

		VoucherService: voucherService,
		ChainReader:    chainReader,
		DB:             db,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はコントラクト監視ワーカーモードで起動する。
// RPCへ接続し、残高・一時停止フラグ・配布額を定期ポーリングして
// Prometheusゲージに反映する。/metricsのみの軽量HTTPサーバーを併設する。
func runWorker(cfg *config.Config) error {
	if cfg.RPCURL == "" {
		return fmt.Errorf("worker mode requires RPC_URL")
	}

	rpcClient, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RPC: %w", err)
	}
	defer rpcClient.Close()

	reader, err := chain.NewReader(rpcClient, cfg.ContractAddress)
	if err != nil {
		return fmt.Errorf("failed to initialize chain reader: %w", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	watcher := chainwatch.NewWatcher(reader, collector, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// Prometheusスクレイプ用の軽量HTTPサーバー
	metricsServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: metrics.SetupMetricsRoute(registry),
	}
	go func() {
		slog.Info("metrics server starting", slog.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()
	defer metricsServer.Close()

	slog.Info("worker starting",
		slog.Duration("watch_interval", cfg.WatchInterval),
		slog.String("contract", cfg.ContractAddress),
	)

	// 監視ループをメインgoroutineで実行（ブロッキング）
	watcher.Start(ctx, cfg.WatchInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
