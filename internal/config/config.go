// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"fmt"
	"math/big"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// デフォルトの1回あたり配布額（wei）。0.2 CELOを8800回に分割した値。
const defaultClaimAmountWei = "22727272727272"

var (
	addressPattern    = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	privateKeyPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// OAuth 2.0 (PKCE)
	XClientID     string
	XClientSecret string // 任意。設定時はトークン交換でHTTP Basic認証を使用する

	// OAuth 1.0a（レガシープロトコル）
	XConsumerKey    string
	XConsumerSecret string
	ForceOAuth1     bool

	// Identity
	IdentitySalt    string
	ProviderTimeout time.Duration

	// Voucher / Chain
	SignerPrivateKey string // 16進数64桁（0xプレフィックス任意）
	ChainID          int64
	ContractAddress  string
	RPCURL           string // 任意。未設定時はステータスAPIとワーカーが無効になる
	ClaimAmountWei   *big.Int
	VoucherTTL       time.Duration
	WatchInterval    time.Duration

	// Rate Limit（req/min/client）
	RateLimitGeneral int
	RateLimitIssue   int

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	cfg.XClientID = os.Getenv("X_CLIENT_ID")
	if cfg.XClientID == "" {
		missing = append(missing, "X_CLIENT_ID")
	}

	cfg.IdentitySalt = os.Getenv("IDENTITY_SALT")
	if cfg.IdentitySalt == "" {
		missing = append(missing, "IDENTITY_SALT")
	}

	cfg.SignerPrivateKey = os.Getenv("SIGNER_PRIVATE_KEY")
	if cfg.SignerPrivateKey == "" {
		missing = append(missing, "SIGNER_PRIVATE_KEY")
	}

	cfg.ContractAddress = os.Getenv("CONTRACT_ADDRESS")
	if cfg.ContractAddress == "" {
		missing = append(missing, "CONTRACT_ADDRESS")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if !privateKeyPattern.MatchString(cfg.SignerPrivateKey) {
		return nil, fmt.Errorf("SIGNER_PRIVATE_KEY must be a 64-digit hex string")
	}
	if !addressPattern.MatchString(cfg.ContractAddress) {
		return nil, fmt.Errorf("CONTRACT_ADDRESS must be a 0x-prefixed 40-digit hex address")
	}

	// Optional fields with defaults
	cfg.XClientSecret = os.Getenv("X_CLIENT_SECRET")
	cfg.XConsumerKey = os.Getenv("X_CONSUMER_KEY")
	cfg.XConsumerSecret = os.Getenv("X_CONSUMER_SECRET")
	cfg.ForceOAuth1 = getEnvBool("FORCE_OAUTH1", false)
	cfg.RPCURL = os.Getenv("RPC_URL")

	// レガシープロトコルを強制する場合はconsumer credentialが必須
	if cfg.ForceOAuth1 && (cfg.XConsumerKey == "" || cfg.XConsumerSecret == "") {
		return nil, fmt.Errorf("FORCE_OAUTH1 requires X_CONSUMER_KEY and X_CONSUMER_SECRET")
	}

	amount, err := parseClaimAmount(getEnvString("CLAIM_AMOUNT_WEI", defaultClaimAmountWei))
	if err != nil {
		return nil, err
	}
	cfg.ClaimAmountWei = amount

	cfg.ChainID = getEnvInt64("CHAIN_ID", 42220) // Celo mainnet
	cfg.VoucherTTL = getEnvDuration("VOUCHER_TTL", 15*time.Minute)
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.WatchInterval = getEnvDuration("WATCH_INTERVAL", 1*time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitIssue = getEnvInt("RATE_LIMIT_ISSUE", 10)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// parseClaimAmount は10進数文字列を正のbig.Intとしてパースする。
func parseClaimAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("CLAIM_AMOUNT_WEI must be a positive decimal integer: %q", s)
	}
	return amount, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
