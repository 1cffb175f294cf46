package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hitoshi/faucetgate/internal/chain"
	"github.com/hitoshi/faucetgate/internal/middleware"
	"github.com/hitoshi/faucetgate/internal/model"
)

var statusWalletPattern = regexp.MustCompile(`^0x[0-9a-f]{40}$`)

// ChainReaderInterface はステータスハンドラーが必要とするチェーン読み取りインターフェース。
type ChainReaderInterface interface {
	LastClaim(ctx context.Context, wallet string) (int64, error)
	ClaimAmount(ctx context.Context) (*big.Int, error)
	Paused(ctx context.Context) (bool, error)
	Balance(ctx context.Context) (*big.Int, error)
}

// StatusResponse はウォレットの請求可否ステータスのレスポンスボディ。
type StatusResponse struct {
	State          string `json:"state"`
	LastClaim      int64  `json:"lastClaim"`
	NextEligibleAt int64  `json:"nextEligibleAt,omitempty"`
	ClaimAmount    string `json:"claimAmount"`
	Paused         bool   `json:"paused"`
	Balance        string `json:"balance"`
}

// StatusHandler はオンチェーン状態を集約して返すHTTPハンドラー。
type StatusHandler struct {
	reader ChainReaderInterface

	// テスト用に差し替え可能な時刻源
	now func() time.Time
}

// NewStatusHandler はStatusHandlerを生成する。
// RPCが未設定の場合はreaderにnilを渡してよく、その場合503を返す。
func NewStatusHandler(reader ChainReaderInterface) *StatusHandler {
	return &StatusHandler{
		reader: reader,
		now:    time.Now,
	}
}

// Status はウォレットの請求可否とコントラクト状態を返す。
// GET /api/status?wallet=0x...
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.reader == nil {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable,
			model.NewChainUnavailableError("RPC is not configured"))
		return
	}

	wallet := strings.ToLower(r.URL.Query().Get("wallet"))
	if !statusWalletPattern.MatchString(wallet) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewBadWalletError(wallet))
		return
	}

	ctx := r.Context()

	lastClaim, err := h.reader.LastClaim(ctx, wallet)
	if err != nil {
		h.writeChainError(w, err)
		return
	}
	claimAmount, err := h.reader.ClaimAmount(ctx)
	if err != nil {
		h.writeChainError(w, err)
		return
	}
	paused, err := h.reader.Paused(ctx)
	if err != nil {
		h.writeChainError(w, err)
		return
	}
	balance, err := h.reader.Balance(ctx)
	if err != nil {
		h.writeChainError(w, err)
		return
	}

	cooldown := chain.EvaluateCooldown(lastClaim, h.now().Unix())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatusResponse{
		State:          string(cooldown.State),
		LastClaim:      lastClaim,
		NextEligibleAt: cooldown.NextEligibleAt,
		ClaimAmount:    claimAmount.String(),
		Paused:         paused,
		Balance:        balance.String(),
	})
}

func (h *StatusHandler) writeChainError(w http.ResponseWriter, err error) {
	slog.Error("failed to read chain state", slog.String("error", err.Error()))
	middleware.WriteErrorResponse(w, http.StatusServiceUnavailable,
		model.NewChainUnavailableError("RPC request failed"))
}
