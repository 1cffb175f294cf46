package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/faucetgate/internal/middleware"
	"github.com/hitoshi/faucetgate/internal/model"
)

// VoucherServiceInterface はバウチャーハンドラーが必要とするサービスインターフェース。
type VoucherServiceInterface interface {
	Issue(ctx context.Context, wallet, identityHash string) (*model.ClaimVoucher, error)
}

// VoucherMetrics はバウチャー発行のメトリクス記録インターフェース。
type VoucherMetrics interface {
	RecordVoucherIssued()
	RecordReplayRejected()
}

// VoucherResponse は署名付きバウチャーのレスポンスボディ。
// amountはuint256の精度を保つため10進文字列で返す。
type VoucherResponse struct {
	Amount       string `json:"amount"`
	Nonce        int64  `json:"nonce"`
	Deadline     int64  `json:"deadline"`
	IdentityHash string `json:"identityHash"`
	Signature    string `json:"signature"`
}

// VoucherHandler は署名付きバウチャー発行のHTTPハンドラー。
type VoucherHandler struct {
	service VoucherServiceInterface
	metrics VoucherMetrics
}

// NewVoucherHandler はVoucherHandlerを生成する。metricsはnil可。
func NewVoucherHandler(service VoucherServiceInterface, metrics VoucherMetrics) *VoucherHandler {
	return &VoucherHandler{
		service: service,
		metrics: metrics,
	}
}

// Issue は署名付きバウチャーを発行する。
// GET /api/claim-sig?wallet=0x...
// IDハッシュCookieが必須。同一IDハッシュへの発行は1回のみ。
func (h *VoucherHandler) Issue(w http.ResponseWriter, r *http.Request) {
	identityHash := cookieValue(r, identityCookieName)
	if identityHash == "" {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewIdentityNotLinkedError())
		return
	}

	wallet := r.URL.Query().Get("wallet")

	v, err := h.service.Issue(r.Context(), wallet, identityHash)
	if err != nil {
		h.writeIssueError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.RecordVoucherIssued()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(VoucherResponse{
		Amount:       v.Amount.String(),
		Nonce:        v.Nonce,
		Deadline:     v.Deadline,
		IdentityHash: v.IdentityHash,
		Signature:    v.Signature,
	})
}

// writeIssueError は発行エラーをHTTPステータスにマップする。
func (h *VoucherHandler) writeIssueError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		slog.Error("voucher issuance failed", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	switch apiErr.Code {
	case model.ErrCodeBadWallet:
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
	case model.ErrCodeIdentityNotLinked:
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
	case model.ErrCodeIdentityAlreadyUsed:
		if h.metrics != nil {
			h.metrics.RecordReplayRejected()
		}
		middleware.WriteErrorResponse(w, http.StatusTooManyRequests, apiErr)
	default:
		slog.Error("voucher issuance failed",
			slog.String("code", apiErr.Code),
			slog.String("error", apiErr.Error()),
		)
		middleware.WriteInternalServerError(w)
	}
}
