package voucher

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/faucetgate/internal/model"
	"github.com/hitoshi/faucetgate/internal/replay"
	"github.com/hitoshi/faucetgate/internal/repository"
)

type mockIssuedRepo struct {
	mu       sync.Mutex
	rows     map[string]*model.IssuedIdentity
	insertFn func(ctx context.Context, rec *model.IssuedIdentity) (bool, error)
}

func newMockIssuedRepo() *mockIssuedRepo {
	return &mockIssuedRepo{rows: make(map[string]*model.IssuedIdentity)}
}

func (m *mockIssuedRepo) TryInsert(ctx context.Context, rec *model.IssuedIdentity) (bool, error) {
	if m.insertFn != nil {
		return m.insertFn(ctx, rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[rec.IdentityHash]; exists {
		return false, nil
	}
	m.rows[rec.IdentityHash] = rec
	return true, nil
}

func (m *mockIssuedRepo) FindByHash(ctx context.Context, hash string) (*model.IssuedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[hash], nil
}

func (m *mockIssuedRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

var _ repository.IssuedIdentityRepository = (*mockIssuedRepo)(nil)

func newTestService(t *testing.T, repo *mockIssuedRepo) *Service {
	t.Helper()

	signer, err := NewSigner(testPrivateKey, testChainID, testContract)
	if err != nil {
		t.Fatal(err)
	}
	return NewService(signer, replay.NewSet(repo), ServiceConfig{
		ClaimAmountWei: big.NewInt(22727272727272),
		VoucherTTL:     15 * time.Minute,
	})
}

const testIdentityHash = "0xabababababababababababababababababababababababababababababababab"

func TestIssue_Success(t *testing.T) {
	repo := newMockIssuedRepo()
	svc := newTestService(t, repo)

	issued := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	v, err := svc.Issue(context.Background(), "0xD8dA6BF26964aF9D7eEd9e03E53415D37aA96045", testIdentityHash)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// ウォレットは小文字に正規化される
	if v.Wallet != "0xd8da6bf26964af9d7eed9e03e53415d37aa96045" {
		t.Errorf("Wallet = %q", v.Wallet)
	}
	if v.Amount.String() != "22727272727272" {
		t.Errorf("Amount = %s", v.Amount)
	}
	if v.Nonce != issued.UnixMilli() {
		t.Errorf("Nonce = %d, want %d", v.Nonce, issued.UnixMilli())
	}
	if v.Deadline != issued.Unix()+900 {
		t.Errorf("Deadline = %d, want %d", v.Deadline, issued.Unix()+900)
	}
	if v.IdentityHash != testIdentityHash {
		t.Errorf("IdentityHash = %q", v.IdentityHash)
	}
	if !strings.HasPrefix(v.Signature, "0x") || len(v.Signature) != 2+65*2 {
		t.Errorf("Signature should be a 65-byte hex string: %q", v.Signature)
	}

	// 発行レコードが永続化されていること
	rec, _ := repo.FindByHash(context.Background(), testIdentityHash)
	if rec == nil {
		t.Fatal("issued record should be persisted")
	}
	if rec.Wallet != v.Wallet || rec.Nonce != v.Nonce {
		t.Errorf("persisted record mismatch: %+v", rec)
	}
}

func TestIssue_BadWalletDoesNotReserve(t *testing.T) {
	tests := []struct {
		name   string
		wallet string
	}{
		{"empty", ""},
		{"no prefix", "d8da6bf26964af9d7eed9e03e53415d37aa96045"},
		{"too short", "0xd8da6bf2"},
		{"too long", "0xd8da6bf26964af9d7eed9e03e53415d37aa9604500"},
		{"non-hex", "0xd8da6bf26964af9d7eed9e03e53415d37aa9604g"},
		{"ens name", "vitalik.eth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockIssuedRepo()
			svc := newTestService(t, repo)

			_, err := svc.Issue(context.Background(), tt.wallet, testIdentityHash)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeBadWallet {
				t.Fatalf("error code should be %s: %v", model.ErrCodeBadWallet, err)
			}

			// 拒否されたリクエストは状態を変更しない
			if repo.count() != 0 {
				t.Error("rejected request must not persist anything")
			}
		})
	}
}

func TestIssue_NotLinked(t *testing.T) {
	tests := []struct {
		name string
		hash string
	}{
		{"empty hash", ""},
		{"malformed hash", "0x1234"},
		{"no prefix", strings.Repeat("ab", 32)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockIssuedRepo()
			svc := newTestService(t, repo)

			_, err := svc.Issue(context.Background(), "0xd8da6bf26964af9d7eed9e03e53415d37aa96045", tt.hash)
			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeIdentityNotLinked {
				t.Fatalf("error code should be %s: %v", model.ErrCodeIdentityNotLinked, err)
			}
			if repo.count() != 0 {
				t.Error("rejected request must not persist anything")
			}
		})
	}
}

func TestIssue_SecondIssueForSameIdentityRejected(t *testing.T) {
	repo := newMockIssuedRepo()
	svc := newTestService(t, repo)

	if _, err := svc.Issue(context.Background(), "0xd8da6bf26964af9d7eed9e03e53415d37aa96045", testIdentityHash); err != nil {
		t.Fatalf("first Issue() error = %v", err)
	}

	// 別ウォレットでも同一IDハッシュなら拒否される
	_, err := svc.Issue(context.Background(), "0x0000000000000000000000000000000000000001", testIdentityHash)
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeIdentityAlreadyUsed {
		t.Fatalf("error code should be %s: %v", model.ErrCodeIdentityAlreadyUsed, err)
	}

	if repo.count() != 1 {
		t.Errorf("repo should hold exactly one record, got %d", repo.count())
	}
}

func TestIssue_ConcurrentRequestsExactlyOneSucceeds(t *testing.T) {
	repo := newMockIssuedRepo()
	svc := newTestService(t, repo)

	const workers = 20
	var wg sync.WaitGroup
	results := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Issue(context.Background(), "0xd8da6bf26964af9d7eed9e03e53415d37aa96045", testIdentityHash)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
			continue
		}
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeIdentityAlreadyUsed {
			t.Errorf("losers should fail with %s: %v", model.ErrCodeIdentityAlreadyUsed, err)
		}
	}
	if succeeded != 1 {
		t.Errorf("exactly one request should succeed, got %d", succeeded)
	}
	if repo.count() != 1 {
		t.Errorf("repo should hold exactly one record, got %d", repo.count())
	}
}

func TestIssue_RepositoryFailureSurfaces(t *testing.T) {
	repo := newMockIssuedRepo()
	repo.insertFn = func(ctx context.Context, rec *model.IssuedIdentity) (bool, error) {
		return false, errors.New("connection refused")
	}
	svc := newTestService(t, repo)

	_, err := svc.Issue(context.Background(), "0xd8da6bf26964af9d7eed9e03e53415d37aa96045", testIdentityHash)
	if err == nil {
		t.Fatal("expected error when the store is unavailable")
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("store failures must not map to an API error code: %v", err)
	}
}

func TestIssue_AmountIsCopiedNotAliased(t *testing.T) {
	repo := newMockIssuedRepo()
	svc := newTestService(t, repo)

	v, err := svc.Issue(context.Background(), "0xd8da6bf26964af9d7eed9e03e53415d37aa96045", testIdentityHash)
	if err != nil {
		t.Fatal(err)
	}

	v.Amount.SetInt64(1)
	if svc.config.ClaimAmountWei.String() != "22727272727272" {
		t.Error("mutating the issued amount must not affect the configured amount")
	}
}
