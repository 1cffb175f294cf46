package replay

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/faucetgate/internal/model"
	"github.com/hitoshi/faucetgate/internal/repository"
)

// --- モック定義 ---

// mockIssuedRepo はmapとmutexで原子的なTryInsertを模倣する。
type mockIssuedRepo struct {
	mu      sync.Mutex
	rows    map[string]*model.IssuedIdentity
	inserts int
}

func newMockIssuedRepo() *mockIssuedRepo {
	return &mockIssuedRepo{rows: make(map[string]*model.IssuedIdentity)}
}

func (m *mockIssuedRepo) TryInsert(_ context.Context, rec *model.IssuedIdentity) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.rows[rec.IdentityHash]; exists {
		return false, nil
	}
	m.rows[rec.IdentityHash] = rec
	m.inserts++
	return true, nil
}

func (m *mockIssuedRepo) FindByHash(_ context.Context, hash string) (*model.IssuedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[hash], nil
}

var _ repository.IssuedIdentityRepository = (*mockIssuedRepo)(nil)

func testRecord(hash string) *model.IssuedIdentity {
	return &model.IssuedIdentity{
		IdentityHash: hash,
		Wallet:       "0xd8da6bf26964af9d7eed9e03e53415d37aa96045",
		Amount:       big.NewInt(22727272727272),
		Nonce:        time.Now().UnixMilli(),
		Deadline:     time.Now().Unix() + 900,
		IssuedAt:     time.Now(),
	}
}

// --- テスト ---

func TestTryReserve_FirstReservationSucceeds(t *testing.T) {
	ctx := context.Background()
	set := NewSet(newMockIssuedRepo())

	ok, err := set.TryReserve(ctx, testRecord("0xaaaa"))
	if err != nil {
		t.Fatalf("TryReserve() error = %v", err)
	}
	if !ok {
		t.Fatal("first reservation should succeed")
	}
}

func TestTryReserve_SecondReservationFails(t *testing.T) {
	ctx := context.Background()
	repo := newMockIssuedRepo()
	set := NewSet(repo)

	if ok, _ := set.TryReserve(ctx, testRecord("0xbbbb")); !ok {
		t.Fatal("first reservation should succeed")
	}

	ok, err := set.TryReserve(ctx, testRecord("0xbbbb"))
	if err != nil {
		t.Fatalf("TryReserve() error = %v", err)
	}
	if ok {
		t.Fatal("second reservation for the same hash should fail")
	}
	if repo.inserts != 1 {
		t.Errorf("repo inserts = %d, want 1", repo.inserts)
	}
}

func TestTryReserve_DurableRecordBlocksFreshCache(t *testing.T) {
	ctx := context.Background()
	repo := newMockIssuedRepo()

	// 別プロセスが予約した状態を再現: DBにはあるがキャッシュは空
	if _, err := repo.TryInsert(ctx, testRecord("0xcccc")); err != nil {
		t.Fatal(err)
	}

	set := NewSet(repo)
	ok, err := set.TryReserve(ctx, testRecord("0xcccc"))
	if err != nil {
		t.Fatalf("TryReserve() error = %v", err)
	}
	if ok {
		t.Fatal("durable record should block reservation even with a cold cache")
	}
}

func TestTryReserve_ConcurrentRequestsExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	repo := newMockIssuedRepo()
	set := NewSet(repo)

	const goroutines = 50
	var wg sync.WaitGroup
	results := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := set.TryReserve(ctx, testRecord("0xdddd"))
			if err != nil {
				t.Errorf("TryReserve() error = %v", err)
				return
			}
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("exactly one concurrent reservation should win, got %d", wins)
	}
	if repo.inserts != 1 {
		t.Errorf("repo inserts = %d, want 1", repo.inserts)
	}
}

func TestTryReserve_DistinctHashesDoNotInterfere(t *testing.T) {
	ctx := context.Background()
	set := NewSet(newMockIssuedRepo())

	hashes := []string{"0x01", "0x02", "0x03"}
	for _, h := range hashes {
		ok, err := set.TryReserve(ctx, testRecord(h))
		if err != nil {
			t.Fatalf("TryReserve(%s) error = %v", h, err)
		}
		if !ok {
			t.Errorf("reservation for distinct hash %s should succeed", h)
		}
	}
	if set.Size() != len(hashes) {
		t.Errorf("Size() = %d, want %d", set.Size(), len(hashes))
	}
}
