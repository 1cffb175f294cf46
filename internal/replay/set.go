// Package replay は発行済みIDハッシュのリプレイ防止セットを提供する。
package replay

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/faucetgate/internal/model"
	"github.com/hitoshi/faucetgate/internal/repository"
)

// Set は発行済みIDハッシュの原子的なcheck-and-insertを提供する。
// プロセス内のmapは永続ストアの前段キャッシュであり、
// 真の線形化ポイントはリポジトリ側の主キー制約付きINSERT。
// プロセス再起動でリプレイ窓が再び開くことはない。
type Set struct {
	repo repository.IssuedIdentityRepository

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewSet は新しいSetを生成する。
func NewSet(repo repository.IssuedIdentityRepository) *Set {
	return &Set{
		repo: repo,
		seen: make(map[string]struct{}),
	}
}

// TryReserve は発行レコードの予約を試みる。
// 既に同一IDハッシュで発行済みの場合はfalseを返し、挿入は行わない。
// 新規予約に成功した場合のみtrueを返す。
func (s *Set) TryReserve(ctx context.Context, rec *model.IssuedIdentity) (bool, error) {
	// 前段キャッシュ: 既知のハッシュはDBに触れずに拒否する
	s.mu.Lock()
	if _, exists := s.seen[rec.IdentityHash]; exists {
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()

	inserted, err := s.repo.TryInsert(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("failed to reserve identity hash: %w", err)
	}

	if !inserted {
		// 別プロセス/別リクエストが先に予約済み。キャッシュに反映する。
		s.mu.Lock()
		s.seen[rec.IdentityHash] = struct{}{}
		s.mu.Unlock()
		return false, nil
	}

	s.mu.Lock()
	s.seen[rec.IdentityHash] = struct{}{}
	s.mu.Unlock()

	return true, nil
}

// Size は現在キャッシュされているハッシュ数を返す。テストおよびメトリクス用。
func (s *Set) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
