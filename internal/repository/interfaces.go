// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/faucetgate/internal/model"
)

// IssuedIdentityRepository は発行済みIDハッシュ台帳の永続化インターフェース。
type IssuedIdentityRepository interface {
	// TryInsert は発行レコードの挿入を試みる。
	// 同一identity_hashのレコードが既に存在する場合は挿入せずfalseを返す。
	// check-and-insertはデータベース側で単一の原子的操作として実行される。
	TryInsert(ctx context.Context, rec *model.IssuedIdentity) (bool, error)

	// FindByHash は指定IDハッシュの発行レコードを取得する。見つからない場合はnilを返す。
	FindByHash(ctx context.Context, identityHash string) (*model.IssuedIdentity, error)
}
