package repository

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/hitoshi/faucetgate/internal/model"
)

// PostgresIssuedIdentityRepo はPostgreSQLを使用した発行済みIDハッシュリポジトリ。
type PostgresIssuedIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIssuedIdentityRepo はPostgresIssuedIdentityRepoを生成する。
func NewPostgresIssuedIdentityRepo(db *sql.DB) *PostgresIssuedIdentityRepo {
	return &PostgresIssuedIdentityRepo{db: db}
}

// TryInsert は発行レコードの挿入を試みる。
// ON CONFLICT DO NOTHINGにより、同一identity_hashへの並行挿入は
// ちょうど1つだけが成功する。
func (r *PostgresIssuedIdentityRepo) TryInsert(ctx context.Context, rec *model.IssuedIdentity) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO issued_identities (identity_hash, wallet, amount_wei, nonce, deadline, issued_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (identity_hash) DO NOTHING`,
		rec.IdentityHash, rec.Wallet, rec.Amount.String(), rec.Nonce, rec.Deadline, rec.IssuedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert issued identity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return rows == 1, nil
}

// FindByHash は指定IDハッシュの発行レコードを取得する。見つからない場合はnilを返す。
func (r *PostgresIssuedIdentityRepo) FindByHash(ctx context.Context, identityHash string) (*model.IssuedIdentity, error) {
	rec := &model.IssuedIdentity{}
	var amountStr string

	err := r.db.QueryRowContext(ctx,
		`SELECT identity_hash, wallet, amount_wei, nonce, deadline, issued_at
		 FROM issued_identities
		 WHERE identity_hash = $1`,
		identityHash,
	).Scan(&rec.IdentityHash, &rec.Wallet, &amountStr, &rec.Nonce, &rec.Deadline, &rec.IssuedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find issued identity: %w", err)
	}

	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount_wei stored for %s: %q", identityHash, amountStr)
	}
	rec.Amount = amount

	return rec, nil
}

// compile-time interface check
var _ IssuedIdentityRepository = (*PostgresIssuedIdentityRepo)(nil)
