package repository

import (
	"testing"
)

// PostgresIssuedIdentityRepoはIssuedIdentityRepositoryインターフェースを満たすことを検証
func TestPostgresIssuedIdentityRepo_ImplementsInterface(t *testing.T) {
	var _ IssuedIdentityRepository = (*PostgresIssuedIdentityRepo)(nil)
}

// NewPostgresIssuedIdentityRepoが正しく初期化されることを検証
func TestNewPostgresIssuedIdentityRepo_Initializes(t *testing.T) {
	repo := NewPostgresIssuedIdentityRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}
