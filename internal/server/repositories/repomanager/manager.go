package repomanager

import (
	"context"

	"github.com/dmitrijs2005/kycflow/internal/server/repositories/documents"
	"github.com/dmitrijs2005/kycflow/internal/server/repositories/sessions"
)

// TxFunc is a unit of work over repositories that share one transaction.
type TxFunc func(ctx context.Context, sessions sessions.Repository, documents documents.Repository) error

// RepositoryManager vends the repositories and runs units of work that
// must commit or roll back together.
type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Ping(ctx context.Context) error
	Sessions() sessions.Repository
	Documents() documents.Repository
	// WithinTx runs fn atomically. An error from fn rolls back every write
	// fn made through the repositories it was handed.
	WithinTx(ctx context.Context, fn TxFunc) error
}
