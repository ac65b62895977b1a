// Package repomanager wires repository implementations together with
// database migrations (via goose) and transactional units of work.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/kycflow/internal/dbx"
	"github.com/dmitrijs2005/kycflow/internal/server/migrations"
	"github.com/dmitrijs2005/kycflow/internal/server/repositories/documents"
	"github.com/dmitrijs2005/kycflow/internal/server/repositories/sessions"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories.
type PostgresRepositoryManager struct {
	db *sql.DB
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(db *sql.DB) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{db: db}
}

// Sessions returns a sessions.Repository bound to the connection pool.
func (m *PostgresRepositoryManager) Sessions() sessions.Repository {
	return sessions.NewPostgresRepository(m.db)
}

// Documents returns a documents.Repository bound to the connection pool.
func (m *PostgresRepositoryManager) Documents() documents.Repository {
	return documents.NewPostgresRepository(m.db)
}

// WithinTx runs fn with repositories bound to a single transaction.
func (m *PostgresRepositoryManager) WithinTx(ctx context.Context, fn TxFunc) error {
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, sessions.NewPostgresRepository(tx), documents.NewPostgresRepository(tx))
	})
}

func (m *PostgresRepositoryManager) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, m.db, ".")
}
