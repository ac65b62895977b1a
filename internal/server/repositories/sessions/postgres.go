// Package sessions provides storage for verification sessions with
// optimistic concurrency on a per-row version.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/common"
	"github.com/dmitrijs2005/kycflow/internal/dbx"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

// oneActivePerUserIndex is the partial unique index enforcing a single
// non-terminal session per user.
const oneActivePerUserIndex = "verification_sessions_one_active_per_user"

const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02"
)

const sessionColumns = `id, user_id, provider_session_id, redirect_url, callback_url, status,
	documents_requested, consent_given, auth_code, auth_code_nonce, failure_reason,
	version, expires_at, created_at, updated_at`

var activeStatusList = func() string {
	q := make([]string, len(activeStatuses))
	for i, s := range activeStatuses {
		q[i] = "'" + string(s) + "'"
	}
	return strings.Join(q, ", ")
}()

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.Session, error) {
	var (
		s    models.Session
		docs string
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.ProviderSessionID, &s.RedirectURL, &s.CallbackURL, &s.Status,
		&docs, &s.ConsentGiven, &s.AuthCode, &s.AuthCodeNonce, &s.FailureReason,
		&s.Version, &s.ExpiresAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.DocumentsRequested = splitDocumentTypes(docs)
	return &s, nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, query string, args ...any) (*models.Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) || isMalformedID(err) {
		return nil, common.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

// isMalformedID reports whether Postgres rejected a lookup key that does not
// parse as the column type. Such a key cannot name a stored session.
func isMalformedID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation
}

// Create inserts s. A unique violation on the one-active-per-user index is
// reported as common.ErrActiveSessionExists.
func (r *PostgresRepository) Create(ctx context.Context, s *models.Session) error {
	query := `
		INSERT INTO verification_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ID, s.UserID, s.ProviderSessionID, s.RedirectURL, s.CallbackURL, s.Status,
		joinDocumentTypes(s.DocumentsRequested), s.ConsentGiven, s.AuthCode, s.AuthCodeNonce, s.FailureReason,
		s.Version, s.ExpiresAt, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == oneActivePerUserIndex {
			return common.ErrActiveSessionExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Session, error) {
	return r.queryOne(ctx, `SELECT `+sessionColumns+` FROM verification_sessions WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByProviderSessionID(ctx context.Context, providerSessionID string) (*models.Session, error) {
	return r.queryOne(ctx, `SELECT `+sessionColumns+` FROM verification_sessions WHERE provider_session_id = $1`, providerSessionID)
}

func (r *PostgresRepository) FindActiveByUser(ctx context.Context, userID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM verification_sessions
		WHERE user_id = $1 AND status IN (` + activeStatusList + `)
		ORDER BY created_at DESC LIMIT 1`
	return r.queryOne(ctx, query, userID)
}

func (r *PostgresRepository) FindLatestByUserAndStatus(ctx context.Context, userID string, status models.Status) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM verification_sessions
		WHERE user_id = $1 AND status = $2
		ORDER BY updated_at DESC LIMIT 1`
	return r.queryOne(ctx, query, userID, status)
}

func (r *PostgresRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM verification_sessions
		WHERE status IN (` + activeStatusList + `) AND expires_at <= $1
		ORDER BY expires_at LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select expired sessions: %w", err)
	}
	defer rows.Close()

	var result []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CASUpdate loads the session, applies mutate and writes the mutable columns
// back guarded by "version = expectedVersion". Identity columns and the
// deadline are never written after Create.
func (r *PostgresRepository) CASUpdate(ctx context.Context, id string, expectedVersion int64, mutate Mutator) (*models.Session, bool, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if cur.Version != expectedVersion {
		return cur, false, nil
	}

	next, err := mutate(*cur.Clone())
	if err != nil {
		return cur, false, err
	}
	next.Version = expectedVersion + 1

	query := `
		UPDATE verification_sessions
		SET status = $3, consent_given = $4, auth_code = $5, auth_code_nonce = $6,
			failure_reason = $7, version = $8, updated_at = $9
		WHERE id = $1 AND version = $2
	`
	res, err := r.db.ExecContext(ctx, query,
		id, expectedVersion,
		next.Status, next.ConsentGiven, next.AuthCode, next.AuthCodeNonce,
		next.FailureReason, next.Version, next.UpdatedAt,
	)
	if err != nil {
		return cur, false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cur, false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return &next, true, nil
	case 0:
		// lost the race between read and write
		fresh, err := r.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return fresh, false, nil
	default:
		return cur, false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}
