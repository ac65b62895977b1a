// Package documents provides storage for documents retrieved for a
// verification session.
package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/kycflow/internal/dbx"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const documentColumns = `id, session_id, user_id, document_type, document_name, file_size,
	mime_type, download_url, downloaded_at, expires_at`

const columnCount = 10

const invalidTextRepresentation = "22P02"

// PostgresRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) CreateBatch(ctx context.Context, docs []*models.Document) error {
	if len(docs) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO verification_documents (` + documentColumns + `) VALUES `)

	args := make([]any, 0, len(docs)*columnCount)
	for i, d := range docs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c := 0; c < columnCount; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*columnCount+c+1)
		}
		sb.WriteString(")")

		args = append(args,
			d.ID, d.SessionID, d.UserID, d.DocumentType, d.DocumentName, d.FileSize,
			d.MimeType, d.DownloadURL, d.DownloadedAt, d.ExpiresAt,
		)
	}

	res, err := r.db.ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != int64(len(docs)) {
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
	return nil
}

func (r *PostgresRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM verification_documents
		WHERE session_id = $1 ORDER BY document_type`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation {
		// not a session id, so no documents
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select documents: %w", err)
	}
	defer rows.Close()

	var result []*models.Document
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(
			&d.ID, &d.SessionID, &d.UserID, &d.DocumentType, &d.DocumentName, &d.FileSize,
			&d.MimeType, &d.DownloadURL, &d.DownloadedAt, &d.ExpiresAt,
		); err != nil {
			return nil, err
		}
		result = append(result, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
