package documents

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

var tDownloaded = time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func doc(id string, typ models.DocumentType) *models.Document {
	return &models.Document{
		ID:           id,
		SessionID:    "s1",
		UserID:       "u1",
		DocumentType: typ,
		DocumentName: string(typ) + ".pdf",
		FileSize:     42,
		MimeType:     "application/pdf",
		DownloadURL:  "kyc/u1/s1/" + string(typ),
		DownloadedAt: tDownloaded,
		ExpiresAt:    tDownloaded.Add(30 * 24 * time.Hour),
	}
}

func TestCreateBatch_SingleStatement(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := regexp.QuoteMeta(`VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10), ($11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`)
	mock.ExpectExec(`INSERT INTO verification_documents .*` + q).
		WithArgs(
			"d1", "s1", "u1", "aadhaar", "aadhaar.pdf", int64(42), "application/pdf", "kyc/u1/s1/aadhaar", tDownloaded, sqlmock.AnyArg(),
			"d2", "s1", "u1", "pan", "pan.pdf", int64(42), "application/pdf", "kyc/u1/s1/pan", tDownloaded, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	err := repo.CreateBatch(context.Background(), []*models.Document{doc("d1", models.DocumentAadhaar), doc("d2", models.DocumentPAN)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateBatch_EmptyIsNoop(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	if err := repo.CreateBatch(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected statements: %v", err)
	}
}

func TestCreateBatch_Errors(t *testing.T) {
	tests := []struct {
		name   string
		result func(sqlmock.Sqlmock)
		want   string
	}{
		{
			name: "exec error",
			result: func(m sqlmock.Sqlmock) {
				m.ExpectExec(`INSERT INTO verification_documents`).WillReturnError(errors.New("db is down"))
			},
			want: `db error: .*db is down`,
		},
		{
			name: "rows affected error",
			result: func(m sqlmock.Sqlmock) {
				m.ExpectExec(`INSERT INTO verification_documents`).WillReturnResult(sqlmock.NewErrorResult(errors.New("rows-err")))
			},
			want: `rows affected error: .*rows-err`,
		},
		{
			name: "short insert",
			result: func(m sqlmock.Sqlmock) {
				m.ExpectExec(`INSERT INTO verification_documents`).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			want: `unexpected rows affected: 0`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()
			tt.result(mock)

			err := repo.CreateBatch(context.Background(), []*models.Document{doc("d1", models.DocumentAadhaar)})
			if err == nil || !regexp.MustCompile(tt.want).MatchString(err.Error()) {
				t.Fatalf("want %q, got %v", tt.want, err)
			}
		})
	}
}

func TestListBySession(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "session_id", "user_id", "document_type", "document_name", "file_size",
		"mime_type", "download_url", "downloaded_at", "expires_at",
	}).AddRow("d1", "s1", "u1", "aadhaar", "a.pdf", int64(10), "application/pdf", "kyc/u1/s1/aadhaar", tDownloaded, tDownloaded)

	mock.ExpectQuery(`FROM verification_documents\s+WHERE session_id = \$1`).
		WithArgs("s1").
		WillReturnRows(rows)

	got, err := repo.ListBySession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].DocumentType != models.DocumentAadhaar || got[0].FileSize != 10 {
		t.Fatalf("unexpected rows: %+v", got)
	}
}

func TestListBySession_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM verification_documents`).WillReturnError(errors.New("db err"))

	_, err := repo.ListBySession(context.Background(), "s1")
	if err == nil || !regexp.MustCompile(`failed to select documents: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped select error, got %v", err)
	}
}

func TestListBySession_MalformedSessionIDIsEmpty(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM verification_documents`).
		WithArgs("foo").
		WillReturnError(&pgconn.PgError{Code: "22P02"})

	got, err := repo.ListBySession(context.Background(), "foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("want no documents, got %+v", got)
	}
}
