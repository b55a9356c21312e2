package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/docextract/internal/core/domain"
)

var fixedNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func newRepoWithMock(t *testing.T) (*SessionRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	repo := NewSessionRepository(db)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock, func() { _ = db.Close() }
}

func TestGetSessionReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, status, template").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetSession(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetSessionLoadsFilesAndResults(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	files, _ := json.Marshal([]domain.SessionFile{{Index: 0, Filename: "a.pdf", StoragePath: "s1/0-a.pdf"}})
	result, _ := json.Marshal(domain.FileResult{Index: 0, Filename: "a.pdf", Status: domain.FileSuccess, Strategy: domain.StrategyWhole})

	mock.ExpectQuery("SELECT id, status, template").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "status", "template", "total_files", "processed_files", "files", "error_message", "created_at", "updated_at",
		}).AddRow("s1", "processing", "invoice", 1, 1, files, "", fixedNow, fixedNow))
	mock.ExpectQuery("SELECT result").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(result))

	session, err := repo.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if session.Status != domain.SessionProcessing || len(session.Files) != 1 || len(session.Results) != 1 {
		t.Fatalf("unexpected session: %+v", session)
	}
	if session.Results[0].Strategy != domain.StrategyWhole {
		t.Fatalf("unexpected result: %+v", session.Results[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateSessionStatusReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE extraction_sessions").
		WithArgs("missing", string(domain.SessionProcessing), "", fixedNow, string(domain.SessionQueued)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM extraction_sessions").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	err := repo.UpdateSessionStatus(context.Background(), "missing", domain.SessionProcessing, "")
	if !domain.IsKind(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateSessionStatusOnlyMovesFromAllowedStatuses(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec(`UPDATE extraction_sessions\s+SET status = \$2, error_message = \$3, updated_at = \$4\s+WHERE id = \$1 AND status IN \(\$5, \$6\)`).
		WithArgs("s1", string(domain.SessionFailed), "session aborted", fixedNow, string(domain.SessionQueued), string(domain.SessionProcessing)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateSessionStatus(context.Background(), "s1", domain.SessionFailed, "session aborted"); err != nil {
		t.Fatalf("UpdateSessionStatus() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateSessionStatusKeepsTerminalStatus(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE extraction_sessions").
		WithArgs("s1", string(domain.SessionFailed), "session aborted", fixedNow, string(domain.SessionQueued), string(domain.SessionProcessing)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM extraction_sessions").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(string(domain.SessionCompleted)))

	err := repo.UpdateSessionStatus(context.Background(), "s1", domain.SessionFailed, "session aborted")
	if !domain.IsKind(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateSessionProgressWrapsPersistenceErrors(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE extraction_sessions").
		WithArgs("s1", 2, fixedNow).
		WillReturnError(errors.New("connection reset"))

	err := repo.UpdateSessionProgress(context.Background(), "s1", 2)
	if !domain.IsKind(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStoreFileResultUpserts(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO extraction_file_results").
		WithArgs("s1", 3, "c.pdf", string(domain.FilePartial), string(domain.StrategyPageSplit), sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.StoreFileResult(context.Background(), "s1", domain.FileResult{
		Index:    3,
		Filename: "c.pdf",
		Status:   domain.FilePartial,
		Strategy: domain.StrategyPageSplit,
	})
	if err != nil {
		t.Fatalf("StoreFileResult() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaTakesAdvisoryLock(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs(schemaLockID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS extraction_sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
