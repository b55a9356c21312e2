package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/docextract/internal/core/domain"
)

const schemaLockID int64 = 2026101801

type SessionRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *SessionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS extraction_sessions (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	template TEXT NOT NULL,
	total_files INTEGER NOT NULL,
	processed_files INTEGER NOT NULL DEFAULT 0,
	files JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_extraction_sessions_status ON extraction_sessions(status);

CREATE TABLE IF NOT EXISTS extraction_file_results (
	session_id TEXT NOT NULL REFERENCES extraction_sessions(id) ON DELETE CASCADE,
	file_index INTEGER NOT NULL,
	filename TEXT NOT NULL,
	status TEXT NOT NULL,
	strategy TEXT NOT NULL DEFAULT '',
	result JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, file_index)
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *SessionRepository) CreateSession(ctx context.Context, session *domain.ExtractionSession) error {
	filesJSON, err := json.Marshal(session.Files)
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO extraction_sessions (
	id, status, template, total_files, processed_files, files, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		session.ID, string(session.Status), session.TemplateName, session.TotalFiles, session.ProcessedFiles,
		filesJSON, session.Error, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return domain.WrapError(domain.ErrPersistence, "insert session", err)
	}
	return nil
}

func (r *SessionRepository) GetSession(ctx context.Context, id string) (*domain.ExtractionSession, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, status, template, total_files, processed_files, files, error_message, created_at, updated_at
FROM extraction_sessions
WHERE id = $1
`, id)

	var session domain.ExtractionSession
	var status string
	var filesRaw []byte
	err := row.Scan(
		&session.ID, &status, &session.TemplateName, &session.TotalFiles, &session.ProcessedFiles,
		&filesRaw, &session.Error, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrSessionNotFound, "get session", fmt.Errorf("id=%s", id))
		}
		return nil, domain.WrapError(domain.ErrPersistence, "scan session", err)
	}
	if err := json.Unmarshal(filesRaw, &session.Files); err != nil {
		return nil, fmt.Errorf("unmarshal files: %w", err)
	}
	session.Status = domain.SessionStatus(status)

	results, err := r.ListFileResults(ctx, id)
	if err != nil {
		return nil, err
	}
	session.Results = results
	return &session, nil
}

func (r *SessionRepository) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus, errMessage string) error {
	sources := domain.TransitionSources(status)
	if len(sources) == 0 {
		return domain.WrapError(domain.ErrInvalidTransition, "update session status", fmt.Errorf("no status moves to %s", status))
	}
	args := []any{id, string(status), errMessage, r.now()}
	placeholders := make([]string, 0, len(sources))
	for _, from := range sources {
		args = append(args, string(from))
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	res, err := r.db.ExecContext(ctx, `
UPDATE extraction_sessions
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1 AND status IN (`+strings.Join(placeholders, ", ")+`)
`, args...)
	if err != nil {
		return domain.WrapError(domain.ErrPersistence, "update session status", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session status rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Nothing matched: either the session is gone or another writer moved it first.
	var current string
	err = r.db.QueryRowContext(ctx, `SELECT status FROM extraction_sessions WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrSessionNotFound, "update session status", fmt.Errorf("id=%s", id))
	}
	if err != nil {
		return domain.WrapError(domain.ErrPersistence, "read session status", err)
	}
	return domain.WrapError(domain.ErrInvalidTransition, "update session status", fmt.Errorf("%s -> %s", current, status))
}

func (r *SessionRepository) UpdateSessionProgress(ctx context.Context, id string, processedFiles int) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE extraction_sessions
SET processed_files = $2, updated_at = $3
WHERE id = $1
`, id, processedFiles, r.now())
	if err != nil {
		return domain.WrapError(domain.ErrPersistence, "update session progress", err)
	}
	return requireAffected(res, "update session progress", id)
}

func (r *SessionRepository) StoreFileResult(ctx context.Context, sessionID string, result domain.FileResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal file result: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO extraction_file_results (session_id, file_index, filename, status, strategy, result, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (session_id, file_index) DO UPDATE
SET status = EXCLUDED.status, strategy = EXCLUDED.strategy, result = EXCLUDED.result
`, sessionID, result.Index, result.Filename, string(result.Status), string(result.Strategy), resultJSON, r.now())
	if err != nil {
		return domain.WrapError(domain.ErrPersistence, "store file result", err)
	}
	return nil
}

func (r *SessionRepository) ListFileResults(ctx context.Context, sessionID string) ([]domain.FileResult, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT result
FROM extraction_file_results
WHERE session_id = $1
ORDER BY file_index ASC
`, sessionID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "list file results", err)
	}
	defer rows.Close()

	results := make([]domain.FileResult, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan file result: %w", err)
		}
		var result domain.FileResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("unmarshal file result: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "iterate file results", err)
	}
	return results, nil
}

func requireAffected(res sql.Result, op, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrSessionNotFound, op, fmt.Errorf("id=%s", id))
	}
	return nil
}
