package record

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// Compile-time check that SQLiteRepository implements Repository.
var _ Repository = (*SQLiteRepository)(nil)

const recordColumns = "id, tenant_id, owner_id, storage_path, original_name, mime_type, size_bytes, status, progress, sensitivity, created_at, updated_at"

// SQLiteRepository stores records in a single-file SQLite database.
// It suits single-node deployments where running Postgres is not worth it.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("ensure database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; the pipeline's updates are tiny.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Create inserts a new record.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO media_records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.TenantID,
		rec.OwnerID,
		rec.StoragePath,
		rec.OriginalName,
		rec.MimeType,
		rec.SizeBytes,
		string(rec.Status),
		rec.Progress,
		string(rec.Sensitivity),
		formatTime(rec.CreatedAt),
		formatTime(rec.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert media record: %w", err)
	}
	return nil
}

// FindByID retrieves a record by its ID.
func (r *SQLiteRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM media_records WHERE id = ?`, id)
	rec, err := scanSQLiteRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get media record: %w", err)
	}
	return rec, nil
}

// ListByTenant returns the tenant's records, newest first.
func (r *SQLiteRepository) ListByTenant(ctx context.Context, tenantID string) ([]*Record, error) {
	return r.query(ctx,
		`SELECT `+recordColumns+` FROM media_records WHERE tenant_id = ? ORDER BY created_at DESC`,
		tenantID,
	)
}

// ListByStatus returns all records in one of the given states.
func (r *SQLiteRepository) ListByStatus(ctx context.Context, statuses ...Status) ([]*Record, error) {
	if len(statuses) == 0 {
		return []*Record{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return r.query(ctx,
		`SELECT `+recordColumns+` FROM media_records WHERE status IN (`+placeholders+`) ORDER BY created_at`,
		args...,
	)
}

// Delete removes a record.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM media_records WHERE id = ?`, id)
}

// BeginProcessing moves the record to processing with progress 0.
func (r *SQLiteRepository) BeginProcessing(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE media_records SET status = ?, progress = 0, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(StatusProcessing), formatTime(time.Now()), id,
		string(StatusUploaded), string(StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("begin processing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("begin processing: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM media_records WHERE id = ?`, id).Scan(&exists); err != nil {
		return fmt.Errorf("begin processing: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

// UpdateProgress sets the record's progress.
func (r *SQLiteRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	return r.exec(ctx,
		`UPDATE media_records SET progress = ?, updated_at = ? WHERE id = ?`,
		ClampProgress(progress), formatTime(time.Now()), id,
	)
}

// Complete stores the terminal status and sensitivity with progress 100.
func (r *SQLiteRepository) Complete(ctx context.Context, id string, status Status, sensitivity Sensitivity) error {
	return r.exec(ctx,
		`UPDATE media_records SET status = ?, sensitivity = ?, progress = 100, updated_at = ? WHERE id = ?`,
		string(status), string(sensitivity), formatTime(time.Now()), id,
	)
}

// Override applies an administrative change in one statement.
func (r *SQLiteRepository) Override(ctx context.Context, id string, o Override) error {
	return r.exec(ctx,
		`UPDATE media_records
		 SET status = COALESCE(?, status), sensitivity = COALESCE(?, sensitivity), updated_at = ?
		 WHERE id = ?`,
		nullableStatus(o.Status), nullableSensitivity(o.Sensitivity), formatTime(time.Now()), id,
	)
}

func (r *SQLiteRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update media record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update media record: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) query(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list media records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]*Record, 0)
	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media record: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list media records: %w", err)
	}
	return result, nil
}

func scanSQLiteRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec         Record
		status      string
		sensitivity string
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.TenantID,
		&rec.OwnerID,
		&rec.StoragePath,
		&rec.OriginalName,
		&rec.MimeType,
		&rec.SizeBytes,
		&status,
		&rec.Progress,
		&sensitivity,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.Sensitivity = Sensitivity(sensitivity)
	rec.CreatedAt = parseTime(createdRaw)
	rec.UpdatedAt = parseTime(updatedRaw)
	return &rec, nil
}

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableStatus(s *Status) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

func nullableSensitivity(s *Sensitivity) any {
	if s == nil {
		return nil
	}
	return string(*s)
}
