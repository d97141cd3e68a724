package record

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed postgres_schema.sql
var postgresSchema string

// Compile-time check that PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)

// uniqueViolation is the Postgres SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// PostgresRepository stores records in Postgres through a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn, verifies the connection and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	repo := NewPostgresRepository(pool)
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return repo, nil
}

// NewPostgresRepository wraps an existing pool. The schema must already exist.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Close releases the pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Create inserts a new record.
func (r *PostgresRepository) Create(ctx context.Context, rec *Record) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO media_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
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
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert media record: %w", err)
	}
	return nil
}

// FindByID retrieves a record by its ID.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM media_records WHERE id = $1`, id)
	rec, err := scanPostgresRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get media record: %w", err)
	}
	return rec, nil
}

// ListByTenant returns the tenant's records, newest first.
func (r *PostgresRepository) ListByTenant(ctx context.Context, tenantID string) ([]*Record, error) {
	return r.query(ctx,
		`SELECT `+recordColumns+` FROM media_records WHERE tenant_id = $1 ORDER BY created_at DESC`,
		tenantID,
	)
}

// ListByStatus returns all records in one of the given states.
func (r *PostgresRepository) ListByStatus(ctx context.Context, statuses ...Status) ([]*Record, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return r.query(ctx,
		`SELECT `+recordColumns+` FROM media_records WHERE status = ANY($1) ORDER BY created_at`,
		names,
	)
}

// Delete removes a record.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, `DELETE FROM media_records WHERE id = $1`, id)
}

// BeginProcessing moves the record to processing with progress 0.
func (r *PostgresRepository) BeginProcessing(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE media_records SET status = $1, progress = 0, updated_at = now()
		 WHERE id = $2 AND status IN ($3, $4)`,
		string(StatusProcessing), id, string(StatusUploaded), string(StatusProcessing),
	)
	if err != nil {
		return fmt.Errorf("begin processing: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM media_records WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("begin processing: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

// UpdateProgress sets the record's progress.
func (r *PostgresRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	return r.exec(ctx,
		`UPDATE media_records SET progress = $1, updated_at = now() WHERE id = $2`,
		ClampProgress(progress), id,
	)
}

// Complete stores the terminal status and sensitivity with progress 100.
func (r *PostgresRepository) Complete(ctx context.Context, id string, status Status, sensitivity Sensitivity) error {
	return r.exec(ctx,
		`UPDATE media_records SET status = $1, sensitivity = $2, progress = 100, updated_at = now() WHERE id = $3`,
		string(status), string(sensitivity), id,
	)
}

// Override applies an administrative change in one statement.
func (r *PostgresRepository) Override(ctx context.Context, id string, o Override) error {
	return r.exec(ctx,
		`UPDATE media_records
		 SET status = COALESCE($1, status), sensitivity = COALESCE($2, sensitivity), updated_at = now()
		 WHERE id = $3`,
		nullableStatus(o.Status), nullableSensitivity(o.Sensitivity), id,
	)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update media record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) query(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list media records: %w", err)
	}
	defer rows.Close()

	result := make([]*Record, 0)
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
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

func scanPostgresRecord(row pgx.Row) (*Record, error) {
	var (
		rec         Record
		status      string
		sensitivity string
	)
	if err := row.Scan(
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
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.Sensitivity = Sensitivity(sensitivity)
	return &rec, nil
}
