package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/c00lpeace/project-template-final/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbtx is the query surface shared by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queries implements Repository on top of any dbtx.
type queries struct {
	db dbtx
}

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	*queries
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{queries: &queries{db: pool}, pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Begin opens a transaction on a pooled connection.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{queries: &queries{db: tx}, tx: tx}, nil
}

type pgTx struct {
	*queries
	tx pgx.Tx
}

func (t *pgTx) Savepoint(ctx context.Context, fn func(Repository) error) error {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := fn(&queries{db: sp}); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// --- Programs ---

const programColumns = `program_id, program_title, program_description, user_id, status, s3_paths,
	vector_indexed, vector_collection_name, metadata_json, error_message, created_at, updated_at, processed_at`

func scanProgram(row pgx.Row) (*models.Program, error) {
	var p models.Program
	var paths, meta []byte
	if err := row.Scan(&p.ProgramID, &p.ProgramTitle, &p.ProgramDescription, &p.UserID, &p.Status, &paths,
		&p.VectorIndexed, &p.VectorCollectionName, &meta, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt, &p.ProcessedAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(paths, &p.S3Paths); err != nil {
		return nil, fmt.Errorf("decode s3_paths: %w", err)
	}
	if err := decodeJSON(meta, &p.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata_json: %w", err)
	}
	return &p, nil
}

func (q *queries) CreateProgram(ctx context.Context, p *models.Program) error {
	paths, err := encodeJSON(p.S3Paths)
	if err != nil {
		return err
	}
	meta, err := encodeJSON(p.Metadata)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx,
		`INSERT INTO programs (program_id, program_title, program_description, user_id, status, s3_paths,
		   vector_indexed, vector_collection_name, metadata_json, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ProgramID, p.ProgramTitle, p.ProgramDescription, p.UserID, p.Status, paths,
		p.VectorIndexed, p.VectorCollectionName, meta, p.ErrorMessage, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create program: %w", err)
	}
	return nil
}

func (q *queries) GetProgram(ctx context.Context, programID string) (*models.Program, error) {
	p, err := scanProgram(q.db.QueryRow(ctx,
		`SELECT `+programColumns+` FROM programs WHERE program_id = $1`, programID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get program: %w", err)
	}
	return p, nil
}

func (q *queries) ListProgramsByUser(ctx context.Context, userID string) ([]*models.Program, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+programColumns+` FROM programs WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	defer rows.Close()

	programs := []*models.Program{}
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, fmt.Errorf("scan program: %w", err)
		}
		programs = append(programs, p)
	}
	return programs, rows.Err()
}

func (q *queries) UpdateProgramStatus(ctx context.Context, programID, status string, opts ...ProgramUpdateOption) error {
	errMsg, vectorIndexed := ApplyProgramOptions(opts)

	var current string
	err := q.db.QueryRow(ctx,
		`SELECT status FROM programs WHERE program_id = $1 FOR UPDATE`, programID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get program status: %w", err)
	}
	if err := CheckProgramTransition(current, status); err != nil {
		return err
	}

	now := time.Now().UTC()
	query := `UPDATE programs SET status = $2, updated_at = $3`
	args := []any{programID, status, now}
	argIdx := 4

	p := models.Program{Status: status}
	if p.IsTerminal() {
		query += fmt.Sprintf(", processed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if errMsg != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *errMsg)
		argIdx++
	}
	if vectorIndexed != nil {
		query += fmt.Sprintf(", vector_indexed = $%d", argIdx)
		args = append(args, *vectorIndexed)
		argIdx++
	}
	query += " WHERE program_id = $1"

	if _, err := q.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update program status: %w", err)
	}
	return nil
}

func (q *queries) UpdateProgramS3Paths(ctx context.Context, programID string, paths map[string]string) error {
	data, err := encodeJSON(paths)
	if err != nil {
		return err
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE programs SET s3_paths = $2, updated_at = NOW() WHERE program_id = $1`, programID, data)
	if err != nil {
		return fmt.Errorf("update program s3 paths: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q *queries) UpdateProgramMetadata(ctx context.Context, programID string, meta models.ProgramMetadata) error {
	data, err := encodeJSON(meta)
	if err != nil {
		return err
	}
	tag, err := q.db.Exec(ctx,
		`UPDATE programs SET metadata_json = $2, updated_at = NOW() WHERE program_id = $1`, programID, data)
	if err != nil {
		return fmt.Errorf("update program metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Documents ---

func (q *queries) CreateDocument(ctx context.Context, d *models.Document) error {
	meta, err := encodeJSON(d.Metadata)
	if err != nil {
		return err
	}
	_, err = q.db.Exec(ctx,
		`INSERT INTO documents (document_id, document_name, original_filename, file_key, upload_path, file_size,
		   file_type, file_extension, user_id, status, document_type, metadata_json, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		d.DocumentID, d.DocumentName, d.OriginalFilename, d.FileKey, d.UploadPath, d.FileSize,
		d.FileType, d.FileExtension, d.UserID, d.Status, d.DocumentType, meta, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// --- helpers ---

// encodeJSON marshals v for a JSONB column. Nil maps become {}.
func encodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode jsonb: %w", err)
	}
	if string(data) == "null" {
		return []byte("{}"), nil
	}
	return data, nil
}

func decodeJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time checks.
var (
	_ Store = (*PostgresStore)(nil)
	_ Tx    = (*pgTx)(nil)
)
