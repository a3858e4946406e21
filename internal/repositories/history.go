package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/shared"
)

// HistoryRepository persists finished imports so they outlive registry eviction and restarts.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a new [HistoryRepository] with the given database connection
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

const historyColumns = `id, status, source_url, format, display_name, description, platform_operation_id,
	asset_id, asset_url, error_kind, error_detail, created_at, updated_at, finished_at`

// Record inserts op, or overwrites the row with the same id.
func (r *HistoryRepository) Record(ctx context.Context, op models.ImportOperation) error {
	query := `
		INSERT INTO import_history (` + historyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			platform_operation_id = excluded.platform_operation_id,
			asset_id = excluded.asset_id,
			asset_url = excluded.asset_url,
			error_kind = excluded.error_kind,
			error_detail = excluded.error_detail,
			updated_at = excluded.updated_at,
			finished_at = excluded.finished_at
	`

	var finished sql.NullTime
	if op.FinishedAt != nil {
		finished = sql.NullTime{Time: op.FinishedAt.UTC(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		op.ID,
		op.Status.String(),
		op.SourceURL,
		string(op.Format),
		op.DisplayName,
		op.Description,
		op.PlatformOperationID,
		op.ResultAssetID,
		op.AssetURL,
		string(op.ErrorKind),
		op.ErrorDetail,
		op.CreatedAt.UTC(),
		op.UpdatedAt.UTC(),
		finished,
	)
	if err != nil {
		return fmt.Errorf("failed to record import %s: %w", op.ID, err)
	}
	return nil
}

// Get retrieves a recorded import by operation id.
func (r *HistoryRepository) Get(ctx context.Context, id string) (*models.ImportOperation, error) {
	query := `SELECT ` + historyColumns + ` FROM import_history WHERE id = ?`

	op, err := scanOperation(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: import %s", shared.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query import: %w", err)
	}
	return op, nil
}

// List returns recorded imports newest first. A limit of zero or less returns all rows.
func (r *HistoryRepository) List(ctx context.Context, limit int) ([]models.ImportOperation, error) {
	query := `SELECT ` + historyColumns + ` FROM import_history ORDER BY created_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query import history: %w", err)
	}
	defer rows.Close()

	var ops []models.ImportOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan import: %w", err)
		}
		ops = append(ops, *op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating import history: %w", err)
	}
	return ops, nil
}

// Prune deletes imports created before cutoff and returns how many were removed.
func (r *HistoryRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM import_history WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune import history: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*models.ImportOperation, error) {
	var (
		op        models.ImportOperation
		status    string
		format    string
		errorKind string
		finished  sql.NullTime
	)

	err := row.Scan(
		&op.ID,
		&status,
		&op.SourceURL,
		&format,
		&op.DisplayName,
		&op.Description,
		&op.PlatformOperationID,
		&op.ResultAssetID,
		&op.AssetURL,
		&errorKind,
		&op.ErrorDetail,
		&op.CreatedAt,
		&op.UpdatedAt,
		&finished,
	)
	if err != nil {
		return nil, err
	}

	if op.Status, err = models.ParseStatus(status); err != nil {
		return nil, err
	}
	op.Format = models.Format(format)
	op.ErrorKind = models.ErrorKind(errorKind)
	if finished.Valid {
		t := finished.Time
		op.FinishedAt = &t
	}
	return &op, nil
}
