package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CredentialRepository stores a single opaque credential blob.
type CredentialRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewCredentialRepository creates a new [CredentialRepository] with the given database connection
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db, now: time.Now}
}

// Load returns the stored blob, or ok=false when none is stored.
func (r *CredentialRepository) Load(ctx context.Context) (blob []byte, ok bool, err error) {
	err = r.db.QueryRowContext(ctx, `SELECT sealed FROM credentials WHERE id = 1`).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query credentials: %w", err)
	}
	return blob, true, nil
}

// Save replaces the stored blob.
func (r *CredentialRepository) Save(ctx context.Context, blob []byte) error {
	query := `
		INSERT INTO credentials (id, sealed, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET sealed = excluded.sealed, updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, blob, r.now().UTC()); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Delete removes the stored blob. Deleting nothing is not an error.
func (r *CredentialRepository) Delete(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}
