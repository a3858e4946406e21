package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := shared.RunMigrations(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func TestCredentialRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Load empty", func(t *testing.T) {
		repo := NewCredentialRepository(setupTestDB(t))

		blob, ok, err := repo.Load(ctx)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if ok || blob != nil {
			t.Errorf("expected nothing stored, got %v %v", ok, blob)
		}
	})

	t.Run("Save then Load", func(t *testing.T) {
		repo := NewCredentialRepository(setupTestDB(t))

		if err := repo.Save(ctx, []byte("first")); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if err := repo.Save(ctx, []byte("second")); err != nil {
			t.Fatalf("Save() overwrite error = %v", err)
		}

		blob, ok, err := repo.Load(ctx)
		if err != nil || !ok {
			t.Fatalf("Load() = %v, %v", ok, err)
		}
		if string(blob) != "second" {
			t.Errorf("expected latest blob, got %q", blob)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := NewCredentialRepository(setupTestDB(t))
		repo.Save(ctx, []byte("x"))

		if err := repo.Delete(ctx); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, ok, _ := repo.Load(ctx); ok {
			t.Error("expected no credentials after delete")
		}
		if err := repo.Delete(ctx); err != nil {
			t.Errorf("deleting twice should succeed, got %v", err)
		}
	})

	t.Run("closed database", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewCredentialRepository(db)
		db.Close()

		if _, _, err := repo.Load(ctx); err == nil {
			t.Error("expected error from closed database")
		}
		if err := repo.Save(ctx, []byte("x")); err == nil {
			t.Error("expected error from closed database")
		}
	})
}

func newOp(id string, created time.Time) models.ImportOperation {
	req := models.ImportRequest{SourceURL: "https://cdn.example.com/" + id + ".glb"}.Normalize()
	return models.NewImportOperation(id, req, created)
}

func TestHistoryRepository(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Record and Get", func(t *testing.T) {
		repo := NewHistoryRepository(setupTestDB(t))

		op := newOp("op-1", base)
		op.Status = models.StatusSucceeded
		op.PlatformOperationID = "plat-1"
		op.ResultAssetID = "12345"
		op.AssetURL = "https://create.roblox.com/dashboard/creations/store/12345/configure"
		finished := base.Add(30 * time.Second)
		op.FinishedAt = &finished

		if err := repo.Record(ctx, op); err != nil {
			t.Fatalf("Record() error = %v", err)
		}

		got, err := repo.Get(ctx, "op-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != models.StatusSucceeded || got.ResultAssetID != "12345" {
			t.Errorf("unexpected record %+v", got)
		}
		if got.Format != models.FormatGLB || got.DisplayName != models.DefaultDisplayName {
			t.Errorf("metadata not persisted: %+v", got)
		}
		if got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
			t.Errorf("expected finished_at %v, got %v", finished, got.FinishedAt)
		}
		if !got.CreatedAt.Equal(base) {
			t.Errorf("expected created_at %v, got %v", base, got.CreatedAt)
		}
	})

	t.Run("Record overwrites", func(t *testing.T) {
		repo := NewHistoryRepository(setupTestDB(t))

		op := newOp("op-1", base)
		repo.Record(ctx, op)

		op.Status = models.StatusFailed
		op.SetFailure(models.ErrorKindPlatformTimeout, "no result after 2m0s")
		repo.Record(ctx, op)

		got, err := repo.Get(ctx, "op-1")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != models.StatusFailed || got.ErrorKind != models.ErrorKindPlatformTimeout {
			t.Errorf("expected overwritten failure, got %+v", got)
		}
		if got.FinishedAt != nil {
			t.Errorf("expected nil finished_at, got %v", got.FinishedAt)
		}
	})

	t.Run("Get missing", func(t *testing.T) {
		repo := NewHistoryRepository(setupTestDB(t))

		_, err := repo.Get(ctx, "nope")
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("List newest first with limit", func(t *testing.T) {
		repo := NewHistoryRepository(setupTestDB(t))

		for i, id := range []string{"a", "b", "c"} {
			if err := repo.Record(ctx, newOp(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
				t.Fatalf("Record(%s) error = %v", id, err)
			}
		}

		all, err := repo.List(ctx, 0)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
			t.Errorf("unexpected order %v", ids(all))
		}

		limited, _ := repo.List(ctx, 2)
		if len(limited) != 2 || limited[0].ID != "c" {
			t.Errorf("unexpected limited list %v", ids(limited))
		}
	})

	t.Run("Prune", func(t *testing.T) {
		repo := NewHistoryRepository(setupTestDB(t))
		repo.Record(ctx, newOp("old", base))
		repo.Record(ctx, newOp("new", base.Add(48*time.Hour)))

		n, err := repo.Prune(ctx, base.Add(24*time.Hour))
		if err != nil {
			t.Fatalf("Prune() error = %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 pruned row, got %d", n)
		}

		rest, _ := repo.List(ctx, 0)
		if len(rest) != 1 || rest[0].ID != "new" {
			t.Errorf("unexpected remaining rows %v", ids(rest))
		}
	})
}

func ids(ops []models.ImportOperation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.ID
	}
	return out
}
