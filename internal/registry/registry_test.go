package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newOp(id string, created time.Time) models.ImportOperation {
	req := models.ImportRequest{SourceURL: "https://cdn.example.com/" + id + ".glb"}.Normalize()
	return models.NewImportOperation(id, req, created)
}

func TestCreateAndGet(t *testing.T) {
	t.Run("returns copies", func(t *testing.T) {
		r := New(0)
		require.NoError(t, r.Create(newOp("a", base)))

		got, ok := r.Get("a")
		require.True(t, ok)
		got.DisplayName = "mutated"

		again, _ := r.Get("a")
		assert.Equal(t, models.DefaultDisplayName, again.DisplayName)
	})

	t.Run("duplicate id", func(t *testing.T) {
		r := New(0)
		require.NoError(t, r.Create(newOp("a", base)))
		assert.ErrorIs(t, r.Create(newOp("a", base)), shared.ErrInvalidArgument)
	})

	t.Run("empty id", func(t *testing.T) {
		assert.Error(t, New(0).Create(models.ImportOperation{}))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, ok := New(0).Get("missing")
		assert.False(t, ok)
	})
}

func TestTransition(t *testing.T) {
	t.Run("forward path", func(t *testing.T) {
		r := New(0)
		r.now = func() time.Time { return base.Add(time.Minute) }
		r.Create(newOp("a", base))

		for _, st := range []models.Status{models.StatusDownloading, models.StatusUploading, models.StatusProcessing} {
			_, err := r.Transition("a", st, nil)
			require.NoError(t, err)
		}

		op, err := r.Transition("a", models.StatusSucceeded, func(op *models.ImportOperation) {
			op.ResultAssetID = "123"
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusSucceeded, op.Status)
		assert.Equal(t, "123", op.ResultAssetID)
		require.NotNil(t, op.FinishedAt)
		assert.Equal(t, base.Add(time.Minute), *op.FinishedAt)
	})

	t.Run("skipping ahead is allowed", func(t *testing.T) {
		r := New(0)
		r.Create(newOp("a", base))
		_, err := r.Transition("a", models.StatusUploading, nil)
		assert.NoError(t, err)
	})

	t.Run("rejects backwards and repeats", func(t *testing.T) {
		r := New(0)
		r.Create(newOp("a", base))
		r.Transition("a", models.StatusUploading, nil)

		_, err := r.Transition("a", models.StatusDownloading, nil)
		assert.ErrorIs(t, err, shared.ErrInvalidTransition)
		_, err = r.Transition("a", models.StatusUploading, nil)
		assert.ErrorIs(t, err, shared.ErrInvalidTransition)

		op, _ := r.Get("a")
		assert.Equal(t, models.StatusUploading, op.Status)
	})

	t.Run("terminal is final", func(t *testing.T) {
		r := New(0)
		r.Create(newOp("a", base))
		r.Transition("a", models.StatusFailed, func(op *models.ImportOperation) {
			op.ErrorKind = models.ErrorKindAuth
		})

		_, err := r.Transition("a", models.StatusFailed, nil)
		assert.ErrorIs(t, err, shared.ErrInvalidTransition)
		_, err = r.Transition("a", models.StatusSucceeded, nil)
		assert.ErrorIs(t, err, shared.ErrInvalidTransition)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := New(0).Transition("missing", models.StatusDownloading, nil)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("mutate cannot change identity", func(t *testing.T) {
		r := New(0)
		r.Create(newOp("a", base))
		r.Transition("a", models.StatusDownloading, func(op *models.ImportOperation) {
			op.ID = "b"
			op.Status = models.StatusSucceeded
		})

		op, ok := r.Get("a")
		require.True(t, ok)
		assert.Equal(t, models.StatusDownloading, op.Status)
	})

	t.Run("observers see every transition", func(t *testing.T) {
		r := New(0)
		var seen []string
		r.OnTransition(func(prev models.Status, op models.ImportOperation) {
			seen = append(seen, prev.String()+">"+op.Status.String())
		})
		r.Create(newOp("a", base))
		r.Transition("a", models.StatusDownloading, nil)
		r.Transition("a", models.StatusFailed, nil)

		assert.Equal(t, []string{"pending>downloading", "downloading>failed"}, seen)
	})

	t.Run("concurrent readers never see torn state", func(t *testing.T) {
		r := New(0)
		r.Create(newOp("a", base))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, st := range []models.Status{models.StatusDownloading, models.StatusUploading, models.StatusProcessing} {
				r.Transition("a", st, func(op *models.ImportOperation) {
					op.PlatformOperationID = st.String()
				})
			}
		}()

		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					op, _ := r.Get("a")
					if op.Status != models.StatusPending {
						assert.Equal(t, op.Status.String(), op.PlatformOperationID)
					}
				}
			}()
		}
		wg.Wait()
	})
}

func TestList(t *testing.T) {
	r := New(0)
	for i, id := range []string{"a", "b", "c"} {
		r.Create(newOp(id, base.Add(time.Duration(i)*time.Second)))
	}

	ops := r.List()
	require.Len(t, ops, 3)
	assert.Equal(t, "c", ops[0].ID)
	assert.Equal(t, "a", ops[2].ID)
	assert.Equal(t, 3, r.Len())
}

func TestSweep(t *testing.T) {
	t.Run("evicts only expired terminal entries", func(t *testing.T) {
		r := New(time.Hour)
		r.now = func() time.Time { return base }

		r.Create(newOp("done-old", base))
		r.Transition("done-old", models.StatusSucceeded, nil)

		r.now = func() time.Time { return base.Add(50 * time.Minute) }
		r.Create(newOp("done-recent", base))
		r.Transition("done-recent", models.StatusFailed, nil)

		r.Create(newOp("active", base))
		r.Transition("active", models.StatusProcessing, nil)

		n := r.Sweep(base.Add(61 * time.Minute))
		assert.Equal(t, 1, n)

		_, ok := r.Get("done-old")
		assert.False(t, ok)
		_, ok = r.Get("done-recent")
		assert.True(t, ok)
		_, ok = r.Get("active")
		assert.True(t, ok)
	})

	t.Run("active entries survive any age", func(t *testing.T) {
		r := New(time.Minute)
		r.Create(newOp("pending", base))
		assert.Zero(t, r.Sweep(base.Add(24*time.Hour)))
	})
}

func TestRun(t *testing.T) {
	r := New(time.Millisecond)
	r.now = func() time.Time { return base }
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("op-%d", i)
		r.Create(newOp(id, base))
		r.Transition(id, models.StatusSucceeded, nil)
	}
	r.now = func() time.Time { return base.Add(time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
