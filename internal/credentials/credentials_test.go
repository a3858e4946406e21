package credentials

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/repositories"
	"github.com/desertthunder/rbxbridge/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var exampleTokens = models.TokenSet{
	AccessToken:  "access-1",
	RefreshToken: "refresh-1",
	TokenType:    "Bearer",
	ExpiresAt:    time.Date(2025, 3, 1, 12, 15, 0, 0, time.UTC),
	Scopes:       []string{"openid", "asset:write"},
	User:         models.UserInfo{UserID: "42", Username: "builder"},
}

func testSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewSealer(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return s
}

func TestSealer(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		s := testSealer(t)

		sealed, err := s.Seal([]byte("secret"))
		require.NoError(t, err)
		assert.NotContains(t, string(sealed), "secret")

		plain, err := s.Open(sealed)
		require.NoError(t, err)
		assert.Equal(t, "secret", string(plain))
	})

	t.Run("nonces differ", func(t *testing.T) {
		s := testSealer(t)
		a, _ := s.Seal([]byte("same"))
		b, _ := s.Seal([]byte("same"))
		assert.NotEqual(t, a, b)
	})

	t.Run("wrong key", func(t *testing.T) {
		sealed, _ := testSealer(t).Seal([]byte("secret"))
		other, _ := NewSealer(bytes.Repeat([]byte{8}, 32))

		_, err := other.Open(sealed)
		assert.ErrorIs(t, err, ErrSealedData)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := testSealer(t).Open([]byte("short"))
		assert.ErrorIs(t, err, ErrSealedData)
	})

	t.Run("bad key size", func(t *testing.T) {
		_, err := NewSealer([]byte("too short"))
		assert.Error(t, err)
	})
}

func TestLoadOrCreateKey(t *testing.T) {
	t.Run("creates with owner-only mode then reuses", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sub", "credentials.key")

		first, err := LoadOrCreateKey(path)
		require.NoError(t, err)
		assert.Len(t, first, 32)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		second, err := LoadOrCreateKey(path)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("rejects corrupt key file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "credentials.key")
		require.NoError(t, os.WriteFile(path, []byte("nope"), 0o600))

		_, err := LoadOrCreateKey(path)
		assert.Error(t, err)
	})
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		_, ok, err := NewMemoryStore().Get(ctx)
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("put get clear", func(t *testing.T) {
		s := NewMemoryStore()
		require.NoError(t, s.Put(ctx, exampleTokens))

		got, ok, err := s.Get(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, exampleTokens, got)

		require.NoError(t, s.Clear(ctx))
		_, ok, _ = s.Get(ctx)
		assert.False(t, ok)
	})

	t.Run("returned sets are copies", func(t *testing.T) {
		s := NewMemoryStore()
		s.Put(ctx, exampleTokens)

		got, _, _ := s.Get(ctx)
		got.Scopes[0] = "mutated"

		again, _, _ := s.Get(ctx)
		assert.Equal(t, "openid", again.Scopes[0])
	})

	t.Run("concurrent readers see whole sets", func(t *testing.T) {
		s := NewMemoryStore()
		s.Put(ctx, exampleTokens)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(2)
			go func(i int) {
				defer wg.Done()
				ts := exampleTokens
				ts.AccessToken = "access-" + string(rune('a'+i))
				ts.RefreshToken = "refresh-" + string(rune('a'+i))
				s.Put(ctx, ts)
			}(i)
			go func() {
				defer wg.Done()
				ts, ok, _ := s.Get(ctx)
				if ok {
					assert.Equal(t, ts.AccessToken[len("access-"):], ts.RefreshToken[len("refresh-"):])
				}
			}()
		}
		wg.Wait()
	})
}

func setupRepo(t *testing.T) *repositories.CredentialRepository {
	t.Helper()
	ctx := context.Background()

	db, err := shared.NewDatabase(":memory:")
	require.NoError(t, err)
	require.NoError(t, shared.RunMigrations(ctx, db))
	t.Cleanup(func() { db.Close() })

	return repositories.NewCredentialRepository(db)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	logger := shared.NewLogger(&bytes.Buffer{})

	t.Run("survives reopen", func(t *testing.T) {
		repo := setupRepo(t)
		sealer := testSealer(t)

		store, err := OpenSQLiteStore(ctx, repo, sealer, logger)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, exampleTokens))

		blob, ok, _ := repo.Load(ctx)
		require.True(t, ok)
		assert.NotContains(t, string(blob), "access-1")

		reopened, err := OpenSQLiteStore(ctx, repo, sealer, logger)
		require.NoError(t, err)

		got, ok, err := reopened.Get(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, exampleTokens.AccessToken, got.AccessToken)
		assert.Equal(t, exampleTokens.User, got.User)
		assert.True(t, exampleTokens.ExpiresAt.Equal(got.ExpiresAt))
	})

	t.Run("clear removes persisted copy", func(t *testing.T) {
		repo := setupRepo(t)
		store, _ := OpenSQLiteStore(ctx, repo, testSealer(t), logger)
		store.Put(ctx, exampleTokens)

		require.NoError(t, store.Clear(ctx))

		_, ok, _ := store.Get(ctx)
		assert.False(t, ok)
		_, ok, _ = repo.Load(ctx)
		assert.False(t, ok)
	})

	t.Run("unreadable blob starts disconnected", func(t *testing.T) {
		repo := setupRepo(t)
		require.NoError(t, repo.Save(ctx, []byte("garbage that is long enough to look sealed...")))

		store, err := OpenSQLiteStore(ctx, repo, testSealer(t), logger)
		require.NoError(t, err)

		_, ok, _ := store.Get(ctx)
		assert.False(t, ok)
		_, ok, _ = repo.Load(ctx)
		assert.False(t, ok)
	})

	t.Run("clear empties memory even when delete fails", func(t *testing.T) {
		failing := &failingRepo{}
		store, err := OpenSQLiteStore(ctx, failing, testSealer(t), logger)
		require.NoError(t, err)
		store.cache.Put(ctx, exampleTokens)

		err = store.Clear(ctx)
		assert.Error(t, err)

		_, ok, _ := store.Get(ctx)
		assert.False(t, ok)
	})

	t.Run("failed save keeps previous set", func(t *testing.T) {
		failing := &failingRepo{}
		store, _ := OpenSQLiteStore(ctx, failing, testSealer(t), logger)
		store.cache.Put(ctx, exampleTokens)

		next := exampleTokens
		next.AccessToken = "access-2"
		assert.Error(t, store.Put(ctx, next))

		got, _, _ := store.Get(ctx)
		assert.Equal(t, "access-1", got.AccessToken)
	})
}

type failingRepo struct{}

func (f *failingRepo) Load(context.Context) ([]byte, bool, error) { return nil, false, nil }
func (f *failingRepo) Save(context.Context, []byte) error         { return errors.New("disk full") }
func (f *failingRepo) Delete(context.Context) error               { return errors.New("disk full") }
