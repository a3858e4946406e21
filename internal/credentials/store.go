// package credentials holds the bridge's single platform TokenSet.
//
// [MemoryStore] keeps it for the lifetime of the process; [SQLiteStore] adds a sealed copy
// in the database so a restarted bridge comes back connected.
// Readers always observe the last fully written TokenSet, never a partial one.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/rbxbridge/internal/models"
)

// Store is the Credential Store: at most one TokenSet, replaced or cleared as a whole.
type Store interface {
	// Get returns the current TokenSet, or ok=false when disconnected.
	Get(ctx context.Context) (ts models.TokenSet, ok bool, err error)
	// Put replaces the current TokenSet.
	Put(ctx context.Context, ts models.TokenSet) error
	// Clear removes the TokenSet. Clearing an empty store succeeds.
	Clear(ctx context.Context) error
}

// MemoryStore is an in-process [Store].
type MemoryStore struct {
	mu      sync.RWMutex
	current *models.TokenSet
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Get(context.Context) (models.TokenSet, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return models.TokenSet{}, false, nil
	}
	return clone(*s.current), true, nil
}

func (s *MemoryStore) Put(_ context.Context, ts models.TokenSet) error {
	c := clone(ts)
	s.mu.Lock()
	s.current = &c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	return nil
}

func clone(ts models.TokenSet) models.TokenSet {
	ts.Scopes = append([]string(nil), ts.Scopes...)
	return ts
}

// BlobRepository persists one opaque blob. Implemented by repositories.CredentialRepository.
type BlobRepository interface {
	Load(ctx context.Context) ([]byte, bool, error)
	Save(ctx context.Context, blob []byte) error
	Delete(ctx context.Context) error
}

// SQLiteStore is a [Store] backed by a sealed blob in the database with an in-memory copy for reads.
type SQLiteStore struct {
	cache  *MemoryStore
	repo   BlobRepository
	sealer *Sealer
	logger *log.Logger
	mu     sync.Mutex // serializes writes so the cache and the row never disagree
}

// OpenSQLiteStore loads any persisted TokenSet into memory.
//
// A blob that cannot be unsealed (for example after the key file was replaced) is discarded
// and the bridge starts disconnected.
func OpenSQLiteStore(ctx context.Context, repo BlobRepository, sealer *Sealer, logger *log.Logger) (*SQLiteStore, error) {
	s := &SQLiteStore{cache: NewMemoryStore(), repo: repo, sealer: sealer, logger: logger}

	blob, ok, err := repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s, nil
	}

	ts, err := s.decode(blob)
	if err != nil {
		logger.Warn("discarding unreadable stored credentials", "error", err)
		if err := repo.Delete(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}

	s.cache.Put(ctx, ts)
	logger.Info("restored stored credentials", "user", ts.User.Name(), "expires_at", ts.ExpiresAt)
	return s, nil
}

func (s *SQLiteStore) Get(ctx context.Context) (models.TokenSet, bool, error) {
	return s.cache.Get(ctx)
}

func (s *SQLiteStore) Put(ctx context.Context, ts models.TokenSet) error {
	plain, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	sealed, err := s.sealer.Seal(plain)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Save(ctx, sealed); err != nil {
		return err
	}
	return s.cache.Put(ctx, ts)
}

// Clear empties the in-memory copy first so the bridge reads as disconnected even if the delete fails.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Clear(ctx)
	return s.repo.Delete(ctx)
}

func (s *SQLiteStore) decode(blob []byte) (models.TokenSet, error) {
	plain, err := s.sealer.Open(blob)
	if err != nil {
		return models.TokenSet{}, err
	}

	var ts models.TokenSet
	if err := json.Unmarshal(plain, &ts); err != nil {
		return models.TokenSet{}, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return ts, nil
}
