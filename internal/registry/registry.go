// Package registry is the in-memory index of import operations.
//
// Every read returns a copy of the latest completed transition. Transitions are strictly
// forward (see [models.Status.CanTransitionTo]); terminal entries are evicted once they have
// been finished for longer than the retention window, active entries never are.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/desertthunder/rbxbridge/internal/models"
	"github.com/desertthunder/rbxbridge/internal/shared"
)

// DefaultRetention is how long a finished operation stays queryable.
const DefaultRetention = time.Hour

// Observer is notified after each applied transition with the operation's new snapshot.
type Observer func(prev models.Status, op models.ImportOperation)

// Registry maps operation ids to their current [models.ImportOperation].
type Registry struct {
	mu        sync.RWMutex
	ops       map[string]*models.ImportOperation
	retention time.Duration
	now       func() time.Time
	observers []Observer
}

// New creates an empty Registry. A non-positive retention uses [DefaultRetention].
func New(retention time.Duration) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Registry{
		ops:       make(map[string]*models.ImportOperation),
		retention: retention,
		now:       time.Now,
	}
}

// OnTransition registers fn to run after every transition. Observers run outside the lock.
func (r *Registry) OnTransition(fn Observer) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// Create registers op. Ids must be unique.
func (r *Registry) Create(op models.ImportOperation) error {
	if op.ID == "" {
		return fmt.Errorf("%w: operation id is empty", shared.ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.ops[op.ID]; exists {
		return fmt.Errorf("%w: operation %s already registered", shared.ErrInvalidArgument, op.ID)
	}
	c := op
	r.ops[op.ID] = &c
	return nil
}

// Get returns a copy of the operation with id.
func (r *Registry) Get(id string) (models.ImportOperation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[id]
	if !ok {
		return models.ImportOperation{}, false
	}
	return copyOp(op), true
}

// List returns copies of every retained operation, newest first.
func (r *Registry) List() []models.ImportOperation {
	r.mu.RLock()
	out := make([]models.ImportOperation, 0, len(r.ops))
	for _, op := range r.ops {
		out = append(out, copyOp(op))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of retained operations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

// Transition moves operation id to next, applying mutate to the stored value first.
//
// Illegal transitions return [shared.ErrInvalidTransition] and leave the entry untouched.
// Entering a terminal status stamps FinishedAt.
func (r *Registry) Transition(id string, next models.Status, mutate func(*models.ImportOperation)) (models.ImportOperation, error) {
	r.mu.Lock()
	op, ok := r.ops[id]
	if !ok {
		r.mu.Unlock()
		return models.ImportOperation{}, fmt.Errorf("%w: operation %s", shared.ErrNotFound, id)
	}
	prev := op.Status
	if !prev.CanTransitionTo(next) {
		r.mu.Unlock()
		return models.ImportOperation{}, fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, prev, next)
	}

	updated := copyOp(op)
	if mutate != nil {
		mutate(&updated)
	}
	now := r.now()
	updated.ID = op.ID
	updated.Status = next
	updated.UpdatedAt = now
	if next.Terminal() {
		updated.FinishedAt = &now
	}
	*op = updated

	snapshot := copyOp(op)
	observers := r.observers
	r.mu.Unlock()

	for _, fn := range observers {
		fn(prev, snapshot)
	}
	return snapshot, nil
}

// Sweep evicts terminal operations finished more than the retention window before now.
func (r *Registry) Sweep(now time.Time) int {
	cutoff := now.Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, op := range r.ops {
		if op.Status.Terminal() && op.FinishedAt != nil && op.FinishedAt.Before(cutoff) {
			delete(r.ops, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.now())
		}
	}
}

func copyOp(op *models.ImportOperation) models.ImportOperation {
	c := *op
	if op.FinishedAt != nil {
		t := *op.FinishedAt
		c.FinishedAt = &t
	}
	return c
}
