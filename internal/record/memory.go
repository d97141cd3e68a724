package record

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access.
// Suitable for development and testing; swap for persistent storage in production.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryRepository creates a new in-memory record repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[string]*Record),
	}
}

// Create stores a clone of rec to avoid external mutations.
func (r *MemoryRepository) Create(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; ok {
		return ErrAlreadyExists
	}
	r.records[rec.ID] = rec.Clone()
	return nil
}

// FindByID retrieves a record by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// ListByTenant returns clones of the tenant's records, newest first.
func (r *MemoryRepository) ListByTenant(_ context.Context, tenantID string) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Record, 0)
	for _, rec := range r.records {
		if rec.TenantID == tenantID {
			result = append(result, rec.Clone())
		}
	}
	slices.SortFunc(result, func(a, b *Record) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	return result, nil
}

// ListByStatus returns clones of all records in one of the given states.
func (r *MemoryRepository) ListByStatus(_ context.Context, statuses ...Status) ([]*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Record, 0)
	for _, rec := range r.records {
		if slices.Contains(statuses, rec.Status) {
			result = append(result, rec.Clone())
		}
	}
	return result, nil
}

// Delete removes a record from storage.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; !ok {
		return ErrNotFound
	}
	delete(r.records, id)
	return nil
}

// BeginProcessing moves the record to processing with progress 0.
func (r *MemoryRepository) BeginProcessing(_ context.Context, id string) error {
	return r.update(id, func(rec *Record) error {
		if !CanTransition(rec.Status, StatusProcessing) {
			return ErrInvalidTransition
		}
		rec.Status = StatusProcessing
		rec.Progress = 0
		return nil
	})
}

// UpdateProgress sets the record's progress.
func (r *MemoryRepository) UpdateProgress(_ context.Context, id string, progress int) error {
	return r.update(id, func(rec *Record) error {
		rec.Progress = ClampProgress(progress)
		return nil
	})
}

// Complete stores the terminal status and sensitivity with progress 100.
func (r *MemoryRepository) Complete(_ context.Context, id string, status Status, sensitivity Sensitivity) error {
	return r.update(id, func(rec *Record) error {
		rec.Status = status
		rec.Sensitivity = sensitivity
		rec.Progress = 100
		return nil
	})
}

// Override applies an administrative change.
func (r *MemoryRepository) Override(_ context.Context, id string, o Override) error {
	return r.update(id, func(rec *Record) error {
		if o.Status != nil {
			rec.Status = *o.Status
		}
		if o.Sensitivity != nil {
			rec.Sensitivity = *o.Sensitivity
		}
		return nil
	})
}

// update applies fn to the stored record under the write lock.
func (r *MemoryRepository) update(id string, fn func(*Record) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(rec); err != nil {
		return err
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}
