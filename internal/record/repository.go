package record

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record cannot be found by ID.
var ErrNotFound = errors.New("media record not found")

// ErrAlreadyExists is returned when creating a record whose ID is taken.
var ErrAlreadyExists = errors.New("media record already exists")

// Repository defines the interface for media record persistence.
// It acts as a port in the hexagonal architecture pattern.
//
// Every mutating method is a single atomic update against the store. Callers never
// read a record, change it and write it back. All mutating methods return
// ErrNotFound when the record no longer exists.
type Repository interface {
	// Create persists a new record.
	Create(ctx context.Context, rec *Record) error

	// FindByID retrieves a record by its unique identifier.
	// Returns ErrNotFound if the record does not exist.
	FindByID(ctx context.Context, id string) (*Record, error)

	// ListByTenant returns the records of a tenant, newest first.
	ListByTenant(ctx context.Context, tenantID string) ([]*Record, error)

	// ListByStatus returns all records in one of the given states.
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Record, error)

	// Delete removes a record from storage.
	Delete(ctx context.Context, id string) error

	// BeginProcessing moves the record to processing and resets progress to 0.
	// Returns ErrInvalidTransition if the current status does not allow it.
	BeginProcessing(ctx context.Context, id string) error

	// UpdateProgress sets the progress of the active run.
	UpdateProgress(ctx context.Context, id string, progress int) error

	// Complete stores a terminal status together with the sensitivity
	// and sets progress to 100.
	Complete(ctx context.Context, id string, status Status, sensitivity Sensitivity) error

	// Override applies an administrative status and/or sensitivity change.
	Override(ctx context.Context, id string, o Override) error
}
