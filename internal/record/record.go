// Package record provides the MediaRecord aggregate tracked by the processing
// pipeline. It includes the lifecycle states and the allowed transitions between them,
// as well as the repository port and its adapters for persistence.
package record

import (
	"errors"
	"slices"
	"time"

	"github.com/maauso/mediaflow/internal/record/id"
)

// Status represents the lifecycle state of a media record.
type Status string

const (
	// StatusUploaded indicates the bytes are stored and no run has started yet.
	StatusUploaded Status = "uploaded"
	// StatusProcessing indicates a processing run is active.
	StatusProcessing Status = "processing"
	// StatusProcessed indicates classification completed successfully.
	StatusProcessed Status = "processed"
	// StatusFailed indicates extraction or classification failed.
	StatusFailed Status = "failed"
)

// IsValid returns true if the status is one of the known states.
func (s Status) IsValid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true for processed and failed.
func (s Status) IsTerminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// Sensitivity is the outcome of content classification.
type Sensitivity string

const (
	// SensitivityUnknown is the value until a classification completes.
	SensitivityUnknown Sensitivity = "unknown"
	// SensitivitySafe means the classifier found nothing objectionable.
	SensitivitySafe Sensitivity = "safe"
	// SensitivityFlagged means the classifier tripped one of its thresholds.
	SensitivityFlagged Sensitivity = "flagged"
)

// IsValid returns true if the sensitivity is one of the known values.
func (s Sensitivity) IsValid() bool {
	return s == SensitivityUnknown || s == SensitivitySafe || s == SensitivityFlagged
}

// IsVerdict returns true for the two values a classification can produce.
func (s Sensitivity) IsVerdict() bool {
	return s == SensitivitySafe || s == SensitivityFlagged
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions the pipeline may perform.
// processing -> processing restarts an interrupted run.
// Administrative overrides are not subject to this table.
var validTransitions = map[Status][]Status{
	StatusUploaded:   {StatusProcessing},
	StatusProcessing: {StatusProcessing, StatusProcessed, StatusFailed},
	StatusProcessed:  {},
	StatusFailed:     {},
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// Record is a media object known to the pipeline.
// ID, TenantID, OwnerID, StoragePath, SizeBytes and MimeType never change after creation.
type Record struct {
	// ID is the unique identifier for this record.
	ID string
	// TenantID is the isolation boundary the record belongs to.
	TenantID string
	// OwnerID is the principal that uploaded the record.
	OwnerID string
	// StoragePath is the object key of the backing bytes.
	StoragePath string
	// OriginalName is the client supplied file name.
	OriginalName string
	// MimeType is the detected media type of the backing bytes.
	MimeType string
	// SizeBytes is the size of the backing bytes.
	SizeBytes int64
	// Status is the current lifecycle state.
	Status Status
	// Progress is the percentage of completion (0-100) of the current run.
	Progress int
	// Sensitivity is the classification verdict, unknown until one completes.
	Sensitivity Sensitivity
	// CreatedAt is when the record was created.
	CreatedAt time.Time
	// UpdatedAt is when the record was last updated.
	UpdatedAt time.Time
}

// New creates a new Record with a generated ID in the uploaded state.
func New(tenantID, ownerID string) *Record {
	return NewWithID(id.Generate(), tenantID, ownerID)
}

// NewWithID creates a new Record with the specified ID in the uploaded state.
// Useful for testing or when the ID must be known before the bytes are stored.
func NewWithID(recordID, tenantID, ownerID string) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:          recordID,
		TenantID:    tenantID,
		OwnerID:     ownerID,
		Status:      StatusUploaded,
		Sensitivity: SensitivityUnknown,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone creates a copy of the record for safe reads.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// Override carries an administrative change to status and/or sensitivity.
// Nil fields are left untouched.
type Override struct {
	Status      *Status
	Sensitivity *Sensitivity
}

// Empty reports whether the override changes nothing.
func (o Override) Empty() bool {
	return o.Status == nil && o.Sensitivity == nil
}

// ClampProgress bounds p to 0-100.
func ClampProgress(p int) int {
	return max(0, min(100, p))
}
