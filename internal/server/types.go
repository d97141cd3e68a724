// Package server provides the HTTP server for mediaflow.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/mediaflow/internal/record"
)

// MediaResponse is the HTTP representation of a media record.
type MediaResponse struct {
	// ID is the unique identifier of the record.
	ID string `json:"id"`
	// TenantID is the tenant owning the record.
	TenantID string `json:"tenantId"`
	// OwnerID is the principal that uploaded the record.
	OwnerID string `json:"ownerId"`
	// OriginalName is the uploaded file name.
	OriginalName string `json:"originalName,omitempty"`
	// MimeType is the detected media type.
	MimeType string `json:"mimeType"`
	// SizeBytes is the size of the stored bytes.
	SizeBytes int64 `json:"sizeBytes"`
	// Status is the lifecycle state.
	Status string `json:"status"`
	// Progress is the percentage of completion (0-100).
	Progress int `json:"progress"`
	// Sensitivity is the classification verdict.
	Sensitivity string `json:"sensitivity"`
	// StreamURL is where the bytes can be played back.
	StreamURL string `json:"streamUrl"`
	// CreatedAt is when the record was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the record last changed.
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListMediaResponse is the HTTP response for listing a tenant's media.
type ListMediaResponse struct {
	Media []MediaResponse `json:"media"`
}

// ReviewRequest is the HTTP request body for an administrative override.
// At least one field must be set.
type ReviewRequest struct {
	// Status replaces the lifecycle state.
	Status string `json:"status" validate:"omitempty,oneof=uploaded processing processed failed"`
	// Sensitivity replaces the classification verdict.
	Sensitivity string `json:"sensitivity" validate:"required_without=Status,omitempty,oneof=unknown safe flagged"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

// Error codes returned in ErrorResponse.Code.
const (
	CodeNotFound            = "NOT_FOUND"
	CodeRangeNotSatisfiable = "RANGE_NOT_SATISFIABLE"
	CodeValidation          = "VALIDATION_ERROR"
	CodeInvalidJSON         = "INVALID_JSON"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeUploadFailed        = "UPLOAD_FAILED"
	CodeTooLarge            = "PAYLOAD_TOO_LARGE"
	CodeInternal            = "INTERNAL_ERROR"
)

func toMediaResponse(rec *record.Record) MediaResponse {
	return MediaResponse{
		ID:           rec.ID,
		TenantID:     rec.TenantID,
		OwnerID:      rec.OwnerID,
		OriginalName: rec.OriginalName,
		MimeType:     rec.MimeType,
		SizeBytes:    rec.SizeBytes,
		Status:       string(rec.Status),
		Progress:     rec.Progress,
		Sensitivity:  string(rec.Sensitivity),
		StreamURL:    "/media/stream/" + rec.ID,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func (r ReviewRequest) toOverride() record.Override {
	var o record.Override
	if r.Status != "" {
		s := record.Status(r.Status)
		o.Status = &s
	}
	if r.Sensitivity != "" {
		s := record.Sensitivity(r.Sensitivity)
		o.Sensitivity = &s
	}
	return o
}
