package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/mediaflow/internal/auth"
	"github.com/maauso/mediaflow/internal/library"
	"github.com/maauso/mediaflow/internal/record"
	"github.com/maauso/mediaflow/internal/storage"
	"github.com/maauso/mediaflow/internal/streaming"
)

// DefaultMaxUploadBytes bounds upload bodies when no limit is configured.
const DefaultMaxUploadBytes int64 = 2 << 30

// uploadFields are the multipart field names accepted for the payload.
var uploadFields = []string{"media", "video"}

// MediaService is the catalog the handlers delegate to.
type MediaService interface {
	Upload(ctx context.Context, in library.UploadInput) (*record.Record, error)
	Get(ctx context.Context, tenantID, mediaID string) (*record.Record, error)
	List(ctx context.Context, tenantID string) ([]*record.Record, error)
	Delete(ctx context.Context, tenantID, mediaID string) error
	Override(ctx context.Context, tenantID, mediaID string, o record.Override) (*record.Record, error)
	Open(ctx context.Context, mediaID, rangeHeader string) (*streaming.Response, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service        MediaService
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithMaxUploadBytes bounds the size of upload bodies.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service MediaService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:        service,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// UploadMedia handles POST /media requests. The payload is either the
// "media" (or "video") part of a multipart form or the raw request body.
// Processing starts in the background; the response does not wait for it.
func (h *Handlers) UploadMedia(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required", CodeUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	in := library.UploadInput{
		TenantID: principal.TenantID,
		OwnerID:  principal.UserID,
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		part, err := findUploadPart(r)
		if err != nil {
			h.logger.Warn("invalid multipart upload", slog.String("error", err.Error()))
			writeError(w, http.StatusBadRequest, err.Error(), CodeValidation)
			return
		}
		defer func() { _ = part.Close() }()
		in.Body = part
		in.OriginalName = part.FileName()
		in.DeclaredType = part.Header.Get("Content-Type")
	} else {
		in.Body = r.Body
		in.OriginalName = r.Header.Get("X-File-Name")
		in.DeclaredType = r.Header.Get("Content-Type")
	}

	rec, err := h.service.Upload(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, "upload media", err)
		return
	}

	writeJSON(w, http.StatusCreated, toMediaResponse(rec))
}

func findUploadPart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("read multipart body: %w", err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("missing media field")
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart body: %w", err)
		}
		if slices.Contains(uploadFields, part.FormName()) {
			return part, nil
		}
		_ = part.Close()
	}
}

// ListMedia handles GET /media requests.
func (h *Handlers) ListMedia(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required", CodeUnauthorized)
		return
	}

	recs, err := h.service.List(r.Context(), principal.TenantID)
	if err != nil {
		h.writeServiceError(w, "list media", err)
		return
	}

	resp := ListMediaResponse{Media: make([]MediaResponse, 0, len(recs))}
	for _, rec := range recs {
		resp.Media = append(resp.Media, toMediaResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMedia handles GET /media/{id} requests.
func (h *Handlers) GetMedia(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required", CodeUnauthorized)
		return
	}

	rec, err := h.service.Get(r.Context(), principal.TenantID, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "get media", err)
		return
	}
	writeJSON(w, http.StatusOK, toMediaResponse(rec))
}

// DeleteMedia handles DELETE /media/{id} requests.
func (h *Handlers) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required", CodeUnauthorized)
		return
	}

	if err := h.service.Delete(r.Context(), principal.TenantID, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, "delete media", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReviewMedia handles PATCH /media/{id}/review requests.
func (h *Handlers) ReviewMedia(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required", CodeUnauthorized)
		return
	}

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", CodeInvalidJSON)
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), CodeValidation)
		return
	}

	rec, err := h.service.Override(r.Context(), principal.TenantID, chi.URLParam(r, "id"), req.toOverride())
	if err != nil {
		h.writeServiceError(w, "review media", err)
		return
	}
	writeJSON(w, http.StatusOK, toMediaResponse(rec))
}

// StreamMedia handles GET /media/stream/{id} requests with byte-range support.
// Playback does not require authentication and works in every status.
func (h *Handlers) StreamMedia(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Open(r.Context(), chi.URLParam(r, "id"), r.Header.Get("Range"))
	if err != nil {
		var rangeErr *streaming.RangeError
		if errors.As(err, &rangeErr) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", rangeErr.Size))
			writeError(w, http.StatusRequestedRangeNotSatisfiable, "requested range not satisfiable", CodeRangeNotSatisfiable)
			return
		}
		h.writeServiceError(w, "stream media", err)
		return
	}

	if r.Method == http.MethodHead {
		_ = resp.Close()
		for k, v := range resp.Header {
			w.Header()[k] = v
		}
		w.WriteHeader(resp.Status)
		return
	}

	// Errors are logged by Write; the status line is already sent.
	_, _ = resp.Write(r.Context(), w)
}

// writeServiceError maps domain errors to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, op string, err error) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.Is(err, record.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "media not found", CodeNotFound)
	case errors.As(err, &maxBytesErr):
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("upload exceeds %d bytes", maxBytesErr.Limit), CodeTooLarge)
	case errors.Is(err, library.ErrEmptyUpload),
		errors.Is(err, library.ErrEmptyOverride),
		errors.Is(err, storage.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, err.Error(), CodeValidation)
	case errors.Is(err, library.ErrUploadFailed):
		h.logger.Error("upload failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to store upload", CodeUploadFailed)
	default:
		h.logger.Error("request failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error", CodeInternal)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
