// Package library provides the catalog use cases around media records:
// upload, lookup, deletion, administrative review, playback and resuming
// runs interrupted by a restart. Processing itself is delegated to the pipeline.
package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/maauso/mediaflow/internal/events"
	"github.com/maauso/mediaflow/internal/pipeline"
	"github.com/maauso/mediaflow/internal/record"
	"github.com/maauso/mediaflow/internal/storage"
	"github.com/maauso/mediaflow/internal/streaming"
)

// Static errors returned by Service.
var (
	// ErrEmptyUpload is returned when an upload carries no bytes.
	ErrEmptyUpload = errors.New("library: empty upload")
	// ErrEmptyOverride is returned when a review changes nothing.
	ErrEmptyOverride = errors.New("library: override changes nothing")
	// ErrUploadFailed wraps failures writing the backing bytes.
	ErrUploadFailed = errors.New("library: upload failed")
)

// sniffLen is how much of an upload is inspected to detect its type.
const sniffLen = 3072

// ObjectStore is the part of the backing store the catalog writes to.
type ObjectStore interface {
	Put(ctx context.Context, key string, data io.Reader) (int64, error)
	Delete(ctx context.Context, key string) error
}

// Runner starts and cancels processing runs.
type Runner interface {
	StartProcessing(ctx context.Context, rec *record.Record) (*pipeline.RunHandle, error)
	CancelByID(mediaID string) bool
}

// RangeServer opens stored objects for playback.
type RangeServer interface {
	ServeRange(ctx context.Context, storagePath, rangeHeader, contentType string) (*streaming.Response, error)
}

// UploadInput describes one uploaded object.
type UploadInput struct {
	// TenantID and OwnerID come from the authenticated principal.
	TenantID string
	OwnerID  string
	// OriginalName is the client supplied file name, if any.
	OriginalName string
	// DeclaredType is the client supplied content type, used when sniffing is inconclusive.
	DeclaredType string
	// Body is the object payload.
	Body io.Reader
}

// Service orchestrates the catalog.
type Service struct {
	repo      record.Repository
	store     ObjectStore
	runner    Runner
	publisher pipeline.Publisher
	streamer  RangeServer
	logger    *slog.Logger
}

// NewService creates a new Service.
func NewService(
	repo record.Repository,
	store ObjectStore,
	runner Runner,
	publisher pipeline.Publisher,
	streamer RangeServer,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		store:     store,
		runner:    runner,
		publisher: publisher,
		streamer:  streamer,
		logger:    logger,
	}
}

// Upload stores the payload, creates its record and starts processing.
// It returns once the run has been started; it never waits for classification.
func (s *Service) Upload(ctx context.Context, in UploadInput) (*record.Record, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(in.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: read payload: %w", ErrUploadFailed, err)
	}
	if n == 0 {
		return nil, ErrEmptyUpload
	}
	head = head[:n]
	detected := mimetype.Detect(head)

	rec := record.New(in.TenantID, in.OwnerID)
	rec.OriginalName = cleanName(in.OriginalName)
	rec.MimeType = contentType(detected, in.DeclaredType)

	ext := filepath.Ext(rec.OriginalName)
	if ext == "" {
		ext = detected.Extension()
	}
	key, err := storage.ObjectKey(in.TenantID, rec.ID, ext)
	if err != nil {
		return nil, err
	}
	rec.StoragePath = key

	size, err := s.store.Put(ctx, key, io.MultiReader(bytes.NewReader(head), in.Body))
	if err != nil {
		s.discard(key)
		return nil, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	rec.SizeBytes = size

	if err := s.repo.Create(ctx, rec); err != nil {
		s.discard(key)
		return nil, fmt.Errorf("create record: %w", err)
	}

	s.logger.Info("media uploaded",
		slog.String("media_id", rec.ID),
		slog.String("tenant_id", rec.TenantID),
		slog.String("mime_type", rec.MimeType),
		slog.Int64("size_bytes", rec.SizeBytes),
	)
	s.publisher.Publish(events.MediaUploaded{TenantID: rec.TenantID, MediaID: rec.ID}, events.TenantTopic(rec.TenantID))

	if _, err := s.runner.StartProcessing(ctx, rec); err != nil {
		// The record stays uploaded and is picked up by ResumeInterrupted.
		s.logger.Warn("failed to start processing",
			slog.String("media_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return rec, nil
	}

	if current, err := s.repo.FindByID(ctx, rec.ID); err == nil {
		return current, nil
	}
	return rec, nil
}

// Get returns a record of the tenant. Records of other tenants are reported
// as record.ErrNotFound.
func (s *Service) Get(ctx context.Context, tenantID, mediaID string) (*record.Record, error) {
	rec, err := s.repo.FindByID(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != tenantID {
		return nil, record.ErrNotFound
	}
	return rec, nil
}

// List returns the tenant's records, newest first.
func (s *Service) List(ctx context.Context, tenantID string) ([]*record.Record, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

// Delete cancels any active run, removes the record and then its bytes.
// It is safe while processing is in flight.
func (s *Service) Delete(ctx context.Context, tenantID, mediaID string) error {
	rec, err := s.Get(ctx, tenantID, mediaID)
	if err != nil {
		return err
	}

	cancelled := s.runner.CancelByID(rec.ID)

	if err := s.repo.Delete(ctx, rec.ID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if err := s.store.Delete(ctx, rec.StoragePath); err != nil {
		s.logger.Warn("failed to delete backing object",
			slog.String("media_id", rec.ID),
			slog.String("storage_path", rec.StoragePath),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("media deleted",
		slog.String("media_id", rec.ID),
		slog.String("tenant_id", rec.TenantID),
		slog.Bool("run_cancelled", cancelled),
	)
	s.publisher.Publish(events.MediaDeleted{TenantID: rec.TenantID, MediaID: rec.ID}, events.TenantTopic(rec.TenantID))
	return nil
}

// Override applies an administrative review. It races with an active run
// and the last write wins.
func (s *Service) Override(ctx context.Context, tenantID, mediaID string, o record.Override) (*record.Record, error) {
	if o.Empty() {
		return nil, ErrEmptyOverride
	}
	if _, err := s.Get(ctx, tenantID, mediaID); err != nil {
		return nil, err
	}
	if err := s.repo.Override(ctx, mediaID, o); err != nil {
		return nil, fmt.Errorf("override: %w", err)
	}

	attrs := []any{slog.String("media_id", mediaID)}
	if o.Status != nil {
		attrs = append(attrs, slog.String("status", string(*o.Status)))
	}
	if o.Sensitivity != nil {
		attrs = append(attrs, slog.String("sensitivity", string(*o.Sensitivity)))
	}
	s.logger.Info("media reviewed", attrs...)

	return s.repo.FindByID(ctx, mediaID)
}

// Open prepares playback of a record's bytes. Playback is not tenant scoped
// and does not depend on the processing outcome.
func (s *Service) Open(ctx context.Context, mediaID, rangeHeader string) (*streaming.Response, error) {
	rec, err := s.repo.FindByID(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	return s.streamer.ServeRange(ctx, rec.StoragePath, rangeHeader, rec.MimeType)
}

// ResumeInterrupted restarts runs for records a previous process left
// uploaded or processing. Progress restarts at zero. It returns the number of
// runs started.
func (s *Service) ResumeInterrupted(ctx context.Context) (int, error) {
	recs, err := s.repo.ListByStatus(ctx, record.StatusUploaded, record.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list interrupted: %w", err)
	}

	started := 0
	for _, rec := range recs {
		if _, err := s.runner.StartProcessing(ctx, rec); err != nil {
			if errors.Is(err, pipeline.ErrShuttingDown) {
				return started, err
			}
			s.logger.Warn("failed to resume processing",
				slog.String("media_id", rec.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		started++
	}

	if started > 0 {
		s.logger.Info("resumed interrupted runs", slog.Int("count", started))
	}
	return started, nil
}

func (s *Service) discard(key string) {
	if err := s.store.Delete(context.Background(), key); err != nil {
		s.logger.Warn("failed to discard partial upload",
			slog.String("storage_path", key),
			slog.String("error", err.Error()),
		)
	}
}

// cleanName strips directories from a client file name and bounds its length.
func cleanName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	name = filepath.Base(name)
	if name == "." || name == "/" {
		return ""
	}
	for len(name) > 255 {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}

func contentType(detected *mimetype.MIME, declared string) string {
	if detected.Is("application/octet-stream") && declared != "" {
		return declared
	}
	return detected.String()
}
