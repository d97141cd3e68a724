package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/maauso/mediaflow/internal/storage"
)

// ObjectReader is the part of the object store the server needs.
type ObjectReader interface {
	Stat(ctx context.Context, key string) (storage.ObjectInfo, error)
	OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
}

// Server answers range requests against the object store.
type Server struct {
	store    ObjectReader
	config   WriterConfig
	logger   *slog.Logger
	streamed func(n int64)
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithWriterConfig sets the timeout-writer settings used by Response.Write.
func WithWriterConfig(cfg WriterConfig) ServerOption {
	return func(s *Server) { s.config = cfg }
}

// WithStreamedBytes registers a callback receiving the bytes sent per response.
func WithStreamedBytes(fn func(n int64)) ServerOption {
	return func(s *Server) { s.streamed = fn }
}

// NewServer creates a new Server.
func NewServer(store ObjectReader, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:  store,
		config: DefaultWriterConfig(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Response is a prepared answer. Body is positioned at the requested span and
// must be consumed with Write or closed with Close.
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
	Length int64

	server *Server
}

// ServeRange resolves rangeHeader against the object at storagePath.
// Missing objects return an error wrapping storage.ErrNotFound; unsatisfiable
// spans return a *RangeError. Malformed headers yield the whole object.
func (s *Server) ServeRange(ctx context.Context, storagePath, rangeHeader, contentType string) (*Response, error) {
	info, err := s.store.Stat(ctx, storagePath)
	if err != nil {
		return nil, err
	}

	rng, err := ParseRange(rangeHeader, info.Size)
	if err != nil {
		return nil, err
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(http.Header)
	header.Set("Content-Type", contentType)
	header.Set("Accept-Ranges", "bytes")

	status := http.StatusOK
	offset, length := int64(0), info.Size
	if rng != nil {
		status = http.StatusPartialContent
		offset, length = rng.Start, rng.Length()
		header.Set("Content-Range", rng.ContentRange(info.Size))
	}
	header.Set("Content-Length", strconv.FormatInt(length, 10))

	body, err := s.store.OpenRange(ctx, storagePath, offset, length)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", storagePath, err)
	}

	return &Response{
		Status: status,
		Header: header,
		Body:   body,
		Length: length,
		server: s,
	}, nil
}

// Write sends the headers and streams the body through a TimeoutWriter.
// It always closes the body. Client disconnects are reported as ErrClientGone.
func (r *Response) Write(ctx context.Context, w http.ResponseWriter) (int64, error) {
	defer func() { _ = r.Body.Close() }()

	for k, v := range r.Header {
		w.Header()[k] = v
	}
	w.WriteHeader(r.Status)

	tw := NewTimeoutWriter(ctx, w, r.server.config, r.server.logger)
	defer func() { _ = tw.Close() }()

	n, err := io.Copy(tw, r.Body)
	if r.server.streamed != nil {
		r.server.streamed(n)
	}
	if err != nil && !errors.Is(err, ErrClientGone) {
		r.server.logger.Warn("stream interrupted",
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
	}
	return n, err
}

// Close releases the body without sending it.
func (r *Response) Close() error {
	return r.Body.Close()
}
