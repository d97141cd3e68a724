package streaming

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Sentinel errors for streaming operations.
var (
	// ErrWriteTimeout indicates that a write exceeded the configured timeout,
	// usually because the client is reading too slowly.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone indicates that the client disconnected before the stream completed.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamCanceled indicates that the stream was stopped by Close or by the idle check.
	ErrStreamCanceled = errors.New("stream canceled")
)

// WriterConfig configures TimeoutWriter.
type WriterConfig struct {
	// WriteTimeout bounds a single write to the client.
	WriteTimeout time.Duration
	// IdleTimeout is the maximum time between successful writes.
	IdleTimeout time.Duration
	// ChunkSize splits large writes so cancellation is noticed between chunks (0 = off).
	ChunkSize int
}

// DefaultWriterConfig returns 30s write, 60s idle and 64KB chunks.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ChunkSize:    64 * 1024,
	}
}

// TimeoutWriter wraps an http.ResponseWriter so a stalled or vanished client
// cannot hold a stream open forever. Write deadlines are applied through
// http.ResponseController; writers that do not support deadlines still get
// idle detection and cancellation between chunks.
type TimeoutWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	ctx     context.Context
	cancel  context.CancelFunc
	config  WriterConfig
	logger  *slog.Logger
	started time.Time

	mu           sync.Mutex
	lastWrite    time.Time
	bytesWritten int64
	closed       bool
	idleExpired  bool
}

// NewTimeoutWriter creates a new timeout-protected writer bound to ctx,
// normally the request context.
func NewTimeoutWriter(ctx context.Context, w http.ResponseWriter, config WriterConfig, logger *slog.Logger) *TimeoutWriter {
	if logger == nil {
		logger = slog.Default()
	}
	writerCtx, cancel := context.WithCancel(ctx)
	now := time.Now()

	tw := &TimeoutWriter{
		w:         w,
		rc:        http.NewResponseController(w),
		ctx:       writerCtx,
		cancel:    cancel,
		config:    config,
		logger:    logger,
		started:   now,
		lastWrite: now,
	}

	go tw.idleChecker()

	return tw
}

// Write implements io.Writer.
func (tw *TimeoutWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if err := tw.check(); err != nil {
			return total, err
		}

		chunk := p
		if tw.config.ChunkSize > 0 && len(chunk) > tw.config.ChunkSize {
			chunk = p[:tw.config.ChunkSize]
		}

		n, err := tw.writeChunk(chunk)
		total += n
		if err != nil {
			return total, err
		}
		p = p[len(chunk):]
	}
	return total, nil
}

func (tw *TimeoutWriter) writeChunk(p []byte) (int, error) {
	if tw.config.WriteTimeout > 0 {
		// Unsupported writers (e.g. recorders) return ErrNotSupported; idle checks still apply.
		_ = tw.rc.SetWriteDeadline(time.Now().Add(tw.config.WriteTimeout))
	}

	n, err := tw.w.Write(p)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			tw.cancel()
			return n, ErrWriteTimeout
		}
		if tw.ctx.Err() != nil {
			return n, tw.contextError()
		}
		return n, err
	}

	tw.mu.Lock()
	tw.lastWrite = time.Now()
	tw.bytesWritten += int64(n)
	tw.mu.Unlock()

	_ = tw.rc.Flush()
	return n, nil
}

func (tw *TimeoutWriter) check() error {
	tw.mu.Lock()
	closed := tw.closed
	tw.mu.Unlock()
	if closed {
		return ErrStreamCanceled
	}
	if tw.ctx.Err() != nil {
		return tw.contextError()
	}
	return nil
}

// idleChecker cancels the stream when no write succeeded for IdleTimeout.
func (tw *TimeoutWriter) idleChecker() {
	if tw.config.IdleTimeout <= 0 {
		return
	}

	ticker := time.NewTicker(tw.config.IdleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tw.mu.Lock()
			idle := time.Since(tw.lastWrite)
			closed := tw.closed
			if !closed && idle > tw.config.IdleTimeout {
				tw.idleExpired = true
			}
			expired := tw.idleExpired
			tw.mu.Unlock()

			if closed {
				return
			}
			if expired {
				tw.logger.Warn("stream idle timeout exceeded", slog.Duration("idle", idle))
				tw.cancel()
				return
			}

		case <-tw.ctx.Done():
			return
		}
	}
}

// contextError maps the writer context state to a sentinel.
func (tw *TimeoutWriter) contextError() error {
	tw.mu.Lock()
	closed, idle := tw.closed, tw.idleExpired
	tw.mu.Unlock()
	if closed || idle {
		return ErrStreamCanceled
	}
	return ErrClientGone
}

// Close stops the idle checker. Close is idempotent.
func (tw *TimeoutWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return nil
	}
	tw.closed = true
	tw.cancel()
	return nil
}

// Stats returns the bytes written and the elapsed time.
func (tw *TimeoutWriter) Stats() (int64, time.Duration) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.bytesWritten, time.Since(tw.started)
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
