// Package pipeline drives a media record through processing: simulated
// progress on a fixed cadence, then frame extraction and classification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maauso/mediaflow/internal/classify"
	"github.com/maauso/mediaflow/internal/events"
	"github.com/maauso/mediaflow/internal/media"
	"github.com/maauso/mediaflow/internal/record"
)

// ErrShuttingDown is returned by StartProcessing after Shutdown was called.
var ErrShuttingDown = errors.New("pipeline is shutting down")

// Run outcomes reported to the Observer.
const (
	OutcomeSafe    = "safe"
	OutcomeFlagged = "flagged"
	OutcomeFailed  = "failed"
)

// Publisher delivers events to topic subscribers.
type Publisher interface {
	Publish(e events.Event, topics ...string) int
}

// Classifier turns extracted frames into a verdict.
type Classifier interface {
	Classify(ctx context.Context, frames []string) (classify.Result, error)
}

// Materializer exposes a stored object as a local file.
type Materializer interface {
	Materialize(ctx context.Context, key, dir string) (string, error)
}

// ScratchSpace hands out per-run working directories.
type ScratchSpace interface {
	NewRunDir(name string) (string, error)
	RemoveRunDir(dir string) error
}

// Observer receives run lifecycle measurements.
type Observer interface {
	RunStarted()
	RunCancelled()
	RunFinished(outcome string, elapsed time.Duration)
	ExtractionFinished(elapsed time.Duration)
	ActiveRuns(n int)
}

type nopObserver struct{}

func (nopObserver) RunStarted() {}
func (nopObserver) RunCancelled() {}
func (nopObserver) RunFinished(string, time.Duration) {}
func (nopObserver) ExtractionFinished(time.Duration) {}
func (nopObserver) ActiveRuns(int) {}

// Config tunes the progress cadence and the classification step.
type Config struct {
	// TickInterval is the progress cadence.
	TickInterval time.Duration
	// MinStep and MaxStep bound each progress increment (inclusive).
	MinStep int
	MaxStep int
	// FrameCount is the number of frames sampled for classification.
	FrameCount int
	// ExtractTimeout bounds extraction and classification. Zero means no limit.
	ExtractTimeout time.Duration
	// MaxConcurrentExtractions bounds concurrent decoder processes.
	MaxConcurrentExtractions int
}

// DefaultConfig returns a 500ms cadence with 5-16 point steps and three frames.
func DefaultConfig() Config {
	return Config{
		TickInterval:             500 * time.Millisecond,
		MinStep:                  5,
		MaxStep:                  16,
		FrameCount:               3,
		MaxConcurrentExtractions: 2,
	}
}

// StepFunc draws the next progress increment in [lo, hi].
type StepFunc func(lo, hi int) int

func randomStep(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo+1) // #nosec G404 - progress jitter, not security sensitive
}

// Deps are the collaborators of a Machine.
type Deps struct {
	Repo       record.Repository
	Extractor  media.FrameExtractor
	Classifier Classifier
	Store      Materializer
	Scratch    ScratchSpace
	Publisher  Publisher
	Observer   Observer
	Logger     *slog.Logger
}

// Option customises a Machine.
type Option func(*Machine)

// WithStepFunc replaces the random progress increment.
func WithStepFunc(fn StepFunc) Option {
	return func(m *Machine) {
		if fn != nil {
			m.step = fn
		}
	}
}

// Machine owns processing runs. At most one run is active per media id.
type Machine struct {
	repo       record.Repository
	extractor  media.FrameExtractor
	classifier Classifier
	store      Materializer
	scratch    ScratchSpace
	publisher  Publisher
	observer   Observer
	logger     *slog.Logger
	cfg        Config
	step       StepFunc
	slots      *semaphore.Weighted

	mu      sync.Mutex
	runs    map[string]*RunHandle
	closing bool
	wg      sync.WaitGroup
}

// NewMachine creates a new Machine. Zero config fields take their defaults.
func NewMachine(deps Deps, cfg Config, opts ...Option) *Machine {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.MinStep <= 0 {
		cfg.MinStep = def.MinStep
	}
	if cfg.MaxStep < cfg.MinStep {
		cfg.MaxStep = max(def.MaxStep, cfg.MinStep)
	}
	if cfg.FrameCount <= 0 {
		cfg.FrameCount = def.FrameCount
	}
	if cfg.MaxConcurrentExtractions <= 0 {
		cfg.MaxConcurrentExtractions = def.MaxConcurrentExtractions
	}

	m := &Machine{
		repo:       deps.Repo,
		extractor:  deps.Extractor,
		classifier: deps.Classifier,
		store:      deps.Store,
		scratch:    deps.Scratch,
		publisher:  deps.Publisher,
		observer:   deps.Observer,
		logger:     deps.Logger,
		cfg:        cfg,
		step:       randomStep,
		slots:      semaphore.NewWeighted(int64(cfg.MaxConcurrentExtractions)),
		runs:       make(map[string]*RunHandle),
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Machine) Config() Config {
	return m.cfg
}

// RunHandle identifies one processing run.
type RunHandle struct {
	mediaID   string
	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// MediaID returns the id of the record being processed.
func (h *RunHandle) MediaID() string {
	return h.mediaID
}

// Cancelled reports whether the run was cancelled.
func (h *RunHandle) Cancelled() bool {
	return h.cancelled.Load()
}

// Done is closed when the run goroutine has exited.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// StartProcessing moves rec to processing with progress 0 and starts its run.
// The run is detached from ctx; only Cancel, CancelByID or Shutdown stop it.
// An active run for the same id is cancelled and awaited first.
func (m *Machine) StartProcessing(ctx context.Context, rec *record.Record) (*RunHandle, error) {
	m.mu.Lock()
	closing := m.closing
	prev := m.runs[rec.ID]
	m.mu.Unlock()
	if closing {
		return nil, ErrShuttingDown
	}

	if prev != nil {
		m.Cancel(prev)
		select {
		case <-prev.done:
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for previous run: %w", ctx.Err())
		}
	}

	if err := m.repo.BeginProcessing(ctx, rec.ID); err != nil {
		return nil, fmt.Errorf("begin processing %s: %w", rec.ID, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &RunHandle{
		mediaID: rec.ID,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		cancel()
		return nil, ErrShuttingDown
	}
	if other := m.runs[rec.ID]; other != nil {
		// A concurrent StartProcessing won the race; replace it.
		m.cancelLocked(other)
	}
	m.runs[rec.ID] = h
	active := len(m.runs)
	m.wg.Add(1)
	m.mu.Unlock()

	m.observer.RunStarted()
	m.observer.ActiveRuns(active)
	m.logger.Info("processing started",
		slog.String("media_id", rec.ID),
		slog.String("tenant_id", rec.TenantID),
	)

	snapshot := rec.Clone()
	go m.run(runCtx, h, snapshot)
	return h, nil
}

// Cancel stops a run. It never blocks and is safe to call repeatedly.
func (m *Machine) Cancel(h *RunHandle) {
	if h == nil {
		return
	}
	if h.cancelled.CompareAndSwap(false, true) {
		h.cancel()
		m.observer.RunCancelled()
		m.logger.Info("processing cancelled", slog.String("media_id", h.mediaID))
	}
}

func (m *Machine) cancelLocked(h *RunHandle) {
	if h.cancelled.CompareAndSwap(false, true) {
		h.cancel()
		m.observer.RunCancelled()
	}
}

// CancelByID cancels the active run for mediaID, if any.
// It reports whether a run was found.
func (m *Machine) CancelByID(mediaID string) bool {
	m.mu.Lock()
	h := m.runs[mediaID]
	m.mu.Unlock()
	if h == nil {
		return false
	}
	m.Cancel(h)
	return true
}

// Active returns the number of runs that have not exited yet.
func (m *Machine) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runs)
}

// Shutdown cancels every run and waits for them to exit or for ctx to expire.
func (m *Machine) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	handles := make([]*RunHandle, 0, len(m.runs))
	for _, h := range m.runs {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	for _, h := range handles {
		m.Cancel(h)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for runs: %w", ctx.Err())
	}
}

// run is the per-record task: advance progress on every tick until 100,
// then classify. The cancelled flag is checked before every persist and publish.
func (m *Machine) run(ctx context.Context, h *RunHandle, rec *record.Record) {
	started := time.Now()
	logger := m.logger.With(slog.String("media_id", rec.ID))

	defer func() {
		h.cancel()
		m.mu.Lock()
		if m.runs[h.mediaID] == h {
			delete(m.runs, h.mediaID)
		}
		active := len(m.runs)
		m.mu.Unlock()
		m.observer.ActiveRuns(active)
		close(h.done)
		m.wg.Done()
	}()

	if !m.advance(ctx, h, logger) {
		return
	}

	status, sensitivity, outcome := m.finish(ctx, h, rec, logger)
	if h.Cancelled() {
		return
	}

	if err := m.repo.Complete(ctx, rec.ID, status, sensitivity); err != nil {
		if errors.Is(err, record.ErrNotFound) {
			logger.Info("record deleted before completion, dropping result")
			return
		}
		if h.Cancelled() {
			return
		}
		logger.Error("failed to persist completion", slog.String("error", err.Error()))
		return
	}
	if h.Cancelled() {
		return
	}

	m.publisher.Publish(events.ProcessingDone{MediaID: rec.ID, Outcome: outcome}, events.MediaTopic(rec.ID))

	label := OutcomeFailed
	if status == record.StatusProcessed {
		label = string(sensitivity)
	}
	m.observer.RunFinished(label, time.Since(started))
	logger.Info("processing finished",
		slog.String("status", string(status)),
		slog.String("sensitivity", string(sensitivity)),
		slog.Duration("elapsed", time.Since(started)),
	)
}

// advance runs the tick loop. It returns false when the run must stop
// without classification (cancelled or record gone).
func (m *Machine) advance(ctx context.Context, h *RunHandle, logger *slog.Logger) bool {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	// progress is the next value to persist; published trails it until the
	// store accepts the write, so 100 is always published before classification.
	progress, published := 0, 0
	for published < 100 {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		if h.Cancelled() {
			return false
		}

		progress = min(100, progress+m.step(m.cfg.MinStep, m.cfg.MaxStep))

		if h.Cancelled() {
			return false
		}
		if err := m.repo.UpdateProgress(ctx, h.mediaID, progress); err != nil {
			if errors.Is(err, record.ErrNotFound) {
				logger.Info("record deleted, stopping run")
				return false
			}
			if h.Cancelled() {
				return false
			}
			// Retried on the next tick, at a higher value when below 100.
			logger.Warn("failed to persist progress",
				slog.Int("progress", progress),
				slog.String("error", err.Error()),
			)
			continue
		}

		if h.Cancelled() {
			return false
		}
		published = progress
		m.publisher.Publish(events.ProgressUpdate{MediaID: h.mediaID, Progress: progress}, events.MediaTopic(h.mediaID))
		logger.Debug("progress", slog.Int("progress", progress))
	}
	return true
}

// finish extracts frames into a private scratch directory, classifies them
// and removes the directory on every path.
func (m *Machine) finish(ctx context.Context, h *RunHandle, rec *record.Record, logger *slog.Logger) (record.Status, record.Sensitivity, events.Outcome) {
	fail := func(reason string, err error) (record.Status, record.Sensitivity, events.Outcome) {
		if !h.Cancelled() {
			logger.Error("classification failed",
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
		}
		return record.StatusFailed, record.SensitivityUnknown, events.Failure{Reason: reason}
	}

	runDir, err := m.scratch.NewRunDir(rec.ID)
	if err != nil {
		return fail("scratch unavailable", err)
	}
	defer func() {
		if err := m.scratch.RemoveRunDir(runDir); err != nil {
			logger.Warn("failed to remove scratch", slog.String("error", err.Error()))
		}
	}()

	if m.cfg.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.ExtractTimeout)
		defer cancel()
	}

	if err := m.slots.Acquire(ctx, 1); err != nil {
		return fail("decoder unavailable", err)
	}
	defer m.slots.Release(1)

	source, err := m.store.Materialize(ctx, rec.StoragePath, runDir)
	if err != nil {
		return fail("media unavailable", err)
	}

	extractStart := time.Now()
	frames, err := m.extractor.Extract(ctx, source, runDir, m.cfg.FrameCount)
	m.observer.ExtractionFinished(time.Since(extractStart))
	if err != nil {
		return fail("frame extraction failed", err)
	}

	result, err := m.classifier.Classify(ctx, frames)
	if err != nil {
		return fail("classification failed", err)
	}
	if !result.Sensitivity.IsVerdict() {
		return fail("classification failed", fmt.Errorf("unexpected verdict %q", result.Sensitivity))
	}

	return record.StatusProcessed, result.Sensitivity, events.Success{Sensitivity: result.Sensitivity}
}
