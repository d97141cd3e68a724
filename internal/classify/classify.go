// Package classify derives a sensitivity verdict from sampled video frames
// using per-frame photometric statistics.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/maauso/mediaflow/internal/record"
)

// Default decision thresholds on the 0-255 channel scale.
const (
	DefaultLuminanceThreshold = 40
	DefaultRedThreshold       = 180
)

// ErrNoFrames is returned when Classify is called with no frames.
var ErrNoFrames = errors.New("no frames to classify")

// ClassificationError reports why a set of frames could not be classified.
type ClassificationError struct {
	Frame string
	Err   error
}

func (e *ClassificationError) Error() string {
	if e.Frame == "" {
		return fmt.Sprintf("classify frames: %v", e.Err)
	}
	return fmt.Sprintf("classify frame %s: %v", e.Frame, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// Stats holds the mean luminance and mean red channel of one or more frames.
type Stats struct {
	Luminance float64
	Red       float64
}

// Thresholds configures the verdict rule.
type Thresholds struct {
	// Luminance below this value is too dark.
	Luminance float64
	// Red above this value is excessive.
	Red float64
}

// DefaultThresholds returns the standard 40/180 rule.
func DefaultThresholds() Thresholds {
	return Thresholds{Luminance: DefaultLuminanceThreshold, Red: DefaultRedThreshold}
}

// Decide applies the two-threshold rule: flagged when the aggregate luminance is
// below t.Luminance or the aggregate red is above t.Red, safe otherwise.
func (t Thresholds) Decide(s Stats) record.Sensitivity {
	if s.Luminance < t.Luminance || s.Red > t.Red {
		return record.SensitivityFlagged
	}
	return record.SensitivitySafe
}

// Aggregate averages per-frame statistics with equal weight per frame.
func Aggregate(frames []Stats) (Stats, error) {
	if len(frames) == 0 {
		return Stats{}, &ClassificationError{Err: ErrNoFrames}
	}
	var sum Stats
	for _, f := range frames {
		sum.Luminance += f.Luminance
		sum.Red += f.Red
	}
	n := float64(len(frames))
	return Stats{Luminance: sum.Luminance / n, Red: sum.Red / n}, nil
}

// FrameStats decodes an image and computes its mean luminance ((R+G+B)/3 per
// pixel) and mean red channel over all pixels.
func FrameStats(path string) (Stats, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return Stats{}, fmt.Errorf("decode frame: %w", err)
	}

	nrgba := imaging.Clone(img)
	pixels := len(nrgba.Pix) / 4
	if pixels == 0 {
		return Stats{}, fmt.Errorf("decode frame: empty image %s", path)
	}

	var lum, red float64
	for i := 0; i < len(nrgba.Pix); i += 4 {
		r := float64(nrgba.Pix[i])
		g := float64(nrgba.Pix[i+1])
		b := float64(nrgba.Pix[i+2])
		lum += (r + g + b) / 3
		red += r
	}

	return Stats{Luminance: lum / float64(pixels), Red: red / float64(pixels)}, nil
}

// Result is the outcome of classifying a set of frames.
type Result struct {
	Frames      []Stats
	Aggregate   Stats
	Sensitivity record.Sensitivity
}

// Classifier turns frame images into a verdict.
type Classifier struct {
	thresholds Thresholds
	workers    int
	logger     *slog.Logger
}

// NewClassifier creates a Classifier. Zero thresholds fall back to the defaults.
func NewClassifier(thresholds Thresholds, logger *slog.Logger) *Classifier {
	if thresholds.Luminance == 0 && thresholds.Red == 0 {
		thresholds = DefaultThresholds()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		thresholds: thresholds,
		workers:    runtime.GOMAXPROCS(0),
		logger:     logger,
	}
}

// Thresholds returns the rule in use.
func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

// Classify computes per-frame statistics in parallel, aggregates them and applies
// the threshold rule. An empty frame list is an error, never a default verdict.
func (c *Classifier) Classify(ctx context.Context, frames []string) (Result, error) {
	if len(frames) == 0 {
		return Result{}, &ClassificationError{Err: ErrNoFrames}
	}

	stats := make([]Stats, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, frame := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, err := FrameStats(frame)
			if err != nil {
				return &ClassificationError{Frame: frame, Err: err}
			}
			stats[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	agg, err := Aggregate(stats)
	if err != nil {
		return Result{}, err
	}
	verdict := c.thresholds.Decide(agg)

	c.logger.Debug("frames classified",
		slog.Int("frames", len(frames)),
		slog.Float64("luminance", agg.Luminance),
		slog.Float64("red", agg.Red),
		slog.String("sensitivity", string(verdict)),
	)

	return Result{Frames: stats, Aggregate: agg, Sensitivity: verdict}, nil
}
