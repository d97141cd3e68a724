// Package media samples still frames from uploaded media with an external decoder.
package media

import (
	"context"
	"errors"
	"fmt"
)

// Static errors for frame extraction.
var (
	// ErrNoFrames is returned when the decoder produced no frames at all.
	ErrNoFrames = errors.New("decoder produced no frames")
	// ErrInvalidFrameCount is returned when fewer than one frame is requested.
	ErrInvalidFrameCount = errors.New("invalid frame count: must be at least 1")
	// ErrInvalidDuration is returned when the media reports no usable duration.
	ErrInvalidDuration = errors.New("invalid duration: must be positive")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
)

// FrameExtractor samples still frames from a media file.
// Implementations write frames below outputDir, which the caller owns and removes.
type FrameExtractor interface {
	// Extract samples frameCount frames spread across the media duration and
	// returns the paths of the written frame images in timeline order.
	// Failures are reported as *ExtractionError.
	Extract(ctx context.Context, mediaPath, outputDir string, frameCount int) ([]string, error)
}

// ExtractionError reports why frames could not be sampled from a media file.
type ExtractionError struct {
	Op   string
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract frames: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// SampleTimestamps returns n timestamps (seconds) evenly spaced inside
// (0, duration), avoiding the very first and very last instants.
func SampleTimestamps(duration float64, n int) []float64 {
	if n <= 0 || duration <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = duration * float64(i+1) / float64(n+1)
	}
	return out
}
