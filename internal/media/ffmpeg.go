package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Compile-time check that FFmpegExtractor implements FrameExtractor.
var _ FrameExtractor = (*FFmpegExtractor)(nil)

// Default frame geometry for sampled stills.
const (
	DefaultFrameWidth  = 320
	DefaultFrameHeight = 240
)

// ExtractorConfig configures FFmpegExtractor.
type ExtractorConfig struct {
	// FFmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	FFmpegPath string
	// FFprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	FFprobePath string
	// Width and Height of the sampled frames. Default to 320x240.
	Width  int
	Height int
}

// FFmpegExtractor implements FrameExtractor using the ffmpeg and ffprobe CLIs.
type FFmpegExtractor struct {
	ffmpegPath  string
	ffprobePath string
	width       int
	height      int
}

// NewFFmpegExtractor creates a new FFmpegExtractor.
// Empty binary paths are resolved via PATH.
func NewFFmpegExtractor(cfg ExtractorConfig) *FFmpegExtractor {
	e := &FFmpegExtractor{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		width:       cfg.Width,
		height:      cfg.Height,
	}
	if e.ffmpegPath == "" {
		e.ffmpegPath = "ffmpeg"
	}
	if e.ffprobePath == "" {
		e.ffprobePath = "ffprobe"
	}
	if e.width <= 0 || e.height <= 0 {
		e.width, e.height = DefaultFrameWidth, DefaultFrameHeight
	}
	return e
}

// Extract probes the media duration, then seeks to each sample timestamp and
// writes one scaled PNG per timestamp into outputDir.
func (e *FFmpegExtractor) Extract(ctx context.Context, mediaPath, outputDir string, frameCount int) ([]string, error) {
	if frameCount < 1 {
		return nil, &ExtractionError{Op: "validate", Path: mediaPath, Err: fmt.Errorf("%w: got %d", ErrInvalidFrameCount, frameCount)}
	}

	duration, err := e.GetMediaDuration(ctx, mediaPath)
	if err != nil {
		return nil, &ExtractionError{Op: "probe", Path: mediaPath, Err: err}
	}
	if duration <= 0 {
		return nil, &ExtractionError{Op: "probe", Path: mediaPath, Err: fmt.Errorf("%w: got %.3f", ErrInvalidDuration, duration)}
	}

	scale := fmt.Sprintf("scale=%d:%d", e.width, e.height)
	frames := make([]string, 0, frameCount)
	for i, ts := range SampleTimestamps(duration, frameCount) {
		out := filepath.Join(outputDir, fmt.Sprintf("frame_%02d.png", i+1))
		args := []string{
			"-y",                                       // Overwrite output file
			"-ss", strconv.FormatFloat(ts, 'f', 3, 64), // Seek before input for fast seeking
			"-i", mediaPath, // Input file
			"-frames:v", "1", // Output single frame (image)
			"-vf", scale, // Fixed analysis geometry
			out,
		}
		if err := e.runFFmpeg(ctx, args); err != nil {
			return nil, &ExtractionError{Op: "decode", Path: mediaPath, Err: err}
		}
		// Seeking into a trailing gap can exit cleanly without writing a frame.
		if info, statErr := os.Stat(out); statErr == nil && info.Size() > 0 {
			frames = append(frames, out)
		}
	}

	if len(frames) == 0 {
		return nil, &ExtractionError{Op: "decode", Path: mediaPath, Err: ErrNoFrames}
	}
	return frames, nil
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (e *FFmpegExtractor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		// Check if context was cancelled
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// GetMediaDuration returns the duration in seconds of a media file.
// It uses ffprobe to extract the duration metadata.
func (e *FFmpegExtractor) GetMediaDuration(ctx context.Context, path string) (float64, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	raw := strings.TrimSpace(stdout.String())
	if raw == "" || raw == "N/A" {
		return 0, fmt.Errorf("%w: duration not reported", ErrInvalidDuration)
	}

	var duration float64
	_, err = fmt.Sscanf(raw, "%f", &duration)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}

	return duration, nil
}
