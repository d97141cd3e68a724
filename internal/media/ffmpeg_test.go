package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH, skipping test")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH, skipping test")
	}
}

// createTestVideo creates a simple test video using ffmpeg.
func createTestVideo(t *testing.T, path string, duration float64, color string) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=64x64:d=%.1f", color, duration),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

func TestNewFFmpegExtractor(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		e := NewFFmpegExtractor(ExtractorConfig{})
		if e.ffmpegPath != "ffmpeg" {
			t.Errorf("expected default path 'ffmpeg', got %q", e.ffmpegPath)
		}
		if e.ffprobePath != "ffprobe" {
			t.Errorf("expected default path 'ffprobe', got %q", e.ffprobePath)
		}
		if e.width != DefaultFrameWidth || e.height != DefaultFrameHeight {
			t.Errorf("expected %dx%d, got %dx%d", DefaultFrameWidth, DefaultFrameHeight, e.width, e.height)
		}
	})

	t.Run("custom values", func(t *testing.T) {
		e := NewFFmpegExtractor(ExtractorConfig{
			FFmpegPath:  "/usr/local/bin/ffmpeg",
			FFprobePath: "/usr/local/bin/ffprobe",
			Width:       160,
			Height:      120,
		})
		if e.ffmpegPath != "/usr/local/bin/ffmpeg" {
			t.Errorf("expected custom path, got %q", e.ffmpegPath)
		}
		if e.ffprobePath != "/usr/local/bin/ffprobe" {
			t.Errorf("expected custom path, got %q", e.ffprobePath)
		}
		if e.width != 160 || e.height != 120 {
			t.Errorf("expected 160x120, got %dx%d", e.width, e.height)
		}
	})
}

func TestSampleTimestamps(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		n        int
		want     []float64
	}{
		{"three frames over four seconds", 4, 3, []float64{1, 2, 3}},
		{"single frame is the midpoint", 10, 1, []float64{5}},
		{"zero count", 10, 0, nil},
		{"zero duration", 0, 3, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SampleTimestamps(tt.duration, tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("timestamp[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}

	t.Run("timestamps are distinct and inside the media", func(t *testing.T) {
		got := SampleTimestamps(7.3, 5)
		for i, ts := range got {
			if ts <= 0 || ts >= 7.3 {
				t.Errorf("timestamp[%d] = %v outside (0, 7.3)", i, ts)
			}
			if i > 0 && ts <= got[i-1] {
				t.Errorf("timestamps not increasing: %v", got)
			}
		}
	})
}

func TestExtract(t *testing.T) {
	t.Run("rejects zero frame count without running ffmpeg", func(t *testing.T) {
		e := NewFFmpegExtractor(ExtractorConfig{FFmpegPath: "/nonexistent/ffmpeg"})
		_, err := e.Extract(context.Background(), "in.mp4", t.TempDir(), 0)

		var extErr *ExtractionError
		if !errors.As(err, &extErr) {
			t.Fatalf("expected *ExtractionError, got %v", err)
		}
		if !errors.Is(err, ErrInvalidFrameCount) {
			t.Errorf("expected ErrInvalidFrameCount, got %v", err)
		}
	})

	t.Run("missing decoder is an extraction error", func(t *testing.T) {
		e := NewFFmpegExtractor(ExtractorConfig{FFprobePath: "/nonexistent/ffprobe"})
		_, err := e.Extract(context.Background(), "in.mp4", t.TempDir(), 3)

		var extErr *ExtractionError
		if !errors.As(err, &extErr) {
			t.Fatalf("expected *ExtractionError, got %v", err)
		}
		if extErr.Op != "probe" {
			t.Errorf("Op = %q, want %q", extErr.Op, "probe")
		}
	})
}

func TestExtract_WithFFmpeg(t *testing.T) {
	skipIfNoFFmpeg(t)

	tmpDir := t.TempDir()
	e := NewFFmpegExtractor(ExtractorConfig{})
	ctx := context.Background()

	t.Run("samples frames across the video", func(t *testing.T) {
		videoPath := filepath.Join(tmpDir, "test_video.mp4")
		createTestVideo(t, videoPath, 2.0, "red")

		outDir := t.TempDir()
		frames, err := e.Extract(ctx, videoPath, outDir, 3)
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		if len(frames) != 3 {
			t.Fatalf("expected 3 frames, got %d", len(frames))
		}

		for _, f := range frames {
			if filepath.Dir(f) != outDir {
				t.Errorf("frame %s written outside %s", f, outDir)
			}
			data, err := os.ReadFile(f) // #nosec G304 - test path
			if err != nil {
				t.Fatalf("read frame: %v", err)
			}
			// PNG magic bytes: 0x89 0x50 0x4E 0x47
			if len(data) < 8 || data[0] != 0x89 || data[1] != 0x50 || data[2] != 0x4E || data[3] != 0x47 {
				t.Errorf("frame %s is not a valid PNG", f)
			}
			verifyImageDimensions(t, f, DefaultFrameWidth, DefaultFrameHeight)
		}
	})

	t.Run("fails with non-existent video", func(t *testing.T) {
		_, err := e.Extract(ctx, "/non/existent/video.mp4", t.TempDir(), 3)
		var extErr *ExtractionError
		if !errors.As(err, &extErr) {
			t.Errorf("expected *ExtractionError, got %v", err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		videoPath := filepath.Join(tmpDir, "test_video_cancel.mp4")
		createTestVideo(t, videoPath, 1.0, "blue")

		ctx, cancel := context.WithCancel(context.Background())
		cancel() // Cancel immediately

		_, err := e.Extract(ctx, videoPath, t.TempDir(), 3)
		if err == nil {
			t.Error("expected error when context is cancelled")
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled in chain, got %v", err)
		}
	})
}

func TestFFmpegError(t *testing.T) {
	err := &FFmpegError{
		Args:   []string{"-i", "input.mp4", "-frames:v", "1", "output.png"},
		Stderr: "Error opening input file",
		Err:    fmt.Errorf("exit status 1"),
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "exit status 1") {
		t.Error("Error() should contain underlying error")
	}
	if !strings.Contains(errStr, "Error opening input file") {
		t.Error("Error() should contain stderr")
	}

	unwrapped := err.Unwrap()
	if unwrapped == nil || unwrapped.Error() != "exit status 1" {
		t.Errorf("Unwrap() returned wrong error: %v", unwrapped)
	}
}

func TestExtractionError(t *testing.T) {
	err := &ExtractionError{Op: "decode", Path: "clip.mp4", Err: ErrNoFrames}

	if !strings.Contains(err.Error(), "clip.mp4") {
		t.Errorf("Error() = %q, should mention path", err.Error())
	}
	if !errors.Is(err, ErrNoFrames) {
		t.Error("expected errors.Is to find ErrNoFrames")
	}
}

// Helper functions

func verifyImageDimensions(t *testing.T, path string, expectedW, expectedH int) {
	t.Helper()

	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "csv=s=x:p=0",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		t.Fatalf("ffprobe failed: %v", err)
	}

	var w, h int
	n, err := fmt.Sscanf(string(output), "%dx%d", &w, &h)
	if err != nil || n != 2 {
		t.Fatalf("failed to parse dimensions from ffprobe output: %s", output)
	}

	if w != expectedW || h != expectedH {
		t.Errorf("expected dimensions %dx%d, got %dx%d", expectedW, expectedH, w, h)
	}
}
