package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maauso/mediaflow/internal/classify"
	"github.com/maauso/mediaflow/internal/media"
)

type classifyOptions struct {
	frames     int
	images     bool
	ffmpeg     string
	ffprobe    string
	width      int
	height     int
	luminance  float64
	red        float64
	keepFrames bool
}

func newClassifyCommand() *cobra.Command {
	defaults := classify.DefaultThresholds()
	opts := classifyOptions{}

	cmd := &cobra.Command{
		Use:   "classify <file> [file...]",
		Short: "Classify a local media file the way the pipeline does",
		Long: `Sample frames from a media file with ffmpeg, compute per-frame luminance
and red statistics and print the resulting verdict.

Examples:
  mediactl classify clip.mp4
  mediactl classify clip.mp4 --frames 5
  mediactl classify --images a.png b.png   # skip extraction`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !opts.images && len(args) != 1 {
				return fmt.Errorf("classify takes exactly one media file unless --images is set")
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			classifier := classify.NewClassifier(classify.Thresholds{
				Luminance: opts.luminance,
				Red:       opts.red,
			}, logger)

			frames := args
			if !opts.images {
				dir, err := os.MkdirTemp("", "mediactl_frames_*")
				if err != nil {
					return fmt.Errorf("create frame directory: %w", err)
				}
				if opts.keepFrames {
					fmt.Fprintf(cmd.ErrOrStderr(), "frames kept in %s\n", dir)
				} else {
					defer func() { _ = os.RemoveAll(dir) }()
				}

				extractor := media.NewFFmpegExtractor(media.ExtractorConfig{
					FFmpegPath:  opts.ffmpeg,
					FFprobePath: opts.ffprobe,
					Width:       opts.width,
					Height:      opts.height,
				})
				frames, err = extractor.Extract(ctx, args[0], dir, opts.frames)
				if err != nil {
					return fmt.Errorf("extract frames: %w", err)
				}
			}

			result, err := classifier.Classify(ctx, frames)
			if err != nil {
				return fmt.Errorf("classify: %w", err)
			}
			printResult(cmd.OutOrStdout(), frames, result)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.frames, "frames", 3, "Number of frames to sample")
	cmd.Flags().BoolVar(&opts.images, "images", false, "Treat arguments as already extracted frame images")
	cmd.Flags().StringVar(&opts.ffmpeg, "ffmpeg", "ffmpeg", "Path to the ffmpeg binary")
	cmd.Flags().StringVar(&opts.ffprobe, "ffprobe", "ffprobe", "Path to the ffprobe binary")
	cmd.Flags().IntVar(&opts.width, "width", media.DefaultFrameWidth, "Frame width in pixels")
	cmd.Flags().IntVar(&opts.height, "height", media.DefaultFrameHeight, "Frame height in pixels")
	cmd.Flags().Float64Var(&opts.luminance, "luminance-threshold", defaults.Luminance, "Flag frames darker than this mean luminance")
	cmd.Flags().Float64Var(&opts.red, "red-threshold", defaults.Red, "Flag frames with a mean red channel above this")
	cmd.Flags().BoolVar(&opts.keepFrames, "keep-frames", false, "Keep the extracted frames for inspection")

	return cmd
}

func printResult(w io.Writer, frames []string, result classify.Result) {
	for i, stats := range result.Frames {
		name := ""
		if i < len(frames) {
			name = frames[i]
		}
		fmt.Fprintf(w, "frame %d  luminance=%6.2f  red=%6.2f  %s\n", i+1, stats.Luminance, stats.Red, name)
	}
	fmt.Fprintf(w, "aggregate luminance=%6.2f  red=%6.2f\n", result.Aggregate.Luminance, result.Aggregate.Red)
	fmt.Fprintf(w, "verdict: %s\n", result.Sensitivity)
}
