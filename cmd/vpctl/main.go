package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/videopress/backend/internal/analysis"
	"github.com/videopress/backend/internal/encoder"
	"github.com/videopress/backend/internal/media"
	"github.com/videopress/backend/internal/presets"
	"github.com/videopress/backend/internal/segmenter"
)

var (
	ffmpegPath  string
	ffprobePath string
	logLevel    string

	// runner is swapped out by tests.
	runner media.Runner = media.ExecRunner{}
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true, ".bmp": true, ".tiff": true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vpctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vpctl",
		Short: "VideoPress local compression CLI",
		Long: `vpctl runs the VideoPress probe, planning and encode pipeline against local files
without the HTTP server, using the same presets as the web front-end.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&ffmpegPath, "ffmpeg", "ffmpeg", "Path to the ffmpeg binary")
	cmd.PersistentFlags().StringVar(&ffprobePath, "ffprobe", "ffprobe", "Path to the ffprobe binary")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	cmd.AddCommand(
		newProbeCmd(),
		newPlanCmd(),
		newCompressCmd(),
		newPhotoCmd(),
		newAlgorithmsCmd(),
	)
	return cmd
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <file>",
		Short: "Print media information as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if isImage(path) {
				pa, err := analysis.AnalyzePhoto(path)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pa)
			}
			info, err := media.NewProber(runner, ffprobePath).ProbeVideo(cmd.Context(), path)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	}
}

func newPlanCmd() *cobra.Command {
	var duration, segment float64
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the parts a video of the given length would be split into",
		RunE: func(cmd *cobra.Command, args []string) error {
			if duration <= 0 {
				return fmt.Errorf("--duration must be positive")
			}
			if segment < 0 {
				return fmt.Errorf("--segment must not be negative")
			}
			return printJSON(cmd.OutOrStdout(), segmenter.Plan(duration, segment))
		},
	}
	cmd.Flags().Float64Var(&duration, "duration", 0, "Total duration in seconds")
	cmd.Flags().Float64Var(&segment, "segment", 0, "Segment length in seconds (0 keeps one part)")
	return cmd
}

func newCompressCmd() *cobra.Command {
	var (
		algorithm string
		split     float64
		outDir    string
		budget    float64
	)
	cmd := &cobra.Command{
		Use:   "compress <file>",
		Short: "Compress a local video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger(logLevel)
			defer logger.Sync()

			alg, err := presets.ParseVideoAlgorithm(algorithm)
			if err != nil {
				return err
			}
			if split < 0 {
				return fmt.Errorf("--split must not be negative")
			}
			input := args[0]
			info, err := media.NewProber(runner, ffprobePath).ProbeVideo(ctx, input)
			if err != nil {
				return err
			}
			spans := segmenter.Plan(info.Duration, split)
			if len(spans) == 0 {
				return fmt.Errorf("%s has no duration", input)
			}

			va := analysis.DefaultVideoAnalysis()
			if alg == presets.NeuralPreserve {
				analyzer := analysis.NewVideoAnalyzer(runner, ffmpegPath, analysis.NopFaceDetector{}, 30, logger)
				va = analyzer.Analyze(ctx, input, info)
			}
			params := presets.SelectVideo(alg, info, segmenter.Longest(spans), va, budget)

			enc := encoder.New(runner, encoder.Options{FFmpegPath: ffmpegPath}, logger)
			base := encoder.Job{
				Input:    input,
				Kind:     encoder.KindVideo,
				Video:    params,
				HasAudio: info.HasAudio,
				Duration: info.Duration,
			}
			naming := segmenter.Naming{Dir: outDir, FileID: stem(input), Ext: ".mp4"}
			out := cmd.OutOrStdout()
			results := segmenter.Split(ctx, enc, base, spans, naming, segmenter.Hooks{
				Started: func(span segmenter.Span, parts int) {
					fmt.Fprintf(out, "part %d/%d: %.1fs-%.1fs\n", span.Part, parts, span.Start, span.End)
				},
			})
			return report(out, results)
		},
	}
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", presets.BitrateSculptor.String(), "Video algorithm")
	cmd.Flags().Float64VarP(&split, "split", "s", 0, "Split length in seconds (0 keeps one part)")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	cmd.Flags().Float64Var(&budget, "budget", presets.DefaultBudgetMB, "Per-part size budget in MB")
	return cmd
}

func newPhotoCmd() *cobra.Command {
	var algorithm, format, outDir string
	cmd := &cobra.Command{
		Use:   "photo <file>",
		Short: "Compress a local photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(logLevel)
			defer logger.Sync()

			alg, err := presets.ParsePhotoAlgorithm(algorithm)
			if err != nil {
				return err
			}
			f, err := presets.ParseFormat(format)
			if err != nil {
				return err
			}
			input := args[0]
			pa, err := analysis.AnalyzePhoto(input)
			if err != nil {
				return err
			}
			params := presets.SelectPhoto(alg, pa, f)
			naming := segmenter.Naming{Dir: outDir, FileID: stem(input), Ext: params.Format.Extension()}

			enc := encoder.New(runner, encoder.Options{FFmpegPath: ffmpegPath}, logger)
			results := segmenter.Split(cmd.Context(), enc,
				encoder.Job{Input: input, Kind: encoder.KindPhoto, Photo: params},
				[]segmenter.Span{{Part: 1}}, naming, segmenter.Hooks{})
			return report(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", presets.BalancedPro.String(), "Photo algorithm")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format (jpg, png, webp); empty selects jpg")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory")
	return cmd
}

func newAlgorithmsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "algorithms",
		Short: "List the available algorithms",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tKIND\tMAX\tQUALITY\tSPEED\tDEFAULT")
			for _, a := range presets.Catalog() {
				def := ""
				if a.Recommended {
					def = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n", a.ID, a.Kind, a.MaxResolution, a.Quality, a.Speed, def)
			}
			return w.Flush()
		},
	}
}

// report prints one line per part and fails when any part failed.
func report(w io.Writer, results []segmenter.PartResult) error {
	failed := 0
	for _, r := range results {
		if r.Result.Success {
			fmt.Fprintf(w, "ok     %s (%.2f MB, %s)\n", r.Path, float64(r.Result.OutputSize)/(1024*1024), r.Result.Elapsed.Round(time.Millisecond))
			continue
		}
		failed++
		fmt.Fprintf(w, "failed part %d: %v\n", r.Part, r.Result.Err)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d parts failed", failed, len(results))
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isImage(path string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(path))]
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func newLogger(level string) *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		config.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
