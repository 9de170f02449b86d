// Package encoder turns resolved presets into ffmpeg invocations and runs them
// under a duration-scaled deadline.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/media"
	"github.com/videopress/backend/internal/presets"
)

// Kind selects the argument builder for a Job.
type Kind string

const (
	KindVideo Kind = "video"
	KindPhoto Kind = "photo"
	KindGIF   Kind = "gif"
)

const stderrExcerpt = 400

// Job is a single encode: one input, one output file.
type Job struct {
	Input  string
	Output string
	Kind   Kind
	Video  presets.VideoParams
	Photo  presets.PhotoParams
	GIF    presets.GIFParams

	HasAudio bool
	// Clipped applies Start and Duration as -ss/-t. Duration also scales the timeout.
	Clipped  bool
	Start    float64
	Duration float64
}

// Result is the outcome of a Job. Err carries an apperr kind when Success is false.
type Result struct {
	Success    bool
	OutputSize int64
	Stderr     string
	Elapsed    time.Duration
	Err        error
}

// Options configures binary location and deadlines.
type Options struct {
	FFmpegPath    string
	TimeoutFactor float64
	MinTimeout    time.Duration
}

// Encoder runs ffmpeg jobs through a media.Runner.
type Encoder struct {
	runner media.Runner
	opts   Options
	logger *zap.Logger
}

// New creates an Encoder. Zero options fall back to ffmpeg on PATH, factor 10 and 120s.
func New(runner media.Runner, opts Options, logger *zap.Logger) *Encoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = media.ExecRunner{}
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.TimeoutFactor <= 0 {
		opts.TimeoutFactor = 10
	}
	if opts.MinTimeout <= 0 {
		opts.MinTimeout = 120 * time.Second
	}
	return &Encoder{runner: runner, opts: opts, logger: logger}
}

// Timeout returns max(MinTimeout, duration*TimeoutFactor).
func (e *Encoder) Timeout(duration float64) time.Duration {
	t := time.Duration(duration * e.opts.TimeoutFactor * float64(time.Second))
	if t < e.opts.MinTimeout {
		return e.opts.MinTimeout
	}
	return t
}

// Run executes job. ffmpeg writes to a staging file next to job.Output which is renamed
// into place on success, so a failed run leaves any earlier file at job.Output untouched.
// No staging file or pass log survives either outcome.
func (e *Encoder) Run(ctx context.Context, job Job) Result {
	started := time.Now()
	ctx, cancel := context.WithTimeout(ctx, e.Timeout(job.Duration))
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(job.Output), 0o755); err != nil {
		return Result{Err: apperr.Wrap(apperr.KindInternal, err, "could not prepare output directory")}
	}

	var (
		stderr []byte
		err    error
	)
	passlog := job.Output + ".passlog"
	final := job.Output
	job.Output = stagingPath(final)
	switch {
	case job.Kind == KindVideo && job.Video.TwoPass:
		pass1, pass2 := TwoPassArgs(job, passlog)
		stderr, err = e.runner.Run(ctx, e.opts.FFmpegPath, pass1, nil)
		if err == nil {
			stderr, err = e.runner.Run(ctx, e.opts.FFmpegPath, pass2, nil)
		}
		removePassLogs(passlog)
	case job.Kind == KindVideo:
		stderr, err = e.runner.Run(ctx, e.opts.FFmpegPath, VideoArgs(job), nil)
	case job.Kind == KindPhoto:
		stderr, err = e.runner.Run(ctx, e.opts.FFmpegPath, PhotoArgs(job), nil)
	case job.Kind == KindGIF:
		stderr, err = e.runner.Run(ctx, e.opts.FFmpegPath, GIFArgs(job), nil)
	default:
		return Result{Err: apperr.New(apperr.KindInternal, fmt.Sprintf("unknown encode kind %q", job.Kind))}
	}

	res := Result{Stderr: excerpt(stderr), Elapsed: time.Since(started)}
	if err != nil {
		_ = os.Remove(job.Output)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Err = apperr.Wrap(apperr.KindEncodeTimeout, err, "encoding timed out")
		} else {
			res.Err = apperr.Wrap(apperr.KindEncodeFailed, fmt.Errorf("%w: %s", err, res.Stderr), "encoding failed")
		}
		e.logger.Warn("encode failed",
			zap.String("kind", string(job.Kind)),
			zap.String("output", filepath.Base(final)),
			zap.Duration("elapsed", res.Elapsed),
			zap.Error(res.Err),
		)
		return res
	}

	fi, statErr := os.Stat(job.Output)
	if statErr != nil || fi.Size() == 0 {
		_ = os.Remove(job.Output)
		res.Err = apperr.New(apperr.KindEncodeFailed, "encoder produced no output")
		return res
	}
	if err := os.Rename(job.Output, final); err != nil {
		_ = os.Remove(job.Output)
		res.Err = apperr.Wrap(apperr.KindInternal, err, "could not store encoded output")
		return res
	}
	res.Success = true
	res.OutputSize = fi.Size()
	e.logger.Info("encode finished",
		zap.String("kind", string(job.Kind)),
		zap.String("output", filepath.Base(final)),
		zap.Int64("size", res.OutputSize),
		zap.Duration("elapsed", res.Elapsed),
	)
	return res
}

// stagingPath keeps the extension so ffmpeg still picks the muxer from the file name.
func stagingPath(output string) string {
	dir, base := filepath.Split(output)
	ext := filepath.Ext(base)
	return filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+".partial"+ext)
}

func removePassLogs(prefix string) {
	matches, _ := filepath.Glob(prefix + "*")
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

func excerpt(stderr []byte) string {
	s := strings.TrimSpace(string(stderr))
	if len(s) > stderrExcerpt {
		s = s[len(s)-stderrExcerpt:]
	}
	return s
}
