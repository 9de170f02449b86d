// Package compress runs compression jobs for uploads held in the session registry.
package compress

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/videopress/backend/internal/analysis"
	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/encoder"
	"github.com/videopress/backend/internal/models"
	"github.com/videopress/backend/internal/presets"
	"github.com/videopress/backend/internal/realtime"
	"github.com/videopress/backend/internal/registry"
	"github.com/videopress/backend/internal/segmenter"
	"github.com/videopress/backend/pkg/queue"
	"github.com/videopress/backend/pkg/utils"
)

// Notifier receives progress events; *realtime.Hub implements it.
type Notifier interface {
	Notify(sessionID, event string, payload interface{})
}

// NopNotifier drops every event.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(string, string, interface{}) {}

// Enqueuer schedules archive uploads; *queue.Queue implements it.
type Enqueuer interface {
	EnqueueArchive(ctx context.Context, p queue.ArchivePayload) error
}

// VideoAnalyzer extracts content signals; *analysis.VideoAnalyzer implements it.
type VideoAnalyzer interface {
	Analyze(ctx context.Context, path string, info models.MediaInfo) analysis.VideoAnalysis
}

// Options configures a Service.
type Options struct {
	OutputDir  string
	BudgetMB   float64
	GIF        presets.GIFCaps
	ArchiveTTL time.Duration
	Now        func() time.Time
}

// Request asks for a video compression run.
type Request struct {
	FileID        string  `json:"file_id"`
	Algorithm     string  `json:"algorithm"`
	SplitDuration float64 `json:"split_duration"`
	TargetSizeMB  float64 `json:"target_size_mb"`
}

// PhotoRequest asks for a photo compression.
type PhotoRequest struct {
	FileID    string `json:"file_id"`
	Algorithm string `json:"algorithm"`
	Format    string `json:"format"`
}

// GIFRequest asks for a video to GIF conversion.
type GIFRequest struct {
	FileID   string  `json:"file_id"`
	Duration float64 `json:"max_duration"`
	FPS      int     `json:"fps"`
}

// PartReport is the client view of one encoded part.
type PartReport struct {
	Part             int     `json:"part"`
	Success          bool    `json:"success"`
	Start            float64 `json:"start"`
	End              float64 `json:"end"`
	Name             string  `json:"name,omitempty"`
	Size             string  `json:"size,omitempty"`
	SizeBytes        int64   `json:"size_bytes"`
	CompressionRatio float64 `json:"compression_ratio"`
	DownloadURL      string  `json:"download_url,omitempty"`
	Error            string  `json:"error,omitempty"`
	Kind             string  `json:"kind,omitempty"`
}

// PhotoReport carries the resolved photo parameters.
type PhotoReport struct {
	Quality   int    `json:"quality"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	ImageType string `json:"image_type"`
	Colors    int    `json:"colors,omitempty"`
}

// Run is the outcome of one compression request.
type Run struct {
	FileID         string                  `json:"file_id"`
	Algorithm      string                  `json:"algorithm"`
	TotalParts     int                     `json:"total_parts"`
	Success        bool                    `json:"success"`
	Partial        bool                    `json:"partial"`
	OriginalSize   string                  `json:"original_size"`
	CompressedSize string                  `json:"compressed_size"`
	Parts          []PartReport            `json:"outputs"`
	Analysis       *analysis.VideoAnalysis `json:"analysis,omitempty"`
	Photo          *PhotoReport            `json:"photo,omitempty"`
}

// DownloadURL returns the session download path of a part.
func DownloadURL(fileID string, part int) string {
	return fmt.Sprintf("/download/%s/%d", fileID, part)
}

// Service drives analysis, parameter selection and encoding for uploads.
type Service struct {
	reg      *registry.Registry
	enc      segmenter.Encoder
	analyzer VideoAnalyzer
	notifier Notifier
	archive  Enqueuer
	opts     Options
	logger   *zap.Logger
}

// NewService creates a compression service. notifier and archive may be nil.
func NewService(reg *registry.Registry, enc segmenter.Encoder, analyzer VideoAnalyzer, notifier Notifier, archive Enqueuer, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if opts.BudgetMB <= 0 {
		opts.BudgetMB = presets.DefaultBudgetMB
	}
	if opts.GIF.MaxDuration <= 0 {
		opts.GIF = presets.DefaultGIFCaps
	}
	if opts.ArchiveTTL <= 0 {
		opts.ArchiveTTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{reg: reg, enc: enc, analyzer: analyzer, notifier: notifier, archive: archive, opts: opts, logger: logger}
}

// CompressVideo encodes an uploaded video, split into parts of req.SplitDuration seconds
// when that is positive and shorter than the video.
func (s *Service) CompressVideo(ctx context.Context, sessionID string, req Request) (*Run, error) {
	alg, err := presets.ParseVideoAlgorithm(req.Algorithm)
	if err != nil {
		return nil, err
	}
	if req.SplitDuration < 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "split_duration must not be negative")
	}
	if req.TargetSizeMB < 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "target_size_mb must not be negative")
	}
	up, err := s.source(sessionID, req.FileID, models.MediaKindVideo)
	if err != nil {
		return nil, err
	}

	va := analysis.DefaultVideoAnalysis()
	var reported *analysis.VideoAnalysis
	if alg == presets.NeuralPreserve && s.analyzer != nil {
		va = s.analyzer.Analyze(ctx, up.Path, up.Media)
		reported = &va
	}

	budget := s.opts.BudgetMB
	if req.TargetSizeMB > 0 {
		budget = req.TargetSizeMB
	}
	spans := segmenter.Plan(up.Media.Duration, req.SplitDuration)
	if len(spans) == 0 {
		return nil, apperr.New(apperr.KindInvalidUpload, "video has no duration")
	}
	params := presets.SelectVideo(alg, up.Media, segmenter.Longest(spans), va, budget)
	base := encoder.Job{
		Input:    up.Path,
		Kind:     encoder.KindVideo,
		Video:    params,
		HasAudio: up.Media.HasAudio,
		Duration: up.Media.Duration,
	}
	naming := segmenter.Naming{Dir: s.opts.OutputDir, FileID: up.ID, Ext: ".mp4"}

	s.logger.Info("compress started",
		zap.String("session_id", sessionID),
		zap.String("file_id", up.ID),
		zap.String("algorithm", alg.String()),
		zap.Int("parts", len(spans)),
		zap.Float64("duration", up.Media.Duration),
	)
	s.notifier.Notify(sessionID, realtime.EventCompressStarted, event{"file_id": up.ID, "algorithm": alg.String(), "parts": len(spans)})
	results := segmenter.Split(ctx, s.enc, base, spans, naming, s.hooks(sessionID, up.ID))

	run, err := s.finish(ctx, sessionID, up, alg.String(), "mp4", results)
	if run != nil {
		run.Analysis = reported
	}
	return run, err
}

// CompressPhoto encodes an uploaded photo into a single output.
func (s *Service) CompressPhoto(ctx context.Context, sessionID string, req PhotoRequest) (*Run, error) {
	alg, err := presets.ParsePhotoAlgorithm(req.Algorithm)
	if err != nil {
		return nil, err
	}
	format, err := presets.ParseFormat(req.Format)
	if err != nil {
		return nil, err
	}
	up, err := s.source(sessionID, req.FileID, models.MediaKindPhoto)
	if err != nil {
		return nil, err
	}

	params := presets.SelectPhoto(alg, photoAnalysis(up.Media), format)
	base := encoder.Job{Input: up.Path, Kind: encoder.KindPhoto, Photo: params}
	naming := segmenter.Naming{Dir: s.opts.OutputDir, FileID: up.ID, Ext: params.Format.Extension()}
	spans := []segmenter.Span{{Part: 1}}

	s.notifier.Notify(sessionID, realtime.EventCompressStarted, event{"file_id": up.ID, "algorithm": alg.String(), "parts": 1})
	results := segmenter.Split(ctx, s.enc, base, spans, naming, s.hooks(sessionID, up.ID))

	run, err := s.finish(ctx, sessionID, up, alg.String(), string(params.Format), results)
	if run != nil {
		run.Photo = &PhotoReport{
			Quality:   params.Quality,
			Format:    params.Format.Label(),
			Width:     params.Width,
			Height:    params.Height,
			ImageType: string(params.ImageType),
			Colors:    params.Colors,
		}
	}
	return run, err
}

// VideoToGIF converts the start of an uploaded video into an animated GIF.
func (s *Service) VideoToGIF(ctx context.Context, sessionID string, req GIFRequest) (*Run, error) {
	if req.FPS < 0 || req.Duration < 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "max_duration and fps must not be negative")
	}
	up, err := s.source(sessionID, req.FileID, models.MediaKindVideo)
	if err != nil {
		return nil, err
	}

	params := presets.SelectGIF(up.Media, req.Duration, req.FPS, s.opts.GIF)
	name := up.ID + "_converted.gif"
	job := encoder.Job{
		Input:    up.Path,
		Output:   filepath.Join(s.opts.OutputDir, name),
		Kind:     encoder.KindGIF,
		GIF:      params,
		Duration: params.Duration,
	}
	span := segmenter.Span{Part: 1, Start: 0, End: params.Duration}
	hooks := s.hooks(sessionID, up.ID)

	s.notifier.Notify(sessionID, realtime.EventCompressStarted, event{"file_id": up.ID, "algorithm": "gif", "parts": 1})
	hooks.Started(span, 1)
	res := segmenter.PartResult{Span: span, Name: name, Path: job.Output, Result: s.enc.Run(ctx, job)}
	hooks.Finished(res, 1)

	return s.finish(ctx, sessionID, up, "gif", "gif", []segmenter.PartResult{res})
}

// source resolves an upload of the wanted kind whose file is still on disk.
func (s *Service) source(sessionID, fileID string, kind models.MediaKind) (models.Upload, error) {
	if fileID == "" {
		return models.Upload{}, apperr.New(apperr.KindInvalidRequest, "file_id is required")
	}
	up, err := s.reg.Upload(sessionID, fileID)
	if err != nil {
		return models.Upload{}, err
	}
	if up.Kind != kind {
		return models.Upload{}, apperr.New(apperr.KindInvalidRequest, fmt.Sprintf("file %s is a %s upload, expected %s", fileID, up.Kind, kind))
	}
	if _, err := os.Stat(up.Path); errors.Is(err, fs.ErrNotExist) {
		return models.Upload{}, apperr.New(apperr.KindFileExpired, "file no longer exists on server, please re-upload")
	}
	return up, nil
}

type event map[string]interface{}

func (s *Service) hooks(sessionID, fileID string) segmenter.Hooks {
	return segmenter.Hooks{
		Started: func(span segmenter.Span, parts int) {
			s.notifier.Notify(sessionID, realtime.EventPartStarted, event{
				"file_id": fileID, "part": span.Part, "parts": parts, "start": span.Start, "end": span.End,
			})
		},
		Finished: func(r segmenter.PartResult, parts int) {
			ev := event{"file_id": fileID, "part": r.Part, "parts": parts, "success": r.Result.Success, "size_bytes": r.Result.OutputSize}
			if r.Result.Err != nil {
				ev["error"] = apperr.Message(r.Result.Err)
			}
			s.notifier.Notify(sessionID, realtime.EventPartFinished, ev)
		},
	}
}

// finish records the run and builds its report. A run where no part succeeded leaves the
// previous outputs untouched; a failed single-part run is returned as an error.
func (s *Service) finish(ctx context.Context, sessionID string, up models.Upload, algorithm, format string, results []segmenter.PartResult) (*Run, error) {
	now := s.opts.Now()
	run := &Run{
		FileID:       up.ID,
		Algorithm:    algorithm,
		TotalParts:   len(results),
		OriginalSize: utils.FormatSize(up.Size),
		Parts:        make([]PartReport, 0, len(results)),
	}
	outs := make([]models.Output, 0, len(results))
	var total int64
	succeeded := 0
	for _, r := range results {
		o := models.Output{
			ID:        uuid.NewString(),
			UploadID:  up.ID,
			Part:      r.Part,
			Path:      r.Path,
			Name:      r.Name,
			Algorithm: algorithm,
			Format:    format,
			Start:     r.Start,
			End:       r.End,
			Status:    models.OutputStatusFailed,
			CreatedAt: now,
		}
		rep := PartReport{Part: r.Part, Start: r.Start, End: r.End}
		if r.Result.Success {
			succeeded++
			total += r.Result.OutputSize
			o.Status = models.OutputStatusReady
			o.Size = r.Result.OutputSize
			o.CompressionRatio = models.CompressionRatio(up.Size, o.Size)
			rep.Success = true
			rep.Name = r.Name
			rep.Size = utils.FormatSize(o.Size)
			rep.SizeBytes = o.Size
			rep.CompressionRatio = o.CompressionRatio
			rep.DownloadURL = DownloadURL(up.ID, r.Part)
		} else {
			o.Path = ""
			o.Error = apperr.Message(r.Result.Err)
			rep.Error = o.Error
			rep.Kind = string(apperr.KindOf(r.Result.Err))
		}
		outs = append(outs, o)
		run.Parts = append(run.Parts, rep)
	}
	run.CompressedSize = utils.FormatSize(total)
	run.Success = succeeded == len(results) && succeeded > 0
	run.Partial = succeeded > 0 && !run.Success

	defer func() {
		s.notifier.Notify(sessionID, realtime.EventCompressFinished, event{
			"file_id": up.ID, "success": run.Success, "partial": run.Partial, "parts": len(results),
		})
	}()

	if succeeded == 0 {
		s.logger.Warn("compress failed", zap.String("session_id", sessionID), zap.String("file_id", up.ID), zap.String("algorithm", algorithm))
		if len(results) == 1 {
			return nil, results[0].Result.Err
		}
		return run, nil
	}
	if err := s.reg.RecordOutputs(sessionID, up.ID, outs); err != nil {
		for _, o := range outs {
			if o.Path != "" {
				_ = os.Remove(o.Path)
			}
		}
		return nil, err
	}
	s.logger.Info("compress finished",
		zap.String("session_id", sessionID),
		zap.String("file_id", up.ID),
		zap.String("algorithm", algorithm),
		zap.Int("parts", len(results)),
		zap.Int("succeeded", succeeded),
		zap.Int64("output_bytes", total),
	)
	s.enqueueArchive(ctx, sessionID, outs)
	return run, nil
}

func (s *Service) enqueueArchive(ctx context.Context, sessionID string, outs []models.Output) {
	if s.archive == nil {
		return
	}
	for _, o := range outs {
		if !o.Ready() {
			continue
		}
		p := queue.ArchivePayload{
			SessionID: sessionID,
			FileID:    o.UploadID,
			Part:      o.Part,
			Path:      o.Path,
			Name:      o.Name,
			Size:      o.Size,
			Algorithm: o.Algorithm,
			ExpiresAt: o.CreatedAt.Add(s.opts.ArchiveTTL),
		}
		if f, err := os.Open(o.Path); err == nil {
			p.Checksum, _ = utils.DigestReader(f)
			f.Close()
		}
		if err := s.archive.EnqueueArchive(ctx, p); err != nil {
			s.logger.Warn("enqueue archive failed", zap.String("file_id", o.UploadID), zap.Int("part", o.Part), zap.Error(err))
		}
	}
}

func photoAnalysis(m models.MediaInfo) analysis.PhotoAnalysis {
	t := analysis.ImageType(m.ImageType)
	if t == "" {
		t = analysis.ImagePhoto
	}
	return analysis.PhotoAnalysis{
		ImageType: t,
		Width:     m.Width,
		Height:    m.Height,
		Format:    m.Format,
		Animated:  m.Animated,
		Frames:    m.Frames,
	}
}
