package uploads

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/videopress/backend/internal/analysis"
	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/models"
	"github.com/videopress/backend/pkg/utils"
)

// VideoProber reads video metadata.
type VideoProber interface {
	ProbeVideo(ctx context.Context, path string) (models.MediaInfo, error)
}

// Recorder indexes accepted uploads.
type Recorder interface {
	RecordUpload(sessionID string, up models.Upload) error
}

// Service accepts uploads into Dir.
type Service struct {
	validator *Validator
	dir       string
	prober    VideoProber
	recorder  Recorder
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates an upload service writing into dir.
func NewService(v *Validator, dir string, prober VideoProber, recorder Recorder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{validator: v, dir: dir, prober: prober, recorder: recorder, now: time.Now, logger: logger}
}

// Accept validates filename and size, streams body to disk while enforcing the size ceiling,
// probes the stored file and records it. Any failure after the write removes the file.
func (s *Service) Accept(ctx context.Context, sessionID string, kind models.MediaKind, filename string, size int64, body io.Reader) (models.Upload, error) {
	ext, err := s.validator.Validate(filename, size, kind)
	if err != nil {
		return models.Upload{}, err
	}
	now := s.now()
	id := utils.NewFileID(now, kind == models.MediaKindPhoto)
	path := filepath.Join(s.dir, id+ext)

	written, digest, err := s.store(path, body)
	if err != nil {
		_ = os.Remove(path)
		return models.Upload{}, err
	}
	if written == 0 {
		_ = os.Remove(path)
		return models.Upload{}, apperr.New(apperr.KindInvalidUpload, "uploaded file is empty")
	}

	info, err := s.probe(ctx, kind, path)
	if err != nil {
		_ = os.Remove(path)
		return models.Upload{}, err
	}

	up := models.Upload{
		ID:           id,
		SessionID:    sessionID,
		OriginalName: filepath.Base(filename),
		Path:         path,
		Size:         written,
		Checksum:     digest,
		Kind:         kind,
		Media:        info,
		CreatedAt:    now,
	}
	if err := s.recorder.RecordUpload(sessionID, up); err != nil {
		_ = os.Remove(path)
		return models.Upload{}, err
	}
	s.logger.Info("upload accepted",
		zap.String("session_id", sessionID),
		zap.String("file_id", id),
		zap.String("kind", string(kind)),
		zap.Int64("size", written),
	)
	return up, nil
}

func (s *Service) store(path string, body io.Reader) (int64, string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return 0, "", apperr.Wrap(apperr.KindInternal, err, "could not prepare upload directory")
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, "", apperr.Wrap(apperr.KindInternal, err, "could not store upload")
	}
	defer f.Close()

	h := utils.NewDigest()
	limit := s.validator.MaxSize
	n, err := io.Copy(io.MultiWriter(f, h), io.LimitReader(body, limit+1))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return n, "", tooLarge(limit)
		}
		return n, "", apperr.Wrap(apperr.KindInvalidUpload, err, "upload interrupted")
	}
	if n > limit {
		return n, "", tooLarge(limit)
	}
	if err := f.Sync(); err != nil {
		return n, "", apperr.Wrap(apperr.KindInternal, err, "could not store upload")
	}
	return n, utils.HexDigest(h), nil
}

func (s *Service) probe(ctx context.Context, kind models.MediaKind, path string) (models.MediaInfo, error) {
	if kind == models.MediaKindPhoto {
		pa, err := analysis.AnalyzePhoto(path)
		if err != nil {
			return models.MediaInfo{}, err
		}
		return models.MediaInfo{
			Width:     pa.Width,
			Height:    pa.Height,
			Format:    pa.Format,
			Animated:  pa.Animated,
			Frames:    pa.Frames,
			ImageType: string(pa.ImageType),
		}, nil
	}
	info, err := s.prober.ProbeVideo(ctx, path)
	if err != nil {
		return models.MediaInfo{}, err
	}
	if info.Duration <= 0 {
		return models.MediaInfo{}, apperr.New(apperr.KindInvalidUpload, "could not determine video duration")
	}
	return info, nil
}
