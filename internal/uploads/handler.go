package uploads

import (
	"errors"
	"io"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/middleware"
	"github.com/videopress/backend/internal/models"
	"github.com/videopress/backend/pkg/response"
	"github.com/videopress/backend/pkg/utils"
)

// SplitThreshold is the longest video (seconds) a WhatsApp status accepts in one piece.
const SplitThreshold = 30.0

// multipartSlack covers multipart boundaries and headers around the file.
const multipartSlack = 1 << 20

// Response describes an accepted upload.
type Response struct {
	FileID         string           `json:"file_id"`
	Filename       string           `json:"filename"`
	Type           models.MediaKind `json:"type"`
	Size           string           `json:"size"`
	SizeBytes      int64            `json:"size_bytes"`
	Checksum       string           `json:"checksum,omitempty"`
	Width          int              `json:"width"`
	Height         int              `json:"height"`
	Duration       float64          `json:"duration,omitempty"`
	FPS            float64          `json:"fps,omitempty"`
	HasAudio       bool             `json:"has_audio,omitempty"`
	NeedsSplit     bool             `json:"needs_split"`
	SuggestedParts int              `json:"suggested_parts"`
	Format         string           `json:"format,omitempty"`
	IsAnimated     bool             `json:"is_animated,omitempty"`
	ImageType      string           `json:"image_type,omitempty"`
}

// Describe builds the client view of an upload.
func Describe(up models.Upload) Response {
	r := Response{
		FileID:         up.ID,
		Filename:       up.OriginalName,
		Type:           up.Kind,
		Size:           utils.FormatSize(up.Size),
		SizeBytes:      up.Size,
		Checksum:       up.Checksum,
		Width:          up.Media.Width,
		Height:         up.Media.Height,
		SuggestedParts: 1,
		Format:         up.Media.Format,
		IsAnimated:     up.Media.Animated,
		ImageType:      up.Media.ImageType,
	}
	if up.Kind == models.MediaKindVideo {
		r.Duration = math.Round(up.Media.Duration*100) / 100
		r.FPS = math.Round(up.Media.FPS*100) / 100
		r.HasAudio = up.Media.HasAudio
		r.NeedsSplit = up.Media.Duration > SplitThreshold
		if r.NeedsSplit {
			r.SuggestedParts = int(math.Ceil(up.Media.Duration / SplitThreshold))
		}
	}
	return r
}

// Handler serves the upload endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an uploads handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// UploadVideo handles POST /upload (multipart field "video" or "file").
func (h *Handler) UploadVideo(c *gin.Context) { h.accept(c, models.MediaKindVideo, "video") }

// UploadPhoto handles POST /upload/photo (multipart field "photo" or "file").
func (h *Handler) UploadPhoto(c *gin.Context) { h.accept(c, models.MediaKindPhoto, "photo") }

func (h *Handler) accept(c *gin.Context, kind models.MediaKind, field string) {
	max := h.svc.validator.MaxSize
	if c.Request.ContentLength > max+multipartSlack {
		response.Error(c, tooLarge(max))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max+multipartSlack)

	mr, err := c.Request.MultipartReader()
	if err != nil {
		response.Error(c, apperr.New(apperr.KindInvalidUpload, "expected a multipart/form-data upload"))
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			response.Error(c, apperr.New(apperr.KindInvalidUpload, "no file provided"))
			return
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				response.Error(c, tooLarge(max))
				return
			}
			response.Error(c, apperr.Wrap(apperr.KindInvalidUpload, err, "malformed upload"))
			return
		}
		if name := part.FormName(); name != field && name != "file" {
			_ = part.Close()
			continue
		}

		up, err := h.svc.Accept(c.Request.Context(), middleware.SessionID(c), kind, part.FileName(), -1, part)
		_ = part.Close()
		if err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				h.logger.Error("upload failed", zap.Error(err))
			}
			response.Error(c, err)
			return
		}
		response.OK(c, Describe(up))
		return
	}
}
