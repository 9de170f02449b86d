package compress

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/middleware"
	"github.com/videopress/backend/pkg/response"
)

// Handler serves the compression endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a compress handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// CompressVideo handles POST /compress.
func (h *Handler) CompressVideo(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	run, err := h.svc.CompressVideo(c.Request.Context(), middleware.SessionID(c), req)
	h.reply(c, run, err)
}

// CompressPhoto handles POST /compress/photo.
func (h *Handler) CompressPhoto(c *gin.Context) {
	var req PhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	run, err := h.svc.CompressPhoto(c.Request.Context(), middleware.SessionID(c), req)
	h.reply(c, run, err)
}

// VideoToGIF handles POST /convert/video-to-gif.
func (h *Handler) VideoToGIF(c *gin.Context) {
	var req GIFRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	run, err := h.svc.VideoToGIF(c.Request.Context(), middleware.SessionID(c), req)
	h.reply(c, run, err)
}

func (h *Handler) reply(c *gin.Context, run *Run, err error) {
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			h.logger.Error("compress request failed", zap.Error(err))
		}
		response.Error(c, err)
		return
	}
	if !run.Success {
		msg := "some parts failed to encode"
		if !run.Partial {
			msg = "every part failed to encode"
		}
		response.Partial(c, run, msg)
		return
	}
	response.OK(c, run)
}
