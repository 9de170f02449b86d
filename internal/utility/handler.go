// Package utility serves introspection endpoints: health, catalogs and statistics.
package utility

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/videopress/backend/internal/media"
	"github.com/videopress/backend/internal/presets"
	"github.com/videopress/backend/internal/registry"
	"github.com/videopress/backend/pkg/response"
	"github.com/videopress/backend/pkg/utils"
)

// Version is reported by /health.
const Version = "1.0.0"

// WhatsAppStatusLimit is the longest clip WhatsApp accepts as a status, in seconds.
const WhatsAppStatusLimit = 30

// QueueDepth reports archive backlog; *queue.Queue implements it.
type QueueDepth interface {
	Depth(ctx context.Context) (pending, dead int64, err error)
}

// Options describes the running configuration exposed by the endpoints.
type Options struct {
	FFmpegPath          string
	FFprobePath         string
	MaxFileSize         int64
	FileExpiryHours     int
	SessionDurationDays int
	VideoExtensions     []string
	ImageExtensions     []string
	SplitOptions        []int
	GIF                 presets.GIFCaps
	Archive             bool
	Realtime            bool
}

// SplitOption is one offered segment length.
type SplitOption struct {
	Duration    int    `json:"duration"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Handler serves utility endpoints.
type Handler struct {
	reg       *registry.Registry
	queue     QueueDepth
	opts      Options
	available func(string) bool
	logger    *zap.Logger
}

// NewHandler creates a utility handler. queue may be nil.
func NewHandler(reg *registry.Registry, queue QueueDepth, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.SplitOptions) == 0 {
		opts.SplitOptions = []int{0, 30, 60, 90}
	}
	return &Handler{reg: reg, queue: queue, opts: opts, available: media.Available, logger: logger}
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	ffmpeg := h.available(h.opts.FFmpegPath)
	ffprobe := h.available(h.opts.FFprobePath)
	status := "healthy"
	if !ffmpeg || !ffprobe {
		status = "degraded"
	}
	response.OK(c, gin.H{
		"status":      status,
		"version":     Version,
		"api_version": "v1",
		"timestamp":   time.Now().UTC(),
		"features": gin.H{
			"video_compression": ffmpeg,
			"photo_compression": ffmpeg,
			"video_splitting":   ffmpeg,
			"video_to_gif":      ffmpeg,
			"ffmpeg_available":  ffmpeg,
			"ffprobe_available": ffprobe,
			"archive":           h.opts.Archive,
			"realtime":          h.opts.Realtime,
		},
		"limits": gin.H{
			"max_file_size_mb":      h.opts.MaxFileSize / (1024 * 1024),
			"file_expiry_hours":     h.opts.FileExpiryHours,
			"session_duration_days": h.opts.SessionDurationDays,
		},
		"supported_formats": h.formats(),
	})
}

// Algorithms handles GET /utility/algorithms.
func (h *Handler) Algorithms(c *gin.Context) {
	var video, photo []presets.AlgorithmInfo
	for _, a := range presets.Catalog() {
		if a.Kind == "video" {
			video = append(video, a)
		} else {
			photo = append(photo, a)
		}
	}
	response.OK(c, gin.H{
		"video":   video,
		"photo":   photo,
		"default": gin.H{"video": presets.NeuralPreserve.String(), "photo": presets.BalancedPro.String()},
	})
}

// Formats handles GET /formats.
func (h *Handler) Formats(c *gin.Context) {
	response.OK(c, h.formats())
}

func (h *Handler) formats() gin.H {
	out := make([]string, 0, 3)
	for _, f := range []presets.Format{presets.FormatJPEG, presets.FormatPNG, presets.FormatWebP} {
		out = append(out, string(f))
	}
	return gin.H{
		"video":        h.opts.VideoExtensions,
		"image":        h.opts.ImageExtensions,
		"photo_output": out,
		"video_output": []string{"mp4"},
		"gif": gin.H{
			"max_duration": h.opts.GIF.MaxDuration,
			"max_fps":      h.opts.GIF.MaxFPS,
			"max_width":    h.opts.GIF.MaxWidth,
		},
	}
}

// SplitOptions handles GET /split-options.
func (h *Handler) SplitOptions(c *gin.Context) {
	opts := make([]SplitOption, 0, len(h.opts.SplitOptions))
	for _, d := range h.opts.SplitOptions {
		opts = append(opts, splitOption(d))
	}
	response.OK(c, gin.H{
		"options":               opts,
		"whatsapp_status_limit": WhatsAppStatusLimit,
		"recommended":           WhatsAppStatusLimit,
	})
}

func splitOption(d int) SplitOption {
	switch {
	case d == 0:
		return SplitOption{Duration: 0, Label: "No Split", Description: "Keep as single file"}
	case d == WhatsAppStatusLimit:
		return SplitOption{Duration: d, Label: "30 Seconds", Description: "WhatsApp Status limit"}
	case d%60 == 0:
		return SplitOption{Duration: d, Label: fmt.Sprintf("%d Seconds", d), Description: fmt.Sprintf("%d minute segments", d/60)}
	default:
		return SplitOption{Duration: d, Label: fmt.Sprintf("%d Seconds", d), Description: fmt.Sprintf("%.1f minute segments", float64(d)/60)}
	}
}

// Stats handles GET /stats.
func (h *Handler) Stats(c *gin.Context) {
	st := h.reg.Stats()
	body := gin.H{
		"sessions": gin.H{"active": st.Sessions},
		"files": gin.H{
			"total_uploads": st.Uploads,
			"total_outputs": st.Outputs,
			"expired":       st.Tombstones,
		},
		"storage": gin.H{
			"uploads":       utils.FormatSize(st.UploadBytes),
			"uploads_bytes": st.UploadBytes,
			"outputs":       utils.FormatSize(st.OutputBytes),
			"outputs_bytes": st.OutputBytes,
			"total":         utils.FormatSize(st.UploadBytes + st.OutputBytes),
			"total_bytes":   st.UploadBytes + st.OutputBytes,
		},
		"timestamp": time.Now().UTC(),
	}
	if h.queue != nil {
		pending, dead, err := h.queue.Depth(c.Request.Context())
		if err != nil {
			h.logger.Warn("queue depth failed", zap.Error(err))
		} else {
			body["archive_queue"] = gin.H{"pending": pending, "dead": dead}
		}
	}
	response.OK(c, body)
}
