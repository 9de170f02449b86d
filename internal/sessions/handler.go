// Package sessions serves the session-scoped file listing, download and sharing endpoints.
package sessions

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/compress"
	"github.com/videopress/backend/internal/middleware"
	"github.com/videopress/backend/internal/models"
	"github.com/videopress/backend/internal/registry"
	"github.com/videopress/backend/internal/share"
	"github.com/videopress/backend/internal/uploads"
	"github.com/videopress/backend/pkg/response"
	"github.com/videopress/backend/pkg/utils"
)

// ArchiveLinker presigns archived outputs; *archive.Archive implements it.
type ArchiveLinker interface {
	DownloadURL(ctx context.Context, sessionID, fileID string, part int, filename string) (string, time.Duration, error)
}

// OutputView is the client view of one output part.
type OutputView struct {
	models.Output
	SizeLabel   string `json:"size"`
	DownloadURL string `json:"download_url,omitempty"`
}

// FileView is an upload with its latest outputs.
type FileView struct {
	uploads.Response
	HasOutput bool         `json:"has_output"`
	Outputs   []OutputView `json:"outputs"`
}

// Handler serves session endpoints.
type Handler struct {
	reg     *registry.Registry
	signer  *share.Signer
	archive ArchiveLinker
	cookie  middleware.CookieConfig
	logger  *zap.Logger
}

// NewHandler creates a sessions handler. archive may be nil when archiving is disabled.
func NewHandler(reg *registry.Registry, signer *share.Signer, archive ArchiveLinker, cookie middleware.CookieConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{reg: reg, signer: signer, archive: archive, cookie: cookie, logger: logger}
}

// Files handles GET /session/files.
func (h *Handler) Files(c *gin.Context) {
	sid := middleware.SessionID(c)
	files, err := h.reg.ListFiles(sid)
	if err != nil {
		response.Error(c, err)
		return
	}
	views := make([]FileView, 0, len(files))
	for _, f := range files {
		views = append(views, fileView(f.Upload, f.Outputs))
	}
	response.OK(c, gin.H{"session_id": sid, "files": views, "count": len(views)})
}

// Info handles GET /session/info.
func (h *Handler) Info(c *gin.Context) {
	info, err := h.reg.Info(middleware.SessionID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	remaining := time.Until(info.Session.ExpiresAt).Hours()
	response.OK(c, gin.H{
		"session_id":        info.Session.ID,
		"created_at":        info.Session.CreatedAt,
		"expires_at":        info.Session.ExpiresAt,
		"expires_in_hours":  math.Max(0, math.Round(remaining*10)/10),
		"total_uploads":     info.Uploads,
		"total_outputs":     info.Outputs,
		"upload_size":       utils.FormatSize(info.UploadBytes),
		"output_size":       utils.FormatSize(info.OutputBytes),
		"upload_size_bytes": info.UploadBytes,
		"output_size_bytes": info.OutputBytes,
	})
}

// New handles POST /session/new. The previous session is left to expire.
func (h *Handler) New(c *gin.Context) {
	s := h.reg.NewSession()
	h.switchSession(c, s.ID)
	response.Created(c, gin.H{"session_id": s.ID, "created_at": s.CreatedAt, "expires_at": s.ExpiresAt})
}

// Clear handles POST /session/clear: every file is deleted and a new session issued.
func (h *Handler) Clear(c *gin.Context) {
	old := middleware.SessionID(c)
	s, err := h.reg.Clear(old)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Info("session cleared", zap.String("session_id", old), zap.String("new_session_id", s.ID))
	h.switchSession(c, s.ID)
	response.OK(c, gin.H{"message": "session cleared", "new_session_id": s.ID})
}

// Delete handles DELETE /delete/:file_id.
func (h *Handler) Delete(c *gin.Context) {
	fileID := c.Param("file_id")
	if err := h.reg.Delete(middleware.SessionID(c), fileID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "file deleted", "file_id": fileID})
}

// FileInfo handles GET /info/:file_id.
func (h *Handler) FileInfo(c *gin.Context) {
	sid := middleware.SessionID(c)
	fileID := c.Param("file_id")
	up, err := h.reg.Upload(sid, fileID)
	if err != nil {
		response.Error(c, err)
		return
	}
	outs, err := h.reg.Outputs(sid, fileID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, fileView(up, outs))
}

// Download handles GET /download/:file_id/:part.
func (h *Handler) Download(c *gin.Context) {
	part, ok := partParam(c)
	if !ok {
		return
	}
	h.serve(c, middleware.SessionID(c), c.Param("file_id"), part)
}

// Share handles POST /share/:file_id/:part and returns a link usable without the session.
func (h *Handler) Share(c *gin.Context) {
	part, ok := partParam(c)
	if !ok {
		return
	}
	sid := middleware.SessionID(c)
	fileID := c.Param("file_id")
	if _, err := h.readyOutput(sid, fileID, part); err != nil {
		response.Error(c, err)
		return
	}
	token, exp, err := h.signer.Sign(sid, fileID, part)
	if err != nil {
		h.logger.Error("sign share link failed", zap.Error(err))
		response.Internal(c, "failed to create share link")
		return
	}
	response.Created(c, gin.H{"token": token, "url": "/s/" + token, "expires_at": exp})
}

// Shared handles GET /s/:token.
func (h *Handler) Shared(c *gin.Context) {
	claims, err := h.signer.Validate(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.serve(c, claims.SessionID, claims.FileID, claims.Part)
}

// ArchiveLink handles GET /download/:file_id/:part/archive.
func (h *Handler) ArchiveLink(c *gin.Context) {
	if h.archive == nil {
		response.ServiceUnavailable(c, "archive storage is not configured")
		return
	}
	part, ok := partParam(c)
	if !ok {
		return
	}
	sid := middleware.SessionID(c)
	fileID := c.Param("file_id")
	out, err := h.readyOutput(sid, fileID, part)
	if err != nil {
		response.Error(c, err)
		return
	}
	url, expires, err := h.archive.DownloadURL(c.Request.Context(), sid, fileID, part, out.Name)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"url": url, "expires_in": int(expires.Seconds())})
}

func (h *Handler) serve(c *gin.Context, sessionID, fileID string, part int) {
	out, err := h.readyOutput(sessionID, fileID, part)
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := os.Stat(out.Path); errors.Is(err, fs.ErrNotExist) {
		response.Error(c, apperr.New(apperr.KindFileExpired, "file no longer exists on server, please re-upload"))
		return
	}
	c.FileAttachment(out.Path, out.Name)
}

func (h *Handler) readyOutput(sessionID, fileID string, part int) (models.Output, error) {
	out, err := h.reg.Output(sessionID, fileID, part)
	if err != nil {
		return models.Output{}, err
	}
	if !out.Ready() {
		return models.Output{}, apperr.New(apperr.KindNotFound, "part "+strconv.Itoa(part)+" failed to encode")
	}
	return out, nil
}

func (h *Handler) switchSession(c *gin.Context, id string) {
	c.Set(middleware.ContextSessionID, id)
	middleware.SetSessionCookie(c, id, h.cookie)
	c.Header(middleware.SessionHeader, id)
}

func partParam(c *gin.Context) (int, bool) {
	part, err := strconv.Atoi(c.Param("part"))
	if err != nil || part < 1 {
		response.BadRequest(c, "part must be a positive integer")
		return 0, false
	}
	return part, true
}

func fileView(up models.Upload, outs []models.Output) FileView {
	v := FileView{Response: uploads.Describe(up), Outputs: make([]OutputView, 0, len(outs))}
	for _, o := range outs {
		ov := OutputView{Output: o, SizeLabel: utils.FormatSize(o.Size)}
		if o.Ready() {
			v.HasOutput = true
			ov.DownloadURL = compress.DownloadURL(up.ID, o.Part)
		}
		v.Outputs = append(v.Outputs, ov)
	}
	return v
}
