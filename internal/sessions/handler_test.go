package sessions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videopress/backend/internal/apperr"
	"github.com/videopress/backend/internal/middleware"
	"github.com/videopress/backend/internal/models"
	"github.com/videopress/backend/internal/registry"
	"github.com/videopress/backend/internal/share"
)

type fakeLinker struct{}

func (fakeLinker) DownloadURL(_ context.Context, sessionID, fileID string, part int, filename string) (string, time.Duration, error) {
	if fileID != "vid" {
		return "", 0, apperr.New(apperr.KindNotFound, "output is not archived")
	}
	return "https://bucket.example/" + sessionID + "/" + filename, 15 * time.Minute, nil
}

type env struct {
	router  *gin.Engine
	reg     *registry.Registry
	session string
	dir     string
}

func newEnv(t *testing.T, linker ArchiveLinker) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := registry.New(registry.Options{}, nil)
	h := NewHandler(reg, share.NewSigner("test-secret", 1), linker, middleware.CookieConfig{}, nil)

	r := gin.New()
	r.GET("/s/:token", h.Shared)
	api := r.Group("", middleware.Session(reg, middleware.CookieConfig{}))
	api.GET("/session/files", h.Files)
	api.GET("/session/info", h.Info)
	api.POST("/session/new", h.New)
	api.POST("/session/clear", h.Clear)
	api.DELETE("/delete/:file_id", h.Delete)
	api.GET("/info/:file_id", h.FileInfo)
	api.GET("/download/:file_id/:part", h.Download)
	api.GET("/download/:file_id/:part/archive", h.ArchiveLink)
	api.POST("/share/:file_id/:part", h.Share)

	e := &env{router: r, reg: reg, session: reg.NewSession().ID, dir: t.TempDir()}
	return e
}

// seed records an upload with two parts; part 2 failed.
func (e *env) seed(t *testing.T) {
	t.Helper()
	in := filepath.Join(e.dir, "vid.mp4")
	out := filepath.Join(e.dir, "vid_part01.mp4")
	require.NoError(t, os.WriteFile(in, []byte("0123456789"), 0o644))
	require.NoError(t, os.WriteFile(out, []byte("abc"), 0o644))
	require.NoError(t, e.reg.RecordUpload(e.session, models.Upload{
		ID: "vid", OriginalName: "clip.mp4", Path: in, Size: 10, Kind: models.MediaKindVideo,
		Media: models.MediaInfo{Width: 640, Height: 360, Duration: 65}, CreatedAt: time.Now(),
	}))
	require.NoError(t, e.reg.RecordOutputs(e.session, "vid", []models.Output{
		{UploadID: "vid", Part: 1, Path: out, Name: "vid_part01.mp4", Size: 3, Status: models.OutputStatusReady},
		{UploadID: "vid", Part: 2, Name: "vid_part02.mp4", Status: models.OutputStatusFailed, Error: "encoding failed"},
	}))
}

func (e *env) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set(middleware.SessionHeader, e.session)
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestFilesAndInfo(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t)

	w := e.do(t, http.MethodGet, "/session/files")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.EqualValues(t, 1, data["count"])
	file := data["files"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "vid", file["file_id"])
	assert.Equal(t, true, file["needs_split"])
	assert.EqualValues(t, 3, file["suggested_parts"])
	outs := file["outputs"].([]interface{})
	require.Len(t, outs, 2)
	assert.Equal(t, "/download/vid/1", outs[0].(map[string]interface{})["download_url"])
	assert.Nil(t, outs[1].(map[string]interface{})["download_url"])

	w = e.do(t, http.MethodGet, "/session/info")
	data = decode(t, w)["data"].(map[string]interface{})
	assert.EqualValues(t, 1, data["total_uploads"])
	assert.EqualValues(t, 1, data["total_outputs"])
	assert.EqualValues(t, 3, data["output_size_bytes"])

	w = e.do(t, http.MethodGet, "/info/vid")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDownload(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t)

	w := e.do(t, http.MethodGet, "/download/vid/1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), "vid_part01.mp4")

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/download/vid/2").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/download/vid/3").Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/download/vid/zero").Code)

	require.NoError(t, os.Remove(filepath.Join(e.dir, "vid_part01.mp4")))
	w = e.do(t, http.MethodGet, "/download/vid/1")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(apperr.KindFileExpired), decode(t, w)["kind"])
}

func TestShareLinkWorksWithoutSession(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t)

	w := e.do(t, http.MethodPost, "/share/vid/1")
	require.Equal(t, http.StatusCreated, w.Code)
	url := decode(t, w)["data"].(map[string]interface{})["url"].(string)

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Body.String())

	rec = httptest.NewRecorder()
	e.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/s/not-a-token", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/share/vid/2").Code)
}

func TestDeleteAndClear(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/delete/vid").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/delete/vid").Code)
	_, err := os.Stat(filepath.Join(e.dir, "vid_part01.mp4"))
	assert.True(t, os.IsNotExist(err))

	w := e.do(t, http.MethodPost, "/session/clear")
	require.Equal(t, http.StatusOK, w.Code)
	newID := decode(t, w)["data"].(map[string]interface{})["new_session_id"].(string)
	assert.NotEqual(t, e.session, newID)
	assert.Equal(t, newID, w.Header().Get(middleware.SessionHeader))
	_, err = e.reg.Session(e.session)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestNewSessionSetsCookie(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(t, http.MethodPost, "/session/new")
	require.Equal(t, http.StatusCreated, w.Code)
	id := decode(t, w)["data"].(map[string]interface{})["session_id"].(string)
	assert.Equal(t, id, w.Header().Get(middleware.SessionHeader))
	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookie && c.Value == id {
			found = true
		}
	}
	assert.True(t, found)
}

func TestArchiveLink(t *testing.T) {
	e := newEnv(t, nil)
	e.seed(t)
	assert.Equal(t, http.StatusServiceUnavailable, e.do(t, http.MethodGet, "/download/vid/1/archive").Code)

	e = newEnv(t, fakeLinker{})
	e.seed(t)
	w := e.do(t, http.MethodGet, "/download/vid/1/archive")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Contains(t, data["url"], "vid_part01.mp4")
	assert.EqualValues(t, 900, data["expires_in"])
}
