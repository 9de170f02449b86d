package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/videopress/backend/internal/apperr"
)

func TestErrorUsesKindStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, fmt.Errorf("upload: %w", apperr.New(apperr.KindFileTooLarge, "file too large, maximum is 500MB")))

	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	var body Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.False(t, body.Success)
	require.Equal(t, "file_too_large", body.Kind)
	require.Equal(t, "file too large, maximum is 500MB", body.Error)
}

func TestErrorHidesInternalDetail(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, fmt.Errorf("open /var/data/x: permission denied"))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	var body Body
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "internal", body.Kind)
	require.NotContains(t, body.Error, "/var/data")
}
