package converter

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/scanforge/internal/pdf"
	"github.com/yourusername/scanforge/internal/storage"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := storage.NewMemory()
	reg := NewRegistry(func() (*Controller, error) {
		return New(Options{Store: store, Logger: zerolog.Nop()})
	}, 0, zerolog.Nop())
	h := NewHandler(reg, func(c *gin.Context) (string, error) { return "test", nil }, 1<<20, zerolog.Nop())

	r := gin.New()
	api := r.Group("/api/converter")
	api.GET("", h.GetState)
	api.POST("/images", h.Ingest)
	api.DELETE("/images", h.Clear)
	api.DELETE("/images/:id", h.Remove)
	api.GET("/images/:id/preview", h.Preview)
	api.POST("/images/:id/rotate", h.RotateOne)
	api.PUT("/order", h.Reorder)
	api.POST("/rotate", h.RotateAll)
	api.PUT("/settings", h.UpdateSettings)
	api.POST("/editor", h.OpenEditor)
	api.DELETE("/editor", h.CancelEditor)
	api.POST("/editor/tool", h.ApplyTool)
	api.PUT("/editor/crop", h.SetCropBox)
	api.POST("/editor/commit", h.Commit)
	api.GET("/snapshot", func(c *gin.Context) {
		req, err := h.ExportSource(c)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"pages": len(req.Pages)})
	})
	return r, reg
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T, r *gin.Engine, files ...RawFile) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files[]"; filename="`+f.Name+`"`)
		h.Set("Content-Type", f.MediaType)
		part, err := w.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(f.Data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/converter/images", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	return payload
}

func TestHTTPIngestAndState(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := upload(t, r, pngFile(t, "a.png", 2, 2), pngFile(t, "b.png", 2, 2), textFile("c.txt"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	payload := decode(t, rec)
	assert.Len(t, payload["added"], 2)
	assert.EqualValues(t, 1, payload["rejected"])

	rec = doJSON(t, r, http.MethodGet, "/api/converter", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, ViewEditor, st.View)
	assert.Equal(t, 2, st.Count)
	assert.Equal(t, pdf.DefaultSettings(), st.Settings)

	rec = doJSON(t, r, http.MethodGet, "/api/converter/images/"+st.Units[0].ID+"/preview", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
}

func TestHTTPIngestNoValidImages(t *testing.T) {
	r, _ := newTestRouter(t)
	rec := upload(t, r, textFile("a.txt"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, CodeNoValidImages, payload["code"])
	assert.EqualValues(t, 1, payload["rejected"])
}

func TestHTTPClearNeedsConfirm(t *testing.T) {
	r, _ := newTestRouter(t)
	upload(t, r, pngFile(t, "a.png", 1, 1))

	rec := doJSON(t, r, http.MethodDelete, "/api/converter/images", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, CodeConfirmationRequired, payload["code"])
	assert.Equal(t, PromptClear, payload["message"])

	rec = doJSON(t, r, http.MethodDelete, "/api/converter/images?confirm=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(ViewUpload), decode(t, rec)["view"])
}

func TestHTTPEditorFlow(t *testing.T) {
	r, reg := newTestRouter(t)
	upload(t, r, pngFile(t, "a.png", 4, 2))
	ctrl, err := reg.Get("test")
	require.NoError(t, err)
	id := ctrl.State().Units[0].ID

	rec := doJSON(t, r, http.MethodPost, "/api/converter/editor/commit", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/converter/editor", gin.H{"id": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/converter/editor", gin.H{"id": id})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, r, http.MethodPost, "/api/converter/editor/tool", gin.H{"action": "rotate-right"})
	require.Equal(t, http.StatusOK, rec.Code)
	session := decode(t, rec)["session"].(map[string]any)
	box := session["cropBox"].(map[string]any)
	assert.EqualValues(t, 2, box["width"])
	assert.EqualValues(t, 4, box["height"])

	rec = doJSON(t, r, http.MethodPut, "/api/converter/editor/crop", gin.H{"x": 0, "y": 0, "width": 2, "height": 2})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/api/converter/editor/commit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	unit := decode(t, rec)["unit"].(map[string]any)
	assert.Equal(t, true, unit["cropBaked"])

	rec = doJSON(t, r, http.MethodPost, "/api/converter/images/"+id+"/rotate", gin.H{"delta": 90})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, PromptResetCrop, decode(t, rec)["message"])

	rec = doJSON(t, r, http.MethodPost, "/api/converter/images/"+id+"/rotate", gin.H{"delta": 90, "confirm": true})
	require.Equal(t, http.StatusOK, rec.Code)
	u, _ := ctrl.Unit(id)
	assert.False(t, u.CropBaked)
	assert.Equal(t, 90, u.Rotation)

	rec = doJSON(t, r, http.MethodDelete, "/api/converter/editor", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHTTPReorderAndRotate(t *testing.T) {
	r, reg := newTestRouter(t)
	upload(t, r, pngFile(t, "a.png", 1, 1), pngFile(t, "b.png", 1, 1))
	ctrl, err := reg.Get("test")
	require.NoError(t, err)
	st := ctrl.State()
	a, b := st.Units[0].ID, st.Units[1].ID

	rec := doJSON(t, r, http.MethodPut, "/api/converter/order", gin.H{"order": []string{a, a}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeInvalidOrder, decode(t, rec)["code"])

	rec = doJSON(t, r, http.MethodPut, "/api/converter/order", gin.H{"order": []string{b, a}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, b, ctrl.State().Units[0].ID)

	rec = doJSON(t, r, http.MethodPost, "/api/converter/rotate", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 90, ctrl.State().Units[0].Rotation)

	rec = doJSON(t, r, http.MethodPost, "/api/converter/rotate", gin.H{"delta": 45})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPSettingsAndSnapshot(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/api/converter/snapshot", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, pdf.CodeEmptyCollection, decode(t, rec)["code"])

	rec = doJSON(t, r, http.MethodPut, "/api/converter/settings", gin.H{"pageSize": "letter", "compressionLevel": "high"})
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decode(t, rec)["settings"].(map[string]any)
	assert.Equal(t, "letter", settings["pageSize"])
	assert.Equal(t, "high", settings["compressionLevel"])

	rec = doJSON(t, r, http.MethodPut, "/api/converter/settings", gin.H{"margin": "gigantic"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), pdf.CodeInvalidInput))

	upload(t, r, pngFile(t, "a.png", 1, 1))
	rec = doJSON(t, r, http.MethodGet, "/api/converter/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["pages"])
}

func TestHTTPClosedWorkspace(t *testing.T) {
	r, reg := newTestRouter(t)
	rec := upload(t, r, pngFile(t, "a.png", 1, 1))
	require.Equal(t, http.StatusOK, rec.Code)

	// 掃除で閉じられた直後のリクエストは新しい作業領域で処理される
	ctrl, err := reg.Get("test")
	require.NoError(t, err)
	ctrl.Close()

	rec = doJSON(t, r, http.MethodGet, "/api/converter/snapshot", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, pdf.CodeEmptyCollection, decode(t, rec)["code"])

	rec = doJSON(t, r, http.MethodGet, "/api/converter", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["count"])

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	respondWithError(c, ctrl.Reorder(nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeWorkspaceExpired, decode(t, w)["code"])
}
