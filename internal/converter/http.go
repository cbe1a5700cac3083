package converter

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/yourusername/scanforge/internal/pdf"
)

// KeyFunc はリクエストから作業キーを取り出します。
type KeyFunc func(c *gin.Context) (string, error)

// Handler は /api/converter/* のハンドラー群です。
type Handler struct {
	registry    *Registry
	key         KeyFunc
	maxFileSize int64
	logger      zerolog.Logger
}

// NewHandler は Handler を返します。
func NewHandler(registry *Registry, key KeyFunc, maxFileSize int64, logger zerolog.Logger) *Handler {
	return &Handler{registry: registry, key: key, maxFileSize: maxFileSize, logger: logger}
}

func (h *Handler) controller(c *gin.Context) (*Controller, bool) {
	key, err := h.key(c)
	if err == nil {
		var ctrl *Controller
		ctrl, err = h.registry.Get(key)
		if err == nil {
			return ctrl, true
		}
	}
	h.logger.Error().Err(err).Msg("failed to resolve converter workspace")
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    pdf.CodeInternal,
		"message": "作業領域の準備に失敗しました。",
	})
	return nil, false
}

// GetState は GET /api/converter のハンドラーです。
func (h *Handler) GetState(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.State())
}

// Ingest は POST /api/converter/images のハンドラーです。
func (h *Handler) Ingest(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    CodeInvalidInput,
			"message": "multipart/form-data で画像ファイルを送信してください。",
		})
		return
	}
	defer form.RemoveAll()

	headers := form.File["files[]"]
	if len(headers) == 0 {
		headers = form.File["files"]
	}

	files := make([]RawFile, 0, len(headers))
	for _, fh := range headers {
		raw, err := h.readUpload(fh)
		if err != nil {
			h.logger.Warn().Err(err).Str("file", fh.Filename).Msg("failed to read upload")
		}
		files = append(files, raw)
	}

	result, err := ctrl.Ingest(files)
	if err != nil {
		if errors.Is(err, ErrNoValidImages) {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":       CodeNoValidImages,
				"message":    ErrNoValidImages.Message,
				"rejected":   result.Rejected,
				"rejections": result.Rejections,
			})
			return
		}
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"added":      result.Added,
		"rejected":   result.Rejected,
		"rejections": result.Rejections,
		"state":      ctrl.State(),
	})
}

// readUpload はアップロードを読み込みます。画像でないものや上限を超えるものは中身を読まずに返し、取り込み側で除外させます。
// 読み込みに失敗した場合は中身の空の RawFile を返します。
func (h *Handler) readUpload(fh *multipart.FileHeader) (RawFile, error) {
	raw := RawFile{
		Name:      fh.Filename,
		MediaType: fh.Header.Get("Content-Type"),
		Size:      fh.Size,
	}
	if !isDeclaredImage(raw.MediaType) {
		return raw, nil
	}
	if h.maxFileSize > 0 && fh.Size > h.maxFileSize {
		return raw, nil
	}

	f, err := fh.Open()
	if err != nil {
		return raw, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return raw, err
	}
	raw.Data = data
	raw.Size = int64(len(data))
	return raw, nil
}

// Clear は DELETE /api/converter/images のハンドラーです。confirm=true が必要です。
func (h *Handler) Clear(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	confirmed, _ := strconv.ParseBool(c.Query("confirm"))
	if err := ctrl.Clear(Confirmed(confirmed)); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.State())
}

// Remove は DELETE /api/converter/images/:id のハンドラーです。
func (h *Handler) Remove(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	if _, err := ctrl.Remove(c.Param("id")); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.State())
}

// Preview は GET /api/converter/images/:id/preview のハンドラーです。
func (h *Handler) Preview(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	body, mediaType, size, err := ctrl.Preview(c.Param("id"))
	if err != nil {
		respondWithError(c, err)
		return
	}
	defer body.Close()
	c.DataFromReader(http.StatusOK, size, mediaType, body, map[string]string{
		"Cache-Control": "private, max-age=300",
	})
}

type reorderRequest struct {
	Order []string `json:"order" binding:"required"`
}

// Reorder は PUT /api/converter/order のハンドラーです。
func (h *Handler) Reorder(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var req reorderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    CodeInvalidInput,
			"message": "order は画像IDの配列で指定してください。",
		})
		return
	}
	if err := ctrl.Reorder(req.Order); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.State())
}

type rotateRequest struct {
	Delta   *int `json:"delta"`
	Confirm bool `json:"confirm"`
}

func (r rotateRequest) delta() int {
	if r.Delta == nil {
		return DefaultRotateDelta
	}
	return *r.Delta
}

func bindOptionalJSON(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    CodeInvalidInput,
			"message": "リクエストの形式が正しくありません。",
		})
		return false
	}
	return true
}

// RotateAll は POST /api/converter/rotate のハンドラーです。
func (h *Handler) RotateAll(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var req rotateRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if _, err := ctrl.RotateAll(req.delta()); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.State())
}

// RotateOne は POST /api/converter/images/:id/rotate のハンドラーです。
func (h *Handler) RotateOne(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var req rotateRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if err := ctrl.RotateOne(c.Param("id"), req.delta(), Confirmed(req.Confirm)); err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, ctrl.State())
}

// UpdateSettings は PUT /api/converter/settings のハンドラーです。
func (h *Handler) UpdateSettings(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var update pdf.SettingsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    CodeInvalidInput,
			"message": "設定の形式が正しくありません。",
		})
		return
	}
	settings, err := ctrl.UpdateSettings(update)
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

type openEditorRequest struct {
	ID string `json:"id" binding:"required"`
}

// OpenEditor は POST /api/converter/editor のハンドラーです。
func (h *Handler) OpenEditor(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var req openEditorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    CodeInvalidInput,
			"message": "編集する画像の id を指定してください。",
		})
		return
	}
	opened, err := ctrl.OpenEditor(req.ID)
	if err != nil {
		respondWithError(c, err)
		return
	}
	if !opened {
		respondWithError(c, ErrUnitNotFound)
		return
	}
	session, _ := ctrl.Session()
	c.JSON(http.StatusOK, gin.H{"session": session})
}

type toolRequest struct {
	Action ToolAction `json:"action" binding:"required"`
}

// ApplyTool は POST /api/converter/editor/tool のハンドラーです。
func (h *Handler) ApplyTool(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var req toolRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    CodeInvalidInput,
			"message": "action を指定してください。",
		})
		return
	}
	if err := ctrl.ApplyTool(req.Action); err != nil {
		respondWithError(c, err)
		return
	}
	session, _ := ctrl.Session()
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// SetCropBox は PUT /api/converter/editor/crop のハンドラーです。
func (h *Handler) SetCropBox(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var rect Rect
	if err := c.ShouldBindJSON(&rect); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    CodeInvalidInput,
			"message": "トリミング範囲の形式が正しくありません。",
		})
		return
	}
	if err := ctrl.SetCropBox(rect.Rectangle()); err != nil {
		respondWithError(c, err)
		return
	}
	session, _ := ctrl.Session()
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// Commit は POST /api/converter/editor/commit のハンドラーです。
func (h *Handler) Commit(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	unit, err := ctrl.Commit()
	if err != nil {
		respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unit": unit, "state": ctrl.State()})
}

// CancelEditor は DELETE /api/converter/editor のハンドラーです。
func (h *Handler) CancelEditor(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	ctrl.CancelEditor()
	c.Status(http.StatusNoContent)
}

// ExportSource は現在の作業内容を出力リクエストとして返します。pdf.ExportHandler に渡して使います。
func (h *Handler) ExportSource(c *gin.Context) (pdf.ExportRequest, error) {
	key, err := h.key(c)
	if err != nil {
		return pdf.ExportRequest{}, err
	}
	// Sweep が Get の直後に Controller を閉じることがあるので、その場合は1度だけ取り直す
	for attempt := 0; ; attempt++ {
		ctrl, err := h.registry.Get(key)
		if err != nil {
			return pdf.ExportRequest{}, err
		}
		req, err := ctrl.Snapshot()
		if errors.Is(err, ErrClosed) && attempt == 0 {
			continue
		}
		if errors.Is(err, ErrClosed) {
			return pdf.ExportRequest{}, &pdf.Error{Code: pdf.CodeWorkspaceExpired, Message: ErrClosed.Message, Err: err}
		}
		return req, err
	}
}

func statusFor(code string) int {
	switch code {
	case CodeConfirmationRequired, CodeNoActiveSession, CodeWorkspaceExpired:
		return http.StatusConflict
	case CodeNoActiveCropArea:
		return http.StatusUnprocessableEntity
	case CodeUnitNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func respondWithError(c *gin.Context, err error) {
	var convErr *Error
	if errors.As(err, &convErr) {
		c.JSON(statusFor(convErr.Code), gin.H{
			"code":    convErr.Code,
			"message": convErr.Message,
		})
		return
	}
	pdf.RespondError(c, err)
}
