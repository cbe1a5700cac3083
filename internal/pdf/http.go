package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/gin-gonic/gin"
)

// JobRunner はジョブを実行できるサービスが実装します。
type JobRunner interface {
	RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error)
	DiscardJob(jobID string) error
}

// ExportService は出力ジョブの準備と実行を提供します。
type ExportService interface {
	JobRunner
	PrepareExportJob(ctx context.Context, req ExportRequest) (*JobManifest, error)
}

// JobScheduler はジョブを非同期キューに投入するためのインターフェースです。
type JobScheduler interface {
	Schedule(ctx context.Context, op OperationType, jobID string) error
}

// HandlerOptions は同期/非同期切り替えのための設定です。
type HandlerOptions struct {
	Scheduler           JobScheduler
	AsyncThresholdBytes int64
	AsyncThresholdPages int
}

// RequestSource はリクエストに対応する出力対象（コレクションのスナップショットと設定）を返します。
type RequestSource func(c *gin.Context) (ExportRequest, error)

// ExportHandler は POST /api/converter/export のハンドラーを返します。
// 小さいジョブはその場でPDFを返し、大きいジョブはキューに投入して 202 と jobId を返します。
func ExportHandler(svc ExportService, source RequestSource, opts HandlerOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, err := source(c)
		if err != nil {
			RespondError(c, err)
			return
		}

		manifest, err := svc.PrepareExportJob(c.Request.Context(), req)
		if err != nil {
			RespondError(c, err)
			return
		}

		if shouldProcessAsync(manifest, opts) {
			if err := opts.Scheduler.Schedule(c.Request.Context(), manifest.Operation, manifest.JobID); err != nil {
				if cleanupErr := svc.DiscardJob(manifest.JobID); cleanupErr != nil {
					err = fmt.Errorf("%w (cleanup failed: %v)", err, cleanupErr)
				}
				RespondError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"jobId": manifest.JobID})
			return
		}

		// 同期処理は閾値以下の小さな出力に限られるため進捗は通知せず、結果をそのまま返す
		result, err := svc.RunJob(c.Request.Context(), manifest.JobID, nil)
		if err != nil {
			RespondError(c, err)
			return
		}
		defer result.Cleanup()

		if err := StreamResult(c, result); err != nil {
			RespondError(c, err)
		}
	}
}

func shouldProcessAsync(manifest *JobManifest, opts HandlerOptions) bool {
	if manifest == nil || opts.Scheduler == nil {
		return false
	}
	if opts.AsyncThresholdBytes > 0 && manifest.TotalSize() > opts.AsyncThresholdBytes {
		return true
	}
	if opts.AsyncThresholdPages > 0 && len(manifest.Pages) > opts.AsyncThresholdPages {
		return true
	}
	return false
}

// StatusFor はエラーコードに対応する HTTP ステータスを返します。
func StatusFor(code string) int {
	switch code {
	case CodeLimitExceeded:
		return http.StatusRequestEntityTooLarge
	case CodeWorkspaceExpired:
		return http.StatusConflict
	case CodeJobNotFound, CodeJobResultNotFound:
		return http.StatusNotFound
	case CodePageRenderFailed, CodeAssembleFailed:
		return http.StatusUnprocessableEntity
	case CodeOCRUnsupported:
		return http.StatusNotImplemented
	case CodeCompressionFailed, CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// RespondError はエラーを {code, message} 形式のレスポンスに変換します。
func RespondError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		body := gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		}
		if apiErr.UnitID != "" {
			body["unitId"] = apiErr.UnitID
		}
		c.JSON(StatusFor(apiErr.Code), body)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    CodeRequestCanceled,
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    CodeInternal,
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

// StreamResult は成果物ファイルをダウンロードとして返します。
func StreamResult(c *gin.Context, result *Result) error {
	file, err := os.Open(result.OutputPath)
	if err != nil {
		return fmt.Errorf("出力結果の読み込みに失敗しました: %w", err)
	}
	defer file.Close()
	WriteAttachment(c, result, file)
	return nil
}

// WriteAttachment は開いた成果物を Content-Disposition 付きで書き出します。
func WriteAttachment(c *gin.Context, result *Result, body io.Reader) {
	contentType := "application/octet-stream"
	if result.ResultKind == ResultKindPDF {
		contentType = "application/pdf"
	}

	encodedName := url.PathEscape(result.OutputFilename)
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", result.OutputFilename, encodedName))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Job-Id", result.JobID)
	c.DataFromReader(http.StatusOK, result.OutputSize, contentType, body, nil)
}
