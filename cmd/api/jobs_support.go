package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/yourusername/scanforge/internal/config"
	"github.com/yourusername/scanforge/internal/jobs"
	"github.com/yourusername/scanforge/internal/pdf"
)

const sseKeepAlive = 15 * time.Second

type exportJobScheduler struct {
	manager *jobs.Manager
}

func (s *exportJobScheduler) Schedule(ctx context.Context, op pdf.OperationType, jobID string) error {
	_, err := s.manager.Enqueue(ctx, &jobs.TaskPayload{
		JobID:     jobID,
		Operation: op,
	})
	return err
}

func setupJobs(cfg *config.Config, pdfService *pdf.Service, logger zerolog.Logger) (*jobs.Manager, error) {
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	ttlMinutes := cfg.JobExpireMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 10
	}
	store := jobs.NewStore(redisClient, time.Duration(ttlMinutes)*time.Minute)
	return jobs.NewManager(cfg, pdfService, store, logger)
}

func jobIDParam(c *gin.Context) (string, bool) {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    pdf.CodeInvalidInput,
			"message": "jobId を指定してください。",
		})
		return "", false
	}
	return jobID, true
}

func respondJobNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"code":    pdf.CodeJobNotFound,
		"message": "指定されたジョブは存在しません。",
	})
}

func jobPayload(record *jobs.Record) gin.H {
	payload := gin.H{
		"jobId":     record.JobID,
		"operation": record.Operation,
		"status":    record.Status,
		"progress": gin.H{
			"percent": record.Progress.Percent,
			"stage":   record.Progress.Stage,
			"message": record.Progress.Message,
		},
		"updatedAt": record.UpdatedAt,
	}
	if record.DownloadURL != "" {
		payload["downloadUrl"] = record.DownloadURL
	}
	if record.Meta != nil {
		payload["meta"] = record.Meta
	}
	if record.Error != nil {
		payload["error"] = record.Error
	}
	return payload
}

func jobStatusHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}
		if manager == nil {
			respondJobNotFound(c)
			return
		}

		record, err := manager.GetRecord(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    pdf.CodeInternal,
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if record == nil {
			respondJobNotFound(c)
			return
		}
		c.JSON(http.StatusOK, jobPayload(record))
	}
}

// jobEventsHandler はジョブの状態を Server-Sent Events で配信します。終了状態を送ったら閉じます。
func jobEventsHandler(manager *jobs.Manager, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}
		if manager == nil {
			respondJobNotFound(c)
			return
		}
		ctx := c.Request.Context()

		sub := manager.Subscribe(ctx, jobID)
		if err := sub.Err(); err != nil {
			logger.Error().Err(err).Str("job_id", jobID).Msg("failed to subscribe job events")
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    pdf.CodeInternal,
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		defer sub.Close()

		record, err := manager.GetRecord(ctx, jobID)
		if err != nil || record == nil {
			respondJobNotFound(c)
			return
		}

		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.SSEvent("status", jobPayload(record))
		c.Writer.Flush()
		if record.Status.Terminal() {
			return
		}

		keepAlive := time.NewTicker(sseKeepAlive)
		defer keepAlive.Stop()
		c.Stream(func(w io.Writer) bool {
			select {
			case rec, ok := <-sub.Records():
				if !ok {
					return false
				}
				c.SSEvent("status", jobPayload(rec))
				return !rec.Status.Terminal()
			case <-keepAlive.C:
				c.SSEvent("ping", time.Now().Unix())
				return true
			case <-ctx.Done():
				return false
			}
		})
	}
}

func jobCancelHandler(manager *jobs.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}
		if manager == nil {
			respondJobNotFound(c)
			return
		}

		err := manager.Cancel(c.Request.Context(), jobID)
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			respondJobNotFound(c)
			return
		case errors.Is(err, jobs.ErrJobFinished):
			c.JSON(http.StatusConflict, gin.H{
				"code":    "JOB_FINISHED",
				"message": "ジョブはすでに終了しています。",
			})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    pdf.CodeInternal,
				"message": "ジョブのキャンセルに失敗しました。",
			})
			return
		}

		// 実行中のジョブはワーカーが中断するまで running のまま
		c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
	}
}

func jobDownloadHandler(pdfService *pdf.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}

		result, file, err := pdfService.OpenResultFile(jobID)
		if err != nil {
			pdf.RespondError(c, err)
			return
		}
		defer file.Close()

		pdf.WriteAttachment(c, result, file)
	}
}
