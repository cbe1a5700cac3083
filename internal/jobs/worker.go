// Package jobs は大きな出力を asynq で非同期に処理し、その状態を Redis に保存します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/yourusername/scanforge/internal/pdf"
)

// TypeExport は出力ジョブのタスク種別です。
const TypeExport = "converter:export"

// TaskPayload は出力ジョブのペイロードです。
type TaskPayload struct {
	JobID     string            `json:"jobId"`
	Operation pdf.OperationType `json:"operation"`
}

// NewExportTask はペイロードから asynq タスクを作成します。タスクIDはジョブIDと同じです。
func NewExportTask(payload TaskPayload, opts ...asynq.Option) (*asynq.Task, error) {
	if payload.JobID == "" {
		return nil, fmt.Errorf("payload.JobID is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	opts = append([]asynq.Option{asynq.TaskID(payload.JobID)}, opts...)
	return asynq.NewTask(TypeExport, body, opts...), nil
}

// Worker は出力タスクを実行し、進捗と結果をストアへ書き込みます。
type Worker struct {
	runner      pdf.JobRunner
	store       *Store
	logger      zerolog.Logger
	downloadURL func(*pdf.Result) string
}

// NewWorker は Worker を作成します。downloadURL が nil の場合は既定の URL を使います。
func NewWorker(runner pdf.JobRunner, store *Store, logger zerolog.Logger, downloadURL func(*pdf.Result) string) *Worker {
	if downloadURL == nil {
		downloadURL = func(r *pdf.Result) string {
			return fmt.Sprintf("/api/jobs/%s/download", r.JobID)
		}
	}
	return &Worker{
		runner:      runner,
		store:       store,
		logger:      logger,
		downloadURL: downloadURL,
	}
}

// ProcessTask は asynq.Handler の実装です。
// 出力の失敗は再試行しても結果が変わらないため、エラーはすべて SkipRetry を付けて返します。
func (w *Worker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}
	logger := w.logger.With().Str("job_id", payload.JobID).Logger()

	record, err := w.store.Get(ctx, payload.JobID)
	if err != nil {
		return err
	}
	if record == nil {
		// 状態が期限切れになったジョブは作業領域だけ片付ける
		logger.Warn().Msg("job record not found, discarding workspace")
		_ = w.runner.DiscardJob(payload.JobID)
		return fmt.Errorf("%w: %s: %w", ErrJobNotFound, payload.JobID, asynq.SkipRetry)
	}
	if record.Status == StatusCanceled {
		logger.Info().Msg("job was canceled before start")
		_ = w.runner.DiscardJob(payload.JobID)
		return nil
	}

	if err := w.store.MarkRunning(ctx, payload.JobID); err != nil {
		return err
	}
	logger.Info().Msg("export started")

	result, runErr := w.runner.RunJob(ctx, payload.JobID, func(stage string, percent int, message string) {
		if err := w.store.UpdateProgress(ctx, payload.JobID, ProgressInfo{
			Percent: percent,
			Stage:   stage,
			Message: message,
		}); err != nil {
			logger.Debug().Err(err).Str("stage", stage).Msg("failed to update progress")
		}
	})
	if runErr != nil {
		return w.fail(ctx, logger, payload.JobID, runErr)
	}

	if err := w.store.MarkDone(ctx, payload.JobID, w.downloadURL(result), result.Meta); err != nil {
		return err
	}
	logger.Info().Int64("output_size", result.OutputSize).Msg("export finished")
	return nil
}

func (w *Worker) fail(ctx context.Context, logger zerolog.Logger, jobID string, runErr error) error {
	// ctx がキャンセル済みでも状態は書き込む
	storeCtx := context.WithoutCancel(ctx)

	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		logger.Info().Err(runErr).Msg("export canceled")
		if err := w.store.MarkCanceled(storeCtx, jobID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %w", runErr, asynq.SkipRetry)
	}

	info := &ErrorInfo{Code: pdf.CodeInternal, Message: "サーバー内部でエラーが発生しました。"}
	var apiErr *pdf.Error
	if errors.As(runErr, &apiErr) {
		info = &ErrorInfo{Code: apiErr.Code, Message: apiErr.Message, UnitID: apiErr.UnitID}
	}
	logger.Error().Err(runErr).Str("code", info.Code).Msg("export failed")
	if err := w.store.MarkFailed(storeCtx, jobID, info); err != nil {
		return err
	}
	return fmt.Errorf("%w: %w", runErr, asynq.SkipRetry)
}

// asynqLogger は asynq のログを zerolog に流します。
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
