package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/yourusername/scanforge/internal/config"
	"github.com/yourusername/scanforge/internal/pdf"
)

const queueExport = "export"

// ErrJobFinished は終了済みのジョブをキャンセルしようとした場合に返されます。
var ErrJobFinished = errors.New("job already finished")

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	cfg       *config.Config
	client    *asynq.Client
	server    *asynq.Server
	inspector *asynq.Inspector
	mux       *asynq.ServeMux
	store     *Store
	runner    pdf.JobRunner
	logger    zerolog.Logger
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, runner pdf.JobRunner, store *Store, logger zerolog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	manager := &Manager{
		cfg:       cfg,
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		mux:       asynq.NewServeMux(),
		store:     store,
		runner:    runner,
		logger:    logger,
	}
	manager.server = asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				queueExport: 1,
			},
			Logger:   asynqLogger{logger: logger},
			LogLevel: asynq.WarnLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				id, _ := asynq.GetTaskID(ctx)
				logger.Warn().Err(err).Str("task_type", task.Type()).Str("job_id", id).Msg("task failed")
			}),
		},
	)

	worker := NewWorker(runner, store, logger, manager.buildDownloadURL)
	manager.mux.Handle(TypeExport, worker)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error().Err(err).Msg("asynq server stopped with error")
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return errors.Join(m.client.Close(), m.inspector.Close())
}

// Enqueue はジョブをキューに投入します。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	task, err := NewExportTask(*payload, asynq.Queue(queueExport), asynq.MaxRetry(0))
	if err != nil {
		return "", err
	}

	record := &Record{
		JobID:     payload.JobID,
		Operation: string(payload.Operation),
		Status:    StatusQueued,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   "queued",
		},
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}

	info, err := m.client.EnqueueContext(ctx, task)
	if err != nil {
		_ = m.store.MarkFailed(context.WithoutCancel(ctx), payload.JobID, &ErrorInfo{
			Code:    pdf.CodeInternal,
			Message: "ジョブの投入に失敗しました。",
		})
		return "", err
	}
	m.logger.Info().Str("job_id", payload.JobID).Str("queue", info.Queue).Msg("job enqueued")
	return info.ID, nil
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

// Subscribe はジョブの更新通知を購読します。
func (m *Manager) Subscribe(ctx context.Context, jobID string) *Subscription {
	return newSubscription(ctx, m.store, jobID)
}

// Cancel はジョブをキャンセルします。
// 待機中のジョブはキューから取り除き、実行中のジョブはワーカーへ中断を通知します。
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	record, err := m.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if record == nil {
		return ErrJobNotFound
	}
	if record.Status.Terminal() {
		return ErrJobFinished
	}

	info, err := m.inspector.GetTaskInfo(queueExport, jobID)
	switch {
	case errors.Is(err, asynq.ErrTaskNotFound), errors.Is(err, asynq.ErrQueueNotFound):
		// キューから消えていれば状態だけ更新する
	case err != nil:
		return err
	case info.State == asynq.TaskStateActive:
		m.logger.Info().Str("job_id", jobID).Msg("cancel running job")
		return m.inspector.CancelProcessing(jobID)
	default:
		if err := m.inspector.DeleteTask(queueExport, jobID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
			return err
		}
	}

	if err := m.runner.DiscardJob(jobID); err != nil {
		m.logger.Warn().Err(err).Str("job_id", jobID).Msg("failed to discard canceled job")
	}
	m.logger.Info().Str("job_id", jobID).Msg("queued job canceled")
	return m.store.MarkCanceled(ctx, jobID)
}

func (m *Manager) buildDownloadURL(result *pdf.Result) string {
	base := m.cfg.JobResultBaseURL
	if base == "" {
		return fmt.Sprintf("/api/jobs/%s/download", result.JobID)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), result.JobID, url.PathEscape(result.OutputFilename))
}
