// Package pdf は編集済みの画像コレクションからPDFを生成する出力処理を提供します。
package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"

	"github.com/yourusername/scanforge/internal/config"
)

const defaultCleanupMin = 10

// pdfcpu がホームディレクトリに設定ファイルを書き出さないようにする
var disableConfigOnce sync.Once

// Service はPDF出力処理とジョブ作業領域を管理します。
type Service struct {
	cfg     *config.Config
	baseDir string
	now     func() time.Time
	logger  zerolog.Logger
	ocr     OCREngine
}

// NewService は WorkDir 配下にジョブ用ディレクトリを用意して Service を返します。
func NewService(cfg *config.Config, logger zerolog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	disableConfigOnce.Do(pdfapi.DisableConfigDir)

	baseDir := filepath.Join(cfg.WorkDir, "jobs")
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("ジョブ用ディレクトリの作成に失敗しました: %w", err)
	}
	return &Service{
		cfg:     cfg,
		baseDir: baseDir,
		now:     time.Now,
		logger:  logger,
	}, nil
}

// SetOCREngine は OCR エンジンを設定します。nil の場合 OCR 要求は OCR_UNSUPPORTED になります。
func (s *Service) SetOCREngine(engine OCREngine) {
	s.ocr = engine
}

// OCRAvailable は OCR エンジンが設定されているかを返します。
func (s *Service) OCRAvailable() bool {
	return s.ocr != nil
}

// DiscardJob は準備済みジョブの作業ディレクトリを削除します。
func (s *Service) DiscardJob(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID is required")
	}
	return removeDir(s.workspaceFor(jobID).dir)
}

func (s *Service) scheduleCleanup(ws workspace) {
	expireMinutes := s.cfg.JobExpireMinutes
	if expireMinutes <= 0 {
		expireMinutes = defaultCleanupMin
	}
	time.AfterFunc(time.Duration(expireMinutes)*time.Minute, func() {
		if err := removeDir(ws.dir); err != nil {
			s.logger.Warn().Err(err).Str("job_id", ws.jobID).Msg("failed to remove expired workspace")
		}
	})
}
