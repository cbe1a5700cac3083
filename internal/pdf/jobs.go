package pdf

import (
	"context"
	"fmt"
)

// RunJob はジョブIDに対応するPDF出力を実行します。失敗した場合は作業ディレクトリを削除します。
func (s *Service) RunJob(ctx context.Context, jobID string, reporter ProgressReporter) (*Result, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}
	if manifest.Operation != OperationExport {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("unsupported operation: %q", manifest.Operation)
	}

	stored := storedPagesFromManifest(ws, manifest)
	if len(stored) == 0 {
		_ = removeDir(ws.dir)
		return nil, ErrEmptyCollection
	}

	state := &exportState{ws: ws, pages: stored, settings: manifest.Settings}
	result, runErr := s.executeExport(ctx, state, reporter)
	if runErr != nil {
		if cleanupErr := removeDir(ws.dir); cleanupErr != nil {
			runErr = fmt.Errorf("%w (ワークスペースの削除にも失敗しました: %v)", runErr, cleanupErr)
		}
		return nil, runErr
	}
	return result, nil
}
