package pdf

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// OpenResultFile はジョブIDに対応する成果物ファイルを開き、Result 情報とファイルハンドルを返します。
func (s *Service) OpenResultFile(jobID string) (*Result, *os.File, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, nil, newError(CodeJobNotFound, "指定されたジョブは存在しません。", err)
	}

	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws)
	if err != nil {
		return nil, nil, newError(CodeJobResultNotFound, "成果物が見つかりません。有効期限が切れた可能性があります。", err)
	}
	if manifest.Operation != OperationExport {
		return nil, nil, fmt.Errorf("unsupported operation for result download: %s", manifest.Operation)
	}

	outputPath := filepath.Join(ws.outDir, outputFilename)
	file, err := os.Open(outputPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, newError(CodeJobResultNotFound, "成果物が見つかりません。有効期限が切れた可能性があります。", err)
		}
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	result := &Result{
		JobID:          jobID,
		Operation:      manifest.Operation,
		OutputPath:     outputPath,
		OutputFilename: outputFilename,
		OutputSize:     info.Size(),
		ResultKind:     ResultKindPDF,
		jobDir:         ws.dir,
	}

	return result, file, nil
}
