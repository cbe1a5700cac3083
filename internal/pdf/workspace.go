package pdf

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

type workspace struct {
	jobID  string
	dir    string
	inDir  string
	outDir string
}

func (w workspace) manifestPath() string {
	return filepath.Join(w.dir, manifestFilename)
}

func (w workspace) metaPath() string {
	return filepath.Join(w.dir, "meta.json")
}

// createWorkspace は新しいジョブIDで in/out ディレクトリを作成します。
func (s *Service) createWorkspace() (workspace, error) {
	ws := s.workspaceFor(uuid.NewString())
	for _, dir := range []string{ws.inDir, ws.outDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			_ = removeDir(ws.dir)
			return workspace{}, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
		}
	}
	return ws, nil
}

func (s *Service) workspaceFor(jobID string) workspace {
	dir := filepath.Join(s.baseDir, jobID)
	return workspace{
		jobID:  jobID,
		dir:    dir,
		inDir:  filepath.Join(dir, "in"),
		outDir: filepath.Join(dir, "out"),
	}
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.RemoveAll(dir)
}
