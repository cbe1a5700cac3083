package pdf

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const manifestFilename = "manifest.json"

// JobManifest はジョブに必要な情報を保持します。
type JobManifest struct {
	JobID     string        `json:"jobId"`
	Operation OperationType `json:"operation"`
	Pages     []JobPage     `json:"pages"`
	Settings  Settings      `json:"settings"`
	CreatedAt time.Time     `json:"createdAt"`
}

// JobPage はジョブ入力画像のメタデータを表します。並び順がそのままページ順です。
type JobPage struct {
	StoredName   string `json:"storedName"`
	UnitID       string `json:"unitId"`
	OriginalName string `json:"originalName"`
	MediaType    string `json:"mediaType"`
	Size         int64  `json:"size"`
	Rotation     int    `json:"rotation"`
}

// TotalSize は入力画像の合計バイト数を返します。
func (m *JobManifest) TotalSize() int64 {
	var total int64
	for _, p := range m.Pages {
		total += p.Size
	}
	return total
}

func writeManifest(ws workspace, manifest *JobManifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is nil")
	}
	path := ws.manifestPath()
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(manifest)
}

func loadManifest(ws workspace) (*JobManifest, error) {
	path := ws.manifestPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest JobManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}

func writeJSON(path string, v any) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
