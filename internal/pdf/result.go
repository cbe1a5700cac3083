package pdf

import (
	"sync"
)

// OperationType はPDF処理の種別を表します。
type OperationType string

const (
	OperationExport OperationType = "export"
)

// OptimizePreset は Ghostscript による圧縮プリセットの種類を表します。
type OptimizePreset string

const (
	OptimizePresetStandard   OptimizePreset = "standard"
	OptimizePresetAggressive OptimizePreset = "aggressive"
)

// ResultKind は生成される成果物の種別を表します。
type ResultKind string

const (
	ResultKindPDF ResultKind = "pdf"
)

// Result はPDF処理の成果を表します。
type Result struct {
	JobID          string        `json:"jobId"`
	Operation      OperationType `json:"operation"`
	OutputPath     string        `json:"outputPath"`
	OutputFilename string        `json:"outputFilename"`
	OutputSize     int64         `json:"outputSize"`
	ResultKind     ResultKind    `json:"resultKind"`
	Meta           any           `json:"meta,omitempty"`

	jobDir      string
	cleanupOnce sync.Once
	cleanupErr  error
}

// Cleanup は作業ディレクトリを削除します。
func (r *Result) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() {
		r.cleanupErr = removeDir(r.jobDir)
	})
	return r.cleanupErr
}

// PageMeta は出力した各ページの情報です。
type PageMeta struct {
	Page         int    `json:"page"`
	UnitID       string `json:"unitId"`
	OriginalName string `json:"originalName"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Text         string `json:"text,omitempty"`
}

// ExportMeta は画像からのPDF生成処理のメタデータです。
type ExportMeta struct {
	TotalPages int        `json:"totalPages"`
	InputSize  int64      `json:"inputSize"`
	Settings   Settings   `json:"settings"`
	Pages      []PageMeta `json:"pages"`
}
