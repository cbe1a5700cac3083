package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

const outputFilename = "converted.pdf"

// PageInput は出力する1ページ分の画像です。
type PageInput struct {
	UnitID    string
	Name      string
	MediaType string
	Data      []byte
	Rotation  int // 画像にまだ焼き込まれていない回転（度）
}

// ExportRequest はPDF出力の入力です。Pages の順序がそのままページ順になります。
type ExportRequest struct {
	Pages    []PageInput
	Settings Settings
}

type storedPage struct {
	path         string
	unitID       string
	originalName string
	mediaType    string
	size         int64
	rotation     int
}

type exportState struct {
	ws       workspace
	pages    []storedPage
	settings Settings
}

// Export は画像を1枚1ページとしてPDFを同期的に生成します。
// 失敗した場合は作業ディレクトリを削除し、途中までの成果物は返しません。
func (s *Service) Export(ctx context.Context, req ExportRequest, progress ProgressReporter) (_ *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	state, _, err := s.prepareExport(ctx, req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = removeDir(state.ws.dir)
		}
	}()

	return s.executeExport(ctx, state, progress)
}

// PrepareExportJob は非同期ジョブ用に入力画像とマニフェストを保存します。
func (s *Service) PrepareExportJob(ctx context.Context, req ExportRequest) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	_, manifest, err := s.prepareExport(ctx, req)
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

func (s *Service) checkRequest(req ExportRequest) error {
	if len(req.Pages) == 0 {
		return ErrEmptyCollection
	}
	if err := req.Settings.Validate(); err != nil {
		return err
	}
	if req.Settings.OCR && s.ocr == nil {
		return ErrOCRUnsupported
	}
	if s.cfg.MaxImages > 0 && len(req.Pages) > s.cfg.MaxImages {
		return newError(CodeLimitExceeded, fmt.Sprintf("一度に変換できる画像は %d 枚までです。", s.cfg.MaxImages), nil)
	}
	return nil
}

func (s *Service) prepareExport(ctx context.Context, req ExportRequest) (*exportState, *JobManifest, error) {
	if err := s.checkRequest(req); err != nil {
		return nil, nil, err
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, nil, err
	}

	stored := make([]storedPage, 0, len(req.Pages))
	for i, p := range req.Pages {
		if err := ctx.Err(); err != nil {
			_ = removeDir(ws.dir)
			return nil, nil, err
		}
		if len(p.Data) == 0 {
			_ = removeDir(ws.dir)
			return nil, nil, PageRenderFailed(p.UnitID, errors.New("empty image data"))
		}
		path := filepath.Join(ws.inDir, fmt.Sprintf("src-%03d%s", i+1, sourceExtension(p)))
		if err := os.WriteFile(path, p.Data, 0o640); err != nil {
			_ = removeDir(ws.dir)
			return nil, nil, fmt.Errorf("入力画像の保存に失敗しました: %w", err)
		}
		stored = append(stored, storedPage{
			path:         path,
			unitID:       p.UnitID,
			originalName: p.Name,
			mediaType:    p.MediaType,
			size:         int64(len(p.Data)),
			rotation:     p.Rotation,
		})
	}

	manifest := &JobManifest{
		JobID:     ws.jobID,
		Operation: OperationExport,
		Pages:     toJobPages(stored),
		Settings:  req.Settings,
		CreatedAt: s.now().UTC(),
	}
	if err := writeManifest(ws, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}

	return &exportState{ws: ws, pages: stored, settings: req.Settings}, manifest, nil
}

func (s *Service) executeExport(ctx context.Context, state *exportState, progress ProgressReporter) (*Result, error) {
	ws := state.ws
	settings := state.settings
	total := len(state.pages)
	if total == 0 {
		return nil, ErrEmptyCollection
	}
	if settings.OCR && s.ocr == nil {
		return nil, ErrOCRUnsupported
	}

	reportProgress(progress, "load", 5, "画像を読み込んでいます")

	pagePaths := make([]string, 0, total)
	pagesMeta := make([]PageMeta, 0, total)
	var inputSize int64

	for i, sp := range state.pages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		reportProgress(progress, "render", 5+(70*i)/total, fmt.Sprintf("ページ %d/%d を生成しています", i+1, total))

		data, err := os.ReadFile(sp.path)
		if err != nil {
			return nil, PageRenderFailed(sp.unitID, err)
		}
		page, err := renderPage(data, sp.rotation, settings)
		if err != nil {
			return nil, PageRenderFailed(sp.unitID, err)
		}

		pagePath := filepath.Join(ws.inDir, fmt.Sprintf("page-%03d%s", i+1, page.ext))
		if err := os.WriteFile(pagePath, page.data, 0o640); err != nil {
			return nil, fmt.Errorf("ページ画像の保存に失敗しました: %w", err)
		}

		meta := PageMeta{
			Page:         i + 1,
			UnitID:       sp.unitID,
			OriginalName: sp.originalName,
			Width:        page.width,
			Height:       page.height,
		}
		if settings.OCR {
			reportProgress(progress, "ocr", 5+(70*i)/total, fmt.Sprintf("ページ %d/%d の文字を認識しています", i+1, total))
			text, err := s.ocr.Recognize(ctx, page.data)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, PageRenderFailed(sp.unitID, err)
			}
			meta.Text = text
		}

		pagePaths = append(pagePaths, pagePath)
		pagesMeta = append(pagesMeta, meta)
		inputSize += sp.size
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reportProgress(progress, "assemble", 80, "PDFを組み立てています")
	imp, err := pdfapi.Import(settings.importDescription(), types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("取り込み設定の解析に失敗しました: %w", err)
	}
	outputPath := filepath.Join(ws.outDir, outputFilename)
	if err := pdfapi.ImportImagesFile(pagePaths, outputPath, imp, nil); err != nil {
		return nil, newError(CodeAssembleFailed, "PDFの組み立てに失敗しました。", err)
	}

	if preset := settings.ghostscriptPreset(); preset != "" && s.cfg.GhostscriptPath != "" {
		reportProgress(progress, "compress", 90, "PDFを圧縮しています")
		if err := s.compressInPlace(ctx, outputPath, preset); err != nil {
			return nil, err
		}
	}

	reportProgress(progress, "write", 95, "成果物を保存しています")
	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("出力ファイルの確認に失敗しました: %w", err)
	}

	meta := &ExportMeta{
		TotalPages: total,
		InputSize:  inputSize,
		Settings:   settings,
		Pages:      pagesMeta,
	}
	metaPayload := struct {
		Type      OperationType `json:"type"`
		CreatedAt string        `json:"createdAt"`
		Output    string        `json:"output"`
		*ExportMeta
	}{
		Type:       OperationExport,
		CreatedAt:  s.now().UTC().Format(time.RFC3339),
		Output:     outputFilename,
		ExportMeta: meta,
	}
	if err := writeJSON(ws.metaPath(), metaPayload); err != nil {
		return nil, fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	s.scheduleCleanup(ws)

	reportProgress(progress, "completed", 100, "完了しました")

	return &Result{
		JobID:          ws.jobID,
		Operation:      OperationExport,
		OutputPath:     outputPath,
		OutputFilename: outputFilename,
		OutputSize:     outInfo.Size(),
		ResultKind:     ResultKindPDF,
		Meta:           meta,
		jobDir:         ws.dir,
	}, nil
}

func sourceExtension(p PageInput) string {
	if mt := mimetype.Lookup(p.MediaType); mt != nil && mt.Extension() != "" {
		return mt.Extension()
	}
	if ext := filepath.Ext(p.Name); ext != "" {
		return ext
	}
	return ".img"
}
