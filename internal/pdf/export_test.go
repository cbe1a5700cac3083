package pdf

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/scanforge/internal/config"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := &config.Config{
		WorkDir:          t.TempDir(),
		MaxImages:        10,
		JobExpireMinutes: 1,
	}
	svc, err := NewService(cfg, zerolog.Nop())
	require.NoError(t, err)
	return svc
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func workspaceCount(t *testing.T, svc *Service) int {
	t.Helper()
	entries, err := os.ReadDir(svc.baseDir)
	require.NoError(t, err)
	return len(entries)
}

type fakeOCR struct {
	calls int
	err   error
}

func (f *fakeOCR) Recognize(ctx context.Context, data []byte) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "page text", nil
}

func (f *fakeOCR) Close() error { return nil }

func TestExportEmptyCollection(t *testing.T) {
	svc := newTestService(t)
	res, err := svc.Export(context.Background(), ExportRequest{Settings: DefaultSettings()}, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrEmptyCollection)
	assert.Equal(t, 0, workspaceCount(t, svc))
}

func TestExportOCRUnsupportedFailsUpFront(t *testing.T) {
	svc := newTestService(t)
	settings := DefaultSettings()
	settings.OCR = true
	req := ExportRequest{
		Pages:    []PageInput{{UnitID: "a", MediaType: "image/png", Data: pngBytes(t, 4, 4, color.White)}},
		Settings: settings,
	}
	_, err := svc.Export(context.Background(), req, nil)
	assert.ErrorIs(t, err, ErrOCRUnsupported)
	assert.Equal(t, 0, workspaceCount(t, svc))
}

func TestExportInvalidSettings(t *testing.T) {
	svc := newTestService(t)
	settings := DefaultSettings()
	settings.PageSize = "b5"
	req := ExportRequest{
		Pages:    []PageInput{{UnitID: "a", MediaType: "image/png", Data: pngBytes(t, 4, 4, color.White)}},
		Settings: settings,
	}
	_, err := svc.Export(context.Background(), req, nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeInvalidInput, apiErr.Code)
}

func TestExportTooManyPages(t *testing.T) {
	svc := newTestService(t)
	svc.cfg.MaxImages = 1
	data := pngBytes(t, 4, 4, color.White)
	req := ExportRequest{
		Pages:    []PageInput{{UnitID: "a", Data: data}, {UnitID: "b", Data: data}},
		Settings: DefaultSettings(),
	}
	_, err := svc.Export(context.Background(), req, nil)
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeLimitExceeded, apiErr.Code)
}

func TestExportCorruptPageReportsUnit(t *testing.T) {
	svc := newTestService(t)
	req := ExportRequest{
		Pages: []PageInput{
			{UnitID: "good", MediaType: "image/png", Data: pngBytes(t, 8, 8, color.White)},
			{UnitID: "bad", MediaType: "image/png", Data: []byte("definitely not a png")},
		},
		Settings: DefaultSettings(),
	}
	res, err := svc.Export(context.Background(), req, nil)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, &Error{Code: CodePageRenderFailed, UnitID: "bad"})
	assert.NotErrorIs(t, err, &Error{Code: CodePageRenderFailed, UnitID: "good"})
	assert.Equal(t, 0, workspaceCount(t, svc), "no partial output may survive a failed export")
}

func TestExportCanceledContext(t *testing.T) {
	svc := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := ExportRequest{
		Pages:    []PageInput{{UnitID: "a", MediaType: "image/png", Data: pngBytes(t, 4, 4, color.White)}},
		Settings: DefaultSettings(),
	}
	_, err := svc.Export(ctx, req, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, workspaceCount(t, svc))
}

func TestExportProducesOnePagePerImageInOrder(t *testing.T) {
	svc := newTestService(t)
	settings := DefaultSettings()
	settings.Orientation = OrientationLandscape
	req := ExportRequest{
		Pages: []PageInput{
			{UnitID: "first", Name: "first.png", MediaType: "image/png", Data: pngBytes(t, 20, 10, color.White)},
			{UnitID: "second", Name: "second.png", MediaType: "image/png", Data: pngBytes(t, 20, 10, color.Black), Rotation: 90},
		},
		Settings: settings,
	}

	var percents []int
	var stages []string
	res, err := svc.Export(context.Background(), req, func(stage string, percent int, message string) {
		stages = append(stages, stage)
		percents = append(percents, percent)
		assert.NotEmpty(t, message)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Cleanup() })

	assert.Equal(t, OperationExport, res.Operation)
	assert.Equal(t, ResultKindPDF, res.ResultKind)
	assert.Positive(t, res.OutputSize)

	pages, err := pdfapi.PageCountFile(res.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)

	meta, ok := res.Meta.(*ExportMeta)
	require.True(t, ok)
	require.Len(t, meta.Pages, 2)
	assert.Equal(t, "first", meta.Pages[0].UnitID)
	assert.Equal(t, "second", meta.Pages[1].UnitID)
	// 回転待ちの画像は縦横が入れ替わって出力される
	assert.Equal(t, 10, meta.Pages[1].Width)
	assert.Equal(t, 20, meta.Pages[1].Height)

	require.NotEmpty(t, percents)
	for i := 1; i < len(percents); i++ {
		assert.GreaterOrEqual(t, percents[i], percents[i-1], "progress must not go backwards")
	}
	assert.Equal(t, 100, percents[len(percents)-1])
	assert.Equal(t, "completed", stages[len(stages)-1])

	_, err = os.Stat(filepath.Join(res.jobDir, "meta.json"))
	assert.NoError(t, err)
}

func TestExportWithOCR(t *testing.T) {
	svc := newTestService(t)
	engine := &fakeOCR{}
	svc.SetOCREngine(engine)
	settings := DefaultSettings()
	settings.OCR = true
	settings.Compression = CompressionNone

	res, err := svc.Export(context.Background(), ExportRequest{
		Pages:    []PageInput{{UnitID: "a", MediaType: "image/png", Data: pngBytes(t, 8, 8, color.White)}},
		Settings: settings,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Cleanup() })

	assert.Equal(t, 1, engine.calls)
	meta := res.Meta.(*ExportMeta)
	assert.Equal(t, "page text", meta.Pages[0].Text)
}

func TestExportOCRFailureIsPageFailure(t *testing.T) {
	svc := newTestService(t)
	svc.SetOCREngine(&fakeOCR{err: errors.New("tesseract crashed")})
	settings := DefaultSettings()
	settings.OCR = true

	_, err := svc.Export(context.Background(), ExportRequest{
		Pages:    []PageInput{{UnitID: "a", MediaType: "image/png", Data: pngBytes(t, 8, 8, color.White)}},
		Settings: settings,
	}, nil)
	assert.ErrorIs(t, err, &Error{Code: CodePageRenderFailed, UnitID: "a"})
	assert.Equal(t, 0, workspaceCount(t, svc))
}

func TestPreparedJobRunsFromManifest(t *testing.T) {
	svc := newTestService(t)
	manifest, err := svc.PrepareExportJob(context.Background(), ExportRequest{
		Pages: []PageInput{
			{UnitID: "a", Name: "a.png", MediaType: "image/png", Data: pngBytes(t, 8, 8, color.White)},
			{UnitID: "b", Name: "b.png", MediaType: "image/png", Data: pngBytes(t, 8, 8, color.White)},
		},
		Settings: DefaultSettings(),
	})
	require.NoError(t, err)
	assert.Equal(t, OperationExport, manifest.Operation)
	assert.Len(t, manifest.Pages, 2)
	assert.Positive(t, manifest.TotalSize())

	res, err := svc.RunJob(context.Background(), manifest.JobID, nil)
	require.NoError(t, err)

	opened, file, err := svc.OpenResultFile(manifest.JobID)
	require.NoError(t, err)
	defer file.Close()
	assert.Equal(t, res.OutputSize, opened.OutputSize)
	assert.Equal(t, outputFilename, opened.OutputFilename)

	require.NoError(t, res.Cleanup())
	_, _, err = svc.OpenResultFile(manifest.JobID)
	assert.ErrorIs(t, err, &Error{Code: CodeJobResultNotFound})
}

func TestOpenResultFileRejectsMalformedID(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.OpenResultFile("../../etc")
	assert.ErrorIs(t, err, &Error{Code: CodeJobNotFound})
}

func TestGhostscriptArgs(t *testing.T) {
	args := ghostscriptArgs("out.pdf", "in.pdf", OptimizePresetAggressive)
	assert.Contains(t, args, "-dPDFSETTINGS=/screen")
	assert.Equal(t, "in.pdf", args[len(args)-1])
	assert.Contains(t, ghostscriptArgs("o", "i", OptimizePresetStandard), "-dPDFSETTINGS=/printer")
}
