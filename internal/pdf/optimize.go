package pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const compressedSuffix = ".gs.pdf"

// compressInPlace は Ghostscript でPDFを再圧縮し、小さくなった場合のみ置き換えます。
func (s *Service) compressInPlace(ctx context.Context, path string, preset OptimizePreset) error {
	tmp := strings.TrimSuffix(path, filepath.Ext(path)) + compressedSuffix
	if err := s.runGhostscript(ctx, path, tmp, preset); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	before, err := os.Stat(path)
	if err != nil {
		_ = os.Remove(tmp)
		return newError(CodeCompressionFailed, "圧縮前ファイルの確認に失敗しました。", err)
	}
	after, err := os.Stat(tmp)
	if err != nil {
		return newError(CodeCompressionFailed, "圧縮後ファイルの確認に失敗しました。", err)
	}

	if after.Size() >= before.Size() {
		s.logger.Debug().
			Int64("before", before.Size()).
			Int64("after", after.Size()).
			Msg("ghostscript output is not smaller, keeping original")
		return os.Remove(tmp)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return newError(CodeCompressionFailed, "圧縮後ファイルの配置に失敗しました。", err)
	}
	s.logger.Debug().
		Int64("before", before.Size()).
		Int64("after", after.Size()).
		Float64("saved_percent", computeSavedPercent(before.Size(), after.Size())).
		Msg("pdf compressed")
	return nil
}

func (s *Service) runGhostscript(ctx context.Context, inputPath, outputPath string, preset OptimizePreset) error {
	args := ghostscriptArgs(outputPath, inputPath, preset)

	cmd := exec.CommandContext(ctx, s.cfg.GhostscriptPath, args...)
	var stderr bytes.Buffer
	cmd.Stdout = &stderr
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return newError(CodeCompressionFailed, fmt.Sprintf("Ghostscriptによる圧縮に失敗しました: %s", strings.TrimSpace(stderr.String())), err)
	}
	return nil
}

func ghostscriptArgs(outputPath, inputPath string, preset OptimizePreset) []string {
	setting := "/printer"
	if preset == OptimizePresetAggressive {
		setting = "/screen"
	}

	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.5",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		fmt.Sprintf("-dPDFSETTINGS=%s", setting),
		fmt.Sprintf("-sOutputFile=%s", outputPath),
		inputPath,
	}
}

func computeSavedPercent(before, after int64) float64 {
	if before == 0 {
		return 0
	}
	return float64(before-after) / float64(before) * 100
}
