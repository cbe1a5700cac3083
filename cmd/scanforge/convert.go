package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yourusername/scanforge/internal/config"
	"github.com/yourusername/scanforge/internal/converter"
	"github.com/yourusername/scanforge/internal/ocr"
	"github.com/yourusername/scanforge/internal/pdf"
	"github.com/yourusername/scanforge/internal/storage"
)

type convertOptions struct {
	output      string
	planPath    string
	pageSize    string
	orientation string
	margin      string
	compression string
	ocr         bool
	rotateAll   int
	noProgress  bool
}

func newConvertCmd(root *rootOptions) *cobra.Command {
	opts := &convertOptions{}
	cmd := &cobra.Command{
		Use:   "convert [images...]",
		Short: "画像を1つのPDFに変換する",
		Example: `  scanforge convert scan1.jpg scan2.png -o scans.pdf
  scanforge convert --plan plan.yaml --page-size letter -o out.pdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, root.logger(cmd), opts, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "converted.pdf", "出力するPDFのパス")
	f.StringVar(&opts.planPath, "plan", "", "編集手順を書いたYAMLファイル")
	f.StringVar(&opts.pageSize, "page-size", "", "用紙サイズ (a3, a4, a5, letter, legal)")
	f.StringVar(&opts.orientation, "orientation", "", "向き (portrait, landscape)")
	f.StringVar(&opts.margin, "margin", "", "余白 (none, small, medium, large)")
	f.StringVar(&opts.compression, "compression", "", "圧縮 (none, low, medium, high)")
	f.BoolVar(&opts.ocr, "ocr", false, "OCRでテキストを抽出する（-tags ocr でビルドした場合のみ）")
	f.IntVar(&opts.rotateAll, "rotate-all", 0, "すべての画像を回転する角度（90の倍数）")
	f.BoolVar(&opts.noProgress, "no-progress", false, "進捗バーを表示しない")
	return cmd
}

func runConvert(cmd *cobra.Command, logger zerolog.Logger, opts *convertOptions, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var p *plan
	if opts.planPath != "" {
		loaded, err := loadPlan(opts.planPath)
		if err != nil {
			return err
		}
		p = loaded
	}

	paths := args
	if len(paths) == 0 && p != nil {
		paths = p.paths()
	}
	if len(paths) == 0 {
		return errors.New("変換する画像を指定してください")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctrl, err := converter.New(converter.Options{
		Store:       storage.NewMemory(),
		MaxFileSize: cfg.MaxFileSize,
		MaxImages:   cfg.MaxImages,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	ids, err := ingestPaths(cmd, ctrl, paths)
	if err != nil {
		return err
	}

	if err := applySettings(cmd, ctrl, opts, p); err != nil {
		return err
	}
	if opts.rotateAll != 0 {
		if _, err := ctrl.RotateAll(opts.rotateAll); err != nil {
			return err
		}
	}
	if p != nil {
		if err := applyPlan(ctrl, p, ids); err != nil {
			return err
		}
	}

	svc, err := pdf.NewService(cfg, logger)
	if err != nil {
		return err
	}
	if ctrl.Settings().OCR {
		engine, err := ocr.New(cfg.OCRLanguage)
		if err != nil {
			logger.Debug().Err(err).Msg("OCR engine unavailable")
		} else {
			defer engine.Close()
			svc.SetOCREngine(engine)
		}
	}

	req, err := ctrl.Snapshot()
	if err != nil {
		return err
	}

	var progress pdf.ProgressReporter
	var bar *progressBar
	if !opts.noProgress {
		bar = newProgressBar(cmd.ErrOrStderr())
		progress = bar.report
	}
	result, err := svc.Export(ctx, req, progress)
	if bar != nil {
		bar.finish()
	}
	if err != nil {
		return err
	}
	defer result.Cleanup()

	if err := copyFile(result.OutputPath, opts.output); err != nil {
		return err
	}

	pages := len(req.Pages)
	if meta, ok := result.Meta.(*pdf.ExportMeta); ok {
		pages = meta.TotalPages
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%d ページ, %s)\n", opts.output, pages, converter.FormatSize(result.OutputSize))
	return nil
}

// ingestPaths はファイルを読み込んで取り込み、パスから画像IDへの対応を返します。
func ingestPaths(cmd *cobra.Command, ctrl *converter.Controller, paths []string) (map[string]string, error) {
	files := make([]converter.RawFile, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		clean := filepath.Clean(path)
		if seen[clean] {
			continue
		}
		seen[clean] = true

		data, err := os.ReadFile(clean)
		if err != nil {
			return nil, fmt.Errorf("%s を読み込めません: %w", path, err)
		}
		files = append(files, converter.RawFile{
			Name:      clean,
			MediaType: mimetype.Detect(data).String(),
			Size:      int64(len(data)),
			Data:      data,
		})
	}

	result, err := ctrl.Ingest(files)
	if result != nil {
		for _, r := range result.Rejections {
			fmt.Fprintf(cmd.ErrOrStderr(), "skip %s: %s\n", r.Name, r.Reason)
		}
	}
	if err != nil {
		return nil, err
	}

	ids := make(map[string]string, len(result.Added))
	for _, u := range result.Added {
		ids[u.Name] = u.ID
	}
	return ids, nil
}

// applySettings はプランの設定を適用し、その上にコマンドラインで指定した値を重ねます。
func applySettings(cmd *cobra.Command, ctrl *converter.Controller, opts *convertOptions, p *plan) error {
	if p != nil {
		if _, err := ctrl.UpdateSettings(p.Settings.update()); err != nil {
			return err
		}
	}

	var update pdf.SettingsUpdate
	flags := cmd.Flags()
	if flags.Changed("page-size") {
		update.PageSize = &opts.pageSize
	}
	if flags.Changed("orientation") {
		update.Orientation = &opts.orientation
	}
	if flags.Changed("margin") {
		update.Margin = &opts.margin
	}
	if flags.Changed("compression") {
		update.Compression = &opts.compression
	}
	if flags.Changed("ocr") {
		update.OCR = &opts.ocr
	}
	_, err := ctrl.UpdateSettings(update)
	return err
}

// applyPlan は画像ごとの回転・編集と並び順を適用します。
func applyPlan(ctrl *converter.Controller, p *plan, ids map[string]string) error {
	lookup := func(path string) (string, bool) {
		id, ok := ids[filepath.Clean(p.resolve(path))]
		if !ok {
			id, ok = ids[filepath.Clean(path)]
		}
		return id, ok
	}

	for _, img := range p.Images {
		id, ok := lookup(img.Path)
		if !ok {
			// 取り込めなかった画像の手順は飛ばす
			continue
		}
		if img.Rotate != 0 {
			if err := ctrl.RotateOne(id, img.Rotate, converter.Confirmed(true)); err != nil {
				return fmt.Errorf("%s: %w", img.Path, err)
			}
		}
		if img.Edit == nil {
			continue
		}
		if err := editImage(ctrl, id, img.Edit); err != nil {
			ctrl.CancelEditor()
			return fmt.Errorf("%s: %w", img.Path, err)
		}
	}

	if len(p.Order) == 0 {
		return nil
	}
	order := make([]string, 0, len(p.Order))
	for _, path := range p.Order {
		id, ok := lookup(path)
		if !ok {
			return fmt.Errorf("order: %s は取り込まれていません", path)
		}
		order = append(order, id)
	}
	return ctrl.Reorder(order)
}

func editImage(ctrl *converter.Controller, id string, edit *planEdit) error {
	if _, err := ctrl.OpenEditor(id); err != nil {
		return err
	}
	for _, action := range edit.actions() {
		if err := ctrl.ApplyTool(action); err != nil {
			return err
		}
	}
	if c := edit.crop(); c != nil {
		if err := ctrl.SetCropBox(c.rect()); err != nil {
			return err
		}
	}
	_, err := ctrl.Commit()
	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
