package main

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/yourusername/scanforge/internal/converter"
	"github.com/yourusername/scanforge/internal/pdf"
)

// plan は convert --plan で読み込む編集手順です。
type plan struct {
	Settings planSettings `yaml:"settings"`
	Images   []planImage  `yaml:"images"`
	Order    []string     `yaml:"order"`

	dir string
}

type planSettings struct {
	PageSize    *string `yaml:"pageSize"`
	Orientation *string `yaml:"orientation"`
	Margin      *string `yaml:"margin"`
	Compression *string `yaml:"compression"`
	OCR         *bool   `yaml:"ocr"`
}

type planImage struct {
	Path   string    `yaml:"path"`
	Rotate int       `yaml:"rotate"`
	Edit   *planEdit `yaml:"edit"`
}

type planEdit struct {
	Rotate int       `yaml:"rotate"`
	FlipH  bool      `yaml:"flipH"`
	FlipV  bool      `yaml:"flipV"`
	Crop   *planCrop `yaml:"crop"`
}

type planCrop struct {
	X      int `yaml:"x"`
	Y      int `yaml:"y"`
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

func loadPlan(path string) (*plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("プランファイルを読み込めません: %w", err)
	}
	var p plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("プランファイルの形式が正しくありません: %w", err)
	}
	for i, img := range p.Images {
		if img.Path == "" {
			return nil, fmt.Errorf("images[%d]: path is required", i)
		}
		if img.Edit != nil && img.Edit.Rotate%90 != 0 {
			return nil, fmt.Errorf("images[%d]: edit.rotate must be a multiple of 90", i)
		}
		if c := img.Edit.crop(); c != nil && (c.Width <= 0 || c.Height <= 0) {
			return nil, fmt.Errorf("images[%d]: crop width and height must be positive", i)
		}
	}
	p.dir = filepath.Dir(path)
	return &p, nil
}

// paths はプランの画像パスをプランファイルからの相対パスとして解決します。
func (p *plan) paths() []string {
	out := make([]string, len(p.Images))
	for i, img := range p.Images {
		out[i] = p.resolve(img.Path)
	}
	return out
}

func (p *plan) resolve(path string) string {
	if filepath.IsAbs(path) || p.dir == "" {
		return path
	}
	return filepath.Join(p.dir, path)
}

func (s planSettings) update() pdf.SettingsUpdate {
	return pdf.SettingsUpdate{
		PageSize:    s.PageSize,
		Orientation: s.Orientation,
		Margin:      s.Margin,
		Compression: s.Compression,
		OCR:         s.OCR,
	}
}

func (e *planEdit) crop() *planCrop {
	if e == nil {
		return nil
	}
	return e.Crop
}

// actions は編集内容をツール操作の列に変換します。回転を先に、反転を後に適用します。
func (e *planEdit) actions() []converter.ToolAction {
	if e == nil {
		return nil
	}
	var out []converter.ToolAction
	steps := e.Rotate / 90
	for ; steps > 0; steps-- {
		out = append(out, converter.ActionRotateRight)
	}
	for ; steps < 0; steps++ {
		out = append(out, converter.ActionRotateLeft)
	}
	if e.FlipH {
		out = append(out, converter.ActionFlipH)
	}
	if e.FlipV {
		out = append(out, converter.ActionFlipV)
	}
	return out
}

func (c *planCrop) rect() image.Rectangle {
	return image.Rect(c.X, c.Y, c.X+c.Width, c.Y+c.Height)
}
