package converter

import (
	"fmt"
	"image"
	"io"

	"github.com/yourusername/scanforge/internal/imaging"
)

// HandleStore は表示用ハンドルの確保と解放を行います。
type HandleStore interface {
	Acquire(owner string, data []byte, mediaType string) (string, error)
	Release(handle string) error
	Open(handle string) (io.ReadCloser, string, int64, error)
}

// CropTool はトリミング編集ツールです。回転・反転・枠はすべて一時状態で、Result で画像になります。
type CropTool interface {
	Load(data []byte, mediaType string) error
	Rotate(degrees int)
	FlipHorizontal()
	FlipVertical()
	SetCropBox(r image.Rectangle) error
	CropBox() image.Rectangle
	Result() ([]byte, string, error)
	Destroy()
}

// NewImagingTool は imaging.Tool を CropTool として返します。
func NewImagingTool() CropTool {
	return imaging.NewTool()
}

// ToolAction は編集ツールのボタン操作です。
type ToolAction string

const (
	ActionRotateLeft  ToolAction = "rotate-left"
	ActionRotateRight ToolAction = "rotate-right"
	ActionFlipH       ToolAction = "flip-h"
	ActionFlipV       ToolAction = "flip-v"
)

// apply は操作をツールに反映します。
func (a ToolAction) apply(tool CropTool) error {
	switch a {
	case ActionRotateLeft:
		tool.Rotate(-90)
	case ActionRotateRight:
		tool.Rotate(90)
	case ActionFlipH:
		tool.FlipHorizontal()
	case ActionFlipV:
		tool.FlipVertical()
	default:
		return newError(CodeInvalidInput, fmt.Sprintf("未対応の編集操作です (received: %s)", a), nil)
	}
	return nil
}

// EditSession は1枚の画像を対象にした編集セッションです。同時に開けるのは1つだけです。
type EditSession struct {
	target string
	tool   CropTool
}

// Target は編集対象の画像IDを返します。
func (s *EditSession) Target() string {
	return s.target
}

// close はツールの一時状態を解放します。何度呼んでも安全です。
func (s *EditSession) close() {
	if s == nil || s.tool == nil {
		return
	}
	s.tool.Destroy()
	s.tool = nil
}

// Rect はトリミング枠の JSON 表現です。
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Rectangle は image.Rectangle に変換します。
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

func rectOf(r image.Rectangle) Rect {
	return Rect{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// SessionView は編集セッションの表示用ビューです。
type SessionView struct {
	Target  string `json:"target"`
	CropBox Rect   `json:"cropBox"`
}
