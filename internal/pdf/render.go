package pdf

import (
	"fmt"
	"image"

	"github.com/yourusername/scanforge/internal/imaging"
)

type renderedPage struct {
	data   []byte
	ext    string
	width  int
	height int
}

// renderPage は画像に未確定の回転を適用し、圧縮設定に従ってページ用画像にエンコードします。
func renderPage(data []byte, rotation int, settings Settings) (*renderedPage, error) {
	if !imaging.IsRightAngle(rotation) {
		return nil, fmt.Errorf("rotation %d is not a multiple of 90", rotation)
	}
	src, _, err := imaging.Decode(data)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Render(src, imaging.Orientation{Rotation: imaging.NormalizeDegrees(rotation)}, image.Rectangle{})
	if err != nil {
		return nil, err
	}

	var (
		out []byte
		ext string
	)
	if q := settings.jpegQuality(); q > 0 {
		out, err = imaging.EncodeJPEG(img, q)
		ext = ".jpg"
	} else {
		out, err = imaging.EncodePNG(img)
		ext = ".png"
	}
	if err != nil {
		return nil, err
	}

	b := img.Bounds()
	return &renderedPage{data: out, ext: ext, width: b.Dx(), height: b.Dy()}, nil
}
