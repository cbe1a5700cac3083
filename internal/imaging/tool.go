package imaging

import (
	"errors"
	"image"
)

// ErrNoImage は画像を読み込む前に結果を要求した場合に返されます。
var ErrNoImage = errors.New("imaging: no image loaded")

// Tool はトリミング編集用のツール状態を保持します。
// 回転・反転・トリミング枠はすべて一時状態で、Result を呼ぶまで画素は生成されません。
type Tool struct {
	src    image.Image
	orient Orientation
	box    image.Rectangle
}

// NewTool は空のツールを返します。
func NewTool() *Tool {
	return &Tool{}
}

// Load は画像データを読み込み、向きとトリミング枠を初期化します。
func (t *Tool) Load(data []byte, mediaType string) error {
	img, _, err := Decode(data)
	if err != nil {
		return err
	}
	t.src = img
	t.orient = Orientation{}
	t.box = t.bounds()
	return nil
}

// Rotate は表示中の画像を時計回りに回転します。90度の倍数以外は無視します。
func (t *Tool) Rotate(degrees int) {
	if t.src == nil || !IsRightAngle(degrees) {
		return
	}
	for i := 0; i < NormalizeDegrees(degrees)/90; i++ {
		full := t.bounds()
		t.box = image.Rect(full.Dy()-t.box.Max.Y, t.box.Min.X, full.Dy()-t.box.Min.Y, t.box.Max.X)
		t.orient = t.orient.Rotate(90)
	}
}

// FlipHorizontal は表示中の画像を左右反転します。
func (t *Tool) FlipHorizontal() {
	if t.src == nil {
		return
	}
	full := t.bounds()
	t.box = image.Rect(full.Dx()-t.box.Max.X, t.box.Min.Y, full.Dx()-t.box.Min.X, t.box.Max.Y)
	t.orient = t.orient.FlipHorizontal()
}

// FlipVertical は表示中の画像を上下反転します。
func (t *Tool) FlipVertical() {
	if t.src == nil {
		return
	}
	full := t.bounds()
	t.box = image.Rect(t.box.Min.X, full.Dy()-t.box.Max.Y, t.box.Max.X, full.Dy()-t.box.Min.Y)
	t.orient = t.orient.FlipVertical()
}

// SetCropBox はトリミング枠を表示座標で設定します。枠は画像内に切り詰められます。
func (t *Tool) SetCropBox(r image.Rectangle) error {
	if t.src == nil {
		return ErrNoImage
	}
	clipped := r.Canon().Intersect(t.bounds())
	if clipped.Empty() {
		return ErrEmptyCrop
	}
	t.box = clipped
	return nil
}

// CropBox は現在のトリミング枠を返します。
func (t *Tool) CropBox() image.Rectangle {
	return t.box
}

// Result は現在のツール状態を描画し、PNG データを返します。
func (t *Tool) Result() ([]byte, string, error) {
	if t.src == nil {
		return nil, "", ErrNoImage
	}
	if t.box.Empty() {
		return nil, "", ErrEmptyCrop
	}
	img, err := Render(t.src, t.orient, t.box)
	if err != nil {
		return nil, "", err
	}
	data, err := EncodePNG(img)
	if err != nil {
		return nil, "", err
	}
	return data, MediaTypePNG, nil
}

// Destroy は保持している画像を解放します。何度呼んでも安全です。
func (t *Tool) Destroy() {
	t.src = nil
	t.orient = Orientation{}
	t.box = image.Rectangle{}
}

func (t *Tool) bounds() image.Rectangle {
	if t.src == nil {
		return image.Rectangle{}
	}
	b := t.src.Bounds()
	w, h := t.orient.Size(b.Dx(), b.Dy())
	return image.Rect(0, 0, w, h)
}
