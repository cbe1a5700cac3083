package imaging

import (
	"errors"
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// ErrEmptyCrop はトリミング範囲が画像と重ならない場合に返されます。
var ErrEmptyCrop = errors.New("imaging: crop area is empty")

// NormalizeDegrees は角度を [0, 360) に正規化します。
func NormalizeDegrees(deg int) int {
	d := deg % 360
	if d < 0 {
		d += 360
	}
	return d
}

// IsRightAngle は角度が 90 度の倍数かどうかを返します。
func IsRightAngle(deg int) bool {
	return deg%90 == 0
}

// Orientation は元画像に対する向きです。
// 元画像を（Mirror なら）左右反転し、その後 Rotation 度だけ時計回りに回転した結果を表します。
// 表示上の反転・回転はすべてこの2値に畳み込まれます。
type Orientation struct {
	Rotation int
	Mirror   bool
}

// Rotate は表示中の画像を時計回りに delta 度回転した向きを返します。
func (o Orientation) Rotate(delta int) Orientation {
	o.Rotation = NormalizeDegrees(o.Rotation + delta)
	return o
}

// FlipHorizontal は表示中の画像を左右反転した向きを返します。
func (o Orientation) FlipHorizontal() Orientation {
	return Orientation{Rotation: NormalizeDegrees(-o.Rotation), Mirror: !o.Mirror}
}

// FlipVertical は表示中の画像を上下反転した向きを返します。
func (o Orientation) FlipVertical() Orientation {
	return Orientation{Rotation: NormalizeDegrees(180 - o.Rotation), Mirror: !o.Mirror}
}

// IsIdentity は無変換かどうかを返します。
func (o Orientation) IsIdentity() bool {
	return NormalizeDegrees(o.Rotation) == 0 && !o.Mirror
}

// Size は w×h の元画像にこの向きを適用した後のサイズを返します。
func (o Orientation) Size(w, h int) (int, int) {
	switch NormalizeDegrees(o.Rotation) {
	case 90, 270:
		return h, w
	default:
		return w, h
	}
}

// Render は src に向きを適用し、crop（変換後の座標系）で切り出した画像を返します。
// crop が空の場合は画像全体を返します。
func Render(src image.Image, o Orientation, crop image.Rectangle) (image.Image, error) {
	b := src.Bounds()
	ow, oh := o.Size(b.Dx(), b.Dy())
	full := image.Rect(0, 0, ow, oh)
	if crop.Empty() {
		crop = full
	} else {
		crop = crop.Intersect(full)
		if crop.Empty() {
			return nil, ErrEmptyCrop
		}
	}
	if o.IsIdentity() && crop.Eq(full) {
		return src, nil
	}

	w, h := float64(b.Dx()), float64(b.Dy())
	m := translate(float64(-b.Min.X), float64(-b.Min.Y))
	if o.Mirror {
		m = mul(f64.Aff3{-1, 0, w, 0, 1, 0}, m)
	}
	switch NormalizeDegrees(o.Rotation) {
	case 90:
		m = mul(f64.Aff3{0, -1, h, 1, 0, 0}, m)
	case 180:
		m = mul(f64.Aff3{-1, 0, w, 0, -1, h}, m)
	case 270:
		m = mul(f64.Aff3{0, 1, 0, -1, 0, w}, m)
	}
	m = mul(translate(float64(-crop.Min.X), float64(-crop.Min.Y)), m)

	dst := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	// 90度単位の変換は画素中心同士が一致するため最近傍補間で劣化しない
	draw.NearestNeighbor.Transform(dst, m, src, b, draw.Src, nil)
	return dst, nil
}

func translate(dx, dy float64) f64.Aff3 {
	return f64.Aff3{1, 0, dx, 0, 1, dy}
}

// mul は b を適用した後に a を適用する変換を返します。
func mul(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3],
		a[0]*b[1] + a[1]*b[4],
		a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3],
		a[3]*b[1] + a[4]*b[4],
		a[3]*b[2] + a[4]*b[5] + a[5],
	}
}
