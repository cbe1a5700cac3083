package converter

import (
	"fmt"

	"github.com/yourusername/scanforge/internal/imaging"
)

// DefaultRotateDelta は回転ボタン1回分の角度です。
const DefaultRotateDelta = 90

func normalizeDelta(delta int) (int, error) {
	if !imaging.IsRightAngle(delta) {
		return 0, newError(CodeInvalidInput, fmt.Sprintf("回転角度は90度単位で指定してください (received: %d)", delta), nil)
	}
	return imaging.NormalizeDegrees(delta), nil
}

// rotate は未確定の回転を加算します。トリミング確定済みの画像は変更しません。
func (u *Unit) rotate(delta int) bool {
	if u.CropBaked {
		return false
	}
	u.Rotation = imaging.NormalizeDegrees(u.Rotation + delta)
	return true
}

// resetToSource はトリミング結果を破棄して元画像に戻します。
// 新しいハンドルを確保できなかった場合は何も変更しません。
func (c *Controller) resetToSource(u *Unit) error {
	handle, err := c.store.Acquire(u.ID, u.Source.Data, u.Source.MediaType)
	if err != nil {
		return fmt.Errorf("元画像の表示用ハンドルを確保できませんでした: %w", err)
	}
	old := u.Display.Handle
	u.Display = u.sourceArtifact(handle)
	u.CropBaked = false
	u.Rotation = 0
	c.release(old)
	return nil
}
