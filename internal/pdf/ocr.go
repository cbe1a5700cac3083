package pdf

import "context"

// OCREngine はページ画像から文字を認識するエンジンです。
type OCREngine interface {
	Recognize(ctx context.Context, imageData []byte) (string, error)
	Close() error
}
