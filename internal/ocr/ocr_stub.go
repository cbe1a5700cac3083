//go:build !ocr

// Package ocr はページ画像の文字認識を提供します。
//
// この実装は "ocr" ビルドタグなしでビルドした場合のスタブで、New は常に ErrNotEnabled を返します。
//
//	go build -tags ocr ./...
package ocr

import (
	"context"
	"errors"
)

// Enabled は OCR が組み込まれているかを表します。
const Enabled = false

// ErrNotEnabled は OCR を組み込まずにビルドした場合に返されます。
var ErrNotEnabled = errors.New("OCR support not enabled; rebuild with -tags ocr")

// Engine は OCR 無効時のスタブです。
type Engine struct{}

// New は常に ErrNotEnabled を返します。
func New(lang string) (*Engine, error) {
	return nil, ErrNotEnabled
}

// Recognize は常に ErrNotEnabled を返します。
func (e *Engine) Recognize(ctx context.Context, imageData []byte) (string, error) {
	return "", ErrNotEnabled
}

// Close は何もしません。nil でも呼び出せます。
func (e *Engine) Close() error {
	return nil
}
