//go:build ocr

// Package ocr はページ画像の文字認識を Tesseract (gosseract) で行います。
//
// Tesseract がシステムにインストールされている必要があります。
//
//	apt-get install tesseract-ocr tesseract-ocr-jpn
package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Enabled は OCR が組み込まれているかを表します。
const Enabled = true

// ErrNotEnabled は OCR を組み込まずにビルドした場合に返されます。
var ErrNotEnabled = errors.New("OCR support not enabled; rebuild with -tags ocr")

// Engine は gosseract のクライアントを包みます。クライアントはスレッドセーフではないため排他制御します。
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// New は lang（"eng+jpn" のように + 区切り可）で認識するエンジンを返します。
func New(lang string) (*Engine, error) {
	client := gosseract.NewClient()
	if lang != "" {
		if err := client.SetLanguage(strings.Split(lang, "+")...); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set OCR language %q: %w", lang, err)
		}
	}
	return &Engine{client: client}, nil
}

// Recognize は画像データ（PNG/JPEG など）の文字を認識し、前後の空白を除いて返します。
func (e *Engine) Recognize(ctx context.Context, imageData []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == nil {
		return "", errors.New("ocr engine is closed")
	}
	if err := e.client.SetImageFromBytes(imageData); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}
	text, err := e.client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Close はクライアントを解放します。
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}
