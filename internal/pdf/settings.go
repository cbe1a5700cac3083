package pdf

import (
	"fmt"
	"strings"
)

// PageSize は出力ページの用紙サイズです。
type PageSize string

const (
	PageSizeA3     PageSize = "a3"
	PageSizeA4     PageSize = "a4"
	PageSizeA5     PageSize = "a5"
	PageSizeLetter PageSize = "letter"
	PageSizeLegal  PageSize = "legal"
)

// Orientation は用紙の向きです。
type Orientation string

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
)

// Margin は画像の周囲に取る余白の大きさです。
type Margin string

const (
	MarginNone   Margin = "none"
	MarginSmall  Margin = "small"
	MarginMedium Margin = "medium"
	MarginLarge  Margin = "large"
)

// Compression はページ画像の圧縮レベルです。
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionLow    Compression = "low"
	CompressionMedium Compression = "medium"
	CompressionHigh   Compression = "high"
)

// pdfcpu の用紙名
var pageForms = map[PageSize]string{
	PageSizeA3:     "A3",
	PageSizeA4:     "A4",
	PageSizeA5:     "A5",
	PageSizeLetter: "Letter",
	PageSizeLegal:  "Legal",
}

// 用紙に対する画像枠の相対倍率
var marginScale = map[Margin]string{
	MarginNone:   "1.0",
	MarginSmall:  "0.94",
	MarginMedium: "0.88",
	MarginLarge:  "0.8",
}

// JPEG 品質（none は PNG のまま埋め込む）
var compressionQuality = map[Compression]int{
	CompressionNone:   0,
	CompressionLow:    92,
	CompressionMedium: 80,
	CompressionHigh:   60,
}

// Settings はPDF出力時のレイアウト設定です。編集セッションの間だけ保持されます。
type Settings struct {
	PageSize    PageSize    `json:"pageSize" yaml:"pageSize"`
	Orientation Orientation `json:"orientation" yaml:"orientation"`
	Margin      Margin      `json:"margin" yaml:"margin"`
	Compression Compression `json:"compressionLevel" yaml:"compression"`
	OCR         bool        `json:"ocr" yaml:"ocr"`
}

// DefaultSettings は変換画面の初期値を返します。
func DefaultSettings() Settings {
	return Settings{
		PageSize:    PageSizeA4,
		Orientation: OrientationPortrait,
		Margin:      MarginSmall,
		Compression: CompressionMedium,
		OCR:         false,
	}
}

// Validate は各値が列挙値に含まれるかを検証します。
func (s Settings) Validate() error {
	if _, ok := pageForms[s.PageSize]; !ok {
		return newError(CodeInvalidInput, fmt.Sprintf("用紙サイズ %q には対応していません。", s.PageSize), nil)
	}
	if s.Orientation != OrientationPortrait && s.Orientation != OrientationLandscape {
		return newError(CodeInvalidInput, fmt.Sprintf("向き %q には対応していません。", s.Orientation), nil)
	}
	if _, ok := marginScale[s.Margin]; !ok {
		return newError(CodeInvalidInput, fmt.Sprintf("余白 %q には対応していません。", s.Margin), nil)
	}
	if _, ok := compressionQuality[s.Compression]; !ok {
		return newError(CodeInvalidInput, fmt.Sprintf("圧縮レベル %q には対応していません。", s.Compression), nil)
	}
	return nil
}

// SettingsUpdate は設定の部分更新です。nil の項目は変更しません。
type SettingsUpdate struct {
	PageSize    *string `json:"pageSize,omitempty"`
	Orientation *string `json:"orientation,omitempty"`
	Margin      *string `json:"margin,omitempty"`
	Compression *string `json:"compressionLevel,omitempty"`
	OCR         *bool   `json:"ocr,omitempty"`
}

// Apply は更新を適用した新しい設定を返します。検証に失敗した場合は元の設定は変わりません。
func (u SettingsUpdate) Apply(current Settings) (Settings, error) {
	next := current
	if u.PageSize != nil {
		next.PageSize = PageSize(normalizeEnum(*u.PageSize))
	}
	if u.Orientation != nil {
		next.Orientation = Orientation(normalizeEnum(*u.Orientation))
	}
	if u.Margin != nil {
		next.Margin = Margin(normalizeEnum(*u.Margin))
	}
	if u.Compression != nil {
		next.Compression = Compression(normalizeEnum(*u.Compression))
	}
	if u.OCR != nil {
		next.OCR = *u.OCR
	}
	if err := next.Validate(); err != nil {
		return current, err
	}
	return next, nil
}

func normalizeEnum(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// importDescription は pdfcpu の画像取り込み設定文字列を組み立てます。
func (s Settings) importDescription() string {
	form := pageForms[s.PageSize]
	if s.Orientation == OrientationLandscape {
		form += "L"
	}
	return fmt.Sprintf("formsize:%s, position:c, scalefactor:%s rel", form, marginScale[s.Margin])
}

// jpegQuality はページ画像の JPEG 品質を返します。0 の場合は PNG で埋め込みます。
func (s Settings) jpegQuality() int {
	return compressionQuality[s.Compression]
}

// ghostscriptPreset は追加の圧縮パスに使うプリセットを返します。空なら圧縮パスを行いません。
func (s Settings) ghostscriptPreset() OptimizePreset {
	switch s.Compression {
	case CompressionMedium:
		return OptimizePresetStandard
	case CompressionHigh:
		return OptimizePresetAggressive
	default:
		return ""
	}
}
