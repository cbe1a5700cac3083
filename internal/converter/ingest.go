package converter

import (
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// RawFile はファイル選択やドラッグ＆ドロップで渡された1ファイルです。
type RawFile struct {
	Name      string
	MediaType string // 申告されたメディアタイプ
	Size      int64
	Data      []byte
}

// Rejection は取り込まれなかったファイルとその理由です。
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// IngestResult は取り込み結果です。
type IngestResult struct {
	Added      []UnitView  `json:"added"`
	Rejected   int         `json:"rejected"`
	Rejections []Rejection `json:"rejections,omitempty"`
}

// 中身を確認したうえで受け付ける画像形式
var decodableTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
	"image/webp": true,
}

// Ingestor はファイルを検証して編集用の Unit に変換します。
type Ingestor struct {
	store       HandleStore
	maxFileSize int64
	maxImages   int
	newID       func() string
}

// NewIngestor は上限値を指定して Ingestor を返します。0 以下の上限は無制限です。
func NewIngestor(store HandleStore, maxFileSize int64, maxImages int) *Ingestor {
	return &Ingestor{
		store:       store,
		maxFileSize: maxFileSize,
		maxImages:   maxImages,
		newID:       uuid.NewString,
	}
}

// Ingest は files を検証し、受け付けたものを Unit にします。existing は現在の枚数です。
// 1件も受け付けられなかった場合は ErrNoValidImages を返します。
func (g *Ingestor) Ingest(files []RawFile, existing int) ([]*Unit, []Rejection, error) {
	var (
		units      []*Unit
		rejections []Rejection
	)
	reject := func(f RawFile, reason string) {
		rejections = append(rejections, Rejection{Name: f.Name, Reason: reason})
	}

	for _, f := range files {
		size := f.Size
		if size <= 0 {
			size = int64(len(f.Data))
		}
		if !isDeclaredImage(f.MediaType) {
			reject(f, "画像ファイルではありません。")
			continue
		}
		if g.maxFileSize > 0 && size > g.maxFileSize {
			reject(f, fmt.Sprintf("ファイルサイズが上限 (%s) を超えています。", FormatSize(g.maxFileSize)))
			continue
		}
		if g.maxImages > 0 && existing+len(units) >= g.maxImages {
			reject(f, fmt.Sprintf("画像は %d 枚まで追加できます。", g.maxImages))
			continue
		}
		if len(f.Data) == 0 {
			reject(f, "ファイルが空です。")
			continue
		}
		detected := mimetype.Detect(f.Data).String()
		if !decodableTypes[detected] {
			reject(f, "対応していない画像形式です。")
			continue
		}

		id := g.newID()
		handle, err := g.store.Acquire(id, f.Data, detected)
		if err != nil {
			reject(f, "画像を読み込めませんでした。")
			continue
		}

		u := &Unit{
			ID: id,
			Source: Source{
				Name:      f.Name,
				MediaType: detected,
				Size:      size,
				Data:      f.Data,
			},
		}
		u.Display = u.sourceArtifact(handle)
		units = append(units, u)
	}

	if len(units) == 0 {
		return nil, rejections, ErrNoValidImages
	}
	return units, rejections, nil
}

func isDeclaredImage(mediaType string) bool {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "image/")
}
