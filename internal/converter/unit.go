package converter

import (
	"math"
	"strconv"
)

// Source は取り込んだ元画像です。取り込み後に変更されることはありません。
type Source struct {
	Name      string
	MediaType string
	Size      int64
	Data      []byte
}

// Artifact は表示・出力に使う画像です。元画像そのものか、確定したトリミング結果のどちらかです。
type Artifact struct {
	Handle    string
	MediaType string
	Data      []byte
}

// Unit はコレクション内の1枚の画像とその編集状態です。
type Unit struct {
	ID        string
	Source    Source
	Display   Artifact
	Rotation  int // CropBaked の間は常に 0
	CropBaked bool
}

// UnitView は画面表示用の読み取り専用ビューです。
type UnitView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	SizeLabel string `json:"sizeLabel"`
	MediaType string `json:"mediaType"`
	Rotation  int    `json:"rotation"`
	CropBaked bool   `json:"cropBaked"`
	Version   string `json:"version"`
}

func (u *Unit) view() UnitView {
	return UnitView{
		ID:        u.ID,
		Name:      u.Source.Name,
		Size:      u.Source.Size,
		SizeLabel: FormatSize(u.Source.Size),
		MediaType: u.Display.MediaType,
		Rotation:  u.Rotation,
		CropBaked: u.CropBaked,
		Version:   u.Display.Handle,
	}
}

func (u *Unit) sourceArtifact(handle string) Artifact {
	return Artifact{Handle: handle, MediaType: u.Source.MediaType, Data: u.Source.Data}
}

var sizeUnits = []string{"B", "KB", "MB", "GB"}

// FormatSize はバイト数を "1.5 MB" のような表示用文字列にします。
func FormatSize(bytes int64) string {
	if bytes <= 0 {
		return "0 B"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizeUnits) {
		i = len(sizeUnits) - 1
	}
	v := math.Round(float64(bytes)/math.Pow(1024, float64(i))*10) / 10
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}
