package main

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
)

var stageLabels = map[string]string{
	"load":      "読み込み",
	"render":    "ページ生成",
	"ocr":       "文字認識",
	"assemble":  "PDF作成",
	"compress":  "圧縮",
	"write":     "書き出し",
	"completed": "完了",
}

// progressBar は出力の進捗（0-100%）を端末に表示します。
type progressBar struct {
	bar *progressbar.ProgressBar
}

func newProgressBar(w io.Writer) *progressBar {
	bar := progressbar.NewOptions64(
		100,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(stageLabels["load"]),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &progressBar{bar: bar}
}

// report は pdf.ProgressReporter として使います。
func (p *progressBar) report(stage string, percent int, message string) {
	label := message
	if label == "" {
		label = stageLabels[stage]
	}
	p.bar.Describe(label)
	_ = p.bar.Set64(int64(percent))
}

func (p *progressBar) finish() {
	_ = p.bar.Finish()
}
