package pdf

// ProgressReporter は進捗更新用コールバックです。message は利用者向けの現在の処理内容です。
type ProgressReporter func(stage string, percent int, message string)

func reportProgress(cb ProgressReporter, stage string, percent int, message string) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent, message)
}
