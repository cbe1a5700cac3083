package converter

// 破壊的操作の確認文
const (
	PromptClear     = "すべての画像を削除しますか？"
	PromptResetCrop = "回転するとトリミングが解除されます。続けますか？"
)

// Confirmer は破壊的操作の前に利用者へ確認を求めます。
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmFunc は関数を Confirmer として扱うためのアダプタです。
type ConfirmFunc func(prompt string) bool

// Confirm は f(prompt) を返します。
func (f ConfirmFunc) Confirm(prompt string) bool {
	return f(prompt)
}

// Confirmed は確認済みかどうかを固定で返す Confirmer です。HTTP の confirm=true に対応します。
func Confirmed(ok bool) Confirmer {
	return ConfirmFunc(func(string) bool { return ok })
}

func confirm(c Confirmer, prompt string) bool {
	if c == nil {
		return false
	}
	return c.Confirm(prompt)
}
