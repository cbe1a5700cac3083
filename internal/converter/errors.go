package converter

import (
	"fmt"

	"github.com/yourusername/scanforge/internal/pdf"
)

// エラーコード。pdf パッケージのコードと同じく HTTP レスポンスの code にそのまま使います。
const (
	CodeNoValidImages        = "NO_VALID_IMAGES"
	CodeInvalidOrder         = "INVALID_ORDER"
	CodeNoActiveCropArea     = "NO_ACTIVE_CROP_AREA"
	CodeNoActiveSession      = "NO_ACTIVE_SESSION"
	CodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	CodeUnitNotFound         = "UNIT_NOT_FOUND"
	CodeInvalidInput         = "INVALID_INPUT"
	CodeWorkspaceExpired     = pdf.CodeWorkspaceExpired
)

// Error は変換画面の操作で発生する、利用者が対処できるエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is は Code が一致すれば同じ種別とみなします。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

var (
	ErrNoValidImages    = &Error{Code: CodeNoValidImages, Message: "有効な画像ファイルを選択してください。"}
	ErrInvalidOrder     = &Error{Code: CodeInvalidOrder, Message: "並び順が現在の画像一覧と一致しません。画面を更新してから再度お試しください。"}
	ErrNoActiveCropArea = &Error{Code: CodeNoActiveCropArea, Message: "トリミング範囲がありません。範囲を選択してから保存してください。"}
	ErrNoActiveSession  = &Error{Code: CodeNoActiveSession, Message: "編集中の画像がありません。"}
	ErrUnitNotFound     = &Error{Code: CodeUnitNotFound, Message: "指定された画像は存在しません。"}
	// ErrClosed は破棄済みの Controller を操作した場合に返されます。
	ErrClosed = &Error{Code: CodeWorkspaceExpired, Message: "作業領域の有効期限が切れました。画面を更新してから再度お試しください。"}
)

// ConfirmationRequired は確認が得られなかった破壊的操作のエラーです。Message は確認文です。
func ConfirmationRequired(prompt string) *Error {
	return &Error{Code: CodeConfirmationRequired, Message: prompt}
}
