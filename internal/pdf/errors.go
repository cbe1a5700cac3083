package pdf

import "fmt"

// エラーコード。HTTP レスポンスの code やジョブの失敗情報としてそのまま返します。
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeLimitExceeded     = "LIMIT_EXCEEDED"
	CodeEmptyCollection   = "EMPTY_COLLECTION"
	CodeOCRUnsupported    = "OCR_UNSUPPORTED"
	CodePageRenderFailed  = "PAGE_RENDER_FAILED"
	CodeAssembleFailed    = "ASSEMBLE_FAILED"
	CodeCompressionFailed = "COMPRESSION_FAILED"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeJobResultNotFound = "JOB_RESULT_NOT_FOUND"
	CodeRequestCanceled   = "REQUEST_CANCELED"
	CodeWorkspaceExpired  = "WORKSPACE_EXPIRED"
	CodeInternal          = "INTERNAL_ERROR"
)

// Error はクライアントへ返却するエラー種別とメッセージを保持します。
type Error struct {
	Code    string
	Message string
	UnitID  string // PAGE_RENDER_FAILED の場合に失敗した画像のID
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

// Is は Code が一致すれば同じ種別とみなします。target に UnitID があればそれも比較します。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.UnitID == "" || t.UnitID == e.UnitID
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

var (
	// ErrEmptyCollection は画像が1枚もない状態で出力しようとした場合のエラーです。
	ErrEmptyCollection = &Error{Code: CodeEmptyCollection, Message: "PDFに変換する画像がありません。"}
	// ErrOCRUnsupported は OCR エンジンが利用できない環境で OCR を要求した場合のエラーです。
	ErrOCRUnsupported = &Error{Code: CodeOCRUnsupported, Message: "この環境では OCR を利用できません。OCR をオフにして再度お試しください。"}
)

// PageRenderFailed は特定の画像のページ生成に失敗したことを表すエラーを返します。
func PageRenderFailed(unitID string, err error) *Error {
	return &Error{
		Code:    CodePageRenderFailed,
		Message: "画像をページに変換できませんでした。ファイルが破損していないか確認してください。",
		UnitID:  unitID,
		Err:     err,
	}
}
