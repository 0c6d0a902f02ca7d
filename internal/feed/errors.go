package feed

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/hitoshi/feedreader/internal/model"
)

// FetchError はフィード取り込みパイプラインのエラー。
// Kindはmodel.ErrorKindの閉じた集合のいずれか。
type FetchError struct {
	Kind       model.ErrorKind
	StatusCode int // KindがErrorKindHTTPの場合のみ設定される
	URL        string
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	if e.Kind == model.ErrorKindHTTP {
		return fmt.Sprintf("%s: %s: HTTP %d", e.Kind, e.URL, e.StatusCode)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.URL)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *FetchError) Unwrap() error {
	return e.Err
}

// newFetchError はFetchErrorを生成する。
func newFetchError(kind model.ErrorKind, rawURL string, err error) *FetchError {
	return &FetchError{Kind: kind, URL: rawURL, Err: err}
}

// KindOf はエラーの分類を返す。
// FetchErrorでない場合、期限超過とキャンセルはtimeout、それ以外はstorage_errorとして扱う。
func KindOf(err error) model.ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.ErrorKindTimeout
	}
	return model.ErrorKindStorage
}

// StatusCodeOf はHTTPエラーのステータスコードを返す。HTTPエラーでない場合は0。
func StatusCodeOf(err error) int {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode
	}
	return 0
}

// classifyTransportError はHTTPクライアントのエラーをtimeoutまたはunreachableに分類する。
// 呼び出し元のキャンセルは宛先の問題ではないためtimeoutとする。
func classifyTransportError(rawURL string, err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newFetchError(model.ErrorKindTimeout, rawURL, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newFetchError(model.ErrorKindTimeout, rawURL, err)
	}
	return newFetchError(model.ErrorKindUnreachable, rawURL, err)
}
