package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/feedreader/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// statusByCode はエラーコードとHTTPステータスの対応表。未登録のコードは500。
var statusByCode = map[string]int{
	model.ErrCodeInvalidRequest:  http.StatusBadRequest,
	model.ErrCodeInvalidURL:      http.StatusBadRequest,
	model.ErrCodeInvalidLimit:    http.StatusBadRequest,
	model.ErrCodeUnauthorized:    http.StatusUnauthorized,
	model.ErrCodeForbidden:       http.StatusForbidden,
	model.ErrCodeFeedNotFound:    http.StatusNotFound,
	model.ErrCodeJobDisabled:     http.StatusNotFound,
	model.ErrCodeDuplicateFeed:   http.StatusConflict,
	model.ErrCodeFeedNotDetected: http.StatusUnprocessableEntity,
	model.ErrCodeParseFailed:     http.StatusUnprocessableEntity,
	model.ErrCodeRateLimited:     http.StatusTooManyRequests,
	model.ErrCodeFetchFailed:     http.StatusBadGateway,
	model.ErrCodeFetchTimeout:    http.StatusBadGateway,
	model.ErrCodeInternal:        http.StatusInternalServerError,
}

// StatusForError はAPIErrorに対応するHTTPステータスコードを返す。
func StatusForError(apiErr *model.APIError) int {
	if status, ok := statusByCode[apiErr.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WriteJSON はJSONレスポンスを書き込む。
func WriteJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	WriteJSON(w, statusCode, ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteAPIError はエラーコードから決まるステータスでAPIErrorを書き込む。
func WriteAPIError(w http.ResponseWriter, apiErr *model.APIError) {
	WriteErrorResponse(w, StatusForError(apiErr), apiErr)
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteAPIError(w, model.NewInternalError())
}
