package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/feedreader/internal/middleware"
	"github.com/hitoshi/feedreader/internal/model"
)

// handleServiceError はサービス層から返されたエラーをレスポンスに変換する。
// APIError以外は詳細をログにのみ記録して500を返す。
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	logger.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// decodeJSON はリクエストボディをJSONとしてデコードする。失敗した場合は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(dst); err != nil {
		middleware.WriteAPIError(w, model.NewInvalidRequestError())
		return false
	}
	return true
}

// maxRequestBody はリクエストボディの上限バイト数。
const maxRequestBody = 1 << 20

// requireUserID はコンテキストからユーザーIDを取り出す。存在しない場合は401を書き込む。
func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewUnauthorizedError())
		return "", false
	}
	return userID, true
}

// feedIDParam はパスパラメータのフィードIDを取り出す。UUIDでない場合は404を書き込む。
func feedIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if uuid.Validate(id) != nil {
		middleware.WriteAPIError(w, model.NewFeedNotFoundError(id))
		return "", false
	}
	return id, true
}
