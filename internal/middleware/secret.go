package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/feedreader/internal/model"
)

// NewBearerSecretMiddleware はAuthorization: Bearerの値を共有シークレットと比較するミドルウェアを返す。
// シークレットが空の場合はエンドポイント自体を無効化し404を返す。
func NewBearerSecretMiddleware(secret string, name string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				WriteAPIError(w, model.NewJobDisabledError())
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				WriteAPIError(w, model.NewUnauthorizedError())
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				logger.Warn("共有シークレットが一致しません",
					slog.String("endpoint", name),
					slog.String("path", r.URL.Path),
				)
				WriteAPIError(w, model.NewForbiddenError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken はAuthorizationヘッダーからBearerトークンを取り出す。
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
