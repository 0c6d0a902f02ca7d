package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/feedreader/internal/middleware"
	"github.com/hitoshi/feedreader/internal/worker/refresh"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder middleware.SessionFinder
	// RateLimiter は外部への取得を伴うルートに適用する。nilの場合は制限しない。
	RateLimiter *middleware.UserRateLimiter

	// フィード
	FeedService FeedServiceInterface
	Feeds       FeedFinder

	// リフレッシュ
	Refresher refresh.FeedRefresher
	Batches   BatchRefresher

	// ジョブ用エンドポイントの共有シークレット。空の場合はエンドポイントを無効化する
	AdminToken string
	CronSecret string

	DB      Pinger
	Metrics http.Handler
	Logger  *slog.Logger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → (Session → RateLimit | BearerSecret)
//
// /health と /metrics は認証不要。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	feedHandler := NewFeedHandler(deps.FeedService, deps.Logger)
	refreshHandler := NewRefreshHandler(deps.Feeds, deps.Refresher, deps.Batches, deps.Logger)

	r.Get("/health", NewHealthHandler(deps.DB, deps.Logger))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	limited := func(next http.Handler) http.Handler { return next }
	if deps.RateLimiter != nil {
		limited = deps.RateLimiter.Middleware()
	}

	// --- セッション認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, deps.Logger))

		r.Route("/api/feeds", func(r chi.Router) {
			r.Get("/", feedHandler.ListFeeds)
			r.With(limited).Post("/", feedHandler.CreateFeed)
			r.With(limited).Post("/import", feedHandler.ImportFeeds)
			r.With(limited).Post("/refresh-all", refreshHandler.RefreshAllUserFeeds)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", feedHandler.GetFeed)
				r.Delete("/", feedHandler.DeleteFeed)
				r.Get("/articles", feedHandler.ListArticles)
				r.With(limited).Post("/refresh", refreshHandler.RefreshFeed)
			})
		})
	})

	// --- 共有シークレットで認証するジョブ用ルート ---
	r.With(middleware.NewBearerSecretMiddleware(deps.AdminToken, "admin", deps.Logger)).
		Post("/api/admin/refresh-all-feeds", refreshHandler.AdminRefreshAll)

	r.Route("/api/cron/refresh-feeds", func(r chi.Router) {
		r.Use(middleware.NewBearerSecretMiddleware(deps.CronSecret, "cron", deps.Logger))
		r.Get("/", refreshHandler.CronRefresh)
		r.Post("/", refreshHandler.CronRefresh)
	})

	return r
}
