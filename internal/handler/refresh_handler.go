package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/feedreader/internal/middleware"
	"github.com/hitoshi/feedreader/internal/model"
	"github.com/hitoshi/feedreader/internal/worker/refresh"
)

// FeedFinder は所有者を確認してフィードを取得するインターフェース。
// repository.FeedRepositoryが実装する。
type FeedFinder interface {
	FindByOwner(ctx context.Context, userID, id string) (*model.Feed, error)
}

// BatchRefresher はバッチリフレッシュを実行するインターフェース。refresh.Schedulerが実装する。
type BatchRefresher interface {
	RefreshUserFeeds(ctx context.Context, userID string) (model.BatchOutcome, error)
	RefreshAll(ctx context.Context, job string) (model.BatchOutcome, error)
	RefreshStale(ctx context.Context, job string) (model.BatchOutcome, error)
}

// RefreshHandler はフィードリフレッシュのHTTPハンドラー。
type RefreshHandler struct {
	feeds     FeedFinder
	refresher refresh.FeedRefresher
	batches   BatchRefresher
	logger    *slog.Logger
}

// NewRefreshHandler はRefreshHandlerを生成する。
func NewRefreshHandler(feeds FeedFinder, refresher refresh.FeedRefresher, batches BatchRefresher, logger *slog.Logger) *RefreshHandler {
	return &RefreshHandler{
		feeds:     feeds,
		refresher: refresher,
		batches:   batches,
		logger:    logger,
	}
}

// refreshErrorResponse はリフレッシュ失敗の分類とメッセージ。
type refreshErrorResponse struct {
	Kind    model.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

// refreshFeedResponse は単一フィードのリフレッシュ結果。
type refreshFeedResponse struct {
	Success     bool                  `json:"success"`
	Status      model.RefreshStatus   `json:"status"`
	NewArticles int                   `json:"new_articles"`
	Error       *refreshErrorResponse `json:"error,omitempty"`
	Feed        feedResponse          `json:"feed"`
}

// batchResponse はバッチリフレッシュの集計結果。
type batchResponse struct {
	TotalFeeds   int               `json:"total_feeds"`
	SuccessCount int               `json:"success_count"`
	PartialCount int               `json:"partial_count"`
	ErrorCount   int               `json:"error_count"`
	SkippedCount int               `json:"skipped_count"`
	Errors       []model.FeedError `json:"errors"`
}

// RefreshFeed はユーザーが所有する1フィードをリフレッシュする。
// 取得やパースの失敗もリフレッシュ結果として200で返す。
// POST /api/feeds/{id}/refresh
func (h *RefreshHandler) RefreshFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	feedID, ok := feedIDParam(w, r)
	if !ok {
		return
	}

	f, err := h.feeds.FindByOwner(r.Context(), userID, feedID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if f == nil {
		middleware.WriteAPIError(w, model.NewFeedNotFoundError(feedID))
		return
	}

	outcome := h.refresher.Refresh(r.Context(), f)

	// 更新後のメタデータを返すため読み直す。失敗時はリフレッシュ前の値を返す
	if updated, err := h.feeds.FindByOwner(r.Context(), userID, feedID); err == nil && updated != nil {
		f = updated
	}

	resp := refreshFeedResponse{
		Success:     outcome.Error == nil,
		Status:      outcome.Status,
		NewArticles: outcome.NewArticleCount,
		Feed:        toFeedResponse(f),
	}
	if outcome.Error != nil {
		resp.Error = &refreshErrorResponse{Kind: outcome.Error.Kind, Message: outcome.Error.Message}
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// RefreshAllUserFeeds はユーザーの全フィードをリフレッシュする。
// POST /api/feeds/refresh-all
func (h *RefreshHandler) RefreshAllUserFeeds(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	batch, err := h.batches.RefreshUserFeeds(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toBatchResponse(batch))
}

// AdminRefreshAll は全ユーザーの全フィードをリフレッシュする。
// POST /api/admin/refresh-all-feeds
func (h *RefreshHandler) AdminRefreshAll(w http.ResponseWriter, r *http.Request) {
	batch, err := h.batches.RefreshAll(r.Context(), refresh.JobAdminRefreshAll)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toBatchResponse(batch))
}

// CronRefresh は更新の古いフィードから1ページ分をリフレッシュする。
// GET|POST /api/cron/refresh-feeds
func (h *RefreshHandler) CronRefresh(w http.ResponseWriter, r *http.Request) {
	batch, err := h.batches.RefreshStale(r.Context(), refresh.JobCronRefreshStale)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toBatchResponse(batch))
}

func toBatchResponse(b model.BatchOutcome) batchResponse {
	errs := b.Errors
	if errs == nil {
		errs = []model.FeedError{}
	}
	return batchResponse{
		TotalFeeds:   b.TotalFeeds,
		SuccessCount: b.SuccessCount,
		PartialCount: b.PartialCount,
		ErrorCount:   b.ErrorCount,
		SkippedCount: b.SkippedCount,
		Errors:       errs,
	}
}
