// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/hitoshi/feedreader/internal/feed"
	"github.com/hitoshi/feedreader/internal/middleware"
	"github.com/hitoshi/feedreader/internal/model"
)

// FeedServiceInterface はフィードハンドラーが必要とするサービスインターフェース。
// feed.Serviceが実装する。
type FeedServiceInterface interface {
	CreateFeed(ctx context.Context, userID, rawURL string) (*model.Feed, int, error)
	ImportFeeds(ctx context.Context, userID string, urls []string) []feed.ImportResult
	GetFeed(ctx context.Context, userID, feedID string) (*model.Feed, error)
	ListFeeds(ctx context.Context, userID string) ([]*model.Feed, error)
	DeleteFeed(ctx context.Context, userID, feedID string) error
	ListArticles(ctx context.Context, userID, feedID string, limit int) ([]model.Article, error)
}

// FeedHandler はフィード管理のHTTPハンドラー。
type FeedHandler struct {
	service FeedServiceInterface
	logger  *slog.Logger
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(service FeedServiceInterface, logger *slog.Logger) *FeedHandler {
	return &FeedHandler{service: service, logger: logger}
}

// createFeedRequest はフィード登録リクエストのボディ。
type createFeedRequest struct {
	URL string `json:"url"`
}

// importFeedsRequest は一括登録リクエストのボディ。
type importFeedsRequest struct {
	URLs []string `json:"urls"`
}

// feedResponse はフィード情報のAPIレスポンス。
type feedResponse struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	SiteURL       string     `json:"site_url"`
	Favicon       string     `json:"favicon,omitempty"`
	LastFetchedAt *time.Time `json:"last_fetched_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// createFeedResponse は登録直後のフィードと保存済み記事数。
type createFeedResponse struct {
	feedResponse
	ArticleCount int `json:"article_count"`
}

// articleResponse は記事のAPIレスポンス。
type articleResponse struct {
	ID          string    `json:"id"`
	FeedID      string    `json:"feed_id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	PublishedAt time.Time `json:"published_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// importResultResponse はURLごとのインポート結果。
type importResultResponse struct {
	URL    string                        `json:"url"`
	FeedID string                        `json:"feed_id,omitempty"`
	Error  *middleware.ErrorResponseBody `json:"error,omitempty"`
}

// importFeedsResponse は一括登録のAPIレスポンス。
type importFeedsResponse struct {
	Results      []importResultResponse `json:"results"`
	Total        int                    `json:"total"`
	SuccessCount int                    `json:"success_count"`
	ErrorCount   int                    `json:"error_count"`
}

// CreateFeed はフィード登録を処理する。
// POST /api/feeds
func (h *FeedHandler) CreateFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req createFeedRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	f, count, err := h.service.CreateFeed(r.Context(), userID, req.URL)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, createFeedResponse{
		feedResponse: toFeedResponse(f),
		ArticleCount: count,
	})
}

// ImportFeeds は複数URLのフィードを一括登録する。個々の失敗は結果に含め、常に200を返す。
// POST /api/feeds/import
func (h *FeedHandler) ImportFeeds(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req importFeedsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	results := h.service.ImportFeeds(r.Context(), userID, req.URLs)

	resp := importFeedsResponse{
		Results: lo.Map(results, func(res feed.ImportResult, _ int) importResultResponse {
			out := importResultResponse{URL: res.URL, FeedID: res.FeedID}
			if res.Error != nil {
				out.Error = &middleware.ErrorResponseBody{
					Code:     res.Error.Code,
					Message:  res.Error.Message,
					Category: res.Error.Category,
					Action:   res.Error.Action,
				}
			}
			return out
		}),
		Total: len(results),
	}
	resp.ErrorCount = lo.CountBy(results, func(res feed.ImportResult) bool { return res.Error != nil })
	resp.SuccessCount = resp.Total - resp.ErrorCount

	middleware.WriteJSON(w, http.StatusOK, resp)
}

// ListFeeds はユーザーのフィード一覧を返す。
// GET /api/feeds
func (h *FeedHandler) ListFeeds(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	feeds, err := h.service.ListFeeds(r.Context(), userID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, lo.Map(feeds, func(f *model.Feed, _ int) feedResponse {
		return toFeedResponse(f)
	}))
}

// GetFeed はフィード詳細を取得する。
// GET /api/feeds/{id}
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	feedID, ok := feedIDParam(w, r)
	if !ok {
		return
	}

	f, err := h.service.GetFeed(r.Context(), userID, feedID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, toFeedResponse(f))
}

// DeleteFeed はフィードを記事ごと削除する。
// DELETE /api/feeds/{id}
func (h *FeedHandler) DeleteFeed(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	feedID, ok := feedIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteFeed(r.Context(), userID, feedID); err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListArticles はフィードの記事を新しい順に返す。
// GET /api/feeds/{id}/articles?limit=
func (h *FeedHandler) ListArticles(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	feedID, ok := feedIDParam(w, r)
	if !ok {
		return
	}

	limit := feed.DefaultArticleLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.WriteAPIError(w, model.NewInvalidLimitError(raw))
			return
		}
		limit = n
	}

	articles, err := h.service.ListArticles(r.Context(), userID, feedID, limit)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, lo.Map(articles, func(a model.Article, _ int) articleResponse {
		return articleResponse{
			ID:          a.ID,
			FeedID:      a.FeedID,
			Title:       a.Title,
			URL:         a.URL,
			Description: a.Description,
			Content:     a.Content,
			PublishedAt: a.PublishedAt,
			CreatedAt:   a.CreatedAt,
		}
	}))
}

// toFeedResponse はmodel.FeedからAPIレスポンスに変換する。
func toFeedResponse(f *model.Feed) feedResponse {
	return feedResponse{
		ID:            f.ID,
		URL:           f.URL,
		Title:         f.Title,
		Description:   f.Description,
		SiteURL:       f.SiteURL,
		Favicon:       f.Favicon,
		LastFetchedAt: f.LastFetchedAt,
		CreatedAt:     f.CreatedAt,
		UpdatedAt:     f.UpdatedAt,
	}
}
