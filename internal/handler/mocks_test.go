package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedreader/internal/feed"
	"github.com/hitoshi/feedreader/internal/middleware"
	"github.com/hitoshi/feedreader/internal/model"
)

// --- モック定義 ---

// mockFeedService はFeedServiceInterfaceのモック実装。
type mockFeedService struct {
	createFeedFn   func(ctx context.Context, userID, rawURL string) (*model.Feed, int, error)
	importFeedsFn  func(ctx context.Context, userID string, urls []string) []feed.ImportResult
	getFeedFn      func(ctx context.Context, userID, feedID string) (*model.Feed, error)
	listFeedsFn    func(ctx context.Context, userID string) ([]*model.Feed, error)
	deleteFeedFn   func(ctx context.Context, userID, feedID string) error
	listArticlesFn func(ctx context.Context, userID, feedID string, limit int) ([]model.Article, error)
}

func (m *mockFeedService) CreateFeed(ctx context.Context, userID, rawURL string) (*model.Feed, int, error) {
	if m.createFeedFn != nil {
		return m.createFeedFn(ctx, userID, rawURL)
	}
	return nil, 0, nil
}

func (m *mockFeedService) ImportFeeds(ctx context.Context, userID string, urls []string) []feed.ImportResult {
	if m.importFeedsFn != nil {
		return m.importFeedsFn(ctx, userID, urls)
	}
	return []feed.ImportResult{}
}

func (m *mockFeedService) GetFeed(ctx context.Context, userID, feedID string) (*model.Feed, error) {
	if m.getFeedFn != nil {
		return m.getFeedFn(ctx, userID, feedID)
	}
	return nil, model.NewFeedNotFoundError(feedID)
}

func (m *mockFeedService) ListFeeds(ctx context.Context, userID string) ([]*model.Feed, error) {
	if m.listFeedsFn != nil {
		return m.listFeedsFn(ctx, userID)
	}
	return []*model.Feed{}, nil
}

func (m *mockFeedService) DeleteFeed(ctx context.Context, userID, feedID string) error {
	if m.deleteFeedFn != nil {
		return m.deleteFeedFn(ctx, userID, feedID)
	}
	return nil
}

func (m *mockFeedService) ListArticles(ctx context.Context, userID, feedID string, limit int) ([]model.Article, error) {
	if m.listArticlesFn != nil {
		return m.listArticlesFn(ctx, userID, feedID, limit)
	}
	return []model.Article{}, nil
}

// mockFeedFinder はFeedFinderのモック実装。
type mockFeedFinder struct {
	findByOwnerFn func(ctx context.Context, userID, id string) (*model.Feed, error)
	calls         int
}

func (m *mockFeedFinder) FindByOwner(ctx context.Context, userID, id string) (*model.Feed, error) {
	m.calls++
	if m.findByOwnerFn != nil {
		return m.findByOwnerFn(ctx, userID, id)
	}
	return nil, nil
}

// mockRefresher はrefresh.FeedRefresherのモック実装。
type mockRefresher struct {
	refreshFn func(ctx context.Context, f *model.Feed) model.RefreshOutcome
	refreshed []string
}

func (m *mockRefresher) Refresh(ctx context.Context, f *model.Feed) model.RefreshOutcome {
	m.refreshed = append(m.refreshed, f.ID)
	if m.refreshFn != nil {
		return m.refreshFn(ctx, f)
	}
	return model.RefreshOutcome{FeedID: f.ID, FeedURL: f.URL, Status: model.RefreshStatusSuccess}
}

// mockBatchRefresher はBatchRefresherのモック実装。
type mockBatchRefresher struct {
	refreshUserFeedsFn func(ctx context.Context, userID string) (model.BatchOutcome, error)
	refreshAllFn       func(ctx context.Context, job string) (model.BatchOutcome, error)
	refreshStaleFn     func(ctx context.Context, job string) (model.BatchOutcome, error)
	jobs               []string
}

func (m *mockBatchRefresher) RefreshUserFeeds(ctx context.Context, userID string) (model.BatchOutcome, error) {
	if m.refreshUserFeedsFn != nil {
		return m.refreshUserFeedsFn(ctx, userID)
	}
	return model.BatchOutcome{}, nil
}

func (m *mockBatchRefresher) RefreshAll(ctx context.Context, job string) (model.BatchOutcome, error) {
	m.jobs = append(m.jobs, job)
	if m.refreshAllFn != nil {
		return m.refreshAllFn(ctx, job)
	}
	return model.BatchOutcome{}, nil
}

func (m *mockBatchRefresher) RefreshStale(ctx context.Context, job string) (model.BatchOutcome, error) {
	m.jobs = append(m.jobs, job)
	if m.refreshStaleFn != nil {
		return m.refreshStaleFn(ctx, job)
	}
	return model.BatchOutcome{}, nil
}

// mockSessionFinder はmiddleware.SessionFinderのモック実装。
type mockSessionFinder struct {
	sessions map[string]*model.Session
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	return m.sessions[id], nil
}

// mockPinger はPingerのモック実装。
type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error {
	return m.err
}

// --- テストヘルパー ---

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// テストで使用するフィードID。パスパラメータのIDはUUIDとして検証される。
const (
	testFeedID    = "6f1c2b3a-4d5e-4f60-8a7b-9c0d1e2f3a4b"
	missingFeedID = "00000000-0000-4000-8000-000000000000"
)

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseAPIErrorResponse はレスポンスボディからエラーコードを取り出すヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var result middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
	return v
}
