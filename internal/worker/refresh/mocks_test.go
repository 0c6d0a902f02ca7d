package refresh

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/feedreader/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// openGuard はループバックのhttptestサーバーへの接続を許可するSSRFValidator。
type openGuard struct{}

func (openGuard) ValidateURL(string) error { return nil }

func (openGuard) NewSafeClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// mockFeedRepo はFeedRepositoryのテスト用モック。
type mockFeedRepo struct {
	mu          sync.Mutex
	feeds       []*model.Feed
	metadata    map[string]model.FeedMetadata
	touched     map[string]int
	locks       map[string]time.Time
	claims      map[string]int
	claimErr    error
	metaErr     error
	listErr     error
	staleBefore time.Time
	staleLimit  int
}

func newMockFeedRepo(feeds ...*model.Feed) *mockFeedRepo {
	return &mockFeedRepo{
		feeds:    feeds,
		metadata: make(map[string]model.FeedMetadata),
		touched:  make(map[string]int),
		locks:    make(map[string]time.Time),
		claims:   make(map[string]int),
	}
}

func (m *mockFeedRepo) FindByID(_ context.Context, id string) (*model.Feed, error) {
	for _, f := range m.feeds {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, nil
}

func (m *mockFeedRepo) FindByOwner(ctx context.Context, userID, id string) (*model.Feed, error) {
	f, _ := m.FindByID(ctx, id)
	if f == nil || f.UserID != userID {
		return nil, nil
	}
	return f, nil
}

func (m *mockFeedRepo) ListByOwner(_ context.Context, userID string) ([]*model.Feed, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.Feed
	for _, f := range m.feeds {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *mockFeedRepo) ListAll(_ context.Context) ([]*model.Feed, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.feeds, nil
}

func (m *mockFeedRepo) ListStale(_ context.Context, olderThan time.Time, limit int) ([]*model.Feed, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.staleBefore, m.staleLimit = olderThan, limit
	var out []*model.Feed
	for _, f := range m.feeds {
		if f.UpdatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *mockFeedRepo) Create(_ context.Context, _ *model.Feed) error { return nil }

func (m *mockFeedRepo) UpdateMetadata(_ context.Context, id string, meta model.FeedMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.metaErr != nil {
		return m.metaErr
	}
	m.metadata[id] = meta
	return nil
}

func (m *mockFeedRepo) TouchFetchAttempt(_ context.Context, id string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[id]++
	return nil
}

func (m *mockFeedRepo) ClaimRefresh(_ context.Context, id string, now, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	if held, ok := m.locks[id]; ok && held.After(now) {
		return false, nil
	}
	m.locks[id] = until
	m.claims[id]++
	return true, nil
}

func (m *mockFeedRepo) ReleaseRefresh(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, id)
	return nil
}

// holdLock は別プロセスがリフレッシュ権を保持している状態を作る。
func (m *mockFeedRepo) holdLock(id string, until time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[id] = until
}

func (m *mockFeedRepo) touchCount(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touched[id]
}

func (m *mockFeedRepo) UpdateFavicon(_ context.Context, _ string, _ string) error { return nil }

func (m *mockFeedRepo) DeleteByOwner(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

// memArticleRepo はArticleRepositoryのインメモリ実装。
type memArticleRepo struct {
	mu        sync.Mutex
	urls      map[string]map[string]struct{}
	insertErr error
}

func newMemArticleRepo() *memArticleRepo {
	return &memArticleRepo{urls: make(map[string]map[string]struct{})}
}

func (m *memArticleRepo) FindExistingURLs(_ context.Context, feedID string, urls []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	for _, u := range urls {
		if _, ok := m.urls[feedID][u]; ok {
			out[u] = struct{}{}
		}
	}
	return out, nil
}

func (m *memArticleRepo) InsertArticles(_ context.Context, feedID string, articles []model.Article) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	if m.urls[feedID] == nil {
		m.urls[feedID] = make(map[string]struct{})
	}
	n := 0
	for _, a := range articles {
		if _, ok := m.urls[feedID][a.URL]; ok {
			continue
		}
		m.urls[feedID][a.URL] = struct{}{}
		n++
	}
	return n, nil
}

func (m *memArticleRepo) ListByFeed(_ context.Context, _ string, _ int) ([]model.Article, error) {
	return nil, nil
}

func (m *memArticleRepo) CountByFeed(_ context.Context, feedID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.urls[feedID]), nil
}

// mockLogRepo はRefreshLogRepositoryのテスト用モック。
type mockLogRepo struct {
	mu   sync.Mutex
	logs []*model.RefreshLog
}

func (m *mockLogRepo) Record(_ context.Context, log *model.RefreshLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, log)
	return nil
}
