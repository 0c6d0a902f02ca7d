package article

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/feedreader/internal/model"
)

// mockArticleRepo はArticleRepositoryのテスト用モック。
type mockArticleRepo struct {
	stored      map[string]struct{}
	findCalls   int
	insertCalls int
	inserted    []model.Article
	findErr     error
	insertErr   error
}

func newMockArticleRepo(urls ...string) *mockArticleRepo {
	return &mockArticleRepo{stored: set(urls...)}
}

func (m *mockArticleRepo) FindExistingURLs(_ context.Context, _ string, urls []string) (map[string]struct{}, error) {
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	out := make(map[string]struct{})
	for _, u := range urls {
		if _, ok := m.stored[u]; ok {
			out[u] = struct{}{}
		}
	}
	return out, nil
}

func (m *mockArticleRepo) InsertArticles(_ context.Context, _ string, articles []model.Article) (int, error) {
	m.insertCalls++
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	n := 0
	for _, a := range articles {
		if _, ok := m.stored[a.URL]; ok {
			continue
		}
		m.stored[a.URL] = struct{}{}
		m.inserted = append(m.inserted, a)
		n++
	}
	return n, nil
}

func (m *mockArticleRepo) ListByFeed(_ context.Context, _ string, _ int) ([]model.Article, error) {
	return m.inserted, nil
}

func (m *mockArticleRepo) CountByFeed(_ context.Context, _ string) (int, error) {
	return len(m.stored), nil
}

func newTestWriter(repo *mockArticleRepo) *Writer {
	var buf bytes.Buffer
	w := NewWriter(repo, slog.New(slog.NewJSONHandler(&buf, nil)))
	w.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return w
}

func TestWriter_Store_InsertsOnlyNew(t *testing.T) {
	repo := newMockArticleRepo("A", "B")
	w := newTestWriter(repo)

	n, err := w.Store(context.Background(), "feed-1", entries("A", "C", "D"))
	if err != nil {
		t.Fatalf("Store() がエラーを返した: %v", err)
	}
	if n != 2 {
		t.Errorf("挿入数 = %d, want 2", n)
	}
	if repo.findCalls != 1 {
		t.Errorf("既存URLの取得は1回であるべき: %d", repo.findCalls)
	}
	if got := len(repo.inserted); got != 2 || repo.inserted[0].URL != "C" || repo.inserted[1].URL != "D" {
		t.Fatalf("挿入された記事 = %+v", repo.inserted)
	}
	a := repo.inserted[0]
	if a.ID == "" || a.FeedID != "feed-1" {
		t.Errorf("IDとFeedIDが設定されるべき: %+v", a)
	}
	if !a.CreatedAt.Equal(w.now()) || !a.UpdatedAt.Equal(w.now()) {
		t.Errorf("タイムスタンプ = %v / %v", a.CreatedAt, a.UpdatedAt)
	}
}

func TestWriter_Store_Idempotent(t *testing.T) {
	repo := newMockArticleRepo()
	w := newTestWriter(repo)
	batch := entries("A", "B", "C")

	if n, _ := w.Store(context.Background(), "feed-1", batch); n != 3 {
		t.Fatalf("1回目の挿入数 = %d, want 3", n)
	}
	n, err := w.Store(context.Background(), "feed-1", batch)
	if err != nil {
		t.Fatalf("Store() がエラーを返した: %v", err)
	}
	if n != 0 {
		t.Errorf("2回目の挿入数 = %d, want 0", n)
	}
	if repo.insertCalls != 1 {
		t.Errorf("新着がない場合は挿入しないべき: insertCalls=%d", repo.insertCalls)
	}
}

func TestWriter_Store_Empty(t *testing.T) {
	repo := newMockArticleRepo()
	n, err := newTestWriter(repo).Store(context.Background(), "feed-1", nil)
	if err != nil || n != 0 {
		t.Errorf("Store(nil) = %d, %v", n, err)
	}
	if repo.findCalls != 0 {
		t.Error("空入力でリポジトリを呼び出すべきでない")
	}
}

func TestWriter_Store_Errors(t *testing.T) {
	dbErr := errors.New("connection refused")

	repo := newMockArticleRepo()
	repo.findErr = dbErr
	if _, err := newTestWriter(repo).Store(context.Background(), "f", entries("A")); !errors.Is(err, dbErr) {
		t.Errorf("取得エラーがラップされるべき: %v", err)
	}

	repo = newMockArticleRepo()
	repo.insertErr = dbErr
	if _, err := newTestWriter(repo).Store(context.Background(), "f", entries("A")); !errors.Is(err, dbErr) {
		t.Errorf("挿入エラーがラップされるべき: %v", err)
	}
}
