package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
)

// PostgresFeedRepoはFeedRepositoryインターフェースを満たすことを検証
func TestPostgresFeedRepo_ImplementsInterface(t *testing.T) {
	var _ FeedRepository = (*PostgresFeedRepo)(nil)
}

// NewPostgresFeedRepoが正しく初期化されることを検証
func TestNewPostgresFeedRepo_Initializes(t *testing.T) {
	repo := NewPostgresFeedRepo(nil)
	if repo == nil {
		t.Fatal("expected non-nil repo")
	}
}

// fakeRow はscanFeedに渡す行を模擬する。
type fakeRow struct {
	values []any
	err    error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("column count mismatch: got %d, want %d", len(dest), len(r.values))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *sql.NullString:
			*p = r.values[i].(sql.NullString)
		case *sql.NullTime:
			*p = r.values[i].(sql.NullTime)
		case *time.Time:
			*p = r.values[i].(time.Time)
		default:
			return fmt.Errorf("unsupported dest type %T", d)
		}
	}
	return nil
}

// NULLカラムが空文字列とnilに変換されることを検証
func TestScanFeed_NullColumns(t *testing.T) {
	now := time.Now()
	row := &fakeRow{values: []any{
		"feed-1", "user-1", "https://example.com/feed.xml", "テストフィード",
		sql.NullString{}, sql.NullString{}, sql.NullString{},
		sql.NullTime{}, now, now,
	}}

	feed, err := scanFeed(row)
	if err != nil {
		t.Fatalf("scanFeed() がエラーを返した: %v", err)
	}
	if feed.Description != "" || feed.SiteURL != "" || feed.Favicon != "" {
		t.Errorf("NULLカラムは空文字列になるべき: %+v", feed)
	}
	if feed.LastFetchedAt != nil {
		t.Error("last_fetched_atがNULLの場合はnilであるべき")
	}
}

// 値を持つカラムがそのまま反映されることを検証
func TestScanFeed_PopulatedColumns(t *testing.T) {
	now := time.Now()
	fetched := now.Add(-time.Hour)
	row := &fakeRow{values: []any{
		"feed-1", "user-1", "https://example.com/feed.xml", "テストフィード",
		sql.NullString{String: "説明", Valid: true},
		sql.NullString{String: "https://example.com", Valid: true},
		sql.NullString{String: "https://example.com/favicon.ico", Valid: true},
		sql.NullTime{Time: fetched, Valid: true}, now, now,
	}}

	feed, err := scanFeed(row)
	if err != nil {
		t.Fatalf("scanFeed() がエラーを返した: %v", err)
	}
	if feed.SiteURL != "https://example.com" {
		t.Errorf("SiteURL = %q, want %q", feed.SiteURL, "https://example.com")
	}
	if feed.Favicon != "https://example.com/favicon.ico" {
		t.Errorf("Favicon = %q", feed.Favicon)
	}
	if feed.LastFetchedAt == nil || !feed.LastFetchedAt.Equal(fetched) {
		t.Errorf("LastFetchedAt = %v, want %v", feed.LastFetchedAt, fetched)
	}
}

// スキャンエラーがそのまま返されることを検証
func TestScanFeed_PropagatesError(t *testing.T) {
	_, err := scanFeed(&fakeRow{err: sql.ErrNoRows})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

// UUIDでないIDはクエリせずに未検出として扱うことを検証（DBはnilのため、クエリすればpanicする）
func TestPostgresFeedRepo_MalformedIDs(t *testing.T) {
	repo := NewPostgresFeedRepo(nil)
	ctx := context.Background()
	validID := "3f2b6c1e-8a4d-4f7e-9c2a-1b5d7e9f0a3c"

	for _, id := range []string{"not-a-uuid", "", "1; DROP TABLE feeds", "3f2b6c1e-8a4d"} {
		t.Run(id, func(t *testing.T) {
			if f, err := repo.FindByID(ctx, id); f != nil || err != nil {
				t.Errorf("FindByID() = (%v, %v), want (nil, nil)", f, err)
			}
			if f, err := repo.FindByOwner(ctx, validID, id); f != nil || err != nil {
				t.Errorf("FindByOwner() = (%v, %v), want (nil, nil)", f, err)
			}
			if deleted, err := repo.DeleteByOwner(ctx, validID, id); deleted || err != nil {
				t.Errorf("DeleteByOwner() = (%v, %v), want (false, nil)", deleted, err)
			}
			now := time.Now()
			if ok, err := repo.ClaimRefresh(ctx, id, now, now.Add(time.Minute)); ok || err != nil {
				t.Errorf("ClaimRefresh() = (%v, %v), want (false, nil)", ok, err)
			}
		})
	}

	// 所有者IDが不正な場合も同様
	if f, err := repo.FindByOwner(ctx, "user-1", validID); f != nil || err != nil {
		t.Errorf("FindByOwner(不正な所有者) = (%v, %v), want (nil, nil)", f, err)
	}
}

func TestNullString(t *testing.T) {
	if ns := nullString(""); ns.Valid {
		t.Error("空文字列はNULLになるべき")
	}
	if ns := nullString("abc"); !ns.Valid || ns.String != "abc" {
		t.Errorf("nullString(abc) = %+v", ns)
	}
	if s := nullStringValue(sql.NullString{}); s != "" {
		t.Errorf("nullStringValue(NULL) = %q, want empty", s)
	}
}

// 一意制約違反のみがErrDuplicateFeedの対象になることを検証
func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unique violation", &pq.Error{Code: "23505"}, true},
		{"wrapped unique violation", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"foreign key violation", &pq.Error{Code: "23503"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err); got != tt.want {
				t.Errorf("isUniqueViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
