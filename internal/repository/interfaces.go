// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/feedreader/internal/model"
)

// ErrDuplicateFeed は同じ所有者が同じURLのフィードを作成しようとした場合のエラー。
var ErrDuplicateFeed = errors.New("feed already registered for this user")

// SessionRepository はセッションデータの参照インターフェース。
// セッションの発行・削除は外部の認証サービスが行う。
type SessionRepository interface {
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// FeedRepository はフィードデータの永続化インターフェース。
type FeedRepository interface {
	// FindByID は指定IDのフィードを取得する。見つからない場合とIDがUUIDでない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Feed, error)

	// FindByOwner はユーザーが所有する指定IDのフィードを取得する。
	// 存在しない場合も他ユーザーのフィードの場合もnilを返す。
	FindByOwner(ctx context.Context, userID, id string) (*model.Feed, error)

	// ListByOwner はユーザーの全フィードを作成日時の昇順で返す。
	ListByOwner(ctx context.Context, userID string) ([]*model.Feed, error)

	// ListAll は全ユーザーの全フィードを返す。
	ListAll(ctx context.Context) ([]*model.Feed, error)

	// ListStale はupdated_atがolderThanより古いフィードを古い順に最大limit件返す。
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.Feed, error)

	// Create はフィードを作成する。
	// (user_id, url) が重複する場合はErrDuplicateFeedを返す。
	Create(ctx context.Context, feed *model.Feed) error

	// UpdateMetadata はタイトル・説明・サイトURL・最終フェッチ日時を上書きする。
	UpdateMetadata(ctx context.Context, id string, meta model.FeedMetadata) error

	// TouchFetchAttempt はフェッチ試行の日時のみを記録する。メタデータは変更しない。
	TouchFetchAttempt(ctx context.Context, id string, at time.Time) error

	// ClaimRefresh はフィードのリフレッシュ権をuntilまで取得する。
	// 他のプロセスが期限内の権利を保持している場合はfalseを返す。
	ClaimRefresh(ctx context.Context, id string, now, until time.Time) (bool, error)

	// ReleaseRefresh はClaimRefreshで取得したリフレッシュ権を解放する。
	ReleaseRefresh(ctx context.Context, id string) error

	// UpdateFavicon はフィードのfavicon URLを更新する。
	UpdateFavicon(ctx context.Context, id string, faviconURL string) error

	// DeleteByOwner はユーザーが所有するフィードを削除する。記事はCASCADE削除される。
	// 削除対象が存在しない場合はfalseを返す。
	DeleteByOwner(ctx context.Context, userID, id string) (bool, error)
}

// ArticleRepository は記事データの永続化インターフェース。
type ArticleRepository interface {
	// FindExistingURLs はフィードに既に保存されているURLのうちurlsに含まれるものを返す。
	// 候補数に関わらず1回のクエリで取得する。
	FindExistingURLs(ctx context.Context, feedID string, urls []string) (map[string]struct{}, error)

	// InsertArticles は記事を一括で挿入し、実際に挿入された件数を返す。
	// (feed_id, url) が重複する記事は失敗させずにスキップする。
	InsertArticles(ctx context.Context, feedID string, articles []model.Article) (int, error)

	// ListByFeed はフィードの記事をpublished_at降順で最大limit件返す。
	ListByFeed(ctx context.Context, feedID string, limit int) ([]model.Article, error)

	// CountByFeed はフィードの記事数を返す。
	CountByFeed(ctx context.Context, feedID string) (int, error)
}

// RefreshLogRepository はバッチ実行の監査ログの永続化インターフェース。追記のみ。
type RefreshLogRepository interface {
	// Record は監査ログを1件追加する。
	Record(ctx context.Context, log *model.RefreshLog) error
}
