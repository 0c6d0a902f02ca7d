// Package model はドメインモデルを定義する。
package model

import "time"

// Feed はユーザーが登録したRSS/Atomフィードを表す。
// 所有者は常に1ユーザーで、(UserID, URL) は一意。
type Feed struct {
	ID            string
	UserID        string
	URL           string
	Title         string
	Description   string
	SiteURL       string
	Favicon       string
	LastFetchedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// FeedMetadata はリフレッシュ成功時にパース結果から上書きされるフィード属性。
type FeedMetadata struct {
	Title         string
	Description   string
	SiteURL       string
	LastFetchedAt time.Time
}

// ParsedFeed はフィード文書をパースした正規化済みの結果を表す。
// フェッチごとに生成され、突き合わせ後に破棄される。
type ParsedFeed struct {
	Title       string
	Description string
	SiteURL     string
	Entries     []ParsedEntry
}

// ParsedEntry はパース済みで未保存の記事データを表す。
// URLが重複判定のキーになる。
type ParsedEntry struct {
	Title       string
	URL         string
	Description string
	Content     string // サニタイズ済みのHTML
	PublishedAt time.Time
}
