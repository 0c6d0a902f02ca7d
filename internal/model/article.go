// Package model はドメインモデルを定義する。
package model

import "time"

// Article はフィードに属する記事を表す。
// フィード内でURLは一意で、作成後はリフレッシュ処理から更新・削除されない。
type Article struct {
	ID          string    `db:"id"`
	FeedID      string    `db:"feed_id"`
	Title       string    `db:"title"`
	URL         string    `db:"url"`
	Description string    `db:"description"` // サニタイズ済み
	Content     string    `db:"content"`     // サニタイズ済みHTML
	PublishedAt time.Time `db:"published_at"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}
