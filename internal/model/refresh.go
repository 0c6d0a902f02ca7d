// Package model はドメインモデルを定義する。
package model

import "time"

// ErrorKind はフィード取り込みパイプラインのエラー分類。
// 閉じた集合として扱い、ここに定義されたもの以外は使用しない。
type ErrorKind string

const (
	// ErrorKindInvalidURL はhttp/https以外のスキームまたは解析不能なURL。リトライしない。
	ErrorKindInvalidURL ErrorKind = "invalid_url"
	// ErrorKindTimeout はフェッチが期限を超過したことを示す。
	ErrorKindTimeout ErrorKind = "timeout"
	// ErrorKindUnreachable はDNS解決・接続レベルの失敗。
	ErrorKindUnreachable ErrorKind = "unreachable"
	// ErrorKindHTTP は2xx以外のHTTPレスポンス。
	ErrorKindHTTP ErrorKind = "http_error"
	// ErrorKindInvalidFormat はRSS/Atomとして解析できない文書。
	ErrorKindInvalidFormat ErrorKind = "invalid_format"
	// ErrorKindStorage はパース成功後の永続化失敗。
	ErrorKindStorage ErrorKind = "storage_error"
)

// RefreshStatus は1フィードのリフレッシュ結果の状態。
type RefreshStatus string

const (
	// RefreshStatusSuccess はフェッチから保存まで全て成功した状態。
	RefreshStatusSuccess RefreshStatus = "success"
	// RefreshStatusPartial はメタデータ更新後に記事保存の一部または全部が失敗した状態。
	RefreshStatusPartial RefreshStatus = "partial"
	// RefreshStatusFailed はフェッチまたはパースで失敗した状態。
	RefreshStatusFailed RefreshStatus = "failed"
	// RefreshStatusSkipped は別プロセスが同じフィードをリフレッシュ中のため実行しなかった状態。
	RefreshStatusSkipped RefreshStatus = "skipped"
)

// RefreshError はリフレッシュ結果に記録されるエラー情報。
type RefreshError struct {
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
}

// RefreshOutcome は1フィードのリフレッシュ結果を表す。
type RefreshOutcome struct {
	FeedID          string
	FeedURL         string
	Status          RefreshStatus
	NewArticleCount int
	Error           *RefreshError
	Duration        time.Duration
}

// FeedError はバッチ集計に含めるフィード単位のエラー。
type FeedError struct {
	FeedID  string    `json:"feed_id"`
	FeedURL string    `json:"feed_url"`
	Status  string    `json:"status"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// BatchOutcome は複数フィードのリフレッシュ結果の集計。
// 件数は全フィード分を正確に保持し、Errorsは先頭の一定件数のみ保持する。
type BatchOutcome struct {
	TotalFeeds      int
	SuccessCount    int
	PartialCount    int
	ErrorCount      int
	SkippedCount    int
	NewArticleCount int
	Errors          []FeedError
	Duration        time.Duration
}

// Status はバッチ全体の状態を返す。
// 失敗がなければsuccess、スキップ以外が全件失敗ならfailed、それ以外はpartial。
func (b BatchOutcome) Status() RefreshStatus {
	switch {
	case b.PartialCount == 0 && b.ErrorCount == 0:
		return RefreshStatusSuccess
	case b.SuccessCount == 0 && b.PartialCount == 0 && b.SkippedCount == 0:
		return RefreshStatusFailed
	default:
		return RefreshStatusPartial
	}
}

// RefreshLog は定期実行・管理者実行のバッチ結果の監査ログ。追記のみ。
type RefreshLog struct {
	ID           string
	JobName      string
	Status       RefreshStatus
	TotalFeeds   int
	SuccessCount int
	ErrorCount   int
	Errors       []FeedError
	ExecutedAt   time.Time
}
