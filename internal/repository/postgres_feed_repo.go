package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/feedreader/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = "23505"

// feedColumns はfeedsテーブルのSELECT対象カラム。scanFeedの順序と一致させること。
const feedColumns = `id, user_id, url, title, description, site_url, favicon,
		        last_fetched_at, created_at, updated_at`

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanFeed は1行分のフィードを読み取る。
func scanFeed(s rowScanner) (*model.Feed, error) {
	feed := &model.Feed{}
	var description, siteURL, favicon sql.NullString
	var lastFetchedAt sql.NullTime

	if err := s.Scan(
		&feed.ID, &feed.UserID, &feed.URL, &feed.Title,
		&description, &siteURL, &favicon,
		&lastFetchedAt, &feed.CreatedAt, &feed.UpdatedAt,
	); err != nil {
		return nil, err
	}

	feed.Description = nullStringValue(description)
	feed.SiteURL = nullStringValue(siteURL)
	feed.Favicon = nullStringValue(favicon)
	if lastFetchedAt.Valid {
		t := lastFetchedAt.Time
		feed.LastFetchedAt = &t
	}
	return feed, nil
}

// queryFeeds は複数行のフィードを取得する。
func (r *PostgresFeedRepo) queryFeeds(ctx context.Context, query string, args ...any) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var feeds []*model.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return feeds, nil
}

// isFeedID はidがfeeds.idに格納できるUUIDかを判定する。
// UUIDでないIDはクエリせずに存在しないものとして扱う。
func isFeedID(id string) bool {
	return uuid.Validate(id) == nil
}

// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) {
	if !isFeedID(id) {
		return nil, nil
	}
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// FindByOwner はユーザーが所有する指定IDのフィードを取得する。
func (r *PostgresFeedRepo) FindByOwner(ctx context.Context, userID, id string) (*model.Feed, error) {
	if !isFeedID(id) || !isFeedID(userID) {
		return nil, nil
	}
	feed, err := scanFeed(r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = $1 AND user_id = $2`,
		id, userID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("所有フィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// ListByOwner はユーザーの全フィードを返す。
func (r *PostgresFeedRepo) ListByOwner(ctx context.Context, userID string) ([]*model.Feed, error) {
	feeds, err := r.queryFeeds(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE user_id = $1 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("ユーザーのフィード一覧の取得に失敗しました: %w", err)
	}
	return feeds, nil
}

// ListAll は全フィードを返す。
func (r *PostgresFeedRepo) ListAll(ctx context.Context) ([]*model.Feed, error) {
	feeds, err := r.queryFeeds(ctx,
		`SELECT `+feedColumns+` FROM feeds ORDER BY updated_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("全フィードの取得に失敗しました: %w", err)
	}
	return feeds, nil
}

// ListStale はupdated_atがolderThanより古いフィードを古い順に返す。
func (r *PostgresFeedRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.Feed, error) {
	feeds, err := r.queryFeeds(ctx,
		`SELECT `+feedColumns+`
		 FROM feeds
		 WHERE updated_at < $1
		 ORDER BY updated_at ASC
		 LIMIT $2`,
		olderThan, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("リフレッシュ対象フィードの取得に失敗しました: %w", err)
	}
	return feeds, nil
}

// Create はフィードを作成する。
func (r *PostgresFeedRepo) Create(ctx context.Context, feed *model.Feed) error {
	var lastFetchedAt sql.NullTime
	if feed.LastFetchedAt != nil {
		lastFetchedAt = sql.NullTime{Time: *feed.LastFetchedAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feeds (id, user_id, url, title, description, site_url, favicon,
		                    last_fetched_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		feed.ID, feed.UserID, feed.URL, feed.Title,
		nullString(feed.Description), nullString(feed.SiteURL), nullString(feed.Favicon),
		lastFetchedAt, feed.CreatedAt, feed.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateFeed
	}
	if err != nil {
		return fmt.Errorf("フィードの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateMetadata はパース結果からフィードのメタデータを上書きする。
func (r *PostgresFeedRepo) UpdateMetadata(ctx context.Context, id string, meta model.FeedMetadata) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    title = $2,
		    description = $3,
		    site_url = $4,
		    last_fetched_at = $5,
		    updated_at = $5
		 WHERE id = $1`,
		id, meta.Title, nullString(meta.Description), nullString(meta.SiteURL), meta.LastFetchedAt,
	)
	if err != nil {
		return fmt.Errorf("フィードメタデータの更新に失敗しました: %w", err)
	}
	return nil
}

// TouchFetchAttempt はフェッチ試行日時のみを記録する。
// 失敗したフィードが直後に再び古い順の先頭に来ないよう、updated_atも進める。
func (r *PostgresFeedRepo) TouchFetchAttempt(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET last_fetched_at = $2, updated_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("フェッチ試行日時の更新に失敗しました: %w", err)
	}
	return nil
}

// ClaimRefresh はリース期限が切れている場合のみrefresh_locked_untilをuntilに進める。
// 条件付きUPDATEの更新件数で取得の成否を判定するため、複数プロセスから同時に呼んでも1つだけが成功する。
func (r *PostgresFeedRepo) ClaimRefresh(ctx context.Context, id string, now, until time.Time) (bool, error) {
	if !isFeedID(id) {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET refresh_locked_until = $3
		 WHERE id = $1 AND (refresh_locked_until IS NULL OR refresh_locked_until <= $2)`,
		id, now, until,
	)
	if err != nil {
		return false, fmt.Errorf("リフレッシュ権の取得に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n == 1, nil
}

// ReleaseRefresh はリフレッシュ権を解放する。
func (r *PostgresFeedRepo) ReleaseRefresh(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET refresh_locked_until = NULL WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("リフレッシュ権の解放に失敗しました: %w", err)
	}
	return nil
}

// UpdateFavicon はフィードのfavicon URLを更新する。
func (r *PostgresFeedRepo) UpdateFavicon(ctx context.Context, id string, faviconURL string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET favicon = $2 WHERE id = $1`,
		id, nullString(faviconURL),
	)
	if err != nil {
		return fmt.Errorf("faviconの更新に失敗しました: %w", err)
	}
	return nil
}

// DeleteByOwner はユーザーが所有するフィードを削除する。
func (r *PostgresFeedRepo) DeleteByOwner(ctx context.Context, userID, id string) (bool, error) {
	if !isFeedID(id) || !isFeedID(userID) {
		return false, nil
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM feeds WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return false, fmt.Errorf("フィードの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n > 0, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// isUniqueViolation はエラーが一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// compile-time interface check
var _ FeedRepository = (*PostgresFeedRepo)(nil)
