package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/hitoshi/feedreader/internal/model"
)

// insertArticleQuery は記事1件を挿入する。(feed_id, url) の重複は黙ってスキップする。
const insertArticleQuery = `INSERT INTO articles
	(id, feed_id, title, url, description, content, published_at, created_at, updated_at)
	VALUES (:id, :feed_id, :title, :url, :description, :content, :published_at, :created_at, :updated_at)
	ON CONFLICT (feed_id, url) DO NOTHING`

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sqlx.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
// 既存の*sql.DBをsqlxでラップし、接続プールを共有する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: sqlx.NewDb(db, "postgres")}
}

// FindExistingURLs はurlsのうち既にフィードに保存されているものを返す。
func (r *PostgresArticleRepo) FindExistingURLs(ctx context.Context, feedID string, urls []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(urls) == 0 {
		return existing, nil
	}

	var found []string
	err := r.db.SelectContext(ctx, &found,
		`SELECT url FROM articles WHERE feed_id = $1 AND url = ANY($2)`,
		feedID, pq.Array(urls),
	)
	if err != nil {
		return nil, fmt.Errorf("既存記事URLの取得に失敗しました: %w", err)
	}

	for _, u := range found {
		existing[u] = struct{}{}
	}
	return existing, nil
}

// InsertArticles は記事を1トランザクションで挿入し、挿入された件数を返す。
func (r *PostgresArticleRepo) InsertArticles(ctx context.Context, feedID string, articles []model.Article) (int, error) {
	if len(articles) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareNamedContext(ctx, insertArticleQuery)
	if err != nil {
		return 0, fmt.Errorf("記事挿入文の準備に失敗しました: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range articles {
		a := articles[i]
		a.FeedID = feedID
		result, err := stmt.ExecContext(ctx, a)
		if err != nil {
			return 0, fmt.Errorf("記事の挿入に失敗しました (url=%s): %w", a.URL, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("挿入件数の取得に失敗しました: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return inserted, nil
}

// ListByFeed はフィードの記事を新しい順に返す。
func (r *PostgresArticleRepo) ListByFeed(ctx context.Context, feedID string, limit int) ([]model.Article, error) {
	var articles []model.Article
	err := r.db.SelectContext(ctx, &articles,
		`SELECT id, feed_id, title, url, description, content, published_at, created_at, updated_at
		 FROM articles
		 WHERE feed_id = $1
		 ORDER BY published_at DESC, created_at DESC
		 LIMIT $2`,
		feedID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	return articles, nil
}

// CountByFeed はフィードの記事数を返す。
func (r *PostgresArticleRepo) CountByFeed(ctx context.Context, feedID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM articles WHERE feed_id = $1`,
		feedID,
	); err != nil {
		return 0, fmt.Errorf("記事数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// compile-time interface check
var _ ArticleRepository = (*PostgresArticleRepo)(nil)
