package article

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/hitoshi/feedreader/internal/model"
	"github.com/hitoshi/feedreader/internal/repository"
)

// Writer はパース済みエントリのうち未保存のものを記事として保存する。
type Writer struct {
	repo   repository.ArticleRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewWriter はWriterを生成する。
func NewWriter(repo repository.ArticleRepository, logger *slog.Logger) *Writer {
	return &Writer{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Store は既存URLを1回のクエリで取得し、新しいエントリのみを挿入する。
// 戻り値は実際に挿入された記事数。
func (w *Writer) Store(ctx context.Context, feedID string, entries []model.ParsedEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	urls := lo.Uniq(lo.Map(entries, func(e model.ParsedEntry, _ int) string { return e.URL }))
	existing, err := w.repo.FindExistingURLs(ctx, feedID, urls)
	if err != nil {
		return 0, fmt.Errorf("既存記事URLの取得に失敗しました: %w", err)
	}

	fresh := Reconcile(existing, entries)
	if len(fresh) == 0 {
		w.logger.Debug("新着記事なし",
			slog.String("feed_id", feedID),
			slog.Int("candidates", len(entries)),
		)
		return 0, nil
	}

	now := w.now()
	articles := lo.Map(fresh, func(e model.ParsedEntry, _ int) model.Article {
		return model.Article{
			ID:          uuid.New().String(),
			FeedID:      feedID,
			Title:       e.Title,
			URL:         e.URL,
			Description: e.Description,
			Content:     e.Content,
			PublishedAt: e.PublishedAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
	})

	inserted, err := w.repo.InsertArticles(ctx, feedID, articles)
	if err != nil {
		return 0, fmt.Errorf("記事の挿入に失敗しました: %w", err)
	}

	w.logger.Info("記事を保存しました",
		slog.String("feed_id", feedID),
		slog.Int("candidates", len(entries)),
		slog.Int("new_articles", inserted),
	)
	return inserted, nil
}
