package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/feedreader/internal/model"
	"github.com/hitoshi/feedreader/internal/repository"
)

// 記事一覧の取得件数。
const (
	DefaultArticleLimit = 50
	MaxArticleLimit     = 100
)

// defaultImportConcurrency はインポート時の同時登録数の既定値。
const defaultImportConcurrency = 5

// DocumentFetcher はリモート文書を取得するインターフェース。Fetcherが実装する。
type DocumentFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*RawDocument, error)
}

// ReachabilityChecker はボディを取得せずにURLへ到達できるか確認する。
// Fetcherが実装する。DocumentFetcherが実装していればインポート時の事前確認に使う。
type ReachabilityChecker interface {
	ValidateURL(ctx context.Context, rawURL string) bool
}

// DocumentParser は文書をパースするインターフェース。Parserが実装する。
type DocumentParser interface {
	Parse(doc *RawDocument) (*model.ParsedFeed, error)
}

// EntryStore はパース済みエントリのうち未保存のものを保存する。article.Writerが実装する。
type EntryStore interface {
	Store(ctx context.Context, feedID string, entries []model.ParsedEntry) (int, error)
}

// IconResolver はサイトのfavicon URLを推測する。FaviconResolverが実装する。
type IconResolver interface {
	Resolve(ctx context.Context, siteURL string) string
}

// ImportResult はインポートしたURLごとの結果。
type ImportResult struct {
	URL    string          `json:"url"`
	FeedID string          `json:"feed_id,omitempty"`
	Error  *model.APIError `json:"-"`
}

// Service はフィードの登録・参照・削除を提供する。
// 登録時のフェッチ → 自動検出 → パース → 保存 → favicon取得のフローを統括する。
type Service struct {
	feeds       repository.FeedRepository
	articles    repository.ArticleRepository
	entries     EntryStore
	fetcher     DocumentFetcher
	parser      DocumentParser
	detector    *Detector
	icons       IconResolver
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	feeds repository.FeedRepository,
	articles repository.ArticleRepository,
	entries EntryStore,
	fetcher DocumentFetcher,
	parser DocumentParser,
	icons IconResolver,
	logger *slog.Logger,
) *Service {
	return &Service{
		feeds:       feeds,
		articles:    articles,
		entries:     entries,
		fetcher:     fetcher,
		parser:      parser,
		detector:    NewDetector(),
		icons:       icons,
		logger:      logger,
		concurrency: defaultImportConcurrency,
		now:         time.Now,
	}
}

// CreateFeed はURLのフィードを取得・パースして登録し、全エントリを記事として保存する。
// URLがHTMLページの場合はlink要素からフィードを自動検出する。
// 戻り値は登録したフィードと保存済み記事数。
func (s *Service) CreateFeed(ctx context.Context, userID, rawURL string) (*model.Feed, int, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := validateFeedURL(rawURL); err != nil {
		return nil, 0, err
	}

	feedURL, doc, err := s.resolveDocument(ctx, rawURL)
	if err != nil {
		return nil, 0, err
	}

	parsed, err := s.parser.Parse(doc)
	if err != nil {
		s.logger.Info("フィードの解析に失敗しました",
			slog.String("feed_url", feedURL),
			slog.String("error", err.Error()),
		)
		return nil, 0, toAPIError(err)
	}

	now := s.now()
	feed := &model.Feed{
		ID:            uuid.New().String(),
		UserID:        userID,
		URL:           feedURL,
		Title:         parsed.Title,
		Description:   parsed.Description,
		SiteURL:       parsed.SiteURL,
		LastFetchedAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.feeds.Create(ctx, feed); err != nil {
		if errors.Is(err, repository.ErrDuplicateFeed) {
			return nil, 0, model.NewDuplicateFeedError(feedURL)
		}
		return nil, 0, fmt.Errorf("フィードの保存に失敗しました: %w", err)
	}

	inserted, err := s.entries.Store(ctx, feed.ID, parsed.Entries)
	if err != nil {
		// フィード自体は登録済みのため、記事は次回のリフレッシュで取り込む
		s.logger.Warn("登録時の記事保存に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
	}

	s.attachFavicon(ctx, feed)

	count, err := s.articles.CountByFeed(ctx, feed.ID)
	if err != nil {
		count = inserted
	}

	s.logger.Info("フィードを登録しました",
		slog.String("feed_id", feed.ID),
		slog.String("user_id", userID),
		slog.String("feed_url", feedURL),
		slog.Int("new_articles", inserted),
	)
	return feed, count, nil
}

// resolveDocument はURLを取得し、HTMLであればフィードを自動検出して取得し直す。
func (s *Service) resolveDocument(ctx context.Context, rawURL string) (string, *RawDocument, error) {
	doc, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "", nil, toAPIError(err)
	}
	if !doc.IsHTML() || s.detector.LooksLikeFeed(doc) {
		return rawURL, doc, nil
	}

	discovered, ok := s.detector.Discover(doc)
	if !ok {
		return "", nil, model.NewFeedNotDetectedError(rawURL)
	}
	s.logger.Debug("フィードを自動検出しました",
		slog.String("page_url", rawURL),
		slog.String("feed_url", discovered),
	)

	doc, err = s.fetcher.Fetch(ctx, discovered)
	if err != nil {
		return "", nil, toAPIError(err)
	}
	return discovered, doc, nil
}

// attachFavicon はサイトURL（なければフィードURL）のオリジンからfaviconを推測して保存する。
// 失敗はログのみでフィード登録を妨げない。
func (s *Service) attachFavicon(ctx context.Context, feed *model.Feed) {
	if s.icons == nil {
		return
	}
	site := feed.SiteURL
	if site == "" {
		site = feed.URL
	}
	icon := s.icons.Resolve(ctx, site)
	if icon == "" {
		return
	}
	if err := s.feeds.UpdateFavicon(ctx, feed.ID, icon); err != nil {
		s.logger.Warn("faviconの保存に失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	feed.Favicon = icon
}

// ImportFeeds は複数URLを重複除去したうえで上限付きの並行数で登録する。
// 個々の失敗は結果に記録し、全体は失敗させない。結果は入力順に並ぶ。
func (s *Service) ImportFeeds(ctx context.Context, userID string, urls []string) []ImportResult {
	unique := lo.Uniq(lo.FilterMap(urls, func(u string, _ int) (string, bool) {
		u = strings.TrimSpace(u)
		return u, u != ""
	}))

	results := make([]ImportResult, len(unique))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)

	for i, u := range unique {
		g.Go(func() error {
			res := ImportResult{URL: u}
			feed, err := s.importOne(ctx, userID, u)
			if err != nil {
				res.Error = toAPIError(err)
			} else {
				res.FeedID = feed.ID
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// importOne は到達確認を行ってから1件のフィードを登録する。
// 到達できないURLは取得とパースを行わずに失敗とする。
func (s *Service) importOne(ctx context.Context, userID, rawURL string) (*model.Feed, error) {
	if err := validateFeedURL(rawURL); err != nil {
		return nil, err
	}
	if checker, ok := s.fetcher.(ReachabilityChecker); ok && !checker.ValidateURL(ctx, rawURL) {
		s.logger.Info("インポート対象のURLに到達できません", slog.String("url", rawURL))
		return nil, model.NewFetchFailedError("URLにアクセスできません")
	}
	feed, _, err := s.CreateFeed(ctx, userID, rawURL)
	return feed, err
}

// GetFeed はユーザーが所有するフィードを返す。
func (s *Service) GetFeed(ctx context.Context, userID, feedID string) (*model.Feed, error) {
	feed, err := s.feeds.FindByOwner(ctx, userID, feedID)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	if feed == nil {
		return nil, model.NewFeedNotFoundError(feedID)
	}
	return feed, nil
}

// ListFeeds はユーザーのフィード一覧を返す。
func (s *Service) ListFeeds(ctx context.Context, userID string) ([]*model.Feed, error) {
	feeds, err := s.feeds.ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	if feeds == nil {
		feeds = []*model.Feed{}
	}
	return feeds, nil
}

// DeleteFeed はユーザーが所有するフィードを記事ごと削除する。
func (s *Service) DeleteFeed(ctx context.Context, userID, feedID string) error {
	deleted, err := s.feeds.DeleteByOwner(ctx, userID, feedID)
	if err != nil {
		return fmt.Errorf("フィードの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewFeedNotFoundError(feedID)
	}
	s.logger.Info("フィードを削除しました",
		slog.String("feed_id", feedID),
		slog.String("user_id", userID),
	)
	return nil
}

// ListArticles はユーザーが所有するフィードの記事を新しい順に返す。
// limitは1からMaxArticleLimitまで。
func (s *Service) ListArticles(ctx context.Context, userID, feedID string, limit int) ([]model.Article, error) {
	if limit < 1 || limit > MaxArticleLimit {
		return nil, model.NewInvalidLimitError(fmt.Sprint(limit))
	}
	if _, err := s.GetFeed(ctx, userID, feedID); err != nil {
		return nil, err
	}
	articles, err := s.articles.ListByFeed(ctx, feedID, limit)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	if articles == nil {
		articles = []model.Article{}
	}
	return articles, nil
}

// validateFeedURL は登録前にURLの形式を検証する。
func validateFeedURL(rawURL string) error {
	if rawURL == "" {
		return model.NewInvalidURLError("URLが入力されていません")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.NewInvalidURLError("URLを解析できません")
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return model.NewInvalidURLError("http または https のURLを指定してください")
	}
	if u.Host == "" {
		return model.NewInvalidURLError("ホスト名がありません")
	}
	return nil
}

// toAPIError はパイプラインのエラーをクライアント向けのAPIErrorに変換する。
func toAPIError(err error) *model.APIError {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		return model.NewInternalError()
	}
	switch fe.Kind {
	case model.ErrorKindInvalidURL:
		return model.NewInvalidURLError("この宛先には接続できません")
	case model.ErrorKindTimeout:
		return model.NewFetchTimeoutError()
	case model.ErrorKindHTTP:
		return model.NewFetchFailedError(fmt.Sprintf("HTTP %d", fe.StatusCode))
	case model.ErrorKindUnreachable:
		return model.NewFetchFailedError("サーバーに接続できません")
	case model.ErrorKindInvalidFormat:
		return model.NewParseFailedError()
	default:
		return model.NewInternalError()
	}
}
