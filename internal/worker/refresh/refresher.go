// Package refresh はフィードのリフレッシュ処理とバッチスケジューリングを提供する。
package refresh

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/feedreader/internal/feed"
	"github.com/hitoshi/feedreader/internal/metrics"
	"github.com/hitoshi/feedreader/internal/model"
	"github.com/hitoshi/feedreader/internal/repository"
)

// FeedRefresher は1フィードをリフレッシュするインターフェース。
type FeedRefresher interface {
	Refresh(ctx context.Context, f *model.Feed) model.RefreshOutcome
}

// DefaultRefreshTimeout は1フィードのリフレッシュ全体の期限。
const DefaultRefreshTimeout = 2 * time.Minute

// leaseMargin はリフレッシュ権のリース期限に加える余裕。
// リース期限はリフレッシュの期限より後に切れる必要がある。
const leaseMargin = 30 * time.Second

// Refresher は1フィードのフェッチ → パース → 差分判定 → 保存を行う。
// 同じプロセス内の同時リフレッシュは1回の実行にまとめて結果を共有し、
// プロセス間ではフィード行のリフレッシュ権で排他する。
type Refresher struct {
	feeds   repository.FeedRepository
	fetcher feed.DocumentFetcher
	parser  feed.DocumentParser
	entries feed.EntryStore
	metrics metrics.Recorder
	logger  *slog.Logger
	group   singleflight.Group
	timeout time.Duration
	now     func() time.Time
}

// NewRefresher はRefresherを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewRefresher(
	feeds repository.FeedRepository,
	fetcher feed.DocumentFetcher,
	parser feed.DocumentParser,
	entries feed.EntryStore,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *Refresher {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Refresher{
		feeds:   feeds,
		fetcher: fetcher,
		parser:  parser,
		entries: entries,
		metrics: recorder,
		logger:  logger,
		timeout: DefaultRefreshTimeout,
		now:     time.Now,
	}
}

// Refresh はフィードをリフレッシュする。失敗は全て戻り値のRefreshOutcomeに記録する。
// 実行は呼び出し元のキャンセルから切り離して行い、合流した他の呼び出し元に影響しない。
// ctxが先に終了した場合はその呼び出し元だけが待機をやめる。
func (r *Refresher) Refresh(ctx context.Context, f *model.Feed) model.RefreshOutcome {
	ch := r.group.DoChan(f.ID, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.refreshClaimed(flightCtx, f), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("実行中のリフレッシュ結果を共有しました",
				slog.String("feed_id", f.ID),
			)
		}
		return res.Val.(model.RefreshOutcome)
	case <-ctx.Done():
		r.logger.Info("リフレッシュの完了を待たずに終了しました",
			slog.String("feed_id", f.ID),
			slog.String("error", ctx.Err().Error()),
		)
		return cancelledOutcome(f, ctx.Err())
	}
}

// refreshClaimed はリフレッシュ権を取得してからリフレッシュし、終了後に解放する。
// 別プロセスが権利を保持している場合は実行せずskippedを返す。
func (r *Refresher) refreshClaimed(ctx context.Context, f *model.Feed) model.RefreshOutcome {
	start := time.Now()
	outcome := model.RefreshOutcome{FeedID: f.ID, FeedURL: f.URL}

	now := r.now()
	claimed, err := r.feeds.ClaimRefresh(ctx, f.ID, now, now.Add(r.timeout+leaseMargin))
	if err != nil {
		outcome.Status = model.RefreshStatusFailed
		outcome.Error = &model.RefreshError{Kind: model.ErrorKindStorage, Message: err.Error()}
		return r.finish(outcome, start)
	}
	if !claimed {
		r.logger.Info("別のプロセスがリフレッシュ中のためスキップしました",
			slog.String("feed_id", f.ID),
		)
		outcome.Status = model.RefreshStatusSkipped
		return r.finish(outcome, start)
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.feeds.ReleaseRefresh(releaseCtx, f.ID); err != nil {
			r.logger.Warn("リフレッシュ権の解放に失敗しました",
				slog.String("feed_id", f.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return r.refresh(ctx, f)
}

func (r *Refresher) refresh(ctx context.Context, f *model.Feed) model.RefreshOutcome {
	start := time.Now()
	outcome := model.RefreshOutcome{FeedID: f.ID, FeedURL: f.URL}

	doc, err := r.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		if code := feed.StatusCodeOf(err); code != 0 {
			r.metrics.RecordHTTPStatus(code)
		}
		return r.fail(ctx, f, outcome, err, start)
	}
	r.metrics.RecordHTTPStatus(doc.StatusCode)

	parsed, err := r.parser.Parse(doc)
	if err != nil {
		return r.fail(ctx, f, outcome, err, start)
	}

	fetchedAt := r.now()
	meta := model.FeedMetadata{
		Title:         parsed.Title,
		Description:   parsed.Description,
		SiteURL:       parsed.SiteURL,
		LastFetchedAt: fetchedAt,
	}
	if err := r.feeds.UpdateMetadata(ctx, f.ID, meta); err != nil {
		return r.fail(ctx, f, outcome, err, start)
	}

	inserted, err := r.entries.Store(ctx, f.ID, parsed.Entries)
	if err != nil {
		outcome.Status = model.RefreshStatusPartial
		outcome.Error = &model.RefreshError{Kind: model.ErrorKindStorage, Message: err.Error()}
		return r.finish(outcome, start)
	}

	outcome.Status = model.RefreshStatusSuccess
	outcome.NewArticleCount = inserted
	r.metrics.RecordArticlesInserted(inserted)
	return r.finish(outcome, start)
}

// fail はフェッチ試行日時のみを記録し、失敗の結果を返す。メタデータは変更しない。
// キャンセルで中断した場合はフィードに到達していないため試行として記録しない。
func (r *Refresher) fail(ctx context.Context, f *model.Feed, outcome model.RefreshOutcome, err error, start time.Time) model.RefreshOutcome {
	outcome.Status = model.RefreshStatusFailed
	outcome.Error = &model.RefreshError{
		Kind:       feed.KindOf(err),
		Message:    err.Error(),
		StatusCode: feed.StatusCodeOf(err),
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return r.finish(outcome, start)
	}

	// 期限超過の場合も試行は記録する
	touchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if touchErr := r.feeds.TouchFetchAttempt(touchCtx, f.ID, r.now()); touchErr != nil {
		r.logger.Warn("フェッチ試行日時の記録に失敗しました",
			slog.String("feed_id", f.ID),
			slog.String("error", touchErr.Error()),
		)
	}
	return r.finish(outcome, start)
}

// finish は所要時間・メトリクス・ログを記録して結果を返す。
func (r *Refresher) finish(outcome model.RefreshOutcome, start time.Time) model.RefreshOutcome {
	outcome.Duration = time.Since(start)
	r.metrics.RecordRefresh(string(outcome.Status))
	r.metrics.RecordFetchLatency(outcome.Duration)

	attrs := []any{
		slog.String("feed_id", outcome.FeedID),
		slog.String("feed_url", outcome.FeedURL),
		slog.String("status", string(outcome.Status)),
		slog.Int("new_articles", outcome.NewArticleCount),
		slog.Float64("duration_ms", float64(outcome.Duration.Milliseconds())),
	}
	if outcome.Error == nil {
		r.logger.Info("フィードをリフレッシュしました", attrs...)
		return outcome
	}

	r.metrics.RecordFetchError(string(outcome.Error.Kind))
	attrs = append(attrs,
		slog.String("error_kind", string(outcome.Error.Kind)),
		slog.String("error", outcome.Error.Message),
	)
	r.logger.Warn("フィードのリフレッシュに失敗しました", attrs...)
	return outcome
}

// compile-time interface check
var _ FeedRefresher = (*Refresher)(nil)
