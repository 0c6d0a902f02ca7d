package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hitoshi/feedreader/internal/metrics"
	"github.com/hitoshi/feedreader/internal/model"
	"github.com/hitoshi/feedreader/internal/repository"
)

// ジョブ名。監査ログとメトリクスのラベルに使用する。
const (
	JobAdminRefreshAll    = "admin-refresh-all"
	JobCronRefreshStale   = "cron-refresh-stale"
	JobWorkerRefreshStale = "worker-refresh-stale"
	JobUserRefreshAll     = "user-refresh-all"
)

// Options はバッチリフレッシュの設定。
type Options struct {
	Concurrency    int           // 同時に実行するリフレッシュ数
	BatchDelay     time.Duration // Concurrency件の開始ごとの間隔
	StaleAfter     time.Duration // この期間更新されていないフィードを古いとみなす
	StalePageSize  int           // 1回のステイル実行で処理する最大件数
	ErrorSampleMax int           // 集計に含めるエラーの最大件数
}

// DefaultOptions はOptionsの既定値を返す。
func DefaultOptions() Options {
	return Options{
		Concurrency:    5,
		BatchDelay:     time.Second,
		StaleAfter:     3 * time.Hour,
		StalePageSize:  20,
		ErrorSampleMax: 10,
	}
}

// Scheduler は複数フィードのリフレッシュを上限付きの並行数で実行する。
type Scheduler struct {
	feeds     repository.FeedRepository
	logs      repository.RefreshLogRepository
	refresher FeedRefresher
	metrics   metrics.Recorder
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

// NewScheduler はSchedulerを生成する。0以下の設定値は既定値で補完する。
func NewScheduler(
	feeds repository.FeedRepository,
	logs repository.RefreshLogRepository,
	refresher FeedRefresher,
	recorder metrics.Recorder,
	logger *slog.Logger,
	opts Options,
) *Scheduler {
	def := DefaultOptions()
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.BatchDelay < 0 {
		opts.BatchDelay = def.BatchDelay
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = def.StaleAfter
	}
	if opts.StalePageSize <= 0 {
		opts.StalePageSize = def.StalePageSize
	}
	if opts.ErrorSampleMax <= 0 {
		opts.ErrorSampleMax = def.ErrorSampleMax
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Scheduler{
		feeds:     feeds,
		logs:      logs,
		refresher: refresher,
		metrics:   recorder,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// RunBatch は全フィードを最大concurrency件ずつ並行にリフレッシュする。
// 開始はinterBatchDelayあたりconcurrency件に制限する。
// 1フィードの失敗はバッチを中断せず、全フィードが必ず1つの結果を持つ。
func (s *Scheduler) RunBatch(ctx context.Context, feeds []*model.Feed, concurrency int, interBatchDelay time.Duration) model.BatchOutcome {
	start := time.Now()
	if concurrency <= 0 {
		concurrency = 1
	}

	limit := rate.Inf
	if interBatchDelay > 0 {
		limit = rate.Limit(float64(concurrency) / interBatchDelay.Seconds())
	}
	limiter := rate.NewLimiter(limit, concurrency)

	outcomes := make([]model.RefreshOutcome, len(feeds))
	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	for i, f := range feeds {
		if err := limiter.Wait(ctx); err != nil {
			outcomes[i] = cancelledOutcome(f, err)
			continue
		}
		g.Go(func() error {
			outcomes[i] = s.refresher.Refresh(ctx, f)
			return nil
		})
	}
	_ = g.Wait()

	batch := s.aggregate(outcomes)
	batch.Duration = time.Since(start)
	return batch
}

// cancelledOutcome は完了を待つ前にキャンセルされたフィードの結果を返す。
func cancelledOutcome(f *model.Feed, err error) model.RefreshOutcome {
	return model.RefreshOutcome{
		FeedID:  f.ID,
		FeedURL: f.URL,
		Status:  model.RefreshStatusFailed,
		Error: &model.RefreshError{
			Kind:    model.ErrorKindTimeout,
			Message: fmt.Sprintf("refresh cancelled: %v", err),
		},
	}
}

// aggregate は結果を入力順に集計する。エラーはErrorSampleMax件まで保持する。
func (s *Scheduler) aggregate(outcomes []model.RefreshOutcome) model.BatchOutcome {
	batch := model.BatchOutcome{TotalFeeds: len(outcomes), Errors: []model.FeedError{}}
	for _, o := range outcomes {
		switch o.Status {
		case model.RefreshStatusSuccess:
			batch.SuccessCount++
		case model.RefreshStatusPartial:
			batch.PartialCount++
		case model.RefreshStatusSkipped:
			batch.SkippedCount++
		default:
			batch.ErrorCount++
		}
		batch.NewArticleCount += o.NewArticleCount
		if o.Error != nil && len(batch.Errors) < s.opts.ErrorSampleMax {
			batch.Errors = append(batch.Errors, model.FeedError{
				FeedID:  o.FeedID,
				FeedURL: o.FeedURL,
				Status:  string(o.Status),
				Kind:    o.Error.Kind,
				Message: o.Error.Message,
			})
		}
	}
	return batch
}

// RefreshUserFeeds はユーザーの全フィードをリフレッシュする。
func (s *Scheduler) RefreshUserFeeds(ctx context.Context, userID string) (model.BatchOutcome, error) {
	feeds, err := s.feeds.ListByOwner(ctx, userID)
	if err != nil {
		return model.BatchOutcome{}, fmt.Errorf("ユーザーのフィード一覧の取得に失敗しました: %w", err)
	}
	return s.run(ctx, JobUserRefreshAll, feeds, false), nil
}

// RefreshAll は全ユーザーの全フィードをリフレッシュし、監査ログを記録する。
func (s *Scheduler) RefreshAll(ctx context.Context, job string) (model.BatchOutcome, error) {
	feeds, err := s.feeds.ListAll(ctx)
	if err != nil {
		return model.BatchOutcome{}, fmt.Errorf("全フィードの取得に失敗しました: %w", err)
	}
	return s.run(ctx, job, feeds, true), nil
}

// RefreshStale はStaleAfterより古いフィードを古い順に最大StalePageSize件リフレッシュし、監査ログを記録する。
// 繰り返し呼び出すことで全フィードを順に巡回する。
func (s *Scheduler) RefreshStale(ctx context.Context, job string) (model.BatchOutcome, error) {
	feeds, err := s.feeds.ListStale(ctx, s.now().Add(-s.opts.StaleAfter), s.opts.StalePageSize)
	if err != nil {
		return model.BatchOutcome{}, fmt.Errorf("リフレッシュ対象フィードの取得に失敗しました: %w", err)
	}
	return s.run(ctx, job, feeds, true), nil
}

// run はバッチを実行してログ・メトリクスを記録する。
func (s *Scheduler) run(ctx context.Context, job string, feeds []*model.Feed, audit bool) model.BatchOutcome {
	s.logger.Info("バッチリフレッシュを開始します",
		slog.String("job", job),
		slog.Int("feed_count", len(feeds)),
		slog.Int("concurrency", s.opts.Concurrency),
	)

	batch := s.RunBatch(ctx, feeds, s.opts.Concurrency, s.opts.BatchDelay)
	s.metrics.RecordBatch(job, batch.Duration)

	s.logger.Info("バッチリフレッシュが完了しました",
		slog.String("job", job),
		slog.String("status", string(batch.Status())),
		slog.Int("total_feeds", batch.TotalFeeds),
		slog.Int("success_count", batch.SuccessCount),
		slog.Int("partial_count", batch.PartialCount),
		slog.Int("error_count", batch.ErrorCount),
		slog.Int("skipped_count", batch.SkippedCount),
		slog.Int("new_articles", batch.NewArticleCount),
		slog.Float64("duration_ms", float64(batch.Duration.Milliseconds())),
	)

	if audit {
		s.record(ctx, job, batch)
	}
	return batch
}

// record はバッチ結果を監査ログに追記する。失敗はログのみ。
func (s *Scheduler) record(ctx context.Context, job string, batch model.BatchOutcome) {
	if s.logs == nil {
		return
	}
	entry := &model.RefreshLog{
		JobName:      job,
		Status:       batch.Status(),
		TotalFeeds:   batch.TotalFeeds,
		SuccessCount: batch.SuccessCount,
		ErrorCount:   batch.PartialCount + batch.ErrorCount,
		Errors:       batch.Errors,
		ExecutedAt:   s.now(),
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.logs.Record(recordCtx, entry); err != nil {
		s.logger.Error("監査ログの記録に失敗しました",
			slog.String("job", job),
			slog.String("error", err.Error()),
		)
	}
}

// Start はintervalごとにステイルフィードのリフレッシュを実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration, job string) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("リフレッシュスケジューラを開始しました",
		slog.String("job", job),
		slog.Duration("interval", interval),
		slog.Int("concurrency", s.opts.Concurrency),
	)

	s.tick(ctx, job)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("リフレッシュスケジューラを停止しました")
			return
		case <-ticker.C:
			s.tick(ctx, job)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, job string) {
	if _, err := s.RefreshStale(ctx, job); err != nil {
		s.logger.Error("リフレッシュサイクルの実行に失敗しました",
			slog.String("job", job),
			slog.String("error", err.Error()),
		)
	}
}
