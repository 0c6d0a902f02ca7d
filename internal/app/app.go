package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/feedreader/internal/article"
	"github.com/hitoshi/feedreader/internal/config"
	"github.com/hitoshi/feedreader/internal/database"
	"github.com/hitoshi/feedreader/internal/feed"
	"github.com/hitoshi/feedreader/internal/handler"
	"github.com/hitoshi/feedreader/internal/logger"
	"github.com/hitoshi/feedreader/internal/metrics"
	"github.com/hitoshi/feedreader/internal/middleware"
	"github.com/hitoshi/feedreader/internal/repository"
	"github.com/hitoshi/feedreader/internal/security"
	"github.com/hitoshi/feedreader/internal/worker/cleanup"
	"github.com/hitoshi/feedreader/internal/worker/refresh"
)

// shutdownTimeout はグレースフルシャットダウンの猶予時間。
const shutdownTimeout = 30 * time.Second

// cleanupInterval は監査ログの保持期間クリーンアップの実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// .envを読み込み、JSON構造化ログをセットアップしてから環境変数のConfigを読み込む。
// wが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	dotenvErr := config.LoadDotEnv(".env")

	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	log := logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))
	if dotenvErr != nil {
		log.Warn(".envの読み込みに失敗しました", slog.String("error", dotenvErr.Error()))
	}

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, log, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMでキャンセルされる。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, log, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg, log)
	case CommandRefresh:
		return runRefresh(ctx, cfg, log)
	case CommandMigrate:
		return runMigrate(cfg, log)
	default:
		return runServe(ctx, cfg, log)
	}
}

// components はサブコマンド間で共有するドメインの依存関係。
type components struct {
	sessions  *repository.PostgresSessionRepo
	feeds     *repository.PostgresFeedRepo
	service   *feed.Service
	refresher *refresh.Refresher
	scheduler *refresh.Scheduler
}

// newComponents はリポジトリからスケジューラまでを組み立てる。
func newComponents(cfg *config.Config, db *sql.DB, recorder metrics.Recorder, log *slog.Logger) *components {
	// 1. リポジトリ
	feedRepo := repository.NewPostgresFeedRepo(db)
	articleRepo := repository.NewPostgresArticleRepo(db)
	logRepo := repository.NewPostgresRefreshLogRepo(db)

	// 2. セキュリティ
	guard := security.NewSSRFGuard()
	sanitizer := security.NewSanitizer()

	// 3. 取り込みパイプライン
	fetcher := feed.NewFetcher(guard, cfg.FetchTimeout, cfg.FetchMaxSize, log)
	parser := feed.NewParser(sanitizer, cfg.MaxEntriesPerFeed)
	writer := article.NewWriter(articleRepo, log)
	icons := feed.NewFaviconResolver(guard, cfg.FaviconTimeout, log)

	refresher := refresh.NewRefresher(feedRepo, fetcher, parser, writer, recorder, log)
	scheduler := refresh.NewScheduler(feedRepo, logRepo, refresher, recorder, log, refresh.Options{
		Concurrency:    cfg.RefreshConcurrency,
		BatchDelay:     cfg.RefreshBatchDelay,
		StaleAfter:     cfg.RefreshStaleAfter,
		StalePageSize:  cfg.RefreshStalePageSize,
		ErrorSampleMax: cfg.RefreshErrorSample,
	})

	return &components{
		sessions:  repository.NewPostgresSessionRepo(db),
		feeds:     feedRepo,
		service:   feed.NewService(feedRepo, articleRepo, writer, fetcher, parser, icons, log),
		refresher: refresher,
		scheduler: scheduler,
	}
}

// openDB はDB接続を開いて疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config, log *slog.Logger) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info("database connection established")
	return db, nil
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := openDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c := newComponents(cfg, db, metrics.NewCollector(reg), log)

	router := handler.NewRouter(&handler.RouterDeps{
		SessionFinder: c.sessions,
		RateLimiter:   middleware.NewUserRateLimiter(float64(cfg.RateLimitFetch), cfg.RateLimitFetch, time.Hour),
		FeedService:   c.service,
		Feeds:         c.feeds,
		Refresher:     c.refresher,
		Batches:       c.scheduler,
		AdminToken:    cfg.AdminAPIToken,
		CronSecret:    cfg.CronSecret,
		DB:            db,
		Metrics:       metrics.Handler(reg),
		Logger:        log,
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// 全件リフレッシュはフィード数に比例して時間がかかる
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.AdminAPIToken == "" {
		log.Info("ADMIN_API_TOKEN is not set; admin refresh endpoint is disabled")
	}
	if cfg.CronSecret == "" {
		log.Info("CRON_SECRET is not set; cron refresh endpoint is disabled")
	}

	return serveUntilDone(ctx, server, log)
}

// serveUntilDone はctxがキャンセルされるまでサーバーを実行し、キャンセル後にシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 更新の古いフィードの定期リフレッシュと監査ログのクリーンアップを、ctxがキャンセルされるまで実行する。
func runWorker(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := openDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	c := newComponents(cfg, db, nil, log)
	cleanupJob := cleanup.NewCleanupJob(db, log, cfg.LogRetentionDays)

	log.Info("worker starting",
		slog.Duration("refresh_interval", cfg.RefreshInterval),
		slog.Int("concurrency", cfg.RefreshConcurrency),
		slog.Int("log_retention_days", cfg.LogRetentionDays),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		cleanupJob.Start(ctx, cleanupInterval)
	}()

	// スケジューラをメインgoroutineで実行（ブロッキング）
	c.scheduler.Start(ctx, cfg.RefreshInterval, refresh.JobWorkerRefreshStale)
	<-done

	log.Info("worker stopped gracefully")
	return nil
}

// runRefresh は更新の古いフィードを1ページ分リフレッシュして終了する。
func runRefresh(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	db, err := openDB(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	c := newComponents(cfg, db, nil, log)
	batch, err := c.scheduler.RefreshStale(ctx, refresh.JobCronRefreshStale)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	log.Info("refresh completed",
		slog.Int("total_feeds", batch.TotalFeeds),
		slog.Int("success_count", batch.SuccessCount),
		slog.Int("error_count", batch.PartialCount+batch.ErrorCount),
	)
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, log *slog.Logger) error {
	log.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。解析できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
