// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はリフレッシュ処理から利用するメトリクス記録のインターフェース。
type Recorder interface {
	RecordRefresh(status string)
	RecordFetchError(kind string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordArticlesInserted(count int)
	RecordBatch(job string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	refreshes        *prometheus.CounterVec
	fetchErrors      *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	fetchLatency     prometheus.Histogram
	articlesInserted prometheus.Counter
	batchDuration    *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedreader_refresh_total",
			Help: "状態別のフィードリフレッシュ数",
		}, []string{"status"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedreader_fetch_errors_total",
			Help: "分類別のフィード取り込みエラー数",
		}, []string{"kind"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedreader_http_status_total",
			Help: "フィード取得時のHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "feedreader_fetch_latency_seconds",
			Help:    "フィードリフレッシュ1件あたりの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		articlesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedreader_articles_inserted_total",
			Help: "挿入された記事の合計数",
		}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedreader_batch_duration_seconds",
			Help:    "バッチリフレッシュの所要時間（秒）",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"job"}),
	}

	reg.MustRegister(
		c.refreshes,
		c.fetchErrors,
		c.httpStatus,
		c.fetchLatency,
		c.articlesInserted,
		c.batchDuration,
	)

	return c
}

// RecordRefresh はリフレッシュ結果の状態を記録する。
func (c *Collector) RecordRefresh(status string) {
	c.refreshes.WithLabelValues(status).Inc()
}

// RecordFetchError はエラー分類を記録する。
func (c *Collector) RecordFetchError(kind string) {
	c.fetchErrors.WithLabelValues(kind).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はリフレッシュの所要時間を記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordArticlesInserted は挿入された記事数を記録する。
func (c *Collector) RecordArticlesInserted(count int) {
	c.articlesInserted.Add(float64(count))
}

// RecordBatch はバッチの所要時間をジョブ名ごとに記録する。
func (c *Collector) RecordBatch(job string, duration time.Duration) {
	c.batchDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// Nop は何も記録しないRecorder。テストやメトリクス無効時に使用する。
type Nop struct{}

func (Nop) RecordRefresh(string)              {}
func (Nop) RecordFetchError(string)           {}
func (Nop) RecordHTTPStatus(int)              {}
func (Nop) RecordFetchLatency(time.Duration)  {}
func (Nop) RecordArticlesInserted(int)        {}
func (Nop) RecordBatch(string, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
