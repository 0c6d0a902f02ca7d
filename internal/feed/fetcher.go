package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/feedreader/internal/model"
)

const (
	userAgent    = "Feedreader/1.0"
	acceptHeader = "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.8"
)

// SSRFValidator はアウトバウンドリクエストの宛先検証のインターフェース。
// security.SSRFGuardを抽象化してテスト時に差し替え可能にする。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration) *http.Client
}

// RawDocument はフェッチしたリモート文書。
type RawDocument struct {
	URL         string // リダイレクト後の最終URL
	ContentType string
	Body        []byte
	StatusCode  int
	FetchedAt   time.Time
}

// IsHTML は文書がHTMLとして配信されたかを返す。
func (d *RawDocument) IsHTML() bool {
	return strings.Contains(mediaType(d.ContentType), "html")
}

// Fetcher はフィード文書をHTTP(S)で取得する。
// 失敗は全てFetchErrorとして分類して返す。
type Fetcher struct {
	guard       SSRFValidator
	client      *http.Client
	timeout     time.Duration
	maxBodySize int64
	logger      *slog.Logger
}

// NewFetcher はFetcherを生成する。
func NewFetcher(guard SSRFValidator, timeout time.Duration, maxBodySize int64, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		guard:       guard,
		client:      guard.NewSafeClient(timeout),
		timeout:     timeout,
		maxBodySize: maxBodySize,
		logger:      logger,
	}
}

// Fetch はURLの文書を取得する。
// http/https以外やSSRFでブロックされる宛先はリクエスト前にinvalid_urlで失敗する。
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*RawDocument, error) {
	if err := f.checkURL(rawURL); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, newFetchError(model.ErrorKindInvalidURL, rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Warn("フィードの取得に失敗しました",
			slog.String("feed_url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, classifyTransportError(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return nil, &FetchError{
			Kind:       model.ErrorKindHTTP,
			StatusCode: resp.StatusCode,
			URL:        rawURL,
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if !isAcceptableContentType(contentType) {
		return nil, newFetchError(model.ErrorKindInvalidFormat, rawURL,
			fmt.Errorf("unsupported content type %q", contentType))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize+1))
	if err != nil {
		return nil, classifyTransportError(rawURL, err)
	}
	if int64(len(body)) > f.maxBodySize {
		return nil, newFetchError(model.ErrorKindInvalidFormat, rawURL,
			fmt.Errorf("document exceeds %d bytes", f.maxBodySize))
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	f.logger.Debug("フィードを取得しました",
		slog.String("feed_url", rawURL),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return &RawDocument{
		URL:         finalURL,
		ContentType: contentType,
		Body:        body,
		StatusCode:  resp.StatusCode,
		FetchedAt:   time.Now(),
	}, nil
}

// ValidateURL はボディを取得せずにURLの存在を確認する。失敗時はfalseを返す。
// HEADを受け付けないサーバーにはGETで再試行する。
func (f *Fetcher) ValidateURL(ctx context.Context, rawURL string) bool {
	if err := f.checkURL(rawURL); err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	status, err := f.probe(ctx, http.MethodHead, rawURL)
	if err != nil {
		return false
	}
	if status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented {
		status, err = f.probe(ctx, http.MethodGet, rawURL)
		if err != nil {
			return false
		}
	}
	return status >= 200 && status < 300
}

// probe はリクエストを送信してステータスコードのみを返す。
func (f *Fetcher) probe(ctx context.Context, method, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// checkURL はスキームとSSRFの静的検証を行う。
func (f *Fetcher) checkURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return newFetchError(model.ErrorKindInvalidURL, rawURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return newFetchError(model.ErrorKindInvalidURL, rawURL,
			fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return newFetchError(model.ErrorKindInvalidURL, rawURL, fmt.Errorf("missing host"))
	}
	if err := f.guard.ValidateURL(rawURL); err != nil {
		return newFetchError(model.ErrorKindInvalidURL, rawURL, err)
	}
	return nil
}

// acceptableMediaTypes はフィードとして受け付けるメディアタイプ。
var acceptableMediaTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
	"application/rdf+xml",
	"application/xml",
	"application/feed+json",
	"text/xml",
	"text/html",
	"application/xhtml+xml",
	"text/plain",
	"application/octet-stream",
}

// isAcceptableContentType はContent-Typeがフィードまたは自動検出対象のHTMLかを判定する。
// 空のContent-Typeは本文の解析に委ねる。
func isAcceptableContentType(contentType string) bool {
	mt := mediaType(contentType)
	if mt == "" {
		return true
	}
	for _, acceptable := range acceptableMediaTypes {
		if mt == acceptable {
			return true
		}
	}
	return !strings.HasPrefix(mt, "image/") && strings.HasSuffix(mt, "+xml")
}

// mediaType はContent-Typeヘッダーからパラメータを除いたメディアタイプを返す。
func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
