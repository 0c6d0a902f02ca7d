package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// faviconPaths はサイトのオリジンに対して順に試すパス。
var faviconPaths = []string{
	"/favicon.ico",
	"/favicon.png",
	"/apple-touch-icon.png",
}

// DefaultFaviconTimeout は1回の試行あたりのタイムアウトの既定値。
const DefaultFaviconTimeout = 3 * time.Second

// FaviconResolver はサイトのfavicon URLを推測する。
// 取得失敗は全て無視し、見つからない場合は空文字列を返す。
type FaviconResolver struct {
	guard   SSRFValidator
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewFaviconResolver はFaviconResolverを生成する。
func NewFaviconResolver(guard SSRFValidator, timeout time.Duration, logger *slog.Logger) *FaviconResolver {
	if timeout <= 0 {
		timeout = DefaultFaviconTimeout
	}
	return &FaviconResolver{
		guard:   guard,
		client:  guard.NewSafeClient(timeout),
		timeout: timeout,
		logger:  logger,
	}
}

// Resolve はsiteURLのオリジンで既定のパスを順にHEADで確認し、最初に応答したURLを返す。
func (r *FaviconResolver) Resolve(ctx context.Context, siteURL string) string {
	origin := originOf(siteURL)
	if origin == "" {
		return ""
	}

	for _, path := range faviconPaths {
		candidate := origin + path
		if err := r.guard.ValidateURL(candidate); err != nil {
			r.logger.Debug("faviconの宛先がブロックされました",
				slog.String("url", candidate),
				slog.String("error", err.Error()),
			)
			return ""
		}
		if r.exists(ctx, candidate) {
			return candidate
		}
		if ctx.Err() != nil {
			return ""
		}
	}
	return ""
}

// exists は画像が取得できる応答かを1回の試行で確認する。
// HEADを受け付けないサーバーにはGETで再試行する。
func (r *FaviconResolver) exists(ctx context.Context, rawURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	status, contentType, err := r.probe(ctx, http.MethodHead, rawURL)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, contentType, err = r.probe(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		r.logger.Debug("faviconの確認に失敗しました",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return false
	}
	if status < 200 || status >= 300 {
		return false
	}
	mt := mediaType(contentType)
	return mt == "" || strings.HasPrefix(mt, "image/")
}

func (r *FaviconResolver) probe(ctx context.Context, method, rawURL string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024)) //nolint:errcheck
	return resp.StatusCode, resp.Header.Get("Content-Type"), nil
}

// originOf はURLのスキームとホストのみを返す。http/https以外は空文字列。
func originOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	return scheme + "://" + u.Host
}
