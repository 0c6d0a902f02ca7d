package feed

import (
	"bytes"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"

	"github.com/hitoshi/feedreader/internal/model"
)

// フィールドごとの最大長（ルーン数）。
const (
	maxFeedTitleLen        = 500
	maxFeedDescriptionLen  = 2000
	maxEntryTitleLen       = 500
	maxEntryDescriptionLen = 2000
	maxEntryContentLen     = 100000
	maxURLLen              = 2048
)

// DefaultMaxEntries はパース結果に残すエントリ数の既定値。
const DefaultMaxEntries = 50

// Cleaner はフィード由来の文字列を無害化する。security.Sanitizerが実装する。
type Cleaner interface {
	Text(raw string) string
	HTML(raw string) string
}

// Parser はRSS/Atom文書を正規化されたParsedFeedに変換する。
type Parser struct {
	cleaner    Cleaner
	maxEntries int
	now        func() time.Time
}

// NewParser はParserを生成する。maxEntriesが0以下の場合はDefaultMaxEntriesを使用する。
func NewParser(cleaner Cleaner, maxEntries int) *Parser {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Parser{
		cleaner:    cleaner,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Parse は文書をパースする。RSS/Atomとして解析できない場合はinvalid_formatを返す。
// エントリは公開日時の新しい順に並べ、最大件数で切り詰める。
func (p *Parser) Parse(doc *RawDocument) (*model.ParsedFeed, error) {
	if doc == nil || len(bytes.TrimSpace(doc.Body)) == 0 {
		var docURL string
		if doc != nil {
			docURL = doc.URL
		}
		return nil, newFetchError(model.ErrorKindInvalidFormat, docURL, fmt.Errorf("empty document"))
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(doc.Body))
	if err != nil {
		return nil, newFetchError(model.ErrorKindInvalidFormat, doc.URL, err)
	}

	fetchedAt := p.now()
	docURL, _ := url.Parse(doc.URL)

	siteURL := resolveLink(docURL, parsed.Link)
	base := docURL
	if u, err := url.Parse(siteURL); err == nil && siteURL != "" {
		base = u
	}

	title := truncateRunes(p.cleaner.Text(parsed.Title), maxFeedTitleLen)
	if title == "" {
		title = truncateRunes(doc.URL, maxFeedTitleLen)
	}

	entries := lo.FilterMap(parsed.Items, func(item *gofeed.Item, _ int) (model.ParsedEntry, bool) {
		return p.convertItem(item, base, fetchedAt)
	})

	slices.SortStableFunc(entries, func(a, b model.ParsedEntry) int {
		return b.PublishedAt.Compare(a.PublishedAt)
	})
	if len(entries) > p.maxEntries {
		entries = entries[:p.maxEntries]
	}

	return &model.ParsedFeed{
		Title:       title,
		Description: truncateRunes(p.cleaner.Text(parsed.Description), maxFeedDescriptionLen),
		SiteURL:     siteURL,
		Entries:     entries,
	}, nil
}

// convertItem はgofeedのエントリを変換する。URLを決定できないエントリは重複判定できないため除外する。
func (p *Parser) convertItem(item *gofeed.Item, base *url.URL, fetchedAt time.Time) (model.ParsedEntry, bool) {
	if item == nil {
		return model.ParsedEntry{}, false
	}

	link := resolveLink(base, item.Link)
	if link == "" {
		// GUIDは絶対URLの場合のみリンクとして扱う
		link = resolveLink(nil, item.GUID)
	}
	if link == "" {
		return model.ParsedEntry{}, false
	}

	title := truncateRunes(p.cleaner.Text(item.Title), maxEntryTitleLen)
	if title == "" {
		title = truncateRunes(link, maxEntryTitleLen)
	}

	description := p.cleaner.HTML(truncateRunes(item.Description, maxEntryDescriptionLen))
	content := item.Content
	if strings.TrimSpace(content) == "" {
		content = item.Description
	}
	content = p.cleaner.HTML(truncateRunes(content, maxEntryContentLen))

	return model.ParsedEntry{
		Title:       title,
		URL:         link,
		Description: description,
		Content:     content,
		PublishedAt: resolvePublishedAt(item, fetchedAt),
	}, true
}

// resolvePublishedAt は公開日時を決定する。
// 構造化された公開日時、公開日時の文字列、更新日時、更新日時の文字列、現在時刻の順に試す。
func resolvePublishedAt(item *gofeed.Item, fallback time.Time) time.Time {
	if item.PublishedParsed != nil && !item.PublishedParsed.IsZero() {
		return item.PublishedParsed.UTC()
	}
	if t, ok := parseLooseDate(item.Published); ok {
		return t
	}
	if item.UpdatedParsed != nil && !item.UpdatedParsed.IsZero() {
		return item.UpdatedParsed.UTC()
	}
	if t, ok := parseLooseDate(item.Updated); ok {
		return t
	}
	return fallback
}

// parseLooseDate はgofeedが解釈できなかった日付文字列をdateparseで解釈する。
func parseLooseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseAny(s)
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// resolveLink は相対リンクをbaseで解決し、http/httpsの絶対URLのみを返す。
func resolveLink(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if (ref.Scheme != "http" && ref.Scheme != "https") || ref.Host == "" {
		return ""
	}
	resolved := ref.String()
	if len(resolved) > maxURLLen {
		return ""
	}
	return resolved
}

// truncateRunes は文字列を最大ルーン数で切り詰める。マルチバイト文字の途中では切らない。
func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
