package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// httpsURL はimgのsrcとして許可するURLの形式。
var httpsURL = regexp.MustCompile(`^https://`)

// Sanitizer はフィード由来のテキストとHTMLを保存前に無害化する。
// bluemondayのポリシーは並行利用に対して安全。
type Sanitizer struct {
	htmlPolicy *bluemonday.Policy
	textPolicy *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。
//
// HTMLポリシー:
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, h2-h4, figure, figcaption, img
//   - aのhrefは絶対URLのみ。target="_blank" と rel="noopener noreferrer" を付与する
//   - imgのsrcはhttpsのみ
//
// テキストポリシーは全てのタグを除去する。
func NewSanitizer() *Sanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
		"h2", "h3", "h4",
		"figure", "figcaption",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemes("http", "https")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("alt").OnElements("img")
	p.AllowAttrs("src").Matching(httpsURL).OnElements("img")
	p.RequireParseableURLs(true)

	return &Sanitizer{
		htmlPolicy: p,
		textPolicy: bluemonday.StrictPolicy(),
	}
}

// HTML は記事本文・要約のHTMLを許可リストに従ってサニタイズする。
func (s *Sanitizer) HTML(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(s.htmlPolicy.Sanitize(raw))
}

// Text は全てのタグを除去したプレーンテキストを返す。
// タイトルなどHTMLとして描画しないフィールドに使用する。
func (s *Sanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.textPolicy.Sanitize(raw)
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}
