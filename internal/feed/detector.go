// Package feed はフィードの取得・解析・登録のドメインロジックを提供する。
package feed

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// sniffSize は文書種別の判定に使う先頭バイト数。
const sniffSize = 4096

// LinkCandidate はHTMLのlink要素から見つかったフィード候補。
type LinkCandidate struct {
	URL   string
	Atom  bool
	Title string
}

// Detector はHTMLページからフィードURLを自動検出する。
type Detector struct{}

// NewDetector はDetectorを生成する。
func NewDetector() *Detector {
	return &Detector{}
}

// LooksLikeFeed は文書の先頭がRSS/Atom/RDFのルート要素かを判定する。
// Content-Typeがtext/htmlでも中身がフィードの場合がある。
func (d *Detector) LooksLikeFeed(doc *RawDocument) bool {
	if doc == nil || len(doc.Body) == 0 {
		return false
	}
	head := doc.Body
	if len(head) > sniffSize {
		head = head[:sniffSize]
	}
	prefix := strings.ToLower(string(head))

	switch {
	case strings.Contains(prefix, "<rss"), strings.Contains(prefix, "<rdf:rdf"):
		return true
	case strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom"):
		return true
	}
	return false
}

// Discover はHTML文書からフィードURLを1件選んで返す。
// 候補がない場合はfalseを返す。
func (d *Detector) Discover(doc *RawDocument) (string, bool) {
	if doc == nil {
		return "", false
	}
	best, ok := d.SelectBest(d.ParseLinks(doc.Body, doc.URL), doc.URL)
	if !ok {
		return "", false
	}
	return best.URL, true
}

// ParseLinks はHTMLのhead内にあるrel="alternate"のRSS/Atomリンクを抽出する。
// 相対URLはbaseURL基準で解決し、http/https以外は除外する。
func (d *Detector) ParseLinks(body []byte, baseURL string) []LinkCandidate {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var candidates []LinkCandidate
	z := html.NewTokenizer(bytes.NewReader(body))
	inHead := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return candidates

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return candidates
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "head":
				inHead = true
				continue
			case "body":
				return candidates
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			attrs := readAttrs(z)
			if !hasRelAlternate(attrs["rel"]) {
				continue
			}
			var atom bool
			switch strings.ToLower(strings.TrimSpace(attrs["type"])) {
			case "application/rss+xml", "application/rdf+xml":
			case "application/atom+xml":
				atom = true
			default:
				continue
			}

			resolved := resolveLink(base, attrs["href"])
			if resolved == "" {
				continue
			}
			candidates = append(candidates, LinkCandidate{
				URL:   resolved,
				Atom:  atom,
				Title: strings.TrimSpace(attrs["title"]),
			})
		}
	}
}

// readAttrs は現在のタグの属性を小文字キーのmapで返す。
func readAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		attrs[strings.ToLower(string(key))] = string(val)
		if !more {
			return attrs
		}
	}
}

// hasRelAlternate はrel属性に"alternate"が含まれるかを判定する。
func hasRelAlternate(rel string) bool {
	for _, token := range strings.Fields(strings.ToLower(rel)) {
		if token == "alternate" {
			return true
		}
	}
	return false
}

// SelectBest は候補から1件を選ぶ。
// ページと同じホストを優先し、次にAtomを優先する。同点の場合は先に出現した候補を選ぶ。
func (d *Detector) SelectBest(candidates []LinkCandidate, pageURL string) (LinkCandidate, bool) {
	if len(candidates) == 0 {
		return LinkCandidate{}, false
	}

	pageHost := hostOf(pageURL)
	bestIdx, bestScore := 0, -1
	for i, c := range candidates {
		score := 0
		if pageHost != "" && hostOf(c.URL) == pageHost {
			score += 100
		}
		if c.Atom {
			score += 10
		}
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	return candidates[bestIdx], true
}

// hostOf はURLの小文字のホスト名を返す。
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
