// Package article は記事の差分判定と永続化を提供する。
package article

import "github.com/hitoshi/feedreader/internal/model"

// Reconcile はexistingに含まれないURLのエントリのみを元の順序のまま返す。
// 同じバッチ内で重複するURLは最初のエントリのみ残す。
func Reconcile(existing map[string]struct{}, entries []model.ParsedEntry) []model.ParsedEntry {
	seen := make(map[string]struct{}, len(entries))
	fresh := make([]model.ParsedEntry, 0, len(entries))
	for _, e := range entries {
		if e.URL == "" {
			continue
		}
		if _, ok := existing[e.URL]; ok {
			continue
		}
		if _, ok := seen[e.URL]; ok {
			continue
		}
		seen[e.URL] = struct{}{}
		fresh = append(fresh, e)
	}
	return fresh
}
