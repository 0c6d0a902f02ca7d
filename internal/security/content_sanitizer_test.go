package security

import (
	"strings"
	"testing"
)

func TestSanitizer_HTML_AllowedTags(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		name         string
		input        string
		wantContains []string
	}{
		{"段落", "<p>テスト段落</p>", []string{"<p>テスト段落</p>"}},
		{"改行", "行1<br>行2", []string{"<br", "行1", "行2"}},
		{"リスト", "<ul><li>項目1</li></ul><ol><li>項目2</li></ol>", []string{"<ul>", "<ol>", "<li>項目1</li>"}},
		{"引用", "<blockquote>引用</blockquote>", []string{"<blockquote>引用</blockquote>"}},
		{"コード", "<pre><code>go test</code></pre>", []string{"<pre><code>go test</code></pre>"}},
		{"強調", "<strong>太字</strong><em>斜体</em>", []string{"<strong>太字</strong>", "<em>斜体</em>"}},
		{"見出し", "<h2>見出し</h2>", []string{"<h2>見出し</h2>"}},
		{"図", "<figure><figcaption>説明</figcaption></figure>", []string{"<figure>", "<figcaption>説明</figcaption>"}},
		{"https画像", `<img src="https://example.com/a.png" alt="画像">`, []string{"https://example.com/a.png", `alt="画像"`}},
		{"httpリンク", `<a href="http://example.com/post">リンク</a>`, []string{"http://example.com/post", "リンク"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.HTML(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("HTML(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

func TestSanitizer_HTML_Removes(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		name       string
		input      string
		wantAbsent []string
	}{
		{"script", `<p>本文</p><script>alert('xss')</script>`, []string{"<script", "alert"}},
		{"iframe", `<iframe src="https://evil.example"></iframe>`, []string{"<iframe", "evil.example"}},
		{"style", `<style>body{display:none}</style>`, []string{"<style", "display:none"}},
		{"div", `<div><p>テスト</p></div>`, []string{"<div"}},
		{"onイベント", `<p onclick="alert(1)">テスト</p>`, []string{"onclick", "alert"}},
		{"大文字のonイベント", `<p OnClick="alert(1)">テスト</p>`, []string{"onclick"}},
		{"javascript URI", `<a href="javascript:alert(1)">x</a>`, []string{"javascript:"}},
		{"data URI", `<a href="data:text/html,<script>alert(1)</script>">x</a>`, []string{"data:text/html"}},
		{"http画像", `<img src="http://example.com/a.png">`, []string{"http://example.com/a.png"}},
		{"相対リンク", `<a href="/relative">x</a>`, []string{"/relative"}},
		{"style属性", `<p style="color:red">x</p>`, []string{"style="}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.ToLower(s.HTML(tt.input))
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, strings.ToLower(absent)) {
					t.Errorf("HTML(%q) = %q, should NOT contain %q", tt.input, got, absent)
				}
			}
		})
	}
}

func TestSanitizer_HTML_AnchorAttributes(t *testing.T) {
	s := NewSanitizer()

	got := s.HTML(`<a href="https://example.com" target="_self" rel="nofollow">リンク</a>`)

	for _, want := range []string{`target="_blank"`, "noopener", "noreferrer"} {
		if !strings.Contains(got, want) {
			t.Errorf("HTML() = %q, expected to contain %q", got, want)
		}
	}
	if strings.Contains(got, `target="_self"`) {
		t.Errorf("HTML() = %q, should NOT keep target=_self", got)
	}
}

func TestSanitizer_HTML_Idempotent(t *testing.T) {
	s := NewSanitizer()

	input := `<p>テスト<strong>太字</strong></p><a href="https://example.com">リンク</a>`
	once := s.HTML(input)
	twice := s.HTML(once)

	if once != twice {
		t.Errorf("二重サニタイズで結果が変わった: 1回目=%q, 2回目=%q", once, twice)
	}
}

func TestSanitizer_HTML_Empty(t *testing.T) {
	if got := NewSanitizer().HTML(""); got != "" {
		t.Errorf("HTML(\"\") = %q, want empty", got)
	}
}

func TestSanitizer_Text(t *testing.T) {
	s := NewSanitizer()

	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"プレーンテキスト", "プレーンテキスト"},
		{"<b>太字</b>のタイトル", "太字のタイトル"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"  前後の\n\t空白  ", "前後の 空白"},
		{"<script>alert(1)</script>タイトル", "タイトル"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := s.Text(tt.input); got != tt.want {
				t.Errorf("Text(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
