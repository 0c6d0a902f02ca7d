// Package security はアウトバウンドHTTPと記事HTMLの安全性を担保する機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrBlockedURL はSSRF防止のためにブロックされたURLを示す。
var ErrBlockedURL = errors.New("url is not allowed")

// allowedSchemes はアウトバウンドリクエストで許可するURLスキーム。
var allowedSchemes = []string{"http", "https"}

// defaultAllowedPorts はポート指定がない場合に許可するポート。
var defaultAllowedPorts = []int{80, 443}

// blockedPrefixes は事前検証で拒否するネットワーク範囲。
// DNS解決後のIPはsafeurlのDialer側で検証される。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // クラウドメタデータIPを含む
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("::/128"),
}

// blockedHostnames は名前解決前に拒否するホスト名。
var blockedHostnames = []string{"localhost", "localhost.localdomain"}

// SSRFGuard はフィード・faviconの取得先を検証し、安全なHTTPクライアントを生成する。
type SSRFGuard struct {
	allowedPorts []int
}

// NewSSRFGuard はSSRFGuardを生成する。portsを省略した場合は80と443のみ許可する。
func NewSSRFGuard(ports ...int) *SSRFGuard {
	if len(ports) == 0 {
		ports = defaultAllowedPorts
	}
	return &SSRFGuard{allowedPorts: slices.Clone(ports)}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// プライベート・ループバック・リンクローカル宛ての接続はDNS解決後にDialerで拒否される。
func (g *SSRFGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(g.allowedPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はDNS解決を伴わない静的な検証を行う。
// 拒否した場合はErrBlockedURLをラップしたエラーを返す。
func (g *SSRFGuard) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty URL", ErrBlockedURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !slices.Contains(allowedSchemes, scheme) {
		return fmt.Errorf("%w: disallowed scheme %q", ErrBlockedURL, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrBlockedURL)
	}

	if port := parsed.Port(); port != "" && !g.isAllowedPort(port) {
		return fmt.Errorf("%w: disallowed port %s", ErrBlockedURL, port)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("%w: blocked address %s", ErrBlockedURL, addr)
		}
		return nil
	}

	if slices.Contains(blockedHostnames, strings.ToLower(strings.TrimSuffix(host, "."))) {
		return fmt.Errorf("%w: blocked host %s", ErrBlockedURL, host)
	}
	return nil
}

// isAllowedPort はURLのポートが許可リストに含まれるかを判定する。
func (g *SSRFGuard) isAllowedPort(port string) bool {
	p, err := net.LookupPort("tcp", port)
	if err != nil {
		return false
	}
	return slices.Contains(g.allowedPorts, p)
}

// isBlockedAddr はIPアドレスがブロック対象の範囲に含まれるかを判定する。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
