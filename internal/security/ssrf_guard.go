// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// allowedSchemes はHorizon照会で許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedPrefixes は外部照会先として許可しないアドレス範囲。
// safeurlはDNS解決後のIPもDialerで検証するため、ここでは設定値の静的チェックに使う。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),     // RFC 1918
	netip.MustParsePrefix("172.16.0.0/12"),  // RFC 1918
	netip.MustParsePrefix("192.168.0.0/16"), // RFC 1918
	netip.MustParsePrefix("127.0.0.0/8"),    // ループバック
	netip.MustParsePrefix("169.254.0.0/16"), // リンクローカル（メタデータIPを含む）
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// OutboundGuard はHorizonなど外部APIへのリクエストをSSRFから保護する。
type OutboundGuard struct{}

// NewOutboundGuard はOutboundGuardを生成する。
func NewOutboundGuard() *OutboundGuard {
	return &OutboundGuard{}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// プライベートIP、ループバック、リンクローカル、メタデータIPへの接続はsafeurlが拒否する。
// 80/443以外のポートはextraPortsで明示的に許可する。
func (g *OutboundGuard) NewSafeClient(timeout time.Duration, extraPorts ...int) *http.Client {
	ports := append([]int{80, 443}, extraPorts...)
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(ports...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateBaseURL は設定されたHorizonのベースURLを起動時に検証し、
// 明示的に指定されたポート（80/443以外）を返す。ポート指定がなければ0を返す。
func (g *OutboundGuard) ValidateBaseURL(rawURL string) (int, error) {
	if rawURL == "" {
		return 0, fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return 0, fmt.Errorf("disallowed scheme: %q (allowed: %v)", parsed.Scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return 0, fmt.Errorf("empty host in URL: %s", rawURL)
	}
	if strings.EqualFold(host, "localhost") {
		return 0, fmt.Errorf("blocked host: %s", host)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		addr = addr.Unmap()
		for _, p := range blockedPrefixes {
			if p.Contains(addr) {
				return 0, fmt.Errorf("blocked IP address: %s", addr)
			}
		}
	}

	port := 0
	if s := parsed.Port(); s != "" {
		port, err = strconv.Atoi(s)
		if err != nil || port < 1 || port > 65535 {
			return 0, fmt.Errorf("invalid port: %q", s)
		}
		if port == 80 || port == 443 {
			port = 0
		}
	}
	return port, nil
}
