// Package netguard blocks server-side request forgery on every outbound HTTP
// fetch. Each URL — the initial request and every redirect hop — must resolve
// to at least one global unicast address, unless the host or address is on the
// internal-mirror allowlist or the check is explicitly disabled.
package netguard

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// BlockedError identifies why a URL was refused.
type BlockedError struct {
	URL    string
	Host   string
	Addr   string
	Reason string
}

func (e *BlockedError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("blocked_ip:%s:%s", e.Addr, e.Reason)
	}
	return fmt.Sprintf("blocked_host:%s", e.Host)
}

// Resolver is the DNS lookup hook, injectable for tests.
type Resolver func(ctx context.Context, host string) ([]net.IP, error)

// Guard validates outbound URLs. The zero value blocks nothing only if
// AllowNonGlobal is set; construct via New.
type Guard struct {
	AllowNonGlobal bool

	resolver   Resolver
	allowHosts map[string]bool // exact hostnames
	allowSufix []string        // leading-dot suffix entries, stored without the dot
	allowIPs   []net.IP
	allowNets  []*net.IPNet
}

// New builds a guard from the internal-mirror allowlist. Entries may be
// hostnames, ".suffix" hostname patterns, IP literals, or CIDR blocks.
func New(allowlist []string, allowNonGlobal bool) *Guard {
	g := &Guard{
		AllowNonGlobal: allowNonGlobal,
		allowHosts:     map[string]bool{},
	}
	g.resolver = func(ctx context.Context, host string) ([]net.IP, error) {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		ips := make([]net.IP, 0, len(addrs))
		for _, a := range addrs {
			ips = append(ips, a.IP)
		}
		return ips, nil
	}
	for _, entry := range allowlist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			g.allowNets = append(g.allowNets, ipnet)
			continue
		}
		if ip := net.ParseIP(entry); ip != nil {
			g.allowIPs = append(g.allowIPs, ip)
			continue
		}
		if strings.HasPrefix(entry, ".") {
			g.allowSufix = append(g.allowSufix, strings.TrimPrefix(entry, "."))
			continue
		}
		g.allowHosts[entry] = true
	}
	return g
}

// WithResolver overrides DNS resolution for deterministic testing.
func (g *Guard) WithResolver(r Resolver) *Guard {
	g.resolver = r
	return g
}

// CheckURL validates one URL. Non-HTTP schemes are refused outright; the host
// is resolved and every address must pass the global-unicast requirement or
// an allowlist entry. A nil return means the fetch may proceed.
func (g *Guard) CheckURL(ctx context.Context, rawURL string) error {
	if g.AllowNonGlobal {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return &BlockedError{URL: rawURL, Host: rawURL, Reason: "unparseable"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &BlockedError{URL: rawURL, Host: u.Host, Reason: "scheme:" + u.Scheme}
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return &BlockedError{URL: rawURL, Host: host, Reason: "empty host"}
	}
	if g.hostAllowed(host) {
		return nil
	}

	var ips []net.IP
	if literal := net.ParseIP(host); literal != nil {
		ips = []net.IP{literal}
	} else {
		ips, err = g.resolver(ctx, host)
		if err != nil {
			return &BlockedError{URL: rawURL, Host: host, Reason: "dns:" + err.Error()}
		}
	}
	if len(ips) == 0 {
		return &BlockedError{URL: rawURL, Host: host, Reason: "no addresses"}
	}

	for _, ip := range ips {
		if g.ipAllowed(ip) {
			return nil
		}
	}
	for _, ip := range ips {
		if !ip.IsGlobalUnicast() || ip.IsPrivate() {
			return &BlockedError{URL: rawURL, Host: host, Addr: ip.String(), Reason: "non_global"}
		}
	}
	return nil
}

// CheckRedirect is a http.Client redirect hook validating every hop.
func (g *Guard) CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	if err := g.CheckURL(req.Context(), req.URL.String()); err != nil {
		return err
	}
	return nil
}

func (g *Guard) hostAllowed(host string) bool {
	if g.allowHosts[host] {
		return true
	}
	for _, suffix := range g.allowSufix {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

func (g *Guard) ipAllowed(ip net.IP) bool {
	for _, allowed := range g.allowIPs {
		if allowed.Equal(ip) {
			return true
		}
	}
	for _, ipnet := range g.allowNets {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}
