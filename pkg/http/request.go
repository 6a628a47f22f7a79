package http

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig holds the proxies whose forwarding headers are trusted
type IPConfig struct {
	TrustedProxies []string // CIDR ranges
	prefixes       []netip.Prefix
}

// NewIPConfig parses trusted proxy CIDRs once. Invalid entries are skipped.
func NewIPConfig(trustedProxies []string) *IPConfig {
	cfg := &IPConfig{TrustedProxies: trustedProxies}
	for _, cidr := range trustedProxies {
		if p, err := netip.ParsePrefix(strings.TrimSpace(cidr)); err == nil {
			cfg.prefixes = append(cfg.prefixes, p.Masked())
		}
	}
	return cfg
}

// ExtractClientIP returns the client address a session is bound to.
// Forwarding headers are honored only when the peer is a trusted proxy, otherwise a
// client could pick its own bound IP. X-Forwarded-For is read right to left: each proxy
// appends the address it saw, so the first hop outside the trusted ranges is the client.
// Anything left of that hop was supplied by the client and is ignored.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := remoteAddr(r)

	if config != nil && config.trusts(remoteIP) {
		if ip, ok := config.forwardedClient(r.Header.Values("X-Forwarded-For")); ok {
			return ip
		}
		if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
			return addr.Unmap().String()
		}
	}

	return remoteIP
}

// forwardedClient walks the X-Forwarded-For chain from the nearest hop outward.
// An unparseable hop ends the walk since nothing beyond it can be attributed.
func (c *IPConfig) forwardedClient(headers []string) (string, bool) {
	var hops []string
	for _, h := range headers {
		hops = append(hops, strings.Split(h, ",")...)
	}

	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return "", false
		}
		ip := addr.Unmap().String()
		if !c.trusts(ip) {
			return ip, true
		}
	}
	return "", false
}

// remoteAddr strips the port from RemoteAddr
func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return ""
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String()
	}
	return host
}

func (c *IPConfig) trusts(ip string) bool {
	prefixes := c.prefixes
	if prefixes == nil {
		prefixes = NewIPConfig(c.TrustedProxies).prefixes
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// deviceHeaders are the request headers summarized into a device fingerprint
var deviceHeaders = []string{"User-Agent", "Accept-Language", "Sec-CH-UA", "Sec-CH-UA-Platform"}

// DeviceFingerprint derives a soft device signal from request headers.
// It is not an identifier: browsers change these values on update.
func DeviceFingerprint(r *http.Request) string {
	h := sha256.New()
	for _, name := range deviceHeaders {
		h.Write([]byte(strings.TrimSpace(r.Header.Get(name))))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
