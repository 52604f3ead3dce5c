package service

import (
	"net/http"
	"strings"

	"github.com/golang/gddo/httputil/header"
)

// requestDenyList names inbound headers never forwarded upstream: hop-by-hop
// headers, framing the transport re-derives, forwarding metadata and edge
// vendor headers. Entries ending in "*" match by prefix.
var requestDenyList = []string{
	"Host",
	"Connection",
	"Content-Length",
	"Transfer-Encoding",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Upgrade",
	"X-Forwarded-For",
	"X-Forwarded-Proto",
	"X-Forwarded-Host",
	"X-Forwarded-Port",
	"X-Real-Ip",
	"Forwarded",
	"X-Vercel-*",
	"Cf-*",
	"Cdn-Loop",
	"True-Client-Ip",
}

// responseDenyList names upstream headers never relayed to the caller.
var responseDenyList = []string{
	"Connection",
	"Transfer-Encoding",
	"Keep-Alive",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Upgrade",
	"Proxy-Authenticate",
}

// headerFilter drops denied header names, case-insensitively.
type headerFilter struct {
	exact    map[string]bool
	prefixes []string
}

func newHeaderFilter(lists ...[]string) headerFilter {
	f := headerFilter{exact: make(map[string]bool)}
	for _, list := range lists {
		for _, name := range list {
			name = strings.TrimSpace(name)
			if p, ok := strings.CutSuffix(name, "*"); ok {
				f.prefixes = append(f.prefixes, strings.ToLower(p))
				continue
			}
			f.exact[http.CanonicalHeaderKey(name)] = true
		}
	}
	return f
}

func (f headerFilter) denied(name string) bool {
	if f.exact[http.CanonicalHeaderKey(name)] {
		return true
	}
	lower := strings.ToLower(name)
	for _, p := range f.prefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// apply returns a copy of src without denied headers and without headers
// named by src's Connection tokens. Value order is preserved.
func (f headerFilter) apply(src http.Header) http.Header {
	hop := connectionTokens(src)
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if f.denied(key) || hop[http.CanonicalHeaderKey(key)] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}

func connectionTokens(h http.Header) map[string]bool {
	tokens := header.ParseList(h, "Connection")
	if len(tokens) == 0 {
		return nil
	}
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[http.CanonicalHeaderKey(t)] = true
	}
	return set
}
