package gateway

import (
	"net/http"
	"strings"
)

// Policy is the caching behavior applied to one request.
type Policy uint8

const (
	// PolicyPassthrough forwards the request untouched.
	PolicyPassthrough Policy = iota
	// PolicyBypass never reads or writes any cache (the read/write API).
	PolicyBypass
	// PolicyNetworkFirst tries the network and falls back to the cached
	// copy, so a stale page shell is shown only when the network is
	// unreachable.
	PolicyNetworkFirst
	// PolicyCacheFirst serves the cached copy immediately and refills
	// from the network on a miss (static assets).
	PolicyCacheFirst
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyBypass:
		return "bypass"
	case PolicyNetworkFirst:
		return "network-first"
	case PolicyCacheFirst:
		return "cache-first"
	default:
		return "passthrough"
	}
}

// HostPattern matches a request against a foreign asset host, optionally
// narrowed to paths containing a substring.
type HostPattern struct {
	Host         string
	PathContains string
}

// Ruleset maps request shapes to policies. Precedence: API bypass, then
// page-shell navigation, then assets, then passthrough.
type Ruleset struct {
	// APIPrefixes are path prefixes that must never touch a cache.
	APIPrefixes []string
	// PagePaths are the shell paths served network-first on top-level
	// navigations (matched exactly, with or without a trailing slash).
	PagePaths []string
	// AssetPrefixes are local static-asset path prefixes served
	// cache-first.
	AssetPrefixes []string
	// AssetHosts are foreign hosts whose matching responses are served
	// cache-first.
	AssetHosts []HostPattern
}

// DefaultRuleset returns the rules of the inventory deployment: bypass
// the API, network-first for the inventory page shell, cache-first for
// bundled assets and the bootstrap CDN files.
func DefaultRuleset() Ruleset {
	return Ruleset{
		APIPrefixes:   []string{"/api/"},
		PagePaths:     []string{"/caisse/inventaire"},
		AssetPrefixes: []string{"/dist/", "/css/"},
		AssetHosts: []HostPattern{
			{Host: "cdn.jsdelivr.net", PathContains: "bootstrap"},
		},
	}
}

// Classify returns the policy for req. Non-GET requests are always
// bypassed: replaying a cached mutation response would be wrong, and the
// API rule already shields the write endpoint.
func (r Ruleset) Classify(req *http.Request) Policy {
	if req.Method != http.MethodGet {
		return PolicyBypass
	}
	path := req.URL.Path
	for _, p := range r.APIPrefixes {
		if strings.HasPrefix(path, p) {
			return PolicyBypass
		}
	}
	if isNavigation(req) {
		for _, p := range r.PagePaths {
			if path == p || path == p+"/" {
				return PolicyNetworkFirst
			}
		}
	}
	for _, p := range r.AssetPrefixes {
		if strings.HasPrefix(path, p) {
			return PolicyCacheFirst
		}
	}
	for _, h := range r.AssetHosts {
		if req.URL.Hostname() == h.Host && (h.PathContains == "" || strings.Contains(path, h.PathContains)) {
			return PolicyCacheFirst
		}
	}
	return PolicyPassthrough
}

// isNavigation reports whether req is a top-level page navigation rather
// than a subresource or programmatic fetch.
func isNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
