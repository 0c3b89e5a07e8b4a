// Package gateway implements the network interception layer: a
// transport-level policy engine that decides, per request shape, whether
// to bypass, serve network-first with a cache fallback, or serve
// cache-first with a background refill.
//
// It runs independently of the rest of the subsystem, in its own process
// when deployed as a sidecar proxy (cmd/coopaz-gateway), against its own
// store directory. Cached responses live in a named cache generation;
// activating a new generation name purges all prior ones.
package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync/atomic"
)

// Transport applies the interception policies. It implements
// http.RoundTripper, so it can back both the sidecar reverse proxy and a
// plain http.Client that routes all of a device's traffic (local origin
// and CDN assets alike) through the policies.
type Transport struct {
	// Base performs the actual network round trips. Defaults to
	// http.DefaultTransport.
	Base http.RoundTripper
	// Rules classifies requests. Zero value passes everything through.
	Rules Ruleset
	// Cache is the current response-cache generation. Required for the
	// network-first and cache-first policies.
	Cache *Cache
	// OriginHost is the app origin. Responses from other hosts are the
	// cross-origin case: they cannot be introspected reliably, so under
	// cache-first they are stored regardless of status, like the
	// original opaque responses.
	OriginHost string
	// Logger defaults to silent.
	Logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats reports cache hits and misses served by this transport.
func (t *Transport) Stats() (hits, misses int64) {
	return t.hits.Load(), t.misses.Load()
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// RoundTrip applies the policy selected for req.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	policy := t.Rules.Classify(req)
	if t.Cache == nil || policy == PolicyBypass || policy == PolicyPassthrough {
		return t.base().RoundTrip(req)
	}

	switch policy {
	case PolicyNetworkFirst:
		return t.networkFirst(req)
	case PolicyCacheFirst:
		return t.cacheFirst(req)
	default:
		return t.base().RoundTrip(req)
	}
}

// networkFirst tries the network, refreshing the cached copy on every
// reachable response; when the network is down it serves the cached
// shell, and a synthetic unavailable response as the last resort.
func (t *Transport) networkFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	resp, err := t.base().RoundTrip(req)
	if err == nil {
		stored, putErr := t.Cache.Put(ctx, req, resp)
		if putErr != nil {
			if stored == nil {
				// The body could not be read; there is no response left
				// to serve.
				return nil, putErr
			}
			// A failed cache write must not break the live response.
			t.logger().WarnContext(ctx, "page shell cache write failed",
				"url", cacheKey(req),
				"error", putErr,
			)
		}
		return stored, nil
	}

	cached, cacheErr := t.Cache.Get(ctx, req)
	if cacheErr == nil && cached != nil {
		t.hits.Add(1)
		t.logger().InfoContext(ctx, "serving cached page shell",
			"url", cacheKey(req),
			"network_error", err,
		)
		return cached, nil
	}
	t.misses.Add(1)
	return syntheticUnavailable(req), nil
}

// cacheFirst serves the cached copy when present and refills the cache
// from the network otherwise.
func (t *Transport) cacheFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	cached, err := t.Cache.Get(ctx, req)
	if err == nil && cached != nil {
		t.hits.Add(1)
		return cached, nil
	}
	t.misses.Add(1)

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if t.cacheable(req, resp) {
		stored, putErr := t.Cache.Put(ctx, req, resp)
		if putErr != nil {
			if stored == nil {
				return nil, putErr
			}
			t.logger().WarnContext(ctx, "asset cache write failed",
				"url", cacheKey(req),
				"error", putErr,
			)
		}
		return stored, nil
	}
	return resp, nil
}

// cacheable mirrors the original asset rule: explicit success, or a
// cross-origin response that cannot be introspected.
func (t *Transport) cacheable(req *http.Request, resp *http.Response) bool {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true
	}
	return t.OriginHost != "" && req.URL.Host != t.OriginHost
}

func syntheticUnavailable(req *http.Request) *http.Response {
	const body = "Hors ligne"
	return &http.Response{
		StatusCode: http.StatusServiceUnavailable,
		Status:     "503 Service Unavailable",
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header: http.Header{
			"Content-Type": {"text/plain; charset=utf-8"},
		},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// Precache fetches urls through the base transport and stores the
// successful (or cross-origin) responses in the current generation.
// Individual failures are skipped: precaching is best effort, run at
// deploy/install time.
func (t *Transport) Precache(ctx context.Context, urls []string) {
	for _, raw := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
		if err != nil {
			t.logger().WarnContext(ctx, "precache skipped", "url", raw, "error", err)
			continue
		}
		resp, err := t.base().RoundTrip(req)
		if err != nil {
			t.logger().WarnContext(ctx, "precache fetch failed", "url", raw, "error", err)
			continue
		}
		if t.cacheable(req, resp) {
			if _, err := t.Cache.Put(ctx, req, resp); err != nil {
				t.logger().WarnContext(ctx, "precache store failed", "url", raw, "error", err)
			}
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}
}

// NewHandler returns a reverse proxy for the app origin whose transport
// applies the interception policies.
func NewHandler(upstream string, t *Transport) (http.Handler, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}
	if t.OriginHost == "" {
		t.OriginHost = target.Host
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = t
	return proxy, nil
}
