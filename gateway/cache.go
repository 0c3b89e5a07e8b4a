package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fabricedemange/coopaz-offline/store"
)

// generationPrefix namespaces response-cache partitions inside the
// gateway's store, one partition per cache generation.
const generationPrefix = "gen:"

// cachedResponse is the persisted form of one network response.
type cachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// Cache is a named, versioned bucket of cached network responses.
// Exactly one generation is current; Activate purges all others.
type Cache struct {
	store      *store.Store
	generation string
}

// NewCache returns a Cache writing into the given generation of s.
func NewCache(s *store.Store, generation string) *Cache {
	return &Cache{store: s, generation: generation}
}

// Generation returns the current generation name.
func (c *Cache) Generation() string { return c.generation }

func (c *Cache) partition() string { return generationPrefix + c.generation }

func cacheKey(req *http.Request) string {
	u := *req.URL
	u.Fragment = ""
	return u.String()
}

// Activate deletes every cache generation whose name differs from the
// current one. Run once when a new generation name is deployed.
func (c *Cache) Activate(ctx context.Context) error {
	names, err := c.store.Partitions(ctx, generationPrefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == c.partition() {
			continue
		}
		if err := c.store.DropPartition(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the cached response for req, or nil on a miss.
func (c *Cache) Get(ctx context.Context, req *http.Request) (*http.Response, error) {
	var entry cachedResponse
	err := c.store.Get(ctx, c.partition(), cacheKey(req), &entry)
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	header := entry.Header
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode:    entry.Status,
		Status:        fmt.Sprintf("%d %s", entry.Status, http.StatusText(entry.Status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(entry.Body)),
		ContentLength: int64(len(entry.Body)),
		Request:       req,
	}, nil
}

// Put stores a copy of resp under req's URL in the current generation
// and returns a response whose body is still readable by the caller.
// When the body cannot be read it returns nil: the caller has no
// response left to serve. A failed store write still returns the
// readable response alongside the error.
func (c *Cache) Put(ctx context.Context, req *http.Request, resp *http.Response) (*http.Response, error) {
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		// The body is consumed and closed; nothing servable remains, so
		// this is a hard failure, unlike a store write error below.
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := cachedResponse{
		Status: resp.StatusCode,
		Header: sanitizeHeader(resp.Header),
		Body:   body,
	}
	if err := c.store.Put(ctx, c.partition(), cacheKey(req), entry); err != nil {
		return resp, err
	}
	return resp, nil
}

// sanitizeHeader drops hop-by-hop headers that must not be replayed from
// a cache.
func sanitizeHeader(h http.Header) http.Header {
	out := h.Clone()
	for _, k := range []string{"Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Proxy-Authenticate", "Proxy-Authorization", "Te", "Trailer"} {
		out.Del(k)
	}
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				out.Del(name)
			}
		}
	}
	return out
}
