// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package feed fetches syndication feeds and normalizes their entries.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/fluffy-critter/rss2discord/internal/request"
	"github.com/fluffy-critter/rss2discord/internal/version"

	"github.com/mmcdole/gofeed"
)

// ErrNotModified is returned by [Fetcher.Fetch] when the server reports the
// feed unchanged since the last fetch.
var ErrNotModified = errors.New("feed not modified")

// Cache holds the conditional-request validators remembered from the previous
// fetch of a feed.
type Cache struct {
	ETag         string
	LastModified string
}

// Fetcher fetches and parses feeds over HTTP.
type Fetcher struct {
	httpc *http.Client
	fp    *gofeed.Parser
	slog  *slog.Logger
}

// NewFetcher returns a Fetcher using httpc, or [request.DefaultClient] if nil.
func NewFetcher(httpc *http.Client, log *slog.Logger) *Fetcher {
	if httpc == nil {
		httpc = request.DefaultClient
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{httpc: httpc, fp: gofeed.NewParser(), slog: log}
}

// Fetch performs a conditional GET of url and parses the result. It returns
// the parsed feed together with the validators to remember for the next
// fetch. When the server answers 304 Not Modified, it returns ErrNotModified
// and the cache unchanged.
func (f *Fetcher) Fetch(ctx context.Context, url string, cache Cache) (*gofeed.Feed, Cache, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, cache, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if cache.ETag != "" {
		req.Header.Set("If-None-Match", cache.ETag)
	}
	if cache.LastModified != "" {
		req.Header.Set("If-Modified-Since", cache.LastModified)
	}

	res, err := f.httpc.Do(req)
	if err != nil {
		return nil, cache, err
	}
	defer res.Body.Close()

	f.slog.Debug("fetched feed",
		"feed", url,
		"status", res.StatusCode,
		"len", res.ContentLength,
	)

	if res.StatusCode == http.StatusNotModified {
		return nil, cache, ErrNotModified
	}
	if res.StatusCode != http.StatusOK {
		const readLimit = 16384
		body, rerr := io.ReadAll(io.LimitReader(res.Body, readLimit))
		if rerr != nil {
			body = []byte("unable to read body")
		}
		return nil, cache, fmt.Errorf("fetching %q: want 200, got %d: %s", url, res.StatusCode, body)
	}

	parsed, err := f.fp.Parse(res.Body)
	if err != nil {
		return nil, cache, fmt.Errorf("parsing %q: %w", url, err)
	}

	if etag := res.Header.Get("ETag"); etag != "" {
		cache.ETag = etag
	}
	if lastModified := res.Header.Get("Last-Modified"); lastModified != "" {
		cache.LastModified = lastModified
	}
	return parsed, cache, nil
}
