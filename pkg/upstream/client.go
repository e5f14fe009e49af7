package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/funish/nexus/pkg/nexuserr"
	"github.com/funish/nexus/pkg/observability"
)

// Client talks to the upstream registries. Metadata requests are memoized in
// an expiring LRU so a burst of requests for the same package resolves from
// one packument fetch.
type Client struct {
	metaHTTP    *http.Client
	archiveHTTP *http.Client
	githubToken string

	metaCache *expirable.LRU[string, []byte]
	metrics   *observability.Metrics

	// Base URLs, overridable in tests.
	NPMRegistry  string
	JSRRegistry  string
	JSDelivrAPI  string
	CdnjsAPI     string
	CdnjsFiles   string
	GitHubAPI    string
	Codeload     string
	RawContent   string
	WPPluginsSVN string
	WPThemesSVN  string
}

// Options parameterizes a Client.
type Options struct {
	GitHubToken     string
	MetadataTimeout time.Duration
	TarballTimeout  time.Duration
	CacheSize       int
	CacheTTL        time.Duration
	Metrics         *observability.Metrics
}

// NewClient creates an upstream client with the given options. Zero values
// fall back to the documented defaults (10 s metadata, 30 s archives).
func NewClient(opts Options) *Client {
	if opts.MetadataTimeout == 0 {
		opts.MetadataTimeout = 10 * time.Second
	}
	if opts.TarballTimeout == 0 {
		opts.TarballTimeout = 30 * time.Second
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = 1024
	}
	// expirable.LRU ticks its reaper at ttl/100; sub-millisecond TTLs would
	// hand NewTicker a zero interval.
	if opts.CacheTTL < time.Millisecond {
		opts.CacheTTL = time.Minute
	}

	return &Client{
		metaHTTP:    &http.Client{Timeout: opts.MetadataTimeout},
		archiveHTTP: &http.Client{Timeout: opts.TarballTimeout},
		githubToken: opts.GitHubToken,
		metaCache:   expirable.NewLRU[string, []byte](opts.CacheSize, nil, opts.CacheTTL),
		metrics:     opts.Metrics,

		NPMRegistry:  "https://registry.npmjs.org",
		JSRRegistry:  "https://npm.jsr.io",
		JSDelivrAPI:  "https://data.jsdelivr.com/v1",
		CdnjsAPI:     "https://api.cdnjs.com",
		CdnjsFiles:   "https://cdnjs.cloudflare.com/ajax/libs",
		GitHubAPI:    "https://api.github.com",
		Codeload:     "https://codeload.github.com",
		RawContent:   "https://raw.githubusercontent.com",
		WPPluginsSVN: "https://plugins.svn.wordpress.org",
		WPThemesSVN:  "https://themes.svn.wordpress.org",
	}
}

// fetch performs a GET and classifies the failure modes: 404 becomes
// notFound, any other non-2xx or transport error becomes UpstreamUnavailable.
func (c *Client) fetch(ctx context.Context, client *http.Client, rawURL string, notFound error, github bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nexuserr.ErrBadRequest, err)
	}
	req.Header.Set("User-Agent", "nexus-gateway")
	if github && c.githubToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.githubToken)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if c.metrics != nil {
		host := req.URL.Host
		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		c.metrics.UpstreamRequestsTotal.WithLabelValues(host, status).Inc()
		c.metrics.UpstreamRequestDuration.WithLabelValues(host).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nexuserr.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", notFound, rawURL)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %d", nexuserr.ErrUpstreamUnavailable, rawURL, resp.StatusCode)
	}
}

// fetchCached returns the body of a metadata URL, memoized in the LRU.
func (c *Client) fetchCached(ctx context.Context, rawURL string, github bool) ([]byte, error) {
	if body, ok := c.metaCache.Get(rawURL); ok {
		return body, nil
	}

	resp, err := c.fetch(ctx, c.metaHTTP, rawURL, nexuserr.ErrPackageNotFound, github)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", nexuserr.ErrUpstreamUnavailable, err)
	}
	c.metaCache.Add(rawURL, body)
	return body, nil
}

// openArchive streams an archive URL with the long deadline.
func (c *Client) openArchive(ctx context.Context, rawURL string, github bool) (io.ReadCloser, error) {
	resp, err := c.fetch(ctx, c.archiveHTTP, rawURL, nexuserr.ErrPackageNotFound, github)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// openFile streams a single upstream file (WordPress SVN, cdnjs). A 404 maps
// to FileNotFound rather than PackageNotFound.
func (c *Client) openFile(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	resp, err := c.fetch(ctx, c.archiveHTTP, rawURL, nexuserr.ErrFileNotFound, false)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func pathEscapeSegments(p string) string {
	// Escape each segment but keep the separators.
	u := &url.URL{Path: p}
	return u.EscapedPath()
}
