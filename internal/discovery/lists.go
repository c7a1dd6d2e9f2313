// Package discovery downloads public proxy lists and runs them through the
// parser.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ResistanceIsUseless/ProxyJudge/internal/errors"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/logging"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/parser"
	"github.com/ResistanceIsUseless/ProxyJudge/internal/proxy"
)

// maxListBytes bounds one downloaded list
const maxListBytes = 10 << 20

// Format tells how a list body is parsed
type Format string

const (
	FormatAuto Format = ""     // by Content-Type, then by URL extension
	FormatText Format = "text" // free text, one or many proxies per line
	FormatHTML Format = "html" // tables of ip and port cells
)

// Source is one downloadable proxy list
type Source struct {
	Name   string
	URL    string
	Format Format
}

// ParseSources turns a comma separated list of URLs into sources named
// after their host. Blank entries are skipped.
func ParseSources(list string) ([]Source, error) {
	var sources []Source
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, errors.NewConfigError(errors.ErrorConfigInvalid, "proxy list source must be an http(s) URL", err).
				WithURL(raw)
		}
		sources = append(sources, Source{Name: u.Host, URL: raw})
	}
	return sources, nil
}

// Result is the outcome of fetching a set of sources
type Result struct {
	Proxies   []proxy.Proxy
	PerSource map[string]int
	Errors    []error
	Duration  time.Duration
}

// Fetcher downloads sources one after the other
type Fetcher struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
	extractor *parser.Extractor
	logger    *logging.Logger
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithClient replaces the HTTP client
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent sent to list hosts
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.userAgent = ua }
}

// WithInterval spaces downloads at least d apart
func WithInterval(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithExtractor sets the extractor, e.g. one with a credentials callback
func WithExtractor(e *parser.Extractor) Option {
	return func(f *Fetcher) { f.extractor = e }
}

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewFetcher creates a fetcher with a 30 second client timeout
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: "ProxyJudge (https://github.com/ResistanceIsUseless/ProxyJudge)",
		extractor: parser.NewExtractor(nil),
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads every source and returns the proxies found, deduplicated
// by address with the first source winning. limit <= 0 means no limit. A
// failing source is recorded in Result.Errors and the others still run.
func (f *Fetcher) Fetch(ctx context.Context, sources []Source, limit int) Result {
	start := time.Now()
	res := Result{PerSource: make(map[string]int, len(sources))}
	seen := make(map[string]bool)

	for _, src := range sources {
		if limit > 0 && len(res.Proxies) >= limit {
			break
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				res.Errors = append(res.Errors, err)
				break
			}
		}

		found, err := f.fetchOne(ctx, src)
		if err != nil {
			f.logger.Warn("Proxy list download failed", "source", src.Name, "error", err)
			res.Errors = append(res.Errors, err)
			continue
		}

		added := 0
		for _, p := range found {
			if seen[p.Address] {
				continue
			}
			if limit > 0 && len(res.Proxies) >= limit {
				break
			}
			seen[p.Address] = true
			res.Proxies = append(res.Proxies, p)
			added++
		}
		res.PerSource[src.Name] = added
		f.logger.Info("Proxy list downloaded", "source", src.Name, "found", len(found), "new", added)
	}

	res.Duration = time.Since(start)
	return res
}

func (f *Fetcher) fetchOne(ctx context.Context, src Source) ([]proxy.Proxy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, errors.NewHTTPError(errors.ErrorHTTPRequestFailed, "bad list URL", src.URL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.NewHTTPError(errors.ErrorHTTPRequestFailed, "list download failed", src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.NewHTTPError(errors.ErrorHTTPUnexpectedStatus,
			fmt.Sprintf("list host answered %d", resp.StatusCode), src.URL, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxListBytes))
	if err != nil {
		return nil, errors.NewHTTPError(errors.ErrorHTTPInvalidResponse, "list body unreadable", src.URL, err)
	}

	if formatOf(src, resp.Header.Get("Content-Type")) == FormatHTML {
		found, err := f.extractor.ExtractFromHTML(bytes.NewReader(body), 0)
		if err != nil {
			return nil, errors.NewHTTPError(errors.ErrorHTTPInvalidResponse, "list html unreadable", src.URL, err)
		}
		return found, nil
	}
	return f.extractor.ExtractProxies(string(body), 0), nil
}

func formatOf(src Source, contentType string) Format {
	if src.Format != FormatAuto {
		return src.Format
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "text/html", "application/xhtml+xml":
			return FormatHTML
		case "text/plain", "application/json":
			return FormatText
		}
	}
	if u, err := url.Parse(src.URL); err == nil {
		switch strings.ToLower(path.Ext(u.Path)) {
		case ".html", ".htm":
			return FormatHTML
		}
	}
	return FormatText
}
