// Package fetch downloads a single page and turns it into a snapshot for
// static detection.
package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/publicsuffix"

	"github.com/veex0x01/stackscope/page"
	"github.com/veex0x01/stackscope/reporting"
)

// Options control a Fetcher
type Options struct {
	Timeout    time.Duration
	UserAgent  string
	Proxy      string
	Cookie     string
	Headers    []string
	TLSProfile string // browser ClientHello for https; empty uses Go's TLS stack
	Insecure   bool
	Retries    int // extra attempts on 429 and 503
	MaxBody    int
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		Timeout: 15 * time.Second,
		Retries: 2,
		MaxBody: 10 * 1024 * 1024,
	}
}

// Response is a fetched page
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Snapshot   *page.Snapshot
}

// Fetcher performs one-page fetches. It never follows links.
type Fetcher struct {
	opts    Options
	profile Profile
	headers http.Header
	proxy   *url.URL
	logger  *reporting.Logger
	backoff time.Duration
}

// New validates opts and builds a Fetcher
func New(opts Options, logger *reporting.Logger) (*Fetcher, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = DefaultOptions().MaxBody
	}

	f := &Fetcher{
		opts:    opts,
		profile: DefaultProfile(),
		headers: ParseHeaders(opts.Headers),
		logger:  reporting.OrNop(logger).WithModule("fetch"),
		backoff: time.Second,
	}

	if opts.TLSProfile != "" {
		p, ok := LookupProfile(opts.TLSProfile)
		if !ok {
			return nil, fmt.Errorf("unknown TLS profile %q", opts.TLSProfile)
		}
		f.profile = p
	}
	if opts.UserAgent != "" {
		f.profile.UserAgent = opts.UserAgent
	}

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", opts.Proxy, err)
		}
		f.proxy = proxyURL
	}
	return f, nil
}

func (f *Fetcher) transport() http.RoundTripper {
	base := &http.Transport{
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: f.opts.Insecure},
		MaxIdleConns:        10,
		TLSHandshakeTimeout: f.opts.Timeout,
	}
	if f.proxy != nil {
		base.Proxy = http.ProxyURL(f.proxy)
		// uTLS dials directly, so a proxy keeps the standard stack
		return base
	}
	if f.opts.TLSProfile == "" {
		return base
	}
	return newUTLSTransport(f.profile.Hello, f.opts.Insecure, f.opts.Timeout, base)
}

// Fetch downloads rawURL and builds a snapshot from the response. Cookies
// set by the server are merged with the configured cookie header. Non-2xx
// pages are still parsed; rate limited responses are retried.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}

	wait := f.backoff
	for attempt := 0; ; attempt++ {
		resp, err := f.fetchOnce(ctx, target)
		if err != nil {
			return nil, err
		}
		if !retryable(resp.StatusCode) || attempt >= f.opts.Retries {
			return resp, nil
		}

		if after := retryAfter(resp.Headers); after > 0 {
			wait = after
		}
		f.logger.Warn("%s returned %d, retrying in %s", rawURL, resp.StatusCode, wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, target *url.URL) (*Response, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	c := colly.NewCollector(
		colly.IgnoreRobotsTxt(),
		colly.MaxDepth(1),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(f.opts.MaxBody),
	)
	c.SetRequestTimeout(f.opts.Timeout)
	c.WithTransport(&contextTransport{ctx: ctx, base: f.transport()})
	c.SetCookieJar(jar)
	c.UserAgent = f.profile.UserAgent

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		f.profile.Apply(*r.Headers)
		for key, values := range f.headers {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
		if f.opts.Cookie != "" {
			r.Headers.Set("Cookie", f.opts.Cookie)
		}
	})

	var (
		result  *Response
		lastErr error
	)
	c.OnResponse(func(r *colly.Response) {
		result = &Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    cloneHeader(r.Headers),
			Body:       r.Body,
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		lastErr = err
	})

	start := time.Now()
	if err := c.Visit(target.String()); err != nil && result == nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("fetching %s: %w", target, err)
	}
	if result == nil {
		if lastErr == nil {
			lastErr = errors.New("no response")
		}
		return nil, fmt.Errorf("fetching %s: %w", target, lastErr)
	}

	snap, err := page.FromBytes(result.Body, result.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", result.URL, err)
	}
	final, _ := url.Parse(result.URL)
	snap.Cookie = page.MergeCookies(f.opts.Cookie, page.CookieHeader(jar.Cookies(final)))
	result.Snapshot = snap

	f.logger.Debug("Fetched %s (%d, %d bytes) in %s", result.URL, result.StatusCode,
		len(result.Body), time.Since(start).Round(time.Millisecond))
	return result, nil
}

// Source exposes repeated fetches of rawURL as a page.Source
func (f *Fetcher) Source(rawURL string) page.Source {
	return page.SourceFunc(func(ctx context.Context) (*page.Snapshot, error) {
		resp, err := f.Fetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		return resp.Snapshot, nil
	})
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}

func cloneHeader(h *http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
