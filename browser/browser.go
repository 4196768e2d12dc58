// Package browser drives headless Chrome to snapshot live pages and to
// stream their DOM mutations.
package browser

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/security"
	"github.com/chromedp/chromedp"

	"github.com/veex0x01/stackscope/reporting"
)

// Options for browser and page behavior
type Options struct {
	ChromePath string
	Headless   bool
	Wait       time.Duration // settle time after load before the first snapshot
	Timeout    time.Duration // navigation timeout
	UserAgent  string
	Proxy      string
	Headers    map[string]string
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		Headless: true,
		Wait:     time.Second,
		Timeout:  30 * time.Second,
	}
}

// Browser manages a headless Chrome instance
type Browser struct {
	opts        Options
	logger      *reporting.Logger
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc
}

// New launches Chrome. The process starts lazily with the first tab.
func New(opts Options, logger *reporting.Logger) (*Browser, error) {
	logger = reporting.OrNop(logger).WithModule("browser")

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	chromePath := opts.ChromePath
	if chromePath == "" {
		chromePath = findChrome()
	}
	if chromePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(chromePath))
	}
	if opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	ctx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(s string, i ...interface{}) { logger.Debug(s, i...) }),
		chromedp.WithLogf(func(s string, i ...interface{}) {}),
	)

	// start the browser now so a missing binary fails here
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	return &Browser{
		opts:        opts,
		logger:      logger,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Close shuts down the browser
func (b *Browser) Close() {
	b.cancel()
	b.allocCancel()
}

// Open navigates a new tab to targetURL and waits for it to settle. The
// session keeps the tab open until Close.
func (b *Browser) Open(ctx context.Context, targetURL string) (*Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.ctx)

	setup := []chromedp.Action{
		network.Enable(),
		security.SetIgnoreCertificateErrors(true),
	}
	if len(b.opts.Headers) > 0 {
		hdrs := make(network.Headers, len(b.opts.Headers))
		for k, v := range b.opts.Headers {
			hdrs[k] = v
		}
		setup = append(setup, network.SetExtraHTTPHeaders(hdrs))
	}
	if b.opts.UserAgent != "" {
		setup = append(setup, emulation.SetUserAgentOverride(b.opts.UserAgent))
	}
	if err := chromedp.Run(tabCtx, setup...); err != nil {
		tabCancel()
		return nil, fmt.Errorf("network setup failed: %w", err)
	}

	timeout := b.opts.Timeout
	if timeout <= 0 {
		timeout = DefaultOptions().Timeout
	}
	navCtx, navCancel := context.WithTimeout(tabCtx, timeout)
	defer navCancel()
	stop := context.AfterFunc(ctx, navCancel)
	defer stop()

	start := time.Now()
	if err := chromedp.Run(navCtx, chromedp.Navigate(targetURL)); err != nil {
		tabCancel()
		return nil, fmt.Errorf("navigation failed: %w", err)
	}
	if b.opts.Wait > 0 {
		if err := chromedp.Run(navCtx, chromedp.Sleep(b.opts.Wait)); err != nil {
			tabCancel()
			return nil, fmt.Errorf("waiting for %s: %w", targetURL, err)
		}
	}
	b.logger.Debug("Loaded %s in %s", targetURL, time.Since(start).Round(time.Millisecond))

	return newSession(tabCtx, tabCancel, targetURL, b.logger), nil
}

// findChrome returns the path to a Chrome/Chromium binary, preferring
// non-snap installations. Checks CHROME_PATH env var first.
func findChrome() string {
	if p := os.Getenv("CHROME_PATH"); p != "" {
		return p
	}

	candidates := []string{
		"google-chrome-stable",
		"google-chrome",
		"chromium-browser",
		"chromium",
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			if strings.HasPrefix(path, "/snap") {
				continue
			}
			return path
		}
	}
	return ""
}
