package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/veex0x01/stackscope/page"
	"github.com/veex0x01/stackscope/reporting"
)

// Session is one open tab. It is a page.Source and, through Subscribe, a
// mutation source for detector.Watcher.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	url    string
	logger *reporting.Logger

	mu    sync.Mutex
	paths []string
	sub   *subscription
	bound bool
	// listening is set once the binding listener is registered on ctx
	listening bool
}

func newSession(ctx context.Context, cancel context.CancelFunc, url string, logger *reporting.Logger) *Session {
	return &Session{
		ctx:    ctx,
		cancel: cancel,
		url:    url,
		logger: logger,
	}
}

// SetGlobalPaths sets the dotted paths probed in the page's global scope on
// each snapshot, usually fingerprint.Catalog.GlobalPaths()
func (s *Session) SetGlobalPaths(paths []string) {
	s.mu.Lock()
	s.paths = append([]string(nil), paths...)
	s.mu.Unlock()
}

// Close ends any mutation subscription and closes the tab
func (s *Session) Close() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()
	if sub != nil {
		sub.active.Store(false)
	}
	s.cancel()
}

// run executes actions in the tab, stopping early when ctx is done
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

type rawMeta struct {
	Name     string `json:"name"`
	Property string `json:"property"`
	Content  string `json:"content"`
}

type rawLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type rawPage struct {
	URL     string    `json:"url"`
	Title   string    `json:"title"`
	Scripts []string  `json:"scripts"`
	Metas   []rawMeta `json:"metas"`
	Links   []rawLink `json:"links"`
	Cookie  string    `json:"cookie"`
	Head    string    `json:"head"`
	Body    string    `json:"body"`
}

// script and link properties are read, not attributes, so URLs come back
// absolute
const extractJS = `
(function() {
	var out = {url: location.href, title: document.title || '', scripts: [], metas: [], links: [], cookie: '', head: '', body: ''};
	try {
		var scripts = document.querySelectorAll('script[src]');
		for (var i = 0; i < scripts.length; i++) {
			if (scripts[i].src) out.scripts.push(scripts[i].src);
		}
	} catch (e) {}
	try {
		var metas = document.querySelectorAll('meta');
		for (var i = 0; i < metas.length; i++) {
			var m = metas[i];
			if (!m.getAttribute('name') && !m.getAttribute('property')) continue;
			out.metas.push({
				name: m.getAttribute('name') || '',
				property: m.getAttribute('property') || '',
				content: m.getAttribute('content') || ''
			});
		}
	} catch (e) {}
	try {
		var links = document.querySelectorAll('link[href]');
		for (var i = 0; i < links.length; i++) {
			out.links.push({href: links[i].href, rel: links[i].rel || ''});
		}
	} catch (e) {}
	try { out.cookie = document.cookie || ''; } catch (e) {}
	out.head = document.head ? document.head.innerHTML : '';
	out.body = document.body ? document.body.innerHTML : '';
	return out;
})()
`

// globalsJS walks each dotted path from window by property membership
func globalsJS(paths []string) (string, error) {
	data, err := json.Marshal(paths)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`
(function(paths) {
	var found = [];
	for (var i = 0; i < paths.length; i++) {
		try {
			var parts = paths[i].split('.');
			var obj = window;
			var ok = true;
			for (var p = 0; p < parts.length; p++) {
				if (obj && typeof obj === 'object' && parts[p] in obj) {
					obj = obj[parts[p]];
				} else {
					ok = false;
					break;
				}
			}
			if (ok) found.push(paths[i]);
		} catch (e) {}
	}
	return found;
})(%s)
`, data), nil
}

// Snapshot captures the tab's current state
func (s *Session) Snapshot(ctx context.Context) (*page.Snapshot, error) {
	s.mu.Lock()
	paths := s.paths
	s.mu.Unlock()

	var raw rawPage
	if err := s.run(ctx, chromedp.Evaluate(extractJS, &raw)); err != nil {
		return nil, fmt.Errorf("extracting page state: %w", err)
	}

	var present []string
	if len(paths) > 0 {
		probe, err := globalsJS(paths)
		if err != nil {
			return nil, fmt.Errorf("encoding global paths: %w", err)
		}
		if err := s.run(ctx, chromedp.Evaluate(probe, &present)); err != nil {
			s.logger.Warn("Global probe failed: %v", err)
			present = nil
		}
	}

	snap := raw.snapshot(present)
	if snap.URL == "" {
		snap.URL = s.url
	}
	return snap, nil
}

func (r *rawPage) snapshot(present []string) *page.Snapshot {
	snap := &page.Snapshot{
		URL:     r.URL,
		Title:   r.Title,
		Globals: page.NewPathBag(present),
		Scripts: r.Scripts,
		Cookie:  r.Cookie,
		Head:    r.Head,
		Body:    r.Body,
	}
	for _, m := range r.Metas {
		snap.Metas = append(snap.Metas, page.Meta{Name: m.Name, Property: m.Property, Content: m.Content})
	}
	for _, l := range r.Links {
		snap.Links = append(snap.Links, page.Link{Href: l.Href, Rel: l.Rel})
	}
	return snap
}
