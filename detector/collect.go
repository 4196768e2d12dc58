package detector

import (
	"unicode/utf8"

	"github.com/veex0x01/stackscope/fingerprint"
	"github.com/veex0x01/stackscope/page"
)

// BodyLimit is how many characters of the body's HTML join the head for
// html_regex matching. Content past it is not scanned.
const BodyLimit = 5000

// collector runs one matcher kind of a fingerprint against the snapshot
type collector func(fp *fingerprint.Fingerprint, snap *page.Snapshot, store *evidenceStore)

func collectGlobals(fp *fingerprint.Fingerprint, snap *page.Snapshot, store *evidenceStore) {
	if snap.Globals == nil {
		return
	}
	for _, path := range fp.JSGlobals {
		if page.HasPath(snap.Globals, path) {
			store.add(fp, Evidence{
				Type:       KindJSGlobal,
				Value:      path,
				Confidence: confidenceFor(fp, KindJSGlobal),
			})
		}
	}
}

func collectScripts(fp *fingerprint.Fingerprint, snap *page.Snapshot, store *evidenceStore) {
	for _, p := range fp.ScriptSrc {
		for _, src := range snap.Scripts {
			if p.Match(src) {
				store.add(fp, Evidence{
					Type:       KindScriptSrc,
					Value:      src,
					Confidence: confidenceFor(fp, KindScriptSrc),
				})
			}
		}
	}
}

func collectMeta(fp *fingerprint.Fingerprint, snap *page.Snapshot, store *evidenceStore) {
	for _, m := range fp.Meta {
		for _, tag := range snap.Metas {
			if tag.Key() != m.Key || tag.Content == "" {
				continue
			}
			for _, p := range m.Patterns {
				if p.Match(tag.Content) {
					store.add(fp, Evidence{
						Type:       KindMeta,
						Value:      m.Key + "=" + tag.Content,
						Confidence: confidenceFor(fp, KindMeta),
					})
				}
			}
		}
	}
}

func collectLinks(fp *fingerprint.Fingerprint, snap *page.Snapshot, store *evidenceStore) {
	for _, p := range fp.LinkHref {
		for _, link := range snap.Links {
			if p.Match(link.Href) {
				store.add(fp, Evidence{
					Type:       KindLinkHref,
					Value:      link.Href,
					Confidence: confidenceFor(fp, KindLinkHref),
					Rel:        link.Rel,
				})
			}
		}
	}
}

func collectCookies(fp *fingerprint.Fingerprint, snap *page.Snapshot, store *evidenceStore) {
	if len(fp.Cookies) == 0 || snap.Cookie == "" {
		return
	}
	present := make(map[string]bool)
	for _, name := range page.CookieNames(snap.Cookie) {
		present[name] = true
	}
	for _, name := range fp.Cookies {
		if present[name] {
			store.add(fp, Evidence{
				Type:       KindCookie,
				Value:      name,
				Confidence: confidenceFor(fp, KindCookie),
			})
		}
	}
}

func collectHTML(blob string) collector {
	return func(fp *fingerprint.Fingerprint, snap *page.Snapshot, store *evidenceStore) {
		for _, p := range fp.HTMLRegex {
			if p.Match(blob) {
				store.add(fp, Evidence{
					Type:       KindHTMLPattern,
					Value:      p.Raw,
					Confidence: confidenceFor(fp, KindHTMLPattern),
				})
			}
		}
	}
}

// htmlBlob is the head plus the first BodyLimit characters of the body
func htmlBlob(snap *page.Snapshot) string {
	body := snap.Body
	if utf8.RuneCountInString(body) > BodyLimit {
		n := 0
		for i := range body {
			if n == BodyLimit {
				body = body[:i]
				break
			}
			n++
		}
	}
	return snap.Head + body
}
