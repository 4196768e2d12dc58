package detector

import "github.com/veex0x01/stackscope/fingerprint"

// Kind names the channel a piece of evidence was observed on
type Kind string

const (
	KindJSGlobal    Kind = "js_global"
	KindScriptSrc   Kind = "script_src"
	KindMeta        Kind = "meta"
	KindLinkHref    Kind = "link_href"
	KindCookie      Kind = "cookie"
	KindHTMLPattern Kind = "html_pattern"
)

// DefaultConfidence is used for fingerprints that declare no confidence
var DefaultConfidence = map[Kind]int{
	KindJSGlobal:    80,
	KindScriptSrc:   90,
	KindMeta:        85,
	KindLinkHref:    75,
	KindCookie:      70,
	KindHTMLPattern: 60,
}

// Evidence is one observed signal supporting a technology
type Evidence struct {
	Type       Kind   `json:"type"`
	Value      string `json:"value"`
	Confidence int    `json:"confidence"`
	Rel        string `json:"rel,omitempty"`
}

func confidenceFor(fp *fingerprint.Fingerprint, kind Kind) int {
	if fp.Confidence != nil && *fp.Confidence != 0 {
		return *fp.Confidence
	}
	return DefaultConfidence[kind]
}

// evidenceStore accumulates evidence per technology name for one pass,
// remembering the order in which technologies were first seen.
type evidenceStore struct {
	order      []string
	items      map[string][]Evidence
	categories map[string][]string
}

func newEvidenceStore() *evidenceStore {
	return &evidenceStore{
		items:      make(map[string][]Evidence),
		categories: make(map[string][]string),
	}
}

func (s *evidenceStore) add(fp *fingerprint.Fingerprint, ev Evidence) {
	if _, ok := s.items[fp.Name]; !ok {
		s.order = append(s.order, fp.Name)
		s.categories[fp.Name] = fp.CategoryList()
	}
	s.items[fp.Name] = append(s.items[fp.Name], ev)
}

func (s *evidenceStore) len() int {
	return len(s.order)
}
