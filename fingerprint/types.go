package fingerprint

import (
	"bytes"
	"encoding/json"
	"sort"

	"gopkg.in/yaml.v3"
)

// Matcher kinds as they are spelled in catalog files.
const (
	KindJSGlobals = "js_globals"
	KindScriptSrc = "script_src"
	KindMeta      = "meta"
	KindLinkHref  = "link_href"
	KindCookies   = "cookies"
	KindHTMLRegex = "html_regex"
)

// RawFingerprint matches one entry of a catalog file.
// Uses interface{} for fields that may be a single string or a list.
type RawFingerprint struct {
	Name       string       `json:"name" yaml:"name"`
	Categories interface{}  `json:"categories" yaml:"categories"`
	Confidence *int         `json:"confidence" yaml:"confidence"`
	Matchers   *RawMatchers `json:"matchers" yaml:"matchers"`
}

// RawMatchers holds the uncompiled matcher groups of a fingerprint
type RawMatchers struct {
	JSGlobals interface{}            `json:"js_globals" yaml:"js_globals"`
	ScriptSrc interface{}            `json:"script_src" yaml:"script_src"`
	Meta      map[string]interface{} `json:"meta" yaml:"meta"`
	LinkHref  interface{}            `json:"link_href" yaml:"link_href"`
	Cookies   interface{}            `json:"cookies" yaml:"cookies"`
	HTMLRegex interface{}            `json:"html_regex" yaml:"html_regex"`

	// MetaOrder is the order the meta keys were declared in
	MetaOrder []string `json:"-" yaml:"-"`
}

func (m *RawMatchers) UnmarshalJSON(data []byte) error {
	type plain RawMatchers
	if err := json.Unmarshal(data, (*plain)(m)); err != nil {
		return err
	}
	var doc struct {
		Meta json.RawMessage `json:"meta"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	m.MetaOrder = jsonObjectKeys(doc.Meta)
	return nil
}

func jsonObjectKeys(data json.RawMessage) []string {
	dec := json.NewDecoder(bytes.NewReader(data))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return keys
		}
		key, _ := tok.(string)
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

func (m *RawMatchers) UnmarshalYAML(value *yaml.Node) error {
	type plain RawMatchers
	if err := value.Decode((*plain)(m)); err != nil {
		return err
	}
	m.MetaOrder = nil
	if value.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		meta := value.Content[i+1]
		if value.Content[i].Value != KindMeta || meta.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(meta.Content); j += 2 {
			m.MetaOrder = append(m.MetaOrder, meta.Content[j].Value)
		}
	}
	return nil
}

// metaKeys returns the meta keys in declaration order. Keys missing from
// MetaOrder, as in catalogs built in code, follow in sorted order.
func (m *RawMatchers) metaKeys() []string {
	keys := make([]string, 0, len(m.Meta))
	seen := make(map[string]bool, len(m.Meta))
	for _, key := range m.MetaOrder {
		if _, ok := m.Meta[key]; ok && !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	var rest []string
	for key := range m.Meta {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

// Fingerprint is the compiled form of a technology definition
type Fingerprint struct {
	Name       string
	Categories []string
	// Confidence overrides every matcher kind's default when set.
	Confidence *int
	JSGlobals  []string
	ScriptSrc  []Pattern
	Meta       []MetaMatcher
	LinkHref   []Pattern
	Cookies    []string
	HTMLRegex  []Pattern
}

// MetaMatcher tests the content of meta tags whose name (or property) equals Key
type MetaMatcher struct {
	Key      string
	Patterns []Pattern
}

// CategoryList returns the categories, or ["Unknown"] when none are declared
func (f *Fingerprint) CategoryList() []string {
	if len(f.Categories) == 0 {
		return []string{"Unknown"}
	}
	return f.Categories
}

// Empty reports whether the fingerprint has no matchers of any kind
func (f *Fingerprint) Empty() bool {
	return len(f.JSGlobals) == 0 && len(f.ScriptSrc) == 0 && len(f.Meta) == 0 &&
		len(f.LinkHref) == 0 && len(f.Cookies) == 0 && len(f.HTMLRegex) == 0
}
