package fingerprint

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed fingerprints.json
var defaultCatalog []byte

// ErrUnknownFormat is returned for catalog files that are neither JSON nor YAML
var ErrUnknownFormat = errors.New("unknown catalog format")

// Format of a catalog document
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFromPath picks the catalog format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return 0, fmt.Errorf("%s: %w", path, ErrUnknownFormat)
}

// CompileError records a pattern that could not be compiled.
// The pattern is dropped, the rest of its fingerprint is kept.
type CompileError struct {
	Fingerprint string
	Kind        string
	Pattern     string
	Err         error
}

func (e *CompileError) Error() string {
	if e.Pattern == "" {
		return fmt.Sprintf("%s: %s: %v", e.Fingerprint, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s pattern %q: %v", e.Fingerprint, e.Kind, e.Pattern, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Catalog is an ordered, read-only collection of compiled fingerprints
type Catalog struct {
	Source       string
	Fingerprints []*Fingerprint
	Errors       []*CompileError
}

type rawCatalog struct {
	Technologies []RawFingerprint `json:"technologies" yaml:"technologies"`
}

// Default returns the catalog embedded in the binary
func Default() (*Catalog, error) {
	cat, err := Parse(defaultCatalog, FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("embedded catalog: %w", err)
	}
	cat.Source = "embedded"
	return cat, nil
}

// Load reads and compiles a catalog file
func Load(path string) (*Catalog, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	cat, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cat.Source = path
	return cat, nil
}

// Parse decodes a catalog document. Both {"technologies": [...]} and a bare
// list of fingerprints are accepted.
func Parse(data []byte, format Format) (*Catalog, error) {
	var raws []RawFingerprint

	switch format {
	case FormatJSON:
		trimmed := bytes.TrimSpace(data)
		if bytes.HasPrefix(trimmed, []byte("[")) {
			if err := json.Unmarshal(trimmed, &raws); err != nil {
				return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
			}
		} else {
			var rc rawCatalog
			if err := json.Unmarshal(trimmed, &rc); err != nil {
				return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
			}
			raws = rc.Technologies
		}

	case FormatYAML:
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
		}
		if len(node.Content) > 0 && node.Content[0].Kind == yaml.SequenceNode {
			if err := node.Decode(&raws); err != nil {
				return nil, fmt.Errorf("failed to decode catalog YAML: %w", err)
			}
		} else if len(node.Content) > 0 {
			var rc rawCatalog
			if err := node.Decode(&rc); err != nil {
				return nil, fmt.Errorf("failed to decode catalog YAML: %w", err)
			}
			raws = rc.Technologies
		}

	default:
		return nil, ErrUnknownFormat
	}

	return Compile(raws), nil
}

// Compile turns raw fingerprints into a catalog. It never fails: bad
// patterns and unnamed entries are reported in Catalog.Errors.
func Compile(raws []RawFingerprint) *Catalog {
	cat := &Catalog{
		Fingerprints: make([]*Fingerprint, 0, len(raws)),
	}

	for i := range raws {
		raw := &raws[i]
		if strings.TrimSpace(raw.Name) == "" {
			cat.Errors = append(cat.Errors, &CompileError{
				Fingerprint: fmt.Sprintf("#%d", i),
				Kind:        "name",
				Err:         errors.New("missing name"),
			})
			continue
		}
		cat.Fingerprints = append(cat.Fingerprints, cat.compileOne(raw))
	}

	return cat
}

func (c *Catalog) compileOne(raw *RawFingerprint) *Fingerprint {
	fp := &Fingerprint{
		Name:       raw.Name,
		Categories: toStringSlice(raw.Categories),
		Confidence: raw.Confidence,
	}

	m := raw.Matchers
	if m == nil {
		return fp
	}

	fp.JSGlobals = toStringSlice(m.JSGlobals)
	fp.Cookies = toStringSlice(m.Cookies)
	fp.ScriptSrc = c.toPatterns(fp.Name, KindScriptSrc, toStringSlice(m.ScriptSrc))
	fp.LinkHref = c.toPatterns(fp.Name, KindLinkHref, toStringSlice(m.LinkHref))
	fp.HTMLRegex = c.toPatterns(fp.Name, KindHTMLRegex, toStringSlice(m.HTMLRegex))

	for _, key := range m.metaKeys() {
		patterns := c.toPatterns(fp.Name, KindMeta, toStringSlice(m.Meta[key]))
		if len(patterns) > 0 {
			fp.Meta = append(fp.Meta, MetaMatcher{Key: key, Patterns: patterns})
		}
	}

	return fp
}

func (c *Catalog) toPatterns(name, kind string, raws []string) []Pattern {
	if len(raws) == 0 {
		return nil
	}
	patterns := make([]Pattern, 0, len(raws))
	for _, raw := range raws {
		p, err := ParsePattern(raw)
		if err != nil {
			c.Errors = append(c.Errors, &CompileError{
				Fingerprint: name,
				Kind:        kind,
				Pattern:     raw,
				Err:         err,
			})
			continue
		}
		patterns = append(patterns, p)
	}
	return patterns
}

// Len returns the number of fingerprints
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Fingerprints)
}

// Lookup returns the first fingerprint with the given name
func (c *Catalog) Lookup(name string) *Fingerprint {
	for _, fp := range c.Fingerprints {
		if fp.Name == name {
			return fp
		}
	}
	return nil
}

// GlobalPaths lists every distinct js_globals path in catalog order
func (c *Catalog) GlobalPaths() []string {
	seen := make(map[string]bool)
	var paths []string
	for _, fp := range c.Fingerprints {
		for _, path := range fp.JSGlobals {
			if !seen[path] {
				seen[path] = true
				paths = append(paths, path)
			}
		}
	}
	return paths
}

// toStringSlice normalizes interface{} -> []string
func toStringSlice(v interface{}) []string {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case string:
		return []string{val}
	case []string:
		return val
	case []interface{}:
		result := make([]string, 0, len(val))
		for _, item := range val {
			switch s := item.(type) {
			case string:
				result = append(result, s)
			case float64, int:
				result = append(result, fmt.Sprint(s))
			}
		}
		return result
	}
	return nil
}
