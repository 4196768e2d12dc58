package page

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoProperty is returned by Get for keys the bag does not hold
var ErrNoProperty = errors.New("no such property")

// PropertyBag is a read-only view over an object of the page's global
// scope. Values returned by Get that are themselves traversable implement
// PropertyBag; anything else ends a path walk.
type PropertyBag interface {
	Has(key string) bool
	Get(key string) (any, error)
}

// HasPath walks a dotted path like "jQuery.fn.jquery" from root.
// Every segment must exist on a traversable value; the value of the last
// segment is not inspected. Faults inside a bag count as "not present".
func HasPath(root PropertyBag, path string) bool {
	if root == nil || path == "" {
		return false
	}

	var current any = root
	for _, part := range strings.Split(path, ".") {
		next, ok := step(current, part)
		if !ok {
			return false
		}
		current = next
	}
	return true
}

func step(current any, key string) (value any, ok bool) {
	defer func() {
		if recover() != nil {
			value, ok = nil, false
		}
	}()

	bag, isBag := current.(PropertyBag)
	if !isBag || bag == nil || !bag.Has(key) {
		return nil, false
	}
	v, err := bag.Get(key)
	if err != nil {
		return nil, false
	}
	return v, true
}

// MapBag is a PropertyBag over decoded JSON or YAML objects.
// Nested map[string]any values are traversable.
type MapBag map[string]any

func (m MapBag) Has(key string) bool {
	_, ok := m[key]
	return ok
}

func (m MapBag) Get(key string) (any, error) {
	v, ok := m[key]
	if !ok {
		return nil, ErrNoProperty
	}
	if nested, ok := v.(map[string]any); ok {
		return MapBag(nested), nil
	}
	return v, nil
}

// LoadGlobals reads a JSON object describing the page's global scope
func LoadGlobals(path string) (MapBag, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read globals %s: %w", path, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse globals %s: %w", path, err)
	}
	return MapBag(m), nil
}

// PathBag answers for a fixed set of paths already known to exist,
// as reported by an in-page probe. Every prefix of a known path is
// traversable.
type PathBag struct {
	prefix string
	paths  map[string]struct{}
}

// NewPathBag builds a bag from the paths that exist on the page
func NewPathBag(paths []string) *PathBag {
	set := make(map[string]struct{})
	for _, path := range paths {
		parts := strings.Split(path, ".")
		for i := range parts {
			set[strings.Join(parts[:i+1], ".")] = struct{}{}
		}
	}
	return &PathBag{paths: set}
}

func (b *PathBag) full(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + "." + key
}

func (b *PathBag) Has(key string) bool {
	_, ok := b.paths[b.full(key)]
	return ok
}

func (b *PathBag) Get(key string) (any, error) {
	full := b.full(key)
	if _, ok := b.paths[full]; !ok {
		return nil, ErrNoProperty
	}
	return &PathBag{prefix: full, paths: b.paths}, nil
}

// Len returns the number of known paths, prefixes included
func (b *PathBag) Len() int {
	return len(b.paths)
}
