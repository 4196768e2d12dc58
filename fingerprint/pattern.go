package fingerprint

import (
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// PatternKind tells literal patterns from regular expressions
type PatternKind int

const (
	Literal PatternKind = iota
	Regex
)

func (k PatternKind) String() string {
	if k == Regex {
		return "regex"
	}
	return "literal"
}

// MatchTimeout bounds a single pattern evaluation
var MatchTimeout = 100 * time.Millisecond

// Pattern is a literal substring or a /body/flags regular expression,
// compiled once when the catalog is loaded.
type Pattern struct {
	Kind   PatternKind
	Source string
	Flags  string
	Raw    string
	re     *regexp2.Regexp
}

// ParsePattern parses a raw pattern string like "/jquery[.-]([\d.]+)/i" or "cdn.example.com"
func ParsePattern(raw string) (Pattern, error) {
	p := Pattern{
		Kind:   Literal,
		Source: raw,
		Raw:    raw,
	}

	if strings.HasPrefix(raw, "/") {
		if last := strings.LastIndex(raw, "/"); last > 0 {
			p.Kind = Regex
			p.Source = raw[1:last]
			p.Flags = raw[last+1:]
		}
	}

	re, err := p.compile()
	if err != nil {
		return p, err
	}
	p.re = re
	return p, nil
}

// MustPattern is ParsePattern for patterns known to be valid
func MustPattern(raw string) Pattern {
	p, err := ParsePattern(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Pattern) compile() (*regexp2.Regexp, error) {
	expr := p.Source
	opts := regexp2.None

	if p.Kind == Literal {
		expr = regexp2.Escape(p.Source)
		opts = regexp2.IgnoreCase
	} else {
		// catalogs are written against JavaScript regex semantics
		opts = regexp2.ECMAScript
		for _, flag := range p.Flags {
			switch flag {
			case 'i':
				opts |= regexp2.IgnoreCase
			case 'm':
				opts |= regexp2.Multiline
			case 's':
				opts |= regexp2.Singleline
			case 'u':
				opts |= regexp2.Unicode
			case 'g', 'y':
				// no effect on a boolean test
			default:
				return nil, fmt.Errorf("unsupported flag %q in %s", flag, p.Raw)
			}
		}
	}

	re, err := regexp2.Compile(expr, opts)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", p.Raw, err)
	}
	re.MatchTimeout = MatchTimeout
	return re, nil
}

// Match reports whether the pattern occurs in text.
// Uncompiled patterns and timed out evaluations never match.
func (p Pattern) Match(text string) bool {
	if p.re == nil {
		return false
	}
	ok, err := p.re.MatchString(text)
	return err == nil && ok
}

func (p Pattern) String() string {
	return p.Raw
}
