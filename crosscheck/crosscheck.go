// Package crosscheck compares detection results with wappalyzergo's
// fingerprint set over the same response.
package crosscheck

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	wappalyzer "github.com/projectdiscovery/wappalyzergo"

	"github.com/veex0x01/stackscope/detector"
)

// Checker wraps a wappalyzergo client
type Checker struct {
	client *wappalyzer.Wappalyze
}

// New loads wappalyzergo's embedded fingerprints
func New() (*Checker, error) {
	client, err := wappalyzer.New()
	if err != nil {
		return nil, fmt.Errorf("loading wappalyzer fingerprints: %w", err)
	}
	return &Checker{client: client}, nil
}

// Detect returns the sorted technology names wappalyzergo finds in a
// response, without version suffixes
func (c *Checker) Detect(headers http.Header, body []byte) []string {
	found := c.client.Fingerprint(headers, body)

	seen := make(map[string]bool, len(found))
	names := make([]string, 0, len(found))
	for tech := range found {
		name := stripVersion(tech)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// "WordPress:6.4" -> "WordPress"
func stripVersion(tech string) string {
	if i := strings.LastIndex(tech, ":"); i > 0 {
		return tech[:i]
	}
	return tech
}

// Comparison splits technology names by which side detected them
type Comparison struct {
	Both       []string `json:"both"`
	OnlyOurs   []string `json:"onlyOurs"`
	OnlyTheirs []string `json:"onlyTheirs"`
}

// Agreement is the share of all names found by both sides
func (c Comparison) Agreement() float64 {
	total := len(c.Both) + len(c.OnlyOurs) + len(c.OnlyTheirs)
	if total == 0 {
		return 1
	}
	return float64(len(c.Both)) / float64(total)
}

// Compare matches names case-insensitively. Names keep the spelling of the
// side they came from; Both uses ours.
func Compare(ours []detector.Result, theirs []string) Comparison {
	theirSet := make(map[string]string, len(theirs))
	for _, name := range theirs {
		theirSet[strings.ToLower(name)] = name
	}

	cmp := Comparison{Both: []string{}, OnlyOurs: []string{}, OnlyTheirs: []string{}}
	matched := make(map[string]bool)
	for _, r := range ours {
		key := strings.ToLower(r.Name)
		if matched[key] {
			continue
		}
		if _, ok := theirSet[key]; ok {
			cmp.Both = append(cmp.Both, r.Name)
			matched[key] = true
		} else {
			cmp.OnlyOurs = append(cmp.OnlyOurs, r.Name)
			matched[key] = true
		}
	}
	for _, name := range theirs {
		key := strings.ToLower(name)
		if !matched[key] {
			cmp.OnlyTheirs = append(cmp.OnlyTheirs, name)
			matched[key] = true
		}
	}

	sort.Strings(cmp.Both)
	sort.Strings(cmp.OnlyOurs)
	sort.Strings(cmp.OnlyTheirs)
	return cmp
}
