package detector

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/veex0x01/stackscope/page"
)

// Report wraps the results of a pass with the page they came from
type Report struct {
	URL          string    `json:"url"`
	Title        string    `json:"title,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Technologies []Result  `json:"technologies"`
}

// NewReport stamps results with the snapshot's URL and title
func NewReport(snap *page.Snapshot, results []Result) Report {
	r := Report{
		Timestamp:    time.Now().UTC(),
		Technologies: results,
	}
	if snap != nil {
		r.URL = snap.URL
		r.Title = snap.Title
	}
	return r
}

// Names lists the detected technology names in ranked order
func (r Report) Names() []string {
	names := make([]string, len(r.Technologies))
	for i, t := range r.Technologies {
		names[i] = t.Name
	}
	return names
}

// Threshold drops results below min confidence, keeping order
func Threshold(results []Result, min int) []Result {
	if min <= 0 {
		return results
	}
	kept := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Confidence >= min {
			kept = append(kept, r)
		}
	}
	return kept
}

// Sort orders accepted by SortBy
const (
	SortConfidence = "confidence"
	SortName       = "name"
	SortCategory   = "category"
)

// SortBy returns a copy of results reordered for display. "confidence"
// keeps the ranked order.
func SortBy(results []Result, mode string) ([]Result, error) {
	sorted := append([]Result(nil), results...)

	switch strings.ToLower(mode) {
	case "", SortConfidence:
	case SortName:
		sort.SliceStable(sorted, func(i, j int) bool {
			return strings.ToLower(sorted[i].Name) < strings.ToLower(sorted[j].Name)
		})
	case SortCategory:
		sort.SliceStable(sorted, func(i, j int) bool {
			return strings.ToLower(firstCategory(sorted[i])) < strings.ToLower(firstCategory(sorted[j]))
		})
	default:
		return nil, fmt.Errorf("unknown sort order %q", mode)
	}
	return sorted, nil
}

func firstCategory(r Result) string {
	if len(r.Categories) == 0 {
		return "Unknown"
	}
	return r.Categories[0]
}
