package detector

import (
	"math"
	"sort"
)

// MaxValueLength is the longest evidence value kept in a result
const MaxValueLength = 100

// Result is one detected technology
type Result struct {
	Name          string     `json:"name"`
	Confidence    int        `json:"confidence"`
	EvidenceCount int        `json:"evidenceCount"`
	Evidence      []Evidence `json:"evidence"`
	Categories    []string   `json:"categories"`
}

// aggregate reduces the store into results ranked by confidence.
// Technologies with equal confidence keep the order they were first seen.
func aggregate(store *evidenceStore) []Result {
	results := make([]Result, 0, store.len())

	for _, name := range store.order {
		items := store.items[name]
		if len(items) == 0 {
			continue
		}

		total := 0
		evidence := make([]Evidence, len(items))
		for i, ev := range items {
			total += ev.Confidence
			ev.Value = truncate(ev.Value, MaxValueLength)
			evidence[i] = ev
		}

		confidence := int(math.Round(float64(total) / float64(len(items))))
		if confidence > 100 {
			confidence = 100
		}

		results = append(results, Result{
			Name:          name,
			Confidence:    confidence,
			EvidenceCount: len(items),
			Evidence:      evidence,
			Categories:    store.categories[name],
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	return results
}

// truncate cuts s to max characters and marks the cut with "..."
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
