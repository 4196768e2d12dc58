// Package detector matches a fingerprint catalog against a page snapshot
// and ranks the technologies it finds.
package detector

import (
	"time"

	"github.com/veex0x01/stackscope/fingerprint"
	"github.com/veex0x01/stackscope/page"
	"github.com/veex0x01/stackscope/reporting"
)

// Detector runs detection passes. It holds no per-pass state, so one
// instance may serve several pages.
type Detector struct {
	logger *reporting.Logger
}

// New creates a Detector; a nil logger discards output
func New(logger *reporting.Logger) *Detector {
	return &Detector{
		logger: reporting.OrNop(logger).WithModule("detector"),
	}
}

// Detect runs one full pass of every matcher kind over every fingerprint
// and returns the ranked results. Kinds run in a fixed order (globals,
// scripts, meta, links, cookies, html) which decides tie-breaks.
func (d *Detector) Detect(cat *fingerprint.Catalog, snap *page.Snapshot) []Result {
	if cat.Len() == 0 || snap == nil {
		return []Result{}
	}

	start := time.Now()
	store := newEvidenceStore()

	collectors := []collector{
		collectGlobals,
		collectScripts,
		collectMeta,
		collectLinks,
		collectCookies,
		collectHTML(htmlBlob(snap)),
	}
	for _, collect := range collectors {
		for _, fp := range cat.Fingerprints {
			collect(fp, snap, store)
		}
	}

	results := aggregate(store)
	d.logger.Debug("Pass over %s: %d technologies from %d fingerprints in %s",
		snap.URL, len(results), cat.Len(), time.Since(start).Round(time.Microsecond))
	return results
}

// Detect runs a pass without logging
func Detect(cat *fingerprint.Catalog, snap *page.Snapshot) []Result {
	return New(nil).Detect(cat, snap)
}
