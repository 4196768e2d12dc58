// Package output renders detection reports for terminals and files.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/veex0x01/stackscope/crosscheck"
	"github.com/veex0x01/stackscope/detector"
	"github.com/veex0x01/stackscope/monitor"
)

// Colors for output
var (
	ColorRed     = color.New(color.FgRed, color.Bold)
	ColorGreen   = color.New(color.FgGreen, color.Bold)
	ColorYellow  = color.New(color.FgYellow, color.Bold)
	ColorBlue    = color.New(color.FgBlue, color.Bold)
	ColorMagenta = color.New(color.FgMagenta, color.Bold)
	ColorCyan    = color.New(color.FgCyan, color.Bold)
	ColorWhite   = color.New(color.FgWhite, color.Bold)
	ColorDim     = color.New(color.FgHiBlack)
)

// EvidencePreview is how many evidence items are listed per technology
const EvidencePreview = 3

// Printer writes colored reports to a terminal
type Printer struct {
	w       io.Writer
	preview int
}

// NewPrinter writes to w; nil means color.Output
func NewPrinter(w io.Writer) *Printer {
	if w == nil {
		w = color.Output
	}
	return &Printer{w: w, preview: EvidencePreview}
}

func confidenceColor(c int) *color.Color {
	switch {
	case c >= 80:
		return ColorGreen
	case c >= 50:
		return ColorYellow
	}
	return ColorRed
}

// PrintReport lists every technology with its confidence, categories and
// the first few evidence items
func (p *Printer) PrintReport(report detector.Report) {
	ColorCyan.Fprintf(p.w, "[*] ")
	fmt.Fprintf(p.w, "%s", report.URL)
	if report.Title != "" {
		ColorDim.Fprintf(p.w, " (%s)", report.Title)
	}
	fmt.Fprintln(p.w)

	if len(report.Technologies) == 0 {
		ColorYellow.Fprintf(p.w, "[!] ")
		fmt.Fprintln(p.w, "No technologies detected")
		return
	}

	for _, r := range report.Technologies {
		confidenceColor(r.Confidence).Fprintf(p.w, "[%3d%%] ", r.Confidence)
		ColorWhite.Fprintf(p.w, "%s", r.Name)
		if len(r.Categories) > 0 {
			ColorMagenta.Fprintf(p.w, " [%s]", strings.Join(r.Categories, ", "))
		}
		ColorDim.Fprintf(p.w, " %d evidence\n", r.EvidenceCount)

		for i, ev := range r.Evidence {
			if i == p.preview {
				ColorDim.Fprintf(p.w, "       ... and %d more\n", len(r.Evidence)-p.preview)
				break
			}
			ColorBlue.Fprintf(p.w, "       %s: ", ev.Type)
			fmt.Fprintln(p.w, ev.Value)
		}
	}
	ColorGreen.Fprintf(p.w, "[+] ")
	fmt.Fprintf(p.w, "%d technologies detected\n", len(report.Technologies))
}

// PrintChange shows a rescan diff
func (p *Printer) PrintChange(change monitor.Change) {
	if change.Empty() {
		return
	}
	ColorYellow.Fprintf(p.w, "[~] ")
	fmt.Fprintf(p.w, "Stack changed")
	if change.URL != "" {
		fmt.Fprintf(p.w, " on %s", change.URL)
	}
	fmt.Fprintln(p.w)
	for _, r := range change.Added {
		ColorGreen.Fprintf(p.w, "    + ")
		fmt.Fprintf(p.w, "%s (%d%%)\n", r.Name, r.Confidence)
	}
	for _, r := range change.Removed {
		ColorRed.Fprintf(p.w, "    - ")
		fmt.Fprintf(p.w, "%s\n", r.Name)
	}
	for _, s := range change.Shifted {
		ColorYellow.Fprintf(p.w, "    ~ ")
		fmt.Fprintf(p.w, "%s %d%% -> %d%%\n", s.Name, s.From, s.To)
	}
}

// PrintComparison shows how results line up with wappalyzergo's
func (p *Printer) PrintComparison(cmp crosscheck.Comparison) {
	ColorCyan.Fprintf(p.w, "[*] ")
	fmt.Fprintf(p.w, "Cross-check agreement: %.0f%%\n", cmp.Agreement()*100)
	p.nameList(ColorGreen, "both", cmp.Both)
	p.nameList(ColorYellow, "only stackscope", cmp.OnlyOurs)
	p.nameList(ColorMagenta, "only wappalyzer", cmp.OnlyTheirs)
}

func (p *Printer) nameList(c *color.Color, label string, names []string) {
	if len(names) == 0 {
		return
	}
	c.Fprintf(p.w, "    %s: ", label)
	fmt.Fprintln(p.w, strings.Join(names, ", "))
}

// PrintBanner prints the tool banner
func PrintBanner(w io.Writer) {
	if w == nil {
		w = color.Output
	}
	banner := `
     _             _
 ___| |_ __ _  ___| | _____  ___ ___  _ __   ___
/ __| __/ _' |/ __| |/ / __|/ __/ _ \| '_ \ / _ \
\__ \ || (_| | (__|   <\__ \ (_| (_) | |_) |  __/
|___/\__\__,_|\___|_|\_\___/\___\___/| .__/ \___|
                                     |_|
`
	ColorCyan.Fprintln(w, banner)
	ColorYellow.Fprintln(w, "        Web technology fingerprinting")
	ColorWhite.Fprintln(w, "---------------------------------------------------")
	fmt.Fprintln(w)
}
