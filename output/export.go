package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/veex0x01/stackscope/detector"
)

// Format is an export file format
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
)

// ParseFormat accepts json, csv and html in any case
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatHTML:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// FormatFromPath picks the format from a file extension
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "htm" {
		ext = "html"
	}
	return ParseFormat(ext)
}

// CSVHeader is the first row of a CSV export
var CSVHeader = []string{"Name", "Confidence", "Categories", "Evidence Count"}

// WriteJSON writes the report as indented JSON
func WriteJSON(w io.Writer, report detector.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// WriteCSV writes one row per technology, categories joined by "; "
func WriteCSV(w io.Writer, results []detector.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range results {
		row := []string{
			r.Name,
			strconv.Itoa(r.Confidence),
			strings.Join(r.Categories, "; "),
			strconv.Itoa(r.EvidenceCount),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteHTML renders a standalone HTML report
func WriteHTML(w io.Writer, report detector.Report) error {
	if err := reportTemplate.Execute(w, report); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

// Write encodes the report in the given format
func Write(w io.Writer, format Format, report detector.Report) error {
	switch format {
	case FormatJSON:
		return WriteJSON(w, report)
	case FormatCSV:
		return WriteCSV(w, report.Technologies)
	case FormatHTML:
		return WriteHTML(w, report)
	}
	return fmt.Errorf("unknown export format %q", format)
}

// Export writes the report to path. An empty format is taken from the
// file extension.
func Export(path string, format Format, report detector.Report) error {
	if format == "" {
		var err error
		if format, err = FormatFromPath(path); err != nil {
			return err
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Write(f, format, report); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>stackscope: {{.URL}}</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
body{background:#0d1117;color:#c9d1d9;font-family:'Segoe UI',system-ui,sans-serif;padding:20px}
.header{background:#161b22;padding:24px;border-radius:12px;margin-bottom:24px;border:1px solid #30363d}
.header h1{color:#58a6ff;font-size:24px;margin-bottom:8px;word-break:break-all}
.header p{color:#8b949e;font-size:14px}
table{width:100%;border-collapse:collapse;background:#161b22;border:1px solid #30363d;border-radius:8px}
th{text-align:left;padding:10px;border-bottom:2px solid #30363d;color:#8b949e;font-size:13px;text-transform:uppercase}
td{padding:10px;border-bottom:1px solid #21262d;font-size:14px;vertical-align:top}
.bar{background:#21262d;border-radius:4px;width:120px;height:8px;margin-top:6px}
.bar span{display:block;height:8px;border-radius:4px;background:#58a6ff}
.ev{color:#8b949e;font-size:12px;word-break:break-all}
</style>
</head>
<body>
<div class="header">
<h1>{{.URL}}</h1>
<p>{{if .Title}}{{.Title}} | {{end}}{{len .Technologies}} technologies | {{.Timestamp.Format "2006-01-02 15:04:05 UTC"}}</p>
</div>
<table>
<thead><tr><th>Technology</th><th>Confidence</th><th>Categories</th><th>Evidence</th></tr></thead>
<tbody>
{{range .Technologies}}
<tr>
<td>{{.Name}}</td>
<td>{{.Confidence}}%<div class="bar"><span style="width:{{.Confidence}}%"></span></div></td>
<td>{{join .Categories ", "}}</td>
<td>{{range .Evidence}}<div class="ev">{{.Type}}: {{.Value}}</div>{{end}}</td>
</tr>
{{end}}
</tbody>
</table>
</body>
</html>
`))
