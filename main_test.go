package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veex0x01/stackscope/detector"
	"github.com/veex0x01/stackscope/fingerprint"
	"github.com/veex0x01/stackscope/page"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestFileSnapshotWithScripts(t *testing.T) {
	dir := t.TempDir()
	htmlFile := writeFile(t, dir, "index.html", `<html><head><title>Saved</title><script src="/js/app.js"></script></head><body></body></html>`)
	good := writeFile(t, dir, "lib.js", `window.Example = { init: function () {} };`)
	bad := writeFile(t, dir, "broken.js", `throw new Error("nope")`)

	snap, body, err := fileSnapshot(htmlFile, "https://saved.test/", "sid=1", "", []string{bad, good}, nil)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<title>Saved</title>")
	assert.Equal(t, "Saved", snap.Title)
	assert.Equal(t, []string{"https://saved.test/js/app.js"}, snap.Scripts)
	assert.Equal(t, "sid=1", snap.Cookie)
	assert.True(t, page.HasPath(snap.Globals, "Example.init"))
}

func TestFileSnapshotWithGlobalsFile(t *testing.T) {
	dir := t.TempDir()
	htmlFile := writeFile(t, dir, "index.html", `<p>hi</p>`)
	globals := writeFile(t, dir, "globals.json", `{"jQuery": {"fn": {"jquery": "3.7.1"}}}`)

	snap, _, err := fileSnapshot(htmlFile, "", "", globals, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, snap.URL, "file://")
	assert.True(t, page.HasPath(snap.Globals, "jQuery.fn.jquery"))

	_, _, err = fileSnapshot(filepath.Join(dir, "missing.html"), "", "", "", nil, nil)
	assert.Error(t, err)
}

func TestSplitTargets(t *testing.T) {
	got := splitTargets([]string{"https://a.test/, https://b.test/", " ", "https://c.test/"})
	assert.Equal(t, []string{"https://a.test/", "https://b.test/", "https://c.test/"}, got)
}

func TestMatcherSummary(t *testing.T) {
	cat := fingerprint.Compile([]fingerprint.RawFingerprint{
		{Name: "Both", Matchers: &fingerprint.RawMatchers{
			JSGlobals: []interface{}{"A.b"},
			Cookies:   "sid",
		}},
		{Name: "None"},
	})
	require.Equal(t, 2, cat.Len())
	assert.Equal(t, "js_globals:1 cookies:1", matcherSummary(cat.Fingerprints[0]))
	assert.Equal(t, "no matchers", matcherSummary(cat.Fingerprints[1]))
}

func TestDetectSavedPage(t *testing.T) {
	dir := t.TempDir()
	htmlFile := writeFile(t, dir, "index.html",
		`<html><head><meta name="generator" content="WordPress 6.4"><script src="/wp-includes/js/jquery/jquery.min.js"></script></head><body></body></html>`)

	cat, err := fingerprint.Default()
	require.NoError(t, err)

	snap, _, err := fileSnapshot(htmlFile, "https://blog.test/", "", "", nil, nil)
	require.NoError(t, err)
	report := detector.NewReport(snap, detector.Detect(cat, snap))
	assert.Contains(t, report.Names(), "WordPress")
}
