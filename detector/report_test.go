package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veex0x01/stackscope/page"
)

var sample = []Result{
	{Name: "jQuery", Confidence: 90, Categories: []string{"JavaScript libraries"}},
	{Name: "WordPress", Confidence: 82, Categories: []string{"CMS", "Blogs"}},
	{Name: "cloudflare", Confidence: 82},
	{Name: "Open Graph", Confidence: 50, Categories: []string{"Miscellaneous"}},
}

func names(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Name
	}
	return out
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		min  int
		want []string
	}{
		{0, []string{"jQuery", "WordPress", "cloudflare", "Open Graph"}},
		{-5, []string{"jQuery", "WordPress", "cloudflare", "Open Graph"}},
		{82, []string{"jQuery", "WordPress", "cloudflare"}},
		{91, []string{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, names(Threshold(sample, tt.min)), "min %d", tt.min)
	}
}

func TestSortBy(t *testing.T) {
	tests := []struct {
		mode string
		want []string
	}{
		{"", []string{"jQuery", "WordPress", "cloudflare", "Open Graph"}},
		{"confidence", []string{"jQuery", "WordPress", "cloudflare", "Open Graph"}},
		{"name", []string{"cloudflare", "jQuery", "Open Graph", "WordPress"}},
		{"Category", []string{"WordPress", "jQuery", "Open Graph", "cloudflare"}},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			got, err := SortBy(sample, tt.mode)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}

	_, err := SortBy(sample, "popularity")
	assert.Error(t, err)
	assert.Equal(t, "jQuery", sample[0].Name, "input is not reordered")
}

func TestNewReport(t *testing.T) {
	r := NewReport(&page.Snapshot{URL: "https://shop.test/", Title: "Shop"}, sample[:2])
	assert.Equal(t, "https://shop.test/", r.URL)
	assert.Equal(t, "Shop", r.Title)
	assert.False(t, r.Timestamp.IsZero())
	assert.Equal(t, []string{"jQuery", "WordPress"}, r.Names())

	empty := NewReport(nil, nil)
	assert.Empty(t, empty.URL)
	assert.Empty(t, empty.Names())
}
