package monitor

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/veex0x01/stackscope/detector"
)

// Shift is a technology whose aggregate confidence moved between passes
type Shift struct {
	Name string `json:"name"`
	From int    `json:"from"`
	To   int    `json:"to"`
}

// Change is what differs between two ranked result lists
type Change struct {
	URL     string            `json:"url,omitempty"`
	Added   []detector.Result `json:"added"`
	Removed []detector.Result `json:"removed"`
	Shifted []Shift           `json:"shifted"`
}

// Empty reports whether nothing changed
func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Shifted) == 0
}

// Summary renders the change on one line, e.g. "+React -jQuery ~WordPress 80->90"
func (c Change) Summary() string {
	if c.Empty() {
		return "no change"
	}
	parts := make([]string, 0, len(c.Added)+len(c.Removed)+len(c.Shifted))
	for _, r := range c.Added {
		parts = append(parts, "+"+r.Name)
	}
	for _, r := range c.Removed {
		parts = append(parts, "-"+r.Name)
	}
	for _, s := range c.Shifted {
		parts = append(parts, fmt.Sprintf("~%s %d->%d", s.Name, s.From, s.To))
	}
	return strings.Join(parts, " ")
}

// Diff compares two passes. Added keeps the new ranking order, Removed the
// old one; Shifted follows the new ranking.
func Diff(old, new []detector.Result) Change {
	before := make(map[string]detector.Result, len(old))
	for _, r := range old {
		before[r.Name] = r
	}
	after := make(map[string]bool, len(new))

	c := Change{}
	for _, r := range new {
		after[r.Name] = true
		prev, ok := before[r.Name]
		switch {
		case !ok:
			c.Added = append(c.Added, r)
		case prev.Confidence != r.Confidence:
			c.Shifted = append(c.Shifted, Shift{Name: r.Name, From: prev.Confidence, To: r.Confidence})
		}
	}
	for _, r := range old {
		if !after[r.Name] {
			c.Removed = append(c.Removed, r)
		}
	}
	return c
}

// Store keeps the last report per URL on disk so polling survives restarts
type Store struct {
	Dir string
}

// NewStore creates dir if needed
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return &Store{Dir: dir}, nil
}

func (s *Store) path(url string) string {
	return filepath.Join(s.Dir, hashKey(url)+".json")
}

// Load returns the stored report for url, or nil when there is none
func (s *Store) Load(url string) (*detector.Report, error) {
	data, err := os.ReadFile(s.path(url))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var report detector.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decoding state for %s: %w", url, err)
	}
	return &report, nil
}

// Save replaces the stored report for its URL
func (s *Store) Save(report detector.Report) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	tmp := s.path(report.URL) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(report.URL))
}

func hashKey(s string) string {
	h := md5.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}
