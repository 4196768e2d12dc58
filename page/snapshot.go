package page

import "context"

// Meta is one <meta> element
type Meta struct {
	Name     string `json:"name,omitempty"`
	Property string `json:"property,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Key returns the name attribute, or the property attribute when name is empty
func (m Meta) Key() string {
	if m.Name != "" {
		return m.Name
	}
	return m.Property
}

// Link is one <link href> element
type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel,omitempty"`
}

// Snapshot holds the page state read by one detection pass.
// URLs in Scripts and Links are absolute.
type Snapshot struct {
	URL     string
	Title   string
	Globals PropertyBag
	Scripts []string
	Metas   []Meta
	Links   []Link
	// Cookie is a Cookie request header style string: "a=1; b=2".
	Cookie string
	// Head and Body are the serialized inner HTML of <head> and <body>.
	Head string
	Body string
}

// Source produces fresh snapshots of a page
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context) (*Snapshot, error)

func (f SourceFunc) Snapshot(ctx context.Context) (*Snapshot, error) {
	return f(ctx)
}

// Static returns a Source that always yields snap
func Static(snap *Snapshot) Source {
	return SourceFunc(func(context.Context) (*Snapshot, error) {
		return snap, nil
	})
}
