package models

import "strings"

// MediaKind distinguishes the two kinds of discoverable media.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

// DefaultExt is the extension used when a URL path yields no file name.
func (k MediaKind) DefaultExt() string {
	if k == KindVideo {
		return "mp4"
	}
	return "jpg"
}

// MediaRecord is a validated, classified media reference eligible for
// selection and download. Only Selected changes after creation.
type MediaRecord struct {
	Kind      MediaKind `json:"kind"`
	URL       string    `json:"url"`
	PosterURL string    `json:"poster_url,omitempty"`

	// SizeBytes is nil when the size is unknown.
	SizeBytes *int64 `json:"size_bytes,omitempty"`

	ContentType   string `json:"content_type,omitempty"`
	Thumbnail     []byte `json:"thumbnail,omitempty"`
	ThumbnailType string `json:"thumbnail_type,omitempty"`

	Selected bool `json:"selected"`
}

// FilterSpec narrows candidates by substring predicates. Empty fields are
// ignored; all supplied predicates must match.
type FilterSpec struct {
	ClassContains string `json:"class,omitempty"`
	IDContains    string `json:"id,omitempty"`
	SrcContains   string `json:"src,omitempty"`
}

// Trimmed returns the filter with surrounding whitespace removed from each
// predicate, so "  " behaves like an unset field.
func (f FilterSpec) Trimmed() FilterSpec {
	return FilterSpec{
		ClassContains: strings.TrimSpace(f.ClassContains),
		IDContains:    strings.TrimSpace(f.IDContains),
		SrcContains:   strings.TrimSpace(f.SrcContains),
	}
}

// Element is one DOM element as reported by a render context.
// Video elements carry their <source> children.
type Element struct {
	Tag      string            `json:"tag"`
	Attrs    map[string]string `json:"attrs"`
	Children []Element         `json:"children,omitempty"`
}

// Attr returns the named attribute, or "" when absent.
func (e Element) Attr(name string) string {
	return e.Attrs[name]
}

// Matches reports whether an element with the given class, id and source
// satisfies every supplied predicate. Matching is case-sensitive.
func (f FilterSpec) Matches(class, id, src string) bool {
	if f.ClassContains != "" && !strings.Contains(class, f.ClassContains) {
		return false
	}
	if f.IDContains != "" && !strings.Contains(id, f.IDContains) {
		return false
	}
	if f.SrcContains != "" && !strings.Contains(src, f.SrcContains) {
		return false
	}
	return true
}

// IsZero reports whether no predicate is set.
func (f FilterSpec) IsZero() bool {
	return f.ClassContains == "" && f.IDContains == "" && f.SrcContains == ""
}
