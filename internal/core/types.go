// Package core provides shared types, errors and the store registry.
package core

import (
	"strings"
	"time"
)

// DefaultFeature is the implicit feature every crate has. It is never listed.
const DefaultFeature = "default"

// VersionRecord represents one published version of a crate.
type VersionRecord struct {
	Number      string
	Yanked      bool
	Features    []string // sorted, de-duplicated, without DefaultFeature
	RustVersion string
	Checksum    string // sha256-... when the index carries a checksum
}

// HasFeature reports whether the version declares the named feature.
func (v VersionRecord) HasFeature(name string) bool {
	for _, f := range v.Features {
		if f == name {
			return true
		}
	}
	return false
}

// ResolvedPackage is the cached aggregate of every version of a crate.
type ResolvedPackage struct {
	Name      string
	Versions  []VersionRecord // highest precedence first
	FetchedAt time.Time
}

// Lookup returns the record with the given version number.
func (p *ResolvedPackage) Lookup(number string) (VersionRecord, bool) {
	if p == nil {
		return VersionRecord{}, false
	}
	for _, v := range p.Versions {
		if v.Number == number {
			return v, true
		}
	}
	return VersionRecord{}, false
}

// BranchRef names a snapshot of the backing store, e.g. "origin/HEAD".
type BranchRef string

// SiteKind identifies what the cursor is on inside a dependency declaration.
type SiteKind string

const (
	KindName     SiteKind = "name"
	KindVersion  SiteKind = "version"
	KindFeatures SiteKind = "features"
)

// Span is a half-open character range [Start, End) on a single line.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether pos lies within the span, end inclusive so a
// cursor placed right after the last character still counts.
func (s Span) Contains(pos int) bool {
	return pos >= s.Start && pos <= s.End
}

// Len returns the number of characters covered by the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// DeclarationSite is a dependency declaration as seen by the manifest layer.
type DeclarationSite struct {
	Kind            SiteKind `json:"kind"`
	PackageName     string   `json:"packageName"`
	RequirementText string   `json:"requirementText"`
	TextSpan        Span     `json:"textSpan"`
	Cursor          int      `json:"cursor"`
	Existing        []string `json:"existing,omitempty"` // features already declared
}

// Typed returns the part of RequirementText that precedes the cursor.
func (d DeclarationSite) Typed() string {
	n := d.Cursor - d.TextSpan.Start
	if n <= 0 {
		return ""
	}
	if n > len(d.RequirementText) {
		n = len(d.RequirementText)
	}
	return d.RequirementText[:n]
}

// Suggestion is a single completion item, independent of any editor.
type Suggestion struct {
	Label       string `json:"label"`
	ReplaceSpan Span   `json:"replaceSpan"`
	SortKey     string `json:"sortKey,omitempty"`
	Preselect   bool   `json:"preselect,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// SuggestionList is an ordered completion result.
// Incomplete asks the editor to query again as the user keeps typing.
type SuggestionList struct {
	Items      []Suggestion `json:"items"`
	Incomplete bool         `json:"incomplete,omitempty"`
}

// Labels returns the labels of all items in order.
func (l SuggestionList) Labels() []string {
	labels := make([]string, len(l.Items))
	for i, s := range l.Items {
		labels[i] = s.Label
	}
	return labels
}

// NormalizeName lower-cases a crate name and strips one surrounding pair of
// double quotes.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	if len(name) >= 2 && strings.HasPrefix(name, `"`) && strings.HasSuffix(name, `"`) {
		name = name[1 : len(name)-1]
	}
	return name
}
