// Package complete turns a dependency declaration site into an ordered,
// editor-independent list of suggestions.
package complete

import (
	"context"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/crateindex/client"
	"github.com/git-pkgs/crateindex/internal/core"
	"github.com/git-pkgs/crateindex/internal/shard"
	"github.com/git-pkgs/crateindex/internal/versions"
)

// incompleteBelow is the prefix length under which a name list is marked
// incomplete so the editor asks again as the user types.
const incompleteBelow = 2

// Source supplies crate names and resolved crates.
type Source interface {
	// SearchNames returns crate names whose shard may contain prefix. A
	// partial list may accompany an error.
	SearchNames(ctx context.Context, prefix string) ([]string, error)
	// Package returns every version of the named crate.
	Package(ctx context.Context, name string) (*core.ResolvedPackage, error)
}

// Adapter answers completion requests.
type Adapter struct {
	src     Source
	urls    client.URLBuilder
	logger  *log.Logger
	tracker *Tracker
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithURLs sets the builder used for suggestion details.
func WithURLs(u client.URLBuilder) Option {
	return func(a *Adapter) {
		a.urls = u
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an adapter over src.
func New(src Source, opts ...Option) *Adapter {
	a := &Adapter{
		src:     src,
		logger:  log.Default().WithPrefix("complete"),
		tracker: NewTracker(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Tracker returns the document generation tracker.
func (a *Adapter) Tracker() *Tracker {
	return a.tracker
}

// CompleteDocument completes site on behalf of document. The result is
// discarded, and an empty list returned, when the document moved on while
// the request was running or ctx is done.
func (a *Adapter) CompleteDocument(ctx context.Context, document string, site core.DeclarationSite) core.SuggestionList {
	ticket := a.tracker.Begin(document)
	list := a.Complete(ctx, site)

	if ctx.Err() != nil || ticket.Stale() {
		a.logger.Debug("discarding stale completion", "document", document, "kind", site.Kind)
		return core.SuggestionList{}
	}
	return list
}

// Complete dispatches on the site kind. Failures never escape: they are
// logged and yield an empty list.
func (a *Adapter) Complete(ctx context.Context, site core.DeclarationSite) core.SuggestionList {
	if !site.TextSpan.Contains(site.Cursor) {
		return core.SuggestionList{}
	}

	switch site.Kind {
	case core.KindName:
		return a.Names(ctx, site)
	case core.KindVersion:
		return a.Versions(ctx, site)
	case core.KindFeatures:
		return a.Features(ctx, site)
	}
	return core.SuggestionList{}
}

// Names lists crates whose name starts with the typed name.
func (a *Adapter) Names(ctx context.Context, site core.DeclarationSite) core.SuggestionList {
	prefix := core.NormalizeName(strings.TrimSpace(site.RequirementText))
	if prefix == "" {
		prefix = core.NormalizeName(site.PackageName)
	}

	entries, err := a.src.SearchNames(ctx, prefix)
	if err != nil {
		a.logger.Warn("crate search failed", "prefix", prefix, "err", err, "partial", len(entries))
	}

	var names []string
	for _, e := range entries {
		if shard.Matches(e, prefix) {
			names = append(names, shard.BaseName(e))
		}
	}
	slices.Sort(names)
	names = slices.Compact(names)

	items := make([]core.Suggestion, len(names))
	for i, n := range names {
		items[i] = core.Suggestion{
			Label:       n,
			ReplaceSpan: site.TextSpan,
			SortKey:     SortKey(i),
		}
	}
	return core.SuggestionList{Items: items, Incomplete: len(prefix) < incompleteBelow}
}

// Versions lists the crate's versions, highest first, filtered by the text
// typed before the cursor. Yanked versions appear only when typed exactly.
func (a *Adapter) Versions(ctx context.Context, site core.DeclarationSite) core.SuggestionList {
	pkg := a.resolve(ctx, site.PackageName)
	if pkg == nil {
		return core.SuggestionList{}
	}

	filter := strings.ToLower(strings.TrimSpace(site.Typed()))

	var items []core.Suggestion
	for _, v := range pkg.Versions {
		number := strings.ToLower(v.Number)
		if !strings.HasPrefix(number, filter) {
			continue
		}
		if v.Yanked && number != filter {
			continue
		}
		i := len(items)
		items = append(items, core.Suggestion{
			Label:       v.Number,
			ReplaceSpan: site.TextSpan,
			SortKey:     SortKey(i),
			Preselect:   i == 0,
			Detail:      a.detail(pkg.Name, v),
		})
	}
	return core.SuggestionList{Items: items, Incomplete: true}
}

// Features lists the features of the version best matching the declared
// requirement, skipping those already declared.
func (a *Adapter) Features(ctx context.Context, site core.DeclarationSite) core.SuggestionList {
	pkg := a.resolve(ctx, site.PackageName)
	if pkg == nil {
		return core.SuggestionList{}
	}

	req := strings.TrimSpace(site.RequirementText)
	if req == "" {
		req = "*"
	}
	match := versions.ResolveBest(req, pkg.Versions)

	rec, ok := pkg.Lookup(match.Version)
	if !ok {
		a.logger.Debug("no version for feature lookup", "crate", pkg.Name, "requirement", req)
		return core.SuggestionList{}
	}

	var items []core.Suggestion
	for _, f := range rec.Features {
		if slices.Contains(site.Existing, f) {
			continue
		}
		items = append(items, core.Suggestion{
			Label:       f,
			ReplaceSpan: core.Span{Start: site.Cursor, End: site.Cursor},
			SortKey:     SortKey(len(items)),
			Detail:      rec.Number,
		})
	}
	return core.SuggestionList{Items: items}
}

func (a *Adapter) resolve(ctx context.Context, name string) *core.ResolvedPackage {
	name = core.NormalizeName(strings.TrimSpace(name))
	if name == "" {
		return nil
	}
	pkg, err := a.src.Package(ctx, name)
	if err != nil {
		if core.IsNotFound(err) {
			a.logger.Debug("crate not in index", "crate", name)
		} else {
			a.logger.Warn("crate resolution failed", "crate", name, "err", err)
		}
		return nil
	}
	return pkg
}

func (a *Adapter) detail(name string, v core.VersionRecord) string {
	var parts []string
	if v.Yanked {
		parts = append(parts, "yanked")
	}
	if v.RustVersion != "" {
		parts = append(parts, "rust "+v.RustVersion)
	}
	if a.urls != nil {
		if docs := a.urls.Documentation(name, v.Number); docs != "" {
			parts = append(parts, docs)
		}
	}
	return strings.Join(parts, " ")
}

const alphabet = "abcdefghijklmnopqrstuvwxyz"

// SortKey returns the key for the i-th item: a..z, then za..zz, zza...
// so that lexicographic order equals numeric order.
func SortKey(i int) string {
	if i < 0 {
		i = 0
	}
	return strings.Repeat("z", i/len(alphabet)) + string(alphabet[i%len(alphabet)])
}
