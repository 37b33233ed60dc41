// Package crateindex resolves Rust crate metadata from a crates index.
//
// The index may be Cargo's local git checkout, a plain directory mirror or
// the remote sparse index. Every lookup goes through a ResolverContext,
// which is built once from a configuration snapshot and holds the store
// reader, the single-flight cache and the completion adapter.
//
// Basic usage:
//
//	cfg, _, err := crateindex.LoadConfig(ctx, crateindex.LoadOptions{})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	rc, err := crateindex.NewResolverContext(ctx, cfg, nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	match, err := rc.Resolve(ctx, "serde", "1.0")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(match.Version)
package crateindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/git-pkgs/purl"

	_ "github.com/git-pkgs/crateindex/all"
	"github.com/git-pkgs/crateindex/client"
	"github.com/git-pkgs/crateindex/fetch"
	"github.com/git-pkgs/crateindex/internal/cache"
	"github.com/git-pkgs/crateindex/internal/cargo"
	"github.com/git-pkgs/crateindex/internal/complete"
	"github.com/git-pkgs/crateindex/internal/config"
	"github.com/git-pkgs/crateindex/internal/core"
	"github.com/git-pkgs/crateindex/internal/index"
	"github.com/git-pkgs/crateindex/internal/records"
	"github.com/git-pkgs/crateindex/internal/shard"
	"github.com/git-pkgs/crateindex/internal/versions"
)

// Re-export types from internal/core
type (
	// Store is the backing store protocol implemented by every index mirror.
	Store = core.Store

	// StoreOptions configures a store instance.
	StoreOptions = core.StoreOptions

	// VersionRecord is one published version of a crate.
	VersionRecord = core.VersionRecord

	// ResolvedPackage holds every version of a crate.
	ResolvedPackage = core.ResolvedPackage

	// BranchRef names a snapshot of the backing store.
	BranchRef = core.BranchRef

	// DeclarationSite is a dependency declaration under the cursor.
	DeclarationSite = core.DeclarationSite

	// SiteKind identifies what the cursor is on.
	SiteKind = core.SiteKind

	// Span is a character range on one line.
	Span = core.Span

	// Suggestion is a single completion item.
	Suggestion = core.Suggestion

	// SuggestionList is an ordered completion result.
	SuggestionList = core.SuggestionList

	// Target is a crate name with an optional requirement.
	Target = core.Target

	// Match is the outcome of resolving a requirement.
	Match = versions.Match

	// Config is a configuration snapshot.
	Config = config.Config

	// LoadOptions defines explicit configuration loading inputs.
	LoadOptions = config.LoadOptions

	// URLBuilder constructs URLs for a crate.
	URLBuilder = client.URLBuilder

	// ArtifactInfo describes a downloadable .crate file.
	ArtifactInfo = fetch.ArtifactInfo
)

// Re-export constants
const (
	KindName     = core.KindName
	KindVersion  = core.KindVersion
	KindFeatures = core.KindFeatures
)

// Re-export errors
var (
	ErrNotFound           = core.ErrNotFound
	ErrTooLarge           = core.ErrTooLarge
	ErrListingUnsupported = core.ErrListingUnsupported
)

// Error types
type (
	NotFoundError   = core.NotFoundError
	IOError         = core.IOError
	ParseError      = core.ParseError
	ConstraintError = core.ConstraintError
)

// LoadConfig reads the configuration from defaults, an optional file and
// the environment. It also returns the path of the file that was read.
func LoadConfig(ctx context.Context, opts LoadOptions) (*Config, string, error) {
	return config.Load(ctx, opts)
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() *Config {
	return config.DefaultConfig()
}

// SupportedStores returns every registered store kind.
func SupportedStores() []string {
	return core.SupportedStores()
}

// ResolverContext answers crate lookups against one index snapshot.
// It is safe for concurrent use.
type ResolverContext struct {
	cfg     *Config
	logger  *log.Logger
	reader  *index.Reader
	branch  core.BranchRef
	cache   *cache.Cache
	adapter *complete.Adapter
	urls    *cargo.URLs

	artifacts    *fetch.Resolver
	downloadOnce sync.Once
	downloader   fetch.Getter
}

// NewResolverContext opens the store selected by cfg and resolves the
// branch to read from. A nil logger uses log.Default().
func NewResolverContext(ctx context.Context, cfg *Config, logger *log.Logger) (*ResolverContext, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = log.Default()
	}

	store, err := core.OpenStore(cfg.StoreKind(), cfg.StoreOptions(logger.WithPrefix(cfg.StoreKind())))
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", cfg.StoreKind(), err)
	}
	return NewResolverContextWithStore(ctx, cfg, store, logger), nil
}

// NewResolverContextWithStore builds a context over an already opened store.
func NewResolverContextWithStore(ctx context.Context, cfg *Config, store Store, logger *log.Logger) *ResolverContext {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = log.Default()
	}

	rc := &ResolverContext{
		cfg:    cfg,
		logger: logger,
		reader: index.NewReader(store,
			index.WithMaxPayload(cfg.MaxPayload),
			index.WithLogger(logger.WithPrefix("index")),
		),
		urls: cargo.NewURLs(""),
	}
	if !rc.reader.Available(ctx) {
		logger.Warn("index location not found", "store", store.Kind())
	}
	rc.branch = rc.reader.ResolveBranch(ctx, cfg.LocalIndexBranch)
	rc.cache = cache.New(rc.load,
		cache.WithTimeout(cfg.FetchTimeout),
		cache.WithLogger(logger.WithPrefix("cache")),
	)
	rc.artifacts = fetch.NewResolver(rc, rc.urls)
	rc.adapter = complete.New(rc,
		complete.WithURLs(rc.urls),
		complete.WithLogger(logger.WithPrefix("complete")),
	)

	logger.Debug("resolver ready", "store", store.Kind(), "branch", rc.branch)
	return rc
}

// Config returns the configuration snapshot the context was built from.
func (rc *ResolverContext) Config() *Config {
	return rc.cfg
}

// Branch returns the ref every read goes to.
func (rc *ResolverContext) Branch() BranchRef {
	return rc.branch
}

// Store returns the backing store.
func (rc *ResolverContext) Store() Store {
	return rc.reader.Store()
}

// URLs returns the URL builder for crates.io pages.
func (rc *ResolverContext) URLs() URLBuilder {
	return rc.urls
}

func (rc *ResolverContext) load(ctx context.Context, name string) (*core.ResolvedPackage, error) {
	path := shard.Path(name)
	if path == "" {
		return nil, &core.NotFoundError{Ref: rc.branch, Path: name}
	}

	raw, err := rc.reader.ReadPath(ctx, rc.branch, path)
	if err != nil {
		if core.IsNotFound(err) {
			rc.logger.Debug("crate not in index", "crate", name, "path", path)
		} else {
			rc.logger.Error("index read failed", "crate", name, "path", path, "err", err)
		}
		return nil, err
	}

	recs := records.Parse(raw, name, rc.logger.WithPrefix("records"))
	versions.Sort(recs)
	return &core.ResolvedPackage{Name: name, Versions: recs}, nil
}

// Package returns every version of the named crate, highest first. The
// result is cached; concurrent callers share one retrieval.
func (rc *ResolverContext) Package(ctx context.Context, name string) (*ResolvedPackage, error) {
	return rc.cache.Get(ctx, name)
}

// SearchNames lists the crate names in the shards that may hold names
// starting with prefix. The list is not filtered by prefix.
func (rc *ResolverContext) SearchNames(ctx context.Context, prefix string) ([]string, error) {
	return rc.reader.ListEntries(ctx, rc.branch, shard.PrefixPaths(prefix))
}

// Resolve returns the best version of name for requirement. An invalid
// requirement fails with a *ConstraintError.
func (rc *ResolverContext) Resolve(ctx context.Context, name, requirement string) (Match, error) {
	c, err := versions.Parse(requirement)
	if err != nil {
		return Match{Version: requirement}, err
	}
	pkg, err := rc.Package(ctx, name)
	if err != nil {
		return Match{Version: requirement}, err
	}
	return c.Best(pkg.Versions), nil
}

// Latest returns the highest stable, non-yanked version of name.
func (rc *ResolverContext) Latest(ctx context.Context, name string) (Match, error) {
	pkg, err := rc.Package(ctx, name)
	if err != nil {
		return Match{}, err
	}
	return versions.Latest(pkg.Versions), nil
}

// Features returns the features of the version that best matches
// requirement. A blank requirement means any version. When nothing
// matches, the requirement itself is tried as a version number.
func (rc *ResolverContext) Features(ctx context.Context, name, requirement string) ([]string, error) {
	if requirement == "" {
		requirement = "*"
	}
	pkg, err := rc.Package(ctx, name)
	if err != nil {
		return nil, err
	}
	match := versions.ResolveBest(requirement, pkg.Versions)
	rec, ok := pkg.Lookup(match.Version)
	if !ok {
		return nil, nil
	}
	return rec.Features, nil
}

// Complete answers a completion request from document. Results of a
// request overtaken by a later edit are discarded.
func (rc *ResolverContext) Complete(ctx context.Context, document string, site DeclarationSite) SuggestionList {
	return rc.adapter.CompleteDocument(ctx, document, site)
}

// Touch records an edit of document, making in-flight completions stale.
func (rc *ResolverContext) Touch(document string) {
	rc.adapter.Tracker().Touch(document)
}

// Close forgets the completion state of document.
func (rc *ResolverContext) Close(document string) {
	rc.adapter.Tracker().Forget(document)
}

// Invalidate drops the cached versions of name.
func (rc *ResolverContext) Invalidate(name string) {
	rc.cache.Invalidate(name)
}

// Purge drops every cached crate.
func (rc *ResolverContext) Purge() {
	rc.cache.Purge()
}

// Cached returns the number of cached crates.
func (rc *ResolverContext) Cached() int {
	return rc.cache.Len()
}

// BulkResolve loads several crates in parallel, bounded by the configured
// concurrency. Failed names are omitted from the result.
func (rc *ResolverContext) BulkResolve(ctx context.Context, names []string) map[string]*ResolvedPackage {
	return core.BulkResolveWithConcurrency(ctx, names, rc.Package, rc.cfg.Concurrency)
}

// Artifact returns the download location and checksum of the best version
// of name for requirement.
func (rc *ResolverContext) Artifact(ctx context.Context, name, requirement string) (*ArtifactInfo, error) {
	match, err := rc.Resolve(ctx, name, requirement)
	if err != nil {
		return nil, err
	}
	if !match.Found {
		return nil, &core.NotFoundError{Ref: rc.branch, Path: core.NormalizeName(name) + "@" + requirement}
	}
	return rc.artifacts.Resolve(ctx, name, match.Version)
}

// Download retrieves an artifact through g, or a circuit-breaking HTTP
// fetcher when g is nil, and verifies it against the index checksum.
func (rc *ResolverContext) Download(ctx context.Context, info *ArtifactInfo, g fetch.Getter) ([]byte, error) {
	if g == nil {
		rc.downloadOnce.Do(func() {
			rc.downloader = fetch.NewCircuitBreakerFetcher(fetch.NewFetcher(fetch.WithRateLimit(rc.cfg.RateLimit)))
		})
		g = rc.downloader
	}
	return rc.artifacts.Download(ctx, g, info, rc.cfg.MaxPayload)
}

// BuildURLs returns the non-empty URLs for a crate version.
// Keys are "registry", "download", "docs" and "purl".
func BuildURLs(urls URLBuilder, name, version string) map[string]string {
	return client.BuildURLs(urls, name, version)
}

// ParseTarget parses "name@requirement" or a pkg:cargo Package URL.
func ParseTarget(s string) (Target, error) {
	return core.ParseTarget(s)
}

// PURL represents a parsed Package URL.
type PURL = purl.PURL

// ParsePURL parses a Package URL string into its components.
// Supports both package PURLs (pkg:cargo/serde) and version PURLs (pkg:cargo/serde@1.0.0).
func ParsePURL(purlStr string) (*PURL, error) {
	return purl.Parse(purlStr)
}
