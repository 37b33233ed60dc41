// Package cargo provides the remote sparse index store for crates.io and
// the URL builder for crate pages, downloads and documentation.
package cargo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/crateindex/fetch"
	"github.com/git-pkgs/crateindex/internal/core"
)

const (
	DefaultURL = "https://index.crates.io"
	kind       = "sparse"
)

func init() {
	core.RegisterStore(kind, func(opts core.StoreOptions) (core.Store, error) {
		return New(opts), nil
	})
}

// Store reads index files from a sparse HTTP index. Refs are meaningless
// for a sparse index and are ignored.
type Store struct {
	baseURL string
	getter  fetch.Getter
	limit   int64
	logger  *log.Logger
}

// New creates a sparse store backed by a circuit-breaking fetcher.
func New(opts core.StoreOptions) *Store {
	f := fetch.NewFetcher(
		fetch.WithRateLimit(opts.RateLimit),
		fetch.WithAuthFunc(tokenAuth(opts.Location, opts.Token)),
	)
	return NewWithGetter(opts, fetch.NewCircuitBreakerFetcher(f))
}

// tokenAuth sends token only to URLs under the index root, so a registry
// token never leaks to download hosts or redirects elsewhere.
func tokenAuth(location, token string) func(url string) (string, string) {
	if token == "" {
		return nil
	}
	if location == "" {
		location = DefaultURL
	}
	root := strings.TrimSuffix(location, "/") + "/"
	return func(url string) (string, string) {
		if !strings.HasPrefix(url, root) {
			return "", ""
		}
		return "Authorization", token
	}
}

// NewWithGetter creates a sparse store that issues requests through g.
func NewWithGetter(opts core.StoreOptions, g fetch.Getter) *Store {
	baseURL := opts.Location
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Store{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		getter:  g,
		limit:   opts.Limit(),
		logger:  opts.Log().WithPrefix("sparse"),
	}
}

func (s *Store) Kind() string {
	return kind
}

// BaseURL returns the index root.
func (s *Store) BaseURL() string {
	return s.baseURL
}

// Exists probes the index configuration document.
func (s *Store) Exists(ctx context.Context) bool {
	_, _, err := s.getter.Head(ctx, s.baseURL+"/config.json")
	if err != nil {
		s.logger.Debug("index probe failed", "url", s.baseURL, "err", err)
		return false
	}
	return true
}

func (s *Store) ReadAtRef(ctx context.Context, ref core.BranchRef, path string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s", s.baseURL, strings.TrimPrefix(path, "/"))

	data, err := s.getter.Get(ctx, url, s.limit)
	if err != nil {
		if errors.Is(err, fetch.ErrNotFound) {
			return nil, &core.NotFoundError{Ref: ref, Path: path}
		}
		return nil, &core.IOError{Op: "read", Path: url, Err: err}
	}

	s.logger.Debug("fetched index file", "path", path, "bytes", len(data))
	return data, nil
}

// ListAtRef always fails: the sparse protocol has no directory listings.
func (s *Store) ListAtRef(ctx context.Context, ref core.BranchRef, paths []string) ([]string, error) {
	return nil, core.ErrListingUnsupported
}

// ListRefs returns no refs.
func (s *Store) ListRefs(ctx context.Context) ([]string, error) {
	return nil, nil
}

// URLs builds links for crates published on crates.io.
type URLs struct {
	baseURL string
}

// NewURLs returns a URL builder rooted at baseURL, or crates.io when empty.
func NewURLs(baseURL string) *URLs {
	if baseURL == "" {
		baseURL = "https://crates.io"
	}
	return &URLs{baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (u *URLs) Registry(name, version string) string {
	if version != "" {
		return fmt.Sprintf("%s/crates/%s/%s", u.baseURL, name, version)
	}
	return fmt.Sprintf("%s/crates/%s", u.baseURL, name)
}

func (u *URLs) Download(name, version string) string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("https://static.crates.io/crates/%s/%s-%s.crate", name, name, version)
}

func (u *URLs) Documentation(name, version string) string {
	if version != "" {
		return fmt.Sprintf("https://docs.rs/%s/%s", name, version)
	}
	return fmt.Sprintf("https://docs.rs/%s", name)
}

func (u *URLs) PURL(name, version string) string {
	return core.Target{Name: name, Requirement: version}.PURL()
}
