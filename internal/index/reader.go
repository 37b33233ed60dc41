// Package index reads raw records and listings from a backing store while
// enforcing the payload cap and the error taxonomy.
package index

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/crateindex/internal/core"
)

const (
	// HeadRef is used when the store advertises a symbolic HEAD branch.
	HeadRef core.BranchRef = "origin/HEAD"
	// DefaultRef is used by older mirrors without a HEAD branch.
	DefaultRef core.BranchRef = "origin/master"
)

// Reader is the I/O boundary between the resolver and a store.
// It holds no cache.
type Reader struct {
	store  core.Store
	limit  int64
	logger *log.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithMaxPayload overrides the payload cap.
func WithMaxPayload(n int64) Option {
	return func(r *Reader) {
		if n > 0 {
			r.limit = n
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *log.Logger) Option {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReader wraps store.
func NewReader(store core.Store, opts ...Option) *Reader {
	r := &Reader{
		store:  store,
		limit:  core.DefaultMaxPayload,
		logger: log.Default().WithPrefix("index"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the wrapped store.
func (r *Reader) Store() core.Store {
	return r.store
}

// Available reports whether the configured index location exists.
func (r *Reader) Available(ctx context.Context) bool {
	return r.store.Exists(ctx)
}

// ResolveBranch returns explicit when set. Otherwise it probes the store's
// branches: a ref ending in /HEAD selects HeadRef, anything else DefaultRef.
// A failed probe is logged and falls back to HeadRef.
func (r *Reader) ResolveBranch(ctx context.Context, explicit string) core.BranchRef {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return core.BranchRef(explicit)
	}

	refs, err := r.store.ListRefs(ctx)
	if err != nil {
		r.logger.Warn("branch probe failed, using fallback", "store", r.store.Kind(), "ref", HeadRef, "err", err)
		return HeadRef
	}

	for _, ref := range refs {
		ref = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(ref), "*"))
		if name, _, ok := strings.Cut(ref, " -> "); ok {
			ref = name
		}
		if strings.HasSuffix(ref, "/HEAD") {
			return HeadRef
		}
	}
	return DefaultRef
}

// ReadPath returns the bytes stored at path. Missing paths fail with a
// *core.NotFoundError; anything else, including payloads over the cap,
// fails with a *core.IOError.
func (r *Reader) ReadPath(ctx context.Context, ref core.BranchRef, path string) ([]byte, error) {
	data, err := r.store.ReadAtRef(ctx, ref, path)
	if err != nil {
		return nil, r.classify("read", ref, path, err)
	}
	if int64(len(data)) > r.limit {
		return nil, &core.IOError{Op: "read", Path: path, Err: core.ErrTooLarge}
	}
	return data, nil
}

// ListEntries returns the leaf file names found under paths. When some
// paths fail the entries that were listed are still returned together
// with the error.
func (r *Reader) ListEntries(ctx context.Context, ref core.BranchRef, paths []string) ([]string, error) {
	files, err := r.store.ListAtRef(ctx, ref, paths)

	size := 0
	entries := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		size += len(f) + 1
		entries = append(entries, leaf(f))
	}
	if int64(size) > r.limit {
		return nil, &core.IOError{Op: "list", Path: strings.Join(paths, " "), Err: core.ErrTooLarge}
	}

	if err != nil {
		return entries, r.classify("list", ref, strings.Join(paths, " "), err)
	}
	return entries, nil
}

func (r *Reader) classify(op string, ref core.BranchRef, path string, err error) error {
	var nf *core.NotFoundError
	if errors.As(err, &nf) {
		return nf
	}
	if errors.Is(err, core.ErrNotFound) {
		return &core.NotFoundError{Ref: ref, Path: path}
	}
	var ioErr *core.IOError
	if errors.As(err, &ioErr) {
		return ioErr
	}
	return &core.IOError{Op: op, Path: path, Err: err}
}

func leaf(path string) string {
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}
