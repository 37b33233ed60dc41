// Package dir serves index files from a plain directory tree laid out like
// the crates.io index, for example an extracted snapshot or a test fixture.
package dir

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/crateindex/internal/core"
)

const (
	kind = "dir"

	// listConcurrency bounds how many shard directories are walked at once.
	listConcurrency = 4
)

func init() {
	core.RegisterStore(kind, func(opts core.StoreOptions) (core.Store, error) {
		if opts.Location == "" {
			return nil, fmt.Errorf("dir store requires an index directory")
		}
		return New(opts), nil
	})
}

// Store reads files beneath a root directory. Refs are ignored.
type Store struct {
	root   string
	limit  int64
	logger *log.Logger
}

// New creates a directory store rooted at opts.Location.
func New(opts core.StoreOptions) *Store {
	return &Store{
		root:   opts.Location,
		limit:  opts.Limit(),
		logger: opts.Log().WithPrefix("dir"),
	}
}

func (s *Store) Kind() string {
	return kind
}

func (s *Store) Exists(ctx context.Context) bool {
	info, err := os.Stat(s.root)
	return err == nil && info.IsDir()
}

func (s *Store) ReadAtRef(ctx context.Context, ref core.BranchRef, path string) ([]byte, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, &core.IOError{Op: "read", Path: path, Err: err}
	}

	f, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &core.NotFoundError{Ref: ref, Path: path}
		}
		return nil, &core.IOError{Op: "read", Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	data, err := core.ReadLimited(f, s.limit)
	if err != nil {
		return nil, &core.IOError{Op: "read", Path: path, Err: err}
	}
	return data, nil
}

// ListAtRef walks every requested directory concurrently. Missing
// directories contribute nothing; walk failures are joined into the
// returned error alongside the paths that were listed.
func (s *Store) ListAtRef(ctx context.Context, ref core.BranchRef, paths []string) ([]string, error) {
	found := make([][]string, len(paths))
	errs := make([]error, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, p := range paths {
		g.Go(func() error {
			found[i], errs[i] = s.walk(gctx, p)
			return nil
		})
	}
	_ = g.Wait()

	var files []string
	for _, f := range found {
		files = append(files, f...)
	}
	sort.Strings(files)

	if err := errors.Join(errs...); err != nil {
		return files, &core.IOError{Op: "list", Path: s.root, Err: err}
	}
	return files, nil
}

func (s *Store) walk(ctx context.Context, path string) ([]string, error) {
	start, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == start && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || d.Name()[0] == '.' {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return files, err
}

// ListRefs returns no refs: a plain directory has a single revision.
func (s *Store) ListRefs(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *Store) resolve(path string) (string, error) {
	local := filepath.FromSlash(path)
	if local == "" {
		return s.root, nil
	}
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("path %q escapes the index root", path)
	}
	return filepath.Join(s.root, local), nil
}
