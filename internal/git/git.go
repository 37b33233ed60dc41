// Package git reads a local git snapshot of the crates.io index, such as the
// one Cargo keeps under $CARGO_HOME/registry/index, by shelling out to git.
package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/crateindex/internal/core"
)

const kind = "git"

func init() {
	core.RegisterStore(kind, func(opts core.StoreOptions) (core.Store, error) {
		if opts.Location == "" {
			return nil, fmt.Errorf("git store requires a git directory")
		}
		return New(opts, nil), nil
	})
}

// Runner executes git with args, streaming standard output to stdout.
type Runner interface {
	Run(ctx context.Context, stdout io.Writer, args ...string) error
}

// CommandError is returned when git exits unsuccessfully.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, e.Stderr)
	}
	return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs the git binary found on PATH.
type ExecRunner struct {
	Binary string
}

func (r ExecRunner) Run(ctx context.Context, stdout io.Writer, args ...string) error {
	bin := r.Binary
	if bin == "" {
		bin = "git"
	}

	stderr := &core.LimitedBuffer{Limit: 64 << 10}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")

	if err := cmd.Run(); err != nil {
		return &CommandError{Args: args, Stderr: strings.TrimSpace(string(stderr.Bytes())), Err: err}
	}
	return nil
}

// Store answers index queries from a git directory.
type Store struct {
	gitDir string
	runner Runner
	limit  int64
	logger *log.Logger
}

// New creates a git store for opts.Location. A nil runner uses ExecRunner.
func New(opts core.StoreOptions, runner Runner) *Store {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Store{
		gitDir: opts.Location,
		runner: runner,
		limit:  opts.Limit(),
		logger: opts.Log().WithPrefix("git"),
	}
}

func (s *Store) Kind() string {
	return kind
}

// Exists reports whether the git directory is present.
func (s *Store) Exists(ctx context.Context) bool {
	info, err := os.Stat(s.gitDir)
	return err == nil && info.IsDir()
}

func (s *Store) ReadAtRef(ctx context.Context, ref core.BranchRef, path string) ([]byte, error) {
	out, err := s.git(ctx, "show", fmt.Sprintf("%s:%s", ref, path))
	if err != nil {
		if missingPath(err) {
			return nil, &core.NotFoundError{Ref: ref, Path: path}
		}
		return nil, &core.IOError{Op: "read", Path: path, Err: err}
	}
	return out, nil
}

// ListAtRef lists every path under the given directories in one ls-tree
// call. Directories absent from the tree contribute nothing.
func (s *Store) ListAtRef(ctx context.Context, ref core.BranchRef, paths []string) ([]string, error) {
	if len(paths) == 0 {
		return nil, nil
	}

	args := append([]string{"ls-tree", "-r", "--name-only", string(ref), "--"}, paths...)
	out, err := s.git(ctx, args...)
	files := lines(out)
	if err != nil {
		return files, &core.IOError{Op: "list", Path: strings.Join(paths, " "), Err: err}
	}

	s.logger.Debug("listed index paths", "ref", ref, "paths", paths, "files", len(files))
	return files, nil
}

func (s *Store) ListRefs(ctx context.Context) ([]string, error) {
	out, err := s.git(ctx, "branch", "--all")
	if err != nil {
		return nil, &core.IOError{Op: "refs", Path: s.gitDir, Err: err}
	}
	return lines(out), nil
}

func (s *Store) git(ctx context.Context, args ...string) ([]byte, error) {
	full := append([]string{"--no-pager", "--git-dir=" + s.gitDir}, args...)

	buf := &core.LimitedBuffer{Limit: s.limit}
	err := s.runner.Run(ctx, buf, full...)
	if buf.Overflowed() {
		return nil, fmt.Errorf("git %s: %w", args[0], core.ErrTooLarge)
	}
	return buf.Bytes(), err
}

// missingPath recognises git's complaints about paths absent at a ref.
func missingPath(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	msg := cmdErr.Stderr
	return strings.Contains(msg, "does not exist in") ||
		strings.Contains(msg, "exists on disk, but not in")
}

func lines(out []byte) []string {
	var result []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			result = append(result, line)
		}
	}
	return result
}
