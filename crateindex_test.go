package crateindex_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/crateindex"
	"github.com/git-pkgs/crateindex/fetch"
)

var fixture = map[string]string{
	"se/rd/serde": `{"name":"serde","vers":"0.9.15","deps":[],"cksum":"a","features":{},"yanked":false}
{"name":"serde","vers":"1.0.0","deps":[],"cksum":"b","features":{"default":["std"],"std":[]},"yanked":false}
{"name":"serde","vers":"1.0.1","deps":[],"cksum":"c","features":{"default":["std"],"std":[],"derive":["serde_derive"]},"yanked":false,"rust_version":"1.31"}
{"name":"serde","vers":"1.0.2","deps":[],"cksum":"d","features":{"std":[],"alloc":[]},"yanked":true}
`,
	"se/rd/serde_json": `{"name":"serde_json","vers":"1.0.100","deps":[],"cksum":"e","features":{},"yanked":false}
`,
	"3/l/log": `{"name":"log","vers":"0.4.21","deps":[],"cksum":"f","features":{"kv":[]},"yanked":false}
`,
}

func writeIndex(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func newContext(t *testing.T) (*crateindex.ResolverContext, string) {
	t.Helper()
	root := t.TempDir()
	writeIndex(t, root, fixture)

	cfg := crateindex.DefaultConfig()
	cfg.Backend = "dir"
	cfg.IndexPath = root

	rc, err := crateindex.NewResolverContext(context.Background(), cfg, log.New(io.Discard))
	if err != nil {
		t.Fatalf("NewResolverContext failed: %v", err)
	}
	return rc, root
}

func TestSupportedStores(t *testing.T) {
	got := crateindex.SupportedStores()
	want := []string{"dir", "git", "sparse"}
	if !slices.Equal(got, want) {
		t.Errorf("SupportedStores() = %v, want %v", got, want)
	}
}

func TestNewResolverContextUnknownStore(t *testing.T) {
	cfg := crateindex.DefaultConfig()
	cfg.Backend = "svn"
	if _, err := crateindex.NewResolverContext(context.Background(), cfg, log.New(io.Discard)); err == nil {
		t.Error("expected error for unknown store")
	}
}

func TestBranch(t *testing.T) {
	rc, _ := newContext(t)
	// a directory has no refs, so the probe settles on the default
	if rc.Branch() != "origin/master" {
		t.Errorf("Branch() = %q", rc.Branch())
	}
	if rc.Store().Kind() != "dir" {
		t.Errorf("Store().Kind() = %q", rc.Store().Kind())
	}
}

func TestPackage(t *testing.T) {
	rc, _ := newContext(t)
	ctx := context.Background()

	pkg, err := rc.Package(ctx, "Serde")
	if err != nil {
		t.Fatalf("Package failed: %v", err)
	}
	var got []string
	for _, v := range pkg.Versions {
		got = append(got, v.Number)
	}
	want := []string{"1.0.2", "1.0.1", "1.0.0", "0.9.15"}
	if !slices.Equal(got, want) {
		t.Errorf("versions = %v, want %v", got, want)
	}

	again, err := rc.Package(ctx, "serde")
	if err != nil {
		t.Fatal(err)
	}
	if again != pkg {
		t.Error("second lookup should be served from the cache")
	}
	if rc.Cached() != 1 {
		t.Errorf("Cached() = %d, want 1", rc.Cached())
	}
}

func TestPackageNotFound(t *testing.T) {
	rc, _ := newContext(t)

	_, err := rc.Package(context.Background(), "tokio")
	if !errors.Is(err, crateindex.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
	var nf *crateindex.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("err = %T, want *NotFoundError", err)
	}
	if rc.Cached() != 0 {
		t.Error("failures should not be cached")
	}
}

func TestResolve(t *testing.T) {
	rc, _ := newContext(t)
	ctx := context.Background()

	tests := []struct {
		req   string
		want  string
		found bool
	}{
		{"1.0", "1.0.1", true},
		{"^0.9", "0.9.15", true},
		{"=1.0.2", "1.0.2", true},
		{">=1.0.0, <1.0.1", "1.0.0", true},
		{"2", "2", false},
	}
	for _, tt := range tests {
		t.Run(tt.req, func(t *testing.T) {
			m, err := rc.Resolve(ctx, "serde", tt.req)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if m.Version != tt.want || m.Found != tt.found {
				t.Errorf("Resolve(%q) = %q/%v, want %q/%v", tt.req, m.Version, m.Found, tt.want, tt.found)
			}
		})
	}
}

func TestResolveInvalidRequirement(t *testing.T) {
	rc, _ := newContext(t)

	for _, req := range []string{"", "not a version"} {
		_, err := rc.Resolve(context.Background(), "serde", req)
		var ce *crateindex.ConstraintError
		if !errors.As(err, &ce) {
			t.Errorf("Resolve(%q) err = %v, want *ConstraintError", req, err)
		}
	}
}

func TestLatest(t *testing.T) {
	rc, _ := newContext(t)

	m, err := rc.Latest(context.Background(), "serde")
	if err != nil {
		t.Fatal(err)
	}
	if m.Version != "1.0.1" {
		t.Errorf("Latest = %q, want 1.0.1", m.Version)
	}
}

func TestFeatures(t *testing.T) {
	rc, _ := newContext(t)
	ctx := context.Background()

	tests := []struct {
		req  string
		want []string
	}{
		{"1.0", []string{"derive", "std"}},
		{"", []string{"derive", "std"}},
		{"=1.0.0", []string{"std"}},
		{"1.0.2", []string{"alloc", "std"}},
		{"9", nil},
	}
	for _, tt := range tests {
		got, err := rc.Features(ctx, "serde", tt.req)
		if err != nil {
			t.Fatalf("Features(%q) failed: %v", tt.req, err)
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("Features(%q) = %v, want %v", tt.req, got, tt.want)
		}
	}
}

func TestSearchNames(t *testing.T) {
	rc, _ := newContext(t)

	names, err := rc.SearchNames(context.Background(), "se")
	if err != nil {
		t.Fatalf("SearchNames failed: %v", err)
	}
	slices.Sort(names)
	want := []string{"log", "serde", "serde_json"}
	if !slices.Equal(names, want) {
		t.Errorf("SearchNames = %v, want %v", names, want)
	}
}

func TestComplete(t *testing.T) {
	rc, _ := newContext(t)
	ctx := context.Background()

	names := rc.Complete(ctx, "Cargo.toml", crateindex.DeclarationSite{
		Kind:            crateindex.KindName,
		PackageName:     "ser",
		RequirementText: "ser",
		TextSpan:        crateindex.Span{Start: 0, End: 3},
		Cursor:          3,
	})
	if got := names.Labels(); !slices.Equal(got, []string{"serde", "serde_json"}) {
		t.Errorf("names = %v", got)
	}

	vers := rc.Complete(ctx, "Cargo.toml", crateindex.DeclarationSite{
		Kind:            crateindex.KindVersion,
		PackageName:     "serde",
		RequirementText: "1.0",
		TextSpan:        crateindex.Span{Start: 9, End: 12},
		Cursor:          12,
	})
	if got := vers.Labels(); !slices.Equal(got, []string{"1.0.1", "1.0.0"}) {
		t.Errorf("versions = %v", got)
	}
	if len(vers.Items) == 0 || !vers.Items[0].Preselect {
		t.Error("first version should be preselected")
	}
	if !strings.Contains(vers.Items[0].Detail, "docs.rs/serde/1.0.1") {
		t.Errorf("Detail = %q", vers.Items[0].Detail)
	}
}

func TestInvalidate(t *testing.T) {
	rc, root := newContext(t)
	ctx := context.Background()

	if _, err := rc.Package(ctx, "log"); err != nil {
		t.Fatal(err)
	}

	writeIndex(t, root, map[string]string{
		"3/l/log": fixture["3/l/log"] + `{"name":"log","vers":"0.4.22","deps":[],"cksum":"g","features":{},"yanked":false}` + "\n",
	})

	m, _ := rc.Latest(ctx, "log")
	if m.Version != "0.4.21" {
		t.Errorf("Latest before invalidate = %q, want cached 0.4.21", m.Version)
	}

	rc.Invalidate("log")
	m, _ = rc.Latest(ctx, "log")
	if m.Version != "0.4.22" {
		t.Errorf("Latest after invalidate = %q, want 0.4.22", m.Version)
	}

	rc.Purge()
	if rc.Cached() != 0 {
		t.Errorf("Cached() = %d after Purge", rc.Cached())
	}
}

func TestBulkResolve(t *testing.T) {
	rc, _ := newContext(t)

	got := rc.BulkResolve(context.Background(), []string{"serde", "LOG", "missing"})
	if len(got) != 2 {
		t.Fatalf("BulkResolve returned %d crates, want 2", len(got))
	}
	if _, ok := got["log"]; !ok {
		t.Error("names should be normalized")
	}
	if _, ok := got["missing"]; ok {
		t.Error("failed crates should be omitted")
	}
}

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in   string
		want crateindex.Target
	}{
		{"serde@1.0", crateindex.Target{Name: "serde", Requirement: "1.0"}},
		{"pkg:cargo/serde@1.0.0", crateindex.Target{Name: "serde", Requirement: "1.0.0"}},
		{"Tokio", crateindex.Target{Name: "tokio"}},
	}
	for _, tt := range tests {
		got, err := crateindex.ParseTarget(tt.in)
		if err != nil {
			t.Fatalf("ParseTarget(%q) failed: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseTarget(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParsePURL(t *testing.T) {
	p, err := crateindex.ParsePURL("pkg:cargo/serde@1.0.0")
	if err != nil {
		t.Fatalf("ParsePURL failed: %v", err)
	}
	if p == nil {
		t.Fatal("expected a PURL")
	}

	if _, err := crateindex.ParsePURL("not a purl"); err == nil {
		t.Error("expected error for invalid PURL")
	}
}

func TestBuildURLs(t *testing.T) {
	rc, _ := newContext(t)

	urls := crateindex.BuildURLs(rc.URLs(), "serde", "1.0.0")
	if urls["docs"] != "https://docs.rs/serde/1.0.0" {
		t.Errorf("docs = %q", urls["docs"])
	}
	if urls["purl"] != "pkg:cargo/serde@1.0.0" {
		t.Errorf("purl = %q", urls["purl"])
	}
}

type staticGetter struct {
	body []byte
	urls []string
}

func (g *staticGetter) Fetch(ctx context.Context, url string) (*fetch.Document, error) {
	return &fetch.Document{Body: io.NopCloser(bytes.NewReader(g.body)), Size: int64(len(g.body))}, nil
}

func (g *staticGetter) Get(ctx context.Context, url string, limit int64) ([]byte, error) {
	g.urls = append(g.urls, url)
	return g.body, nil
}

func (g *staticGetter) Head(ctx context.Context, url string) (int64, string, error) {
	return int64(len(g.body)), "application/octet-stream", nil
}

func TestArtifact(t *testing.T) {
	rc, _ := newContext(t)
	ctx := context.Background()

	info, err := rc.Artifact(ctx, "serde", "1.0")
	if err != nil {
		t.Fatalf("Artifact failed: %v", err)
	}
	if info.URL != "https://static.crates.io/crates/serde/serde-1.0.1.crate" {
		t.Errorf("URL = %q", info.URL)
	}
	if info.Filename != "serde-1.0.1.crate" || info.Integrity != "sha256-c" || info.Yanked {
		t.Errorf("info = %+v", info)
	}

	if _, err := rc.Artifact(ctx, "serde", "7"); !errors.Is(err, crateindex.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestDownloadVerifiesChecksum(t *testing.T) {
	rc, _ := newContext(t)
	ctx := context.Background()

	info, err := rc.Artifact(ctx, "serde", "=1.0.1")
	if err != nil {
		t.Fatal(err)
	}
	g := &staticGetter{body: []byte("crate bytes")}
	if _, err := rc.Download(ctx, info, g); !errors.Is(err, fetch.ErrIntegrityMismatch) {
		t.Errorf("err = %v, want ErrIntegrityMismatch", err)
	}
	if len(g.urls) != 1 || g.urls[0] != info.URL {
		t.Errorf("requested %v", g.urls)
	}

	info.Integrity = ""
	data, err := rc.Download(ctx, info, g)
	if err != nil || string(data) != "crate bytes" {
		t.Errorf("Download = %q, %v", data, err)
	}
}
