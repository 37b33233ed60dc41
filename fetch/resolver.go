package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/git-pkgs/crateindex/client"
	"github.com/git-pkgs/crateindex/internal/core"
)

var (
	ErrNoDownloadURL     = errors.New("no download URL available")
	ErrIntegrityMismatch = errors.New("artifact checksum mismatch")
)

// Packages supplies resolved crates.
type Packages interface {
	Package(ctx context.Context, name string) (*core.ResolvedPackage, error)
}

// Resolver determines download URLs for crate artifacts.
type Resolver struct {
	packages Packages
	urls     client.URLBuilder
}

// NewResolver creates a URL resolver. The index supplies checksums, urls
// the download location.
func NewResolver(packages Packages, urls client.URLBuilder) *Resolver {
	return &Resolver{packages: packages, urls: urls}
}

// ArtifactInfo contains information about a downloadable artifact.
type ArtifactInfo struct {
	URL       string `json:"url"`
	Filename  string `json:"filename"`
	Integrity string `json:"integrity,omitempty"` // sha256-<hex>
	Yanked    bool   `json:"yanked,omitempty"`
}

// Resolve returns the download URL and checksum of an exact crate version.
func (r *Resolver) Resolve(ctx context.Context, name, version string) (*ArtifactInfo, error) {
	name = core.NormalizeName(name)
	pkg, err := r.packages.Package(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("fetching versions: %w", err)
	}

	rec, ok := pkg.Lookup(version)
	if !ok {
		return nil, &core.NotFoundError{Path: name + "@" + version}
	}

	if r.urls == nil {
		return nil, ErrNoDownloadURL
	}
	url := r.urls.Download(name, version)
	if url == "" {
		return nil, ErrNoDownloadURL
	}

	return &ArtifactInfo{
		URL:       url,
		Filename:  filenameFromURL(url),
		Integrity: rec.Checksum,
		Yanked:    rec.Yanked,
	}, nil
}

// Download retrieves the artifact through g and checks it against the
// index checksum when one is known.
func (r *Resolver) Download(ctx context.Context, g Getter, info *ArtifactInfo, limit int64) ([]byte, error) {
	data, err := g.Get(ctx, info.URL, limit)
	if err != nil {
		return nil, err
	}
	if err := Verify(data, info.Integrity); err != nil {
		return nil, fmt.Errorf("%s: %w", info.Filename, err)
	}
	return data, nil
}

// Verify checks data against an integrity string of the form sha256-<hex>.
// An empty integrity string always passes.
func Verify(data []byte, integrity string) error {
	if integrity == "" {
		return nil
	}
	algo, want, ok := strings.Cut(integrity, "-")
	if !ok || algo != "sha256" {
		return fmt.Errorf("unsupported integrity %q", integrity)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: got sha256-%s", ErrIntegrityMismatch, got)
	}
	return nil
}

func filenameFromURL(url string) string {
	if idx := strings.LastIndex(url, "/"); idx >= 0 {
		return url[idx+1:]
	}
	return url
}
