package core

import (
	"fmt"
	"strings"

	packageurl "github.com/package-url/packageurl-go"
)

// Target is a crate name with an optional version requirement, as typed on
// the command line or sent by an editor.
type Target struct {
	Name        string
	Requirement string
}

// ParseTarget accepts either a Package URL (pkg:cargo/serde@1.0.0) or the
// short form name@requirement. The requirement may be empty.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}, fmt.Errorf("empty target")
	}

	if strings.HasPrefix(s, "pkg:") {
		p, err := packageurl.FromString(s)
		if err != nil {
			return Target{}, err
		}
		if p.Type != "cargo" {
			return Target{}, fmt.Errorf("unsupported package type %q, want cargo", p.Type)
		}
		name := p.Name
		if p.Namespace != "" {
			name = p.Namespace + "/" + p.Name
		}
		return Target{Name: NormalizeName(name), Requirement: p.Version}, nil
	}

	name, req, _ := strings.Cut(s, "@")
	name = NormalizeName(strings.TrimSpace(name))
	if name == "" {
		return Target{}, fmt.Errorf("missing crate name in %q", s)
	}
	return Target{Name: name, Requirement: strings.TrimSpace(req)}, nil
}

// PURL formats the target as a Package URL.
func (t Target) PURL() string {
	if t.Requirement != "" {
		return fmt.Sprintf("pkg:cargo/%s@%s", t.Name, t.Requirement)
	}
	return fmt.Sprintf("pkg:cargo/%s", t.Name)
}
