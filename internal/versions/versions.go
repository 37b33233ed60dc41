// Package versions matches Cargo version requirements against the versions
// published in the index.
package versions

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/git-pkgs/crateindex/internal/core"
)

// exactRe matches an exact requirement naming all three version components.
var exactRe = regexp.MustCompile(`^=\s*v?\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)

// Match is the outcome of ResolveBest. When Found is false, Version holds the
// requirement text unchanged so callers still have a key to probe with.
type Match struct {
	Record  *core.VersionRecord
	Version string
	Found   bool
}

// Constraint is a parsed Cargo version requirement.
type Constraint struct {
	input string
	raw   string
	cs    *semver.Constraints
	exact *semver.Version
	// pre holds the major.minor.patch triples of comparators that name a
	// pre-release. Only pre-releases on one of these triples may match.
	pre [][3]uint64
}

// Parse parses a Cargo requirement such as "1.2", "^1.2.3", "~0.4",
// ">=1.0, <2.0", "=1.0.0-beta.1" or "1.*". A bare version is a caret
// requirement, as in Cargo.toml.
func Parse(requirement string) (*Constraint, error) {
	raw := strings.TrimSpace(requirement)
	if raw == "" {
		return nil, &core.ConstraintError{Requirement: requirement, Err: fmt.Errorf("empty requirement")}
	}

	cs, err := semver.NewConstraint(rewrite(raw))
	if err != nil {
		return nil, &core.ConstraintError{Requirement: requirement, Err: err}
	}

	c := &Constraint{input: requirement, raw: raw, cs: cs, pre: prereleaseTriples(raw)}
	if exactRe.MatchString(raw) {
		v, err := semver.NewVersion(strings.TrimSpace(strings.TrimPrefix(raw, "=")))
		if err == nil {
			c.exact = v
		}
	}
	return c, nil
}

// rewrite turns Cargo syntax into the constraint grammar understood by
// semver: every comparator without an operator becomes a caret comparator.
func rewrite(req string) string {
	alternatives := strings.Split(req, "||")
	for i, alt := range alternatives {
		parts := strings.Split(alt, ",")
		for j, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" && (isDigit(p[0]) || p[0] == 'v') {
				p = "^" + p
			}
			parts[j] = p
		}
		alternatives[i] = strings.Join(parts, ", ")
	}
	return strings.Join(alternatives, " || ")
}

// prereleaseTriples collects the version cores of comparators carrying a
// pre-release tag, so "^1.0.0-alpha" admits 1.0.0-beta but not 1.5.0-beta.
func prereleaseTriples(req string) [][3]uint64 {
	var out [][3]uint64
	for _, alt := range strings.Split(req, "||") {
		for _, p := range strings.Split(alt, ",") {
			p = strings.TrimLeft(strings.TrimSpace(p), "^~=<>! ")
			v, err := semver.NewVersion(p)
			if err != nil || v.Prerelease() == "" {
				continue
			}
			out = append(out, [3]uint64{v.Major(), v.Minor(), v.Patch()})
		}
	}
	return out
}

func (c *Constraint) prereleaseAllowed(v *semver.Version) bool {
	if v.Prerelease() == "" {
		return true
	}
	for _, t := range c.pre {
		if t == [3]uint64{v.Major(), v.Minor(), v.Patch()} {
			return true
		}
	}
	return false
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// String returns the requirement as written.
func (c *Constraint) String() string {
	return c.raw
}

// Exact reports whether the requirement pins a single full version.
func (c *Constraint) Exact() bool {
	return c.exact != nil
}

// Allows reports whether rec may be selected for this requirement. Yanked
// versions are only allowed through an exact requirement.
func (c *Constraint) Allows(rec core.VersionRecord) bool {
	v, err := semver.NewVersion(rec.Number)
	if err != nil {
		return false
	}
	return c.allows(rec, v)
}

func (c *Constraint) allows(rec core.VersionRecord, v *semver.Version) bool {
	if c.exact != nil && v.Equal(c.exact) && v.Prerelease() == c.exact.Prerelease() {
		return true
	}
	if rec.Yanked || !c.prereleaseAllowed(v) {
		return false
	}
	return c.cs.Check(v)
}

// Best selects the highest-precedence candidate allowed by the requirement.
func (c *Constraint) Best(candidates []core.VersionRecord) Match {
	var (
		best  *core.VersionRecord
		bestV *semver.Version
	)
	for i := range candidates {
		v, err := semver.NewVersion(candidates[i].Number)
		if err != nil {
			continue
		}
		if !c.allows(candidates[i], v) {
			continue
		}
		if best == nil || v.GreaterThan(bestV) {
			best = &candidates[i]
			bestV = v
		}
	}

	if best == nil {
		return Match{Version: c.input}
	}
	rec := *best
	return Match{Record: &rec, Version: rec.Number, Found: true}
}

// ResolveBest returns the best candidate for requirement. An unparseable
// requirement is treated the same as one nothing satisfies.
func ResolveBest(requirement string, candidates []core.VersionRecord) Match {
	c, err := Parse(requirement)
	if err != nil {
		return Match{Version: requirement}
	}
	return c.Best(candidates)
}

// Latest returns the highest non-yanked, non-prerelease version.
func Latest(candidates []core.VersionRecord) Match {
	return ResolveBest("*", candidates)
}

// Compare orders two version numbers by semver precedence. Numbers that do
// not parse sort below every valid version and compare as plain strings
// among themselves.
func Compare(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

// Sort orders records by descending semver precedence. The sort is stable:
// records of equal precedence keep their incoming order, and records whose
// number does not parse go last in incoming order.
func Sort(records []core.VersionRecord) {
	parsed := make([]*semver.Version, len(records))
	for i, r := range records {
		if v, err := semver.NewVersion(r.Number); err == nil {
			parsed[i] = v
		}
	}

	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		a, b := parsed[idx[i]], parsed[idx[j]]
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.GreaterThan(b)
	})

	sorted := make([]core.VersionRecord, len(records))
	for i, k := range idx {
		sorted[i] = records[k]
	}
	copy(records, sorted)
}
