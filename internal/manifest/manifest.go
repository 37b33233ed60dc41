// Package manifest locates dependency declarations in Cargo.toml files.
//
// Detect works on raw lines so it copes with manifests that are mid-edit
// and do not parse; Dependencies decodes a whole, valid manifest.
package manifest

import (
	"regexp"
	"strings"

	"github.com/git-pkgs/crateindex/internal/core"
)

var (
	reHeader        = regexp.MustCompile(`^\s*\[\[?\s*([^\[\]]+?)\s*\]`)
	reName          = regexp.MustCompile(`^\s*([A-Za-z0-9_-]+)`)
	reSimpleVersion = regexp.MustCompile(`^\s*[A-Za-z0-9_-]+\s*=\s*"([^"]*)`)
	reInlineVersion = regexp.MustCompile(`\bversion\s*=\s*"([^"]*)`)
	reFeatures      = regexp.MustCompile(`\bfeatures\s*=\s*\[([^\]]*)`)
	rePackage       = regexp.MustCompile(`\bpackage\s*=\s*"([^"]+)"`)
	reQuoted        = regexp.MustCompile(`"([^"]*)"`)
)

var dependencyTables = []string{"dependencies", "dev-dependencies", "build-dependencies"}

// Section returns the name of the table enclosing line, or "" when the line
// precedes every table header.
func Section(lines []string, line int) string {
	if line >= len(lines) {
		line = len(lines) - 1
	}
	for i := line; i >= 0; i-- {
		if m := reHeader.FindStringSubmatch(lines[i]); m != nil {
			return strings.ReplaceAll(m[1], " ", "")
		}
	}
	return ""
}

// IsDependencyTable reports whether section lists dependencies, including
// platform specific ones such as target.'cfg(unix)'.dependencies.
func IsDependencyTable(section string) bool {
	for _, t := range dependencyTables {
		if section == t {
			return true
		}
		if strings.HasPrefix(section, "target.") && strings.HasSuffix(section, "."+t) {
			return true
		}
	}
	return false
}

// dependencyTable splits a [dependencies.serde] style header into the crate
// name. It reports false for any other section.
func dependencyTable(section string) (string, bool) {
	idx := strings.LastIndex(section, ".")
	if idx <= 0 {
		return "", false
	}
	parent, name := section[:idx], strings.Trim(section[idx+1:], `"'`)
	if name == "" || !IsDependencyTable(parent) {
		return "", false
	}
	return name, true
}

// Detect finds the declaration under the cursor at (line, col), both zero
// based. It reports false when the cursor is not on a crate name, a
// version requirement or a features array inside a dependency table.
func Detect(lines []string, line, col int) (core.DeclarationSite, bool) {
	if line < 0 || line >= len(lines) {
		return core.DeclarationSite{}, false
	}
	text := lines[line]
	if reHeader.MatchString(text) {
		return core.DeclarationSite{}, false
	}

	section := Section(lines, line)
	tableCrate, inTable := dependencyTable(section)
	if !inTable && !IsDependencyTable(section) {
		return core.DeclarationSite{}, false
	}

	crate := tableCrate
	if !inTable {
		if m := reName.FindStringSubmatch(text); m != nil {
			crate = m[1]
		}
	}
	if m := rePackage.FindStringSubmatch(text); m != nil {
		crate = m[1]
	} else if inTable {
		if pkg := tableValue(lines, line, rePackage); pkg != "" {
			crate = pkg
		}
	}

	if m := reFeatures.FindStringSubmatchIndex(text); m != nil && within(col, m[2], m[3]) {
		req := ""
		if v := reInlineVersion.FindStringSubmatch(text); v != nil {
			req = v[1]
		} else if inTable {
			req = tableValue(lines, line, reInlineVersion)
		}
		return core.DeclarationSite{
			Kind:            core.KindFeatures,
			PackageName:     core.NormalizeName(crate),
			RequirementText: req,
			TextSpan:        core.Span{Start: m[2], End: m[3]},
			Cursor:          col,
			Existing:        quoted(text[m[2]:m[3]]),
		}, true
	}

	if m := reInlineVersion.FindStringSubmatchIndex(text); m != nil && within(col, m[2], m[3]) {
		return versionSite(crate, text, m[2], m[3], col), true
	}

	if inTable {
		return core.DeclarationSite{}, false
	}

	if m := reSimpleVersion.FindStringSubmatchIndex(text); m != nil && within(col, m[2], m[3]) {
		return versionSite(crate, text, m[2], m[3], col), true
	}

	if m := reName.FindStringSubmatchIndex(text); m != nil && within(col, m[2], m[3]) {
		name := text[m[2]:m[3]]
		return core.DeclarationSite{
			Kind:            core.KindName,
			PackageName:     core.NormalizeName(name),
			RequirementText: name,
			TextSpan:        core.Span{Start: m[2], End: m[3]},
			Cursor:          col,
		}, true
	}

	return core.DeclarationSite{}, false
}

func versionSite(crate, text string, start, end, col int) core.DeclarationSite {
	return core.DeclarationSite{
		Kind:            core.KindVersion,
		PackageName:     core.NormalizeName(crate),
		RequirementText: text[start:end],
		TextSpan:        core.Span{Start: start, End: end},
		Cursor:          col,
	}
}

// tableValue searches the table enclosing line for the first match of re
// and returns its first group.
func tableValue(lines []string, line int, re *regexp.Regexp) string {
	start := line
	for start > 0 && !reHeader.MatchString(lines[start]) {
		start--
	}
	for i := start + 1; i < len(lines); i++ {
		if reHeader.MatchString(lines[i]) {
			break
		}
		if m := re.FindStringSubmatch(lines[i]); m != nil {
			return m[1]
		}
	}
	return ""
}

func quoted(s string) []string {
	var out []string
	for _, m := range reQuoted.FindAllStringSubmatch(s, -1) {
		if m[1] != "" {
			out = append(out, m[1])
		}
	}
	return out
}

func within(col, start, end int) bool {
	return col >= start && col <= end
}
