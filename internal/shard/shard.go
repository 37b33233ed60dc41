// Package shard maps crate names to their location in the index tree.
//
// The index fans names out so that no directory grows unbounded:
//
//	a      -> 1/a
//	ab     -> 2/ab
//	abc    -> 3/a/abc
//	serde  -> se/rd/serde
package shard

import (
	"strings"

	"github.com/git-pkgs/crateindex/internal/core"
)

// longLevels is the number of two-character directory levels used for
// names of four or more characters.
const longLevels = 2

// Path returns the index path holding the records of name.
func Path(name string) string {
	name = core.NormalizeName(name)

	switch len(name) {
	case 0:
		return ""
	case 1:
		return "1/" + name
	case 2:
		return "2/" + name
	case 3:
		return "3/" + name[:1] + "/" + name
	}
	return name[0:2] + "/" + name[2:4] + "/" + name
}

// PrefixPaths returns the directories that may contain a name starting with
// prefix. Short prefixes match several buckets at once. An odd trailing
// character is ignored when building the long path, so the result can be
// broader than the prefix and callers must filter the listing themselves.
func PrefixPaths(prefix string) []string {
	prefix = core.NormalizeName(prefix)

	var paths []string
	if len(prefix) < 3 {
		paths = append(paths, "3/")
	}
	if len(prefix) < 2 {
		paths = append(paths, "2/")
	}
	if len(prefix) < 1 {
		paths = append(paths, "1/")
	}
	if len(prefix) >= 2 {
		paths = append(paths, longPrefixPath(prefix))
	}
	return paths
}

func longPrefixPath(prefix string) string {
	chunks := len(prefix) / 2
	// Departs from the plain chunk formula on purpose: "serdej" yields
	// "se/rd/", not "se/rd/ej/", since the index only nests two levels deep.
	if chunks > longLevels {
		chunks = longLevels
	}

	var b strings.Builder
	for i := 0; i < chunks; i++ {
		b.WriteString(prefix[i*2 : i*2+2])
		b.WriteByte('/')
	}
	return b.String()
}

// Matches reports whether an index entry path names a crate starting with
// prefix. Entries are compared by their final path component.
func Matches(entry, prefix string) bool {
	return strings.HasPrefix(BaseName(entry), core.NormalizeName(prefix))
}

// BaseName returns the crate name of an index entry path.
func BaseName(entry string) string {
	if idx := strings.LastIndex(entry, "/"); idx >= 0 {
		return entry[idx+1:]
	}
	return entry
}
