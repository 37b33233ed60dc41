// Package records decodes newline-delimited index records into version
// metadata. Bad lines are skipped one at a time; they never abort a stream.
package records

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"slices"
	"sort"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/git-pkgs/crateindex/internal/core"
)

// maxLine bounds a single record. The whole payload is already capped by the
// index reader, so one line can never be larger than that.
const maxLine = core.DefaultMaxPayload

var errMissingVersion = errors.New("record has no vers field")

// record mirrors one line of the crates.io index.
type record struct {
	Vers        string              `json:"vers"`
	Yanked      bool                `json:"yanked"`
	Features    map[string][]string `json:"features"`
	Features2   map[string][]string `json:"features2"`
	Cksum       string              `json:"cksum"`
	RustVersion string              `json:"rust_version"`
}

// Entry is the outcome of one non-blank input line: either a decoded Record
// or an Err explaining why the line was skipped.
type Entry struct {
	Line   int
	Record core.VersionRecord
	Err    error // *core.ParseError when the line was skipped
}

// Skipped reports whether the line failed to decode.
func (e Entry) Skipped() bool {
	return e.Err != nil
}

// Scanner reads index records line by line.
type Scanner struct {
	sc    *bufio.Scanner
	line  int
	entry Entry
	err   error
}

// NewScanner returns a scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	return &Scanner{sc: sc}
}

// Next advances to the next non-blank line. It returns false at the end of
// input or when the underlying reader fails; see Err.
func (s *Scanner) Next() bool {
	for s.sc.Scan() {
		s.line++
		text := bytes.TrimSpace(s.sc.Bytes())
		if len(text) == 0 {
			continue
		}
		s.entry = decodeLine(s.line, text)
		return true
	}
	s.err = s.sc.Err()
	return false
}

// Entry returns the entry produced by the last call to Next.
func (s *Scanner) Entry() Entry {
	return s.entry
}

// Err returns the first read error, if any. Malformed records are not
// read errors; they are reported per Entry.
func (s *Scanner) Err() error {
	return s.err
}

// All iterates over every non-blank line of r.
func All(r io.Reader) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		s := NewScanner(r)
		for s.Next() {
			if !yield(s.Entry()) {
				return
			}
		}
	}
}

func decodeLine(line int, text []byte) Entry {
	var rec record
	if err := json.Unmarshal(text, &rec); err != nil {
		return Entry{Line: line, Err: &core.ParseError{Line: line, Text: string(text), Err: err}}
	}
	if strings.TrimSpace(rec.Vers) == "" {
		return Entry{Line: line, Err: &core.ParseError{Line: line, Text: string(text), Err: errMissingVersion}}
	}

	var checksum string
	if rec.Cksum != "" {
		checksum = "sha256-" + rec.Cksum
	}

	return Entry{
		Line: line,
		Record: core.VersionRecord{
			Number:      rec.Vers,
			Yanked:      rec.Yanked,
			Features:    featureNames(rec.Features, rec.Features2),
			RustVersion: rec.RustVersion,
			Checksum:    checksum,
		},
	}
}

// featureNames merges the keys of both feature tables, dropping the implicit
// default feature, sorted and de-duplicated.
func featureNames(tables ...map[string][]string) []string {
	var names []string
	for _, t := range tables {
		for name := range t {
			if name == core.DefaultFeature {
				continue
			}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return slices.Compact(names)
}

// Parse decodes raw index content for the named crate. Skipped lines are
// logged as warnings. The result is sorted by (number, yanked, features)
// in descending lexicographic order; semver ordering is applied later by
// the version resolver.
func Parse(raw []byte, name string, logger *log.Logger) []core.VersionRecord {
	if logger == nil {
		logger = log.Default()
	}

	var versions []core.VersionRecord
	skipped := 0
	s := NewScanner(bytes.NewReader(raw))
	for s.Next() {
		e := s.Entry()
		if e.Skipped() {
			skipped++
			logger.Warn("skipping malformed index record", "crate", name, "line", e.Line, "err", e.Err)
			continue
		}
		versions = append(versions, e.Record)
	}
	if err := s.Err(); err != nil {
		logger.Warn("index record stream ended early", "crate", name, "err", err)
	}

	logger.Debug("parsed index records", "crate", name, "versions", len(versions), "skipped", skipped)

	SortDescending(versions)
	return versions
}

// SortDescending orders records by (number, yanked, features) descending.
func SortDescending(versions []core.VersionRecord) {
	sort.SliceStable(versions, func(i, j int) bool {
		return compareRecords(versions[i], versions[j]) > 0
	})
}

func compareRecords(a, b core.VersionRecord) int {
	if c := strings.Compare(a.Number, b.Number); c != 0 {
		return c
	}
	if a.Yanked != b.Yanked {
		if a.Yanked {
			return 1
		}
		return -1
	}
	return slices.Compare(a.Features, b.Features)
}
