package shard

import (
	"slices"
	"testing"
)

func TestPath(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"", ""},
		{"a", "1/a"},
		{"ab", "2/ab"},
		{"abc", "3/a/abc"},
		{"serde", "se/rd/serde"},
		{"syn", "3/s/syn"},
		{"tokio", "to/ki/tokio"},
		{"rand", "ra/nd/rand"},
		{"Serde", "se/rd/serde"},
		{`"serde"`, "se/rd/serde"},
		{`"SERDE"`, "se/rd/serde"},
		{"serde_json", "se/rd/serde_json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Path(tt.name); got != tt.want {
				t.Errorf("Path(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestPathIsPure(t *testing.T) {
	inputs := [][]string{
		{"serde", "Serde", `"serde"`, `"SeRdE"`},
		{"ab", "AB", `"ab"`},
	}

	for _, group := range inputs {
		want := Path(group[0])
		for _, in := range group {
			for i := 0; i < 3; i++ {
				if got := Path(in); got != want {
					t.Errorf("Path(%q) = %q, want %q", in, got, want)
				}
			}
		}
	}
}

func TestPrefixPaths(t *testing.T) {
	tests := []struct {
		prefix string
		want   []string
	}{
		{"", []string{"3/", "2/", "1/"}},
		{"s", []string{"3/", "2/"}},
		{"se", []string{"3/", "se/"}},
		{"ser", []string{"se/"}},
		{"serd", []string{"se/rd/"}},
		// odd trailing character is dropped
		{"serde", []string{"se/rd/"}},
		// longer prefixes stop at the two levels the index uses
		{"serde_j", []string{"se/rd/"}},
		{"serdej", []string{"se/rd/"}},
		{`"Se"`, []string{"3/", "se/"}},
	}

	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got := PrefixPaths(tt.prefix)
			if !slices.Equal(got, tt.want) {
				t.Errorf("PrefixPaths(%q) = %v, want %v", tt.prefix, got, tt.want)
			}
		})
	}
}

func TestPrefixPathsShortPrefix(t *testing.T) {
	got := PrefixPaths("s")
	if !slices.Contains(got, "3/") || !slices.Contains(got, "2/") {
		t.Errorf("PrefixPaths(s) = %v, want 3/ and 2/ roots", got)
	}
	for _, p := range got {
		if p != "3/" && p != "2/" {
			t.Errorf("PrefixPaths(s) returned unexpected long path %q", p)
		}
	}

	got = PrefixPaths("se")
	if !slices.Contains(got, "se/") {
		t.Errorf("PrefixPaths(se) = %v, want long path se/", got)
	}
	if slices.Contains(got, "1/") {
		t.Errorf("PrefixPaths(se) = %v, must not include 1/", got)
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		entry  string
		prefix string
		want   bool
	}{
		{"se/rd/serde", "serde", true},
		{"se/rd/serde_json", "serde", true},
		{"se/rd/serdex", "Serde", true},
		{"se/rd/serial", "serde", false},
		{"3/s/syn", "s", true},
		{"syn", "sy", true},
	}

	for _, tt := range tests {
		if got := Matches(tt.entry, tt.prefix); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.entry, tt.prefix, got, tt.want)
		}
	}
}
