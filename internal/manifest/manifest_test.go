package manifest

import (
	"slices"
	"strings"
	"testing"

	"github.com/git-pkgs/crateindex/internal/core"
)

const cargoToml = `[package]
name = "demo"
version = "0.1.0"

[dependencies]
serde = { version = "1.0", features = ["derive", "std"] }
tokio = "1.38"
ran
json = { package = "serde_json", version = "1" }

[dependencies.reqwest]
version = "0.12"
default-features = false
features = ["json"]

[dev-dependencies]
criterion = "0.5"

[target.'cfg(unix)'.dependencies]
libc = "0.2"

[[bin]]
name = "demo"
`

func lines() []string {
	return strings.Split(cargoToml, "\n")
}

func TestSection(t *testing.T) {
	ls := lines()
	tests := []struct {
		line int
		want string
	}{
		{1, "package"},
		{5, "dependencies"},
		{11, "dependencies.reqwest"},
		{16, "dev-dependencies"},
		{19, "target.'cfg(unix)'.dependencies"},
		{22, "bin"},
	}
	for _, tt := range tests {
		if got := Section(ls, tt.line); got != tt.want {
			t.Errorf("Section(%d) = %q, want %q", tt.line, got, tt.want)
		}
	}

	if got := Section([]string{"name = 1"}, 0); got != "" {
		t.Errorf("Section before any header = %q", got)
	}
}

func TestIsDependencyTable(t *testing.T) {
	tests := map[string]bool{
		"dependencies":                    true,
		"dev-dependencies":                true,
		"build-dependencies":              true,
		"target.'cfg(unix)'.dependencies": true,
		"target.wasm32.dev-dependencies":  true,
		"package":                         false,
		"dependencies.serde":              false,
		"workspace":                       false,
	}
	for section, want := range tests {
		if got := IsDependencyTable(section); got != want {
			t.Errorf("IsDependencyTable(%q) = %v, want %v", section, got, want)
		}
	}
}

func TestDetectVersion(t *testing.T) {
	ls := lines()

	// tokio = "1.38" with the cursor after "1."
	site, ok := Detect(ls, 6, 11)
	if !ok {
		t.Fatal("expected a declaration")
	}
	want := core.DeclarationSite{
		Kind:            core.KindVersion,
		PackageName:     "tokio",
		RequirementText: "1.38",
		TextSpan:        core.Span{Start: 9, End: 13},
		Cursor:          11,
	}
	if site.Kind != want.Kind || site.PackageName != want.PackageName ||
		site.RequirementText != want.RequirementText || site.TextSpan != want.TextSpan {
		t.Errorf("Detect = %+v, want %+v", site, want)
	}
	if site.Typed() != "1." {
		t.Errorf("Typed() = %q, want 1.", site.Typed())
	}
}

func TestDetectInlineVersion(t *testing.T) {
	ls := lines()
	col := strings.Index(ls[5], `"1.0"`) + 2

	site, ok := Detect(ls, 5, col)
	if !ok || site.Kind != core.KindVersion {
		t.Fatalf("Detect = %+v, %v", site, ok)
	}
	if site.PackageName != "serde" || site.RequirementText != "1.0" {
		t.Errorf("site = %+v", site)
	}
}

func TestDetectRenamedPackage(t *testing.T) {
	ls := lines()
	col := strings.Index(ls[8], `"1"`) + 1

	site, ok := Detect(ls, 8, col)
	if !ok {
		t.Fatal("expected a declaration")
	}
	if site.PackageName != "serde_json" {
		t.Errorf("PackageName = %q, want serde_json", site.PackageName)
	}
}

func TestDetectFeatures(t *testing.T) {
	ls := lines()
	col := strings.Index(ls[5], `"std"`)

	site, ok := Detect(ls, 5, col)
	if !ok || site.Kind != core.KindFeatures {
		t.Fatalf("Detect = %+v, %v", site, ok)
	}
	if site.PackageName != "serde" || site.RequirementText != "1.0" {
		t.Errorf("site = %+v", site)
	}
	if !slices.Equal(site.Existing, []string{"derive", "std"}) {
		t.Errorf("Existing = %v", site.Existing)
	}
}

func TestDetectDependencyTable(t *testing.T) {
	ls := lines()

	site, ok := Detect(ls, 13, len(`features = ["js`))
	if !ok || site.Kind != core.KindFeatures {
		t.Fatalf("Detect = %+v, %v", site, ok)
	}
	if site.PackageName != "reqwest" || site.RequirementText != "0.12" {
		t.Errorf("site = %+v", site)
	}

	site, ok = Detect(ls, 11, len(`version = "0.1`))
	if !ok || site.Kind != core.KindVersion {
		t.Fatalf("Detect = %+v, %v", site, ok)
	}
	if site.PackageName != "reqwest" || site.RequirementText != "0.12" {
		t.Errorf("site = %+v", site)
	}

	// keys inside a dependency table are not crate names
	if _, ok := Detect(ls, 12, 3); ok {
		t.Error("default-features should not be detected")
	}
}

func TestDetectName(t *testing.T) {
	ls := lines()

	site, ok := Detect(ls, 7, 3)
	if !ok || site.Kind != core.KindName {
		t.Fatalf("Detect = %+v, %v", site, ok)
	}
	if site.RequirementText != "ran" || site.TextSpan != (core.Span{Start: 0, End: 3}) {
		t.Errorf("site = %+v", site)
	}
}

func TestDetectOutsideDependencies(t *testing.T) {
	ls := lines()
	cases := []struct {
		line, col int
	}{
		{1, 2},  // [package] name
		{2, 12}, // package version
		{4, 3},  // header line
		{22, 2}, // [[bin]] name
		{99, 0}, // out of range
		{-1, 0}, // out of range
		{6, 6},  // between name and version
	}
	for _, c := range cases {
		if site, ok := Detect(ls, c.line, c.col); ok {
			t.Errorf("Detect(%d, %d) = %+v, want none", c.line, c.col, site)
		}
	}
}

func TestDetectTargetDependencies(t *testing.T) {
	ls := lines()
	site, ok := Detect(ls, 19, len(`libc = "0.`))
	if !ok || site.PackageName != "libc" || site.Kind != core.KindVersion {
		t.Errorf("Detect = %+v, %v", site, ok)
	}
}

func TestDependencies(t *testing.T) {
	// the half-typed "ran" line does not parse, so drop it
	var kept []string
	for _, l := range lines() {
		if l != "ran" {
			kept = append(kept, l)
		}
	}

	deps, err := Dependencies([]byte(strings.Join(kept, "\n")))
	if err != nil {
		t.Fatalf("Dependencies failed: %v", err)
	}

	got := make([]string, len(deps))
	for i, d := range deps {
		got[i] = d.Section + ":" + d.Name + "@" + d.Requirement
	}
	want := []string{
		"dependencies:reqwest@0.12",
		"dependencies:serde@1.0",
		"dependencies:serde_json@1",
		"dependencies:tokio@1.38",
		"dev-dependencies:criterion@0.5",
		"target.cfg(unix).dependencies:libc@0.2",
	}
	if !slices.Equal(got, want) {
		t.Errorf("deps = %v, want %v", got, want)
	}

	for _, d := range deps {
		switch d.Name {
		case "serde":
			if !slices.Equal(d.Features, []string{"derive", "std"}) {
				t.Errorf("serde features = %v", d.Features)
			}
		case "reqwest":
			if !slices.Equal(d.Features, []string{"json"}) {
				t.Errorf("reqwest features = %v", d.Features)
			}
		}
	}
}

func TestDependenciesInvalid(t *testing.T) {
	if _, err := Dependencies([]byte("[dependencies\nserde = ")); err == nil {
		t.Error("expected a parse error")
	}
}
