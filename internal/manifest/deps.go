package manifest

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Dependency is one entry of a dependency table.
type Dependency struct {
	Name        string   `json:"name"`
	Requirement string   `json:"requirement"`
	Features    []string `json:"features,omitempty"`
	Section     string   `json:"section"`
}

type cargoManifest struct {
	Dependencies      map[string]any `toml:"dependencies"`
	DevDependencies   map[string]any `toml:"dev-dependencies"`
	BuildDependencies map[string]any `toml:"build-dependencies"`
	Target            map[string]struct {
		Dependencies      map[string]any `toml:"dependencies"`
		DevDependencies   map[string]any `toml:"dev-dependencies"`
		BuildDependencies map[string]any `toml:"build-dependencies"`
	} `toml:"target"`
}

// Dependencies decodes a Cargo.toml document and returns every declared
// dependency, ordered by section then name. Path and git dependencies
// without a version have an empty Requirement.
func Dependencies(data []byte) ([]Dependency, error) {
	var m cargoManifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	var deps []Dependency
	deps = appendTable(deps, "dependencies", m.Dependencies)
	deps = appendTable(deps, "dev-dependencies", m.DevDependencies)
	deps = appendTable(deps, "build-dependencies", m.BuildDependencies)
	for platform, t := range m.Target {
		prefix := "target." + platform + "."
		deps = appendTable(deps, prefix+"dependencies", t.Dependencies)
		deps = appendTable(deps, prefix+"dev-dependencies", t.DevDependencies)
		deps = appendTable(deps, prefix+"build-dependencies", t.BuildDependencies)
	}

	sort.SliceStable(deps, func(i, j int) bool {
		if deps[i].Section != deps[j].Section {
			return deps[i].Section < deps[j].Section
		}
		return deps[i].Name < deps[j].Name
	})
	return deps, nil
}

func appendTable(deps []Dependency, section string, table map[string]any) []Dependency {
	for key, value := range table {
		dep := Dependency{Name: strings.ToLower(key), Section: section}

		switch v := value.(type) {
		case string:
			dep.Requirement = v
		case map[string]any:
			if s, ok := v["version"].(string); ok {
				dep.Requirement = s
			}
			if s, ok := v["package"].(string); ok && s != "" {
				dep.Name = strings.ToLower(s)
			}
			if list, ok := v["features"].([]any); ok {
				for _, f := range list {
					if s, ok := f.(string); ok {
						dep.Features = append(dep.Features, s)
					}
				}
			}
		default:
			continue
		}
		deps = append(deps, dep)
	}
	return deps
}
