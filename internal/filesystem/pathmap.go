package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mapping rewrites paths beginning with From to begin with To.
type Mapping struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type mappingsFile struct {
	Mappings []Mapping `yaml:"mappings"`
}

// PathMapper translates stored paths (often host paths recorded by an
// earlier deployment) into paths readable by this process.
type PathMapper struct {
	mappings []Mapping
}

// NewPathMapper builds a mapper. The host/container pair from
// LIBRARY_HOST_PATH and LIBRARY_CONTAINER_PATH is passed as the first
// mapping; extra mappings typically come from LoadMappings. Longer From
// prefixes win.
func NewPathMapper(mappings ...Mapping) *PathMapper {
	cleaned := make([]Mapping, 0, len(mappings))
	for _, m := range mappings {
		from := strings.TrimRight(m.From, "/")
		to := strings.TrimRight(m.To, "/")
		if from == "" || to == "" || from == to {
			continue
		}
		cleaned = append(cleaned, Mapping{From: from, To: to})
	}
	sort.SliceStable(cleaned, func(i, j int) bool {
		return len(cleaned[i].From) > len(cleaned[j].From)
	})
	return &PathMapper{mappings: cleaned}
}

// LoadMappings reads a YAML file of the form:
//
//	mappings:
//	  - from: /volume1/photos
//	    to: /library
func LoadMappings(path string) ([]Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read path mappings: %w", err)
	}
	var f mappingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse path mappings %s: %w", path, err)
	}
	for i, m := range f.Mappings {
		if m.From == "" || m.To == "" {
			return nil, fmt.Errorf("path mapping %d in %s needs both from and to", i, path)
		}
	}
	return f.Mappings, nil
}

// Map returns path rewritten by the longest matching mapping, or path
// unchanged when none applies.
func (pm *PathMapper) Map(path string) string {
	if pm == nil || path == "" {
		return path
	}
	for _, m := range pm.mappings {
		if path == m.From {
			return m.To
		}
		if strings.HasPrefix(path, m.From+"/") {
			return m.To + path[len(m.From):]
		}
	}
	return path
}

// Resolve returns the first existing file among path and its mapped form.
func (pm *PathMapper) Resolve(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	if Exists(path) {
		return path, true
	}
	if mapped := pm.Map(path); mapped != path && Exists(mapped) {
		return mapped, true
	}
	return "", false
}

// IsWithin reports whether path is root or lies beneath it after cleaning.
func IsWithin(root, path string) bool {
	if root == "" || path == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(path))
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, "../"))
}
