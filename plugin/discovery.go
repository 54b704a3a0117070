package plugin

import (
	"fmt"
	"io/fs"
	"strings"
)

// PackageMarker is the reserved module identifier of a plugin directory.
// Entries named PackageMarker plus any suffix are never loaded.
const PackageMarker = "init"

// Candidate is a directory entry selected for loading.
type Candidate struct {
	Entry  string
	ID     string
	Suffix string
}

// Discover lists the root of fsys and returns the entries that follow the
// plugin naming convention, in listing order. When several suffixes match an
// entry the longest one wins.
func Discover(fsys fs.FS, suffixes []string) ([]Candidate, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin directory: %w", err)
	}

	var candidates []Candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		c, ok := match(entry.Name(), suffixes)
		if !ok {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates, nil
}

func match(name string, suffixes []string) (Candidate, bool) {
	best := ""
	for _, suffix := range suffixes {
		if suffix == "" || len(suffix) <= len(best) {
			continue
		}
		if strings.HasSuffix(name, suffix) && len(name) > len(suffix) {
			best = suffix
		}
	}
	if best == "" {
		return Candidate{}, false
	}
	id := strings.TrimSuffix(name, best)
	if id == PackageMarker {
		return Candidate{}, false
	}
	return Candidate{Entry: name, ID: id, Suffix: best}, true
}
