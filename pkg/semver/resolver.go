package semver

import (
	"fmt"
	"sort"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
)

const resolverLogPrefix = "semver:resolver"

// ManagerEntry maps an interface type, a version range and a bitness to the
// provider manager that serves matching modules.
type ManagerEntry struct {
	InterfaceType string `json:"interfaceType"`
	// Range is a constraint over interface versions; empty matches any.
	Range string `json:"range,omitempty"`
	// Bitness restricts the entry to one module bitness; 0 matches any.
	Bitness uint16 `json:"bitness,omitempty"`
	// Path names the provider manager instance that handles the modules.
	Path string `json:"path"`
}

// ManagerMap resolves provider modules to provider managers.
type ManagerMap struct {
	entries []ManagerEntry
}

// NewManagerMap validates the entries and returns the map. Entries are kept
// in the given order, which breaks ties between equally specific matches.
func NewManagerMap(entries []ManagerEntry) (*ManagerMap, error) {
	out := make([]ManagerEntry, 0, len(entries))
	for _, e := range entries {
		if !ValidateInterfaceType(e.InterfaceType) {
			return nil, fmt.Errorf("%s - invalid interface type %q", resolverLogPrefix, e.InterfaceType)
		}
		if e.Path == "" {
			return nil, fmt.Errorf("%s - entry for %s has no path", resolverLogPrefix, e.InterfaceType)
		}
		if e.Range != "" && !IsMajorOnly(e.Range) {
			if _, err := masterminds.NewConstraint(e.Range); err != nil {
				return nil, fmt.Errorf("%s - invalid range %q for %s: %w", resolverLogPrefix, e.Range, e.InterfaceType, err)
			}
		}
		out = append(out, e)
	}
	return &ManagerMap{entries: out}, nil
}

// Entries returns a copy of the map entries.
func (m *ManagerMap) Entries() []ManagerEntry {
	return append([]ManagerEntry(nil), m.entries...)
}

// Paths returns the distinct provider manager paths, sorted.
func (m *ManagerMap) Paths() []string {
	seen := make(map[string]bool)
	var paths []string
	for _, e := range m.entries {
		if !seen[e.Path] {
			seen[e.Path] = true
			paths = append(paths, e.Path)
		}
	}
	sort.Strings(paths)
	return paths
}

// Resolve finds the entry for a module's interface type, version and bitness.
// Interface types compare case-insensitively. An entry restricted to the
// module's bitness wins over an unrestricted one.
func (m *ManagerMap) Resolve(interfaceType, version string, bitness uint16) (*ManagerEntry, bool) {
	var fallback *ManagerEntry
	for i := range m.entries {
		e := &m.entries[i]
		if !strings.EqualFold(e.InterfaceType, interfaceType) {
			continue
		}
		if e.Range != "" && !SatisfiesRange(version, e.Range) {
			continue
		}
		switch {
		case e.Bitness != 0 && e.Bitness == bitness:
			return e, true
		case e.Bitness == 0 && fallback == nil:
			fallback = e
		}
	}
	return fallback, fallback != nil
}

// SatisfiesRange checks if a version string satisfies a range.
func SatisfiesRange(version, rangeStr string) bool {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false
	}

	if IsMajorOnly(rangeStr) {
		return int(sv.Major()) == ExtractMajorFromRange(rangeStr)
	}

	constraint, err := masterminds.NewConstraint(rangeStr)
	if err != nil {
		return false
	}
	return constraint.Check(sv)
}

// SortVersionsDesc sorts version strings highest first. Unparseable versions
// sort last in their original order.
func SortVersionsDesc(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		vi, err1 := masterminds.NewVersion(versions[i])
		vj, err2 := masterminds.NewVersion(versions[j])
		switch {
		case err1 != nil:
			return false
		case err2 != nil:
			return true
		}
		return vi.GreaterThan(vj)
	})
}
