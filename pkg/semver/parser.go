// Package semver matches provider interface types and versions against the
// provider manager map.
package semver

import (
	"fmt"
	"regexp"
	"strings"
)

const logPrefix = "semver:parser"

// InterfaceRef is a parsed "<interfaceType>@<range>" reference, for example
// "CMPI@>=2.0.0 <3.0.0" or "C++Default@2".
type InterfaceRef struct {
	// Interface type name as registered by provider modules.
	Type string
	// Version range; empty matches any version.
	Range string
	// Raw input string
	Raw string
}

var (
	interfaceTypeRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+._-]*$`)
	majorOnlyRegex     = regexp.MustCompile(`^\d+$`)
	exactVersionRegex  = regexp.MustCompile(`^\d+(\.\d+){0,2}(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseInterfaceRef parses an interface reference.
//
// Supported formats:
//   - CMPI               (any version)
//   - CMPI@2             (major only)
//   - CMPI@2.0.0         (exact version)
//   - CMPI@^2.1.0        (caret range)
//   - CMPI@>=2.0.0 <3    (comparison range)
func ParseInterfaceRef(input string) (*InterfaceRef, error) {
	raw := strings.TrimSpace(input)

	typePart, rangeStr, _ := strings.Cut(raw, "@")
	typePart = strings.TrimSpace(typePart)
	rangeStr = strings.TrimSpace(rangeStr)

	if !ValidateInterfaceType(typePart) {
		return nil, fmt.Errorf("%s - invalid interface type: %q", logPrefix, raw)
	}
	if strings.Contains(raw, "@") && rangeStr == "" {
		return nil, fmt.Errorf("%s - empty version range: %q", logPrefix, raw)
	}

	return &InterfaceRef{Type: typePart, Range: rangeStr, Raw: raw}, nil
}

// String renders the reference in its parseable form.
func (r InterfaceRef) String() string {
	if r.Range == "" {
		return r.Type
	}
	return r.Type + "@" + r.Range
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "2").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g., "2.0.0" or "2.0").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr) && !IsMajorOnly(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	var major int
	fmt.Sscanf(rangeStr, "%d", &major)
	return major
}

// ValidateInterfaceType validates an interface type name (letters, digits, '+', '.', '_', '-').
func ValidateInterfaceType(name string) bool {
	return interfaceTypeRegex.MatchString(name)
}
