package script

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// VersionRange is a semantic-version range expression such as ">=6.1, <11".
type VersionRange struct {
	raw         string
	constraints *semver.Constraints
}

// ParseVersionRange parses a range expression.
func ParseVersionRange(expr string) (VersionRange, error) {
	c, err := semver.NewConstraint(expr)
	if err != nil {
		return VersionRange{}, fmt.Errorf("parse version range %q: %w", expr, err)
	}
	return VersionRange{raw: expr, constraints: c}, nil
}

// MustParseVersionRange is ParseVersionRange for literals known to be valid.
func MustParseVersionRange(expr string) VersionRange {
	r, err := ParseVersionRange(expr)
	if err != nil {
		panic(err)
	}
	return r
}

// IsZero reports whether the range was never set.
func (r VersionRange) IsZero() bool {
	return r.constraints == nil
}

// Contains reports whether v lies inside the range. The zero range matches
// every version.
func (r VersionRange) Contains(v *semver.Version) bool {
	if r.constraints == nil {
		return true
	}
	return r.constraints.Check(v)
}

// String returns the expression as written.
func (r VersionRange) String() string {
	return r.raw
}
