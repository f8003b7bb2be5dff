// Package version compares plugin requirements against the host version.
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Satisfies reports whether host is at least minimum. An empty minimum is always satisfied.
func Satisfies(host, minimum string) (bool, error) {
	if minimum == "" {
		return true, nil
	}
	hv, err := semver.NewVersion(host)
	if err != nil {
		return false, fmt.Errorf("parse host version %q: %w", host, err)
	}
	mv, err := semver.NewVersion(minimum)
	if err != nil {
		return false, fmt.Errorf("parse minimum version %q: %w", minimum, err)
	}
	return !hv.LessThan(mv), nil
}

// Newer reports whether candidate is a higher version than installed. Unparseable versions are never newer.
func Newer(installed, candidate string) bool {
	iv, err := semver.NewVersion(installed)
	if err != nil {
		return false
	}
	cv, err := semver.NewVersion(candidate)
	if err != nil {
		return false
	}
	return cv.GreaterThan(iv)
}
