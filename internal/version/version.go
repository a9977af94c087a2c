// Package version carries curtin's own version string and the fixed
// feature-string enumeration the `features` subcommand prints, per
// spec.md §6. Grounded on curtin/version.py's version_string() and
// semver comparisons via go-semver, used to honor a config's optional
// minimum-version hint.
package version

import (
	"github.com/coreos/go-semver/semver"
	"github.com/pkg/errors"
)

// raw is this build's semantic version. Overridden at link time via
// -ldflags "-X .../internal/version.raw=1.2.3" for packaged builds;
// defaults to a development placeholder otherwise.
var raw = "0.1.0-dev"

// String returns the build's version string.
func String() string {
	return raw
}

// Features is the fixed, whitespace-separated capability enumeration
// printed by the `features` subcommand, per spec.md §6.
var Features = []string{
	"STORAGE_CONFIG_V1",
	"STORAGE_CONFIG_V1_DD",
	"NETWORK_CONFIG_V1",
	"CENTOS_APPLY_NETWORK_CONFIG",
	"APT_CONFIG_V1",
	"HAS_VERSION_MODULE",
}

// FeatureString renders Features the way the `features` subcommand
// prints them: one per line.
func FeatureString() string {
	out := ""
	for i, f := range Features {
		if i > 0 {
			out += "\n"
		}
		out += f
	}
	return out
}

// HasFeature reports whether name is among Features.
func HasFeature(name string) bool {
	for _, f := range Features {
		if f == name {
			return true
		}
	}
	return false
}

// RequireAtLeast parses this build's version and minVersion as semvers
// and errors if the build is older, honoring a config's `install:
// {minimum_version: ...}`-style hint. A minVersion that doesn't parse as
// semver is treated as unenforceable and ignored (legacy configs carry
// free-form version strings curtin never validated strictly).
func RequireAtLeast(minVersion string) error {
	if minVersion == "" {
		return nil
	}
	want, err := semver.NewVersion(minVersion)
	if err != nil {
		return nil
	}
	got, err := semver.NewVersion(raw)
	if err != nil {
		return errors.Wrapf(err, "parsing build version %q", raw)
	}
	if got.LessThan(*want) {
		return errors.Errorf("curtin %s is older than the required minimum version %s", got, want)
	}
	return nil
}
