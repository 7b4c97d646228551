// Package update replaces the running binary with the newest GitHub
// release for this platform.
package update

import (
	"fmt"
	"strconv"
	"strings"
)

// Repo is the GitHub owner/name releases are fetched from. Set it at link
// time with -ldflags "-X nutriscan/update.Repo=owner/name"; empty disables
// update checks.
var Repo = ""

const BinaryName = "nutriscan"

type Release struct {
	Version     string
	AssetURL    string
	ChecksumURL string
}

// version is major.minor.patch; pre-release and build suffixes are ignored.
type version [3]int

func parseVersion(v string) (version, error) {
	core := strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	parts := strings.Split(core, ".")
	if len(parts) != 3 {
		return version{}, fmt.Errorf("invalid version %q", v)
	}
	var out version
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return version{}, fmt.Errorf("invalid version %q", v)
		}
		out[i] = n
	}
	return out, nil
}

func (v version) after(o version) bool {
	for i := range v {
		if v[i] != o[i] {
			return v[i] > o[i]
		}
	}
	return false
}

// NewerThan is false whenever either version does not parse, so dev
// builds never update.
func (r Release) NewerThan(current string) bool {
	cur, err := parseVersion(current)
	if err != nil {
		return false
	}
	rel, err := parseVersion(r.Version)
	if err != nil {
		return false
	}
	return rel.after(cur)
}

// Enabled reports whether this build can check for updates.
func Enabled(currentVersion string) bool {
	return NewChecker(currentVersion, "").enabled()
}
