package common

import (
	"fmt"
	"os"
)

// Must be manually updated! Before releasing, verify the version number.
var version = Version{
	Major: 0,
	Minor: 1,
	Patch: 0,
}

// Set via -ldflags.
var (
	COMMIT    = ""
	BUILDDATE = ""
)

func GetAppVersion() Version {
	return version
}

// Version is the wire-visible major.minor.patch of a node or a piece of the
// protocol. The major version gates wire compatibility (exact
// major-version match required for the canonical serialization).
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// IsCompatible reports whether two peers at these versions can exchange wire
// messages: same major version only.
func (v Version) IsCompatible(other Version) bool {
	if os.Getenv("TACO_DISABLE_VERSION_CHECK") == "1" {
		return true
	}
	return v.Major == other.Major
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}
