package slotconfig

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Compatibility is the result of comparing client and world versions.
type Compatibility int

const (
	Compatible Compatibility = iota
	ClientTooOld
	MajorMismatch
)

func (c Compatibility) String() string {
	switch c {
	case Compatible:
		return "compatible"
	case ClientTooOld:
		return "client too old"
	case MajorMismatch:
		return "major version mismatch"
	default:
		return "unknown"
	}
}

// CheckCompatibility compares the client version with the version the world
// expects. Under 0.x the minor versions must match; from 1.0 on the client
// minor must be at least the world's. Pre-release and build suffixes are
// ignored.
func CheckCompatibility(client, supported string) (Compatibility, error) {
	cv, err := canonical(client)
	if err != nil {
		return Compatible, err
	}
	sv, err := canonical(supported)
	if err != nil {
		return Compatible, err
	}

	if semver.Major(cv) != semver.Major(sv) {
		return MajorMismatch, nil
	}
	if semver.Major(cv) == "v0" {
		if semver.MajorMinor(cv) != semver.MajorMinor(sv) {
			return MajorMismatch, nil
		}
		return Compatible, nil
	}
	if semver.Compare(semver.MajorMinor(cv), semver.MajorMinor(sv)) < 0 {
		return ClientTooOld, nil
	}
	return Compatible, nil
}

func canonical(version string) (string, error) {
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", fmt.Errorf("invalid version %q", version)
	}
	return v, nil
}
