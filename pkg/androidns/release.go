package androidns

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Release is the Android SDK (API) level, classified the way
// original_source/src/elf/android.rs's AndroidRelease enum does.
type Release int

const (
	ReleaseR24 Release = 24
	ReleaseR25 Release = 25
	ReleaseR26 Release = 26
	ReleaseR27 Release = 27
	ReleaseR28 Release = 28
	ReleaseR29 Release = 29
	ReleaseR30 Release = 30
	ReleaseR31 Release = 31
	ReleaseR32 Release = 32
	ReleaseR33 Release = 33
	ReleaseR34 Release = 34
)

// ErrUnsupportedRelease is returned for any ro.build.version.sdk value
// outside the supported 24..34 range.
var ErrUnsupportedRelease = fmt.Errorf("androidns: unsupported Android release")

// ReadRelease invokes the platform's system-property interface for
// "ro.build.version.sdk" and classifies the result. Rather than binding
// __system_property_get through cgo, it shells out to the bionic getprop
// binary -- the same indirection tools like adb-over-shell rely on -- since
// this analyzer is routinely run against Android binaries from a
// non-Android host, where no property service exists to query directly.
func ReadRelease() (Release, error) {
	val, err := getProp("ro.build.version.sdk")
	if err != nil {
		return 0, fmt.Errorf("androidns: reading ro.build.version.sdk: %w", err)
	}
	return ParseRelease(val)
}

// ReadVNDKVersion invokes "ro.vndk.version", returning "" if unset.
func ReadVNDKVersion() string {
	val, _ := getProp("ro.vndk.version")
	return val
}

// ReadVNDKLite invokes "ro.vndk.lite".
func ReadVNDKLite() bool {
	val, _ := getProp("ro.vndk.lite")
	return val == "true"
}

func getProp(name string) (string, error) {
	out, err := exec.Command("getprop", name).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(bytes.TrimRight(out, "\n"))), nil
}

// ParseRelease classifies a raw ro.build.version.sdk string.
func ParseRelease(s string) (Release, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("androidns: invalid Android release %q: %w", s, err)
	}
	if n < int(ReleaseR24) || n > int(ReleaseR34) {
		return 0, ErrUnsupportedRelease
	}
	return Release(n), nil
}

// VNDKVersionSuffix formats the VNDK version for substitution into
// ${VNDK_VER}/${VNDK_APEX_VER} tokens and ld.config.<vndk>.txt path
// construction, with delim prefixed only when a real version is set.
func VNDKVersionSuffix(delim byte) string {
	v := ReadVNDKVersion()
	if v == "" || v == "default" {
		return ""
	}
	return string(delim) + v
}
