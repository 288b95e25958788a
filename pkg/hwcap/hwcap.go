// Package hwcap discovers the current CPU's supported hwcap subdirectory
// list, priority-descending, the way glibc 2.33+ picks a `glibc-hwcaps/<name>/`
// variant of a shared library at load time. The probe never blocks. It
// keeps no state, so every call probes the CPU again; depscan calls it once
// per ld.so.cache it loads.
package hwcap

import "runtime"

// Supported returns the ordered (best-first) list of hwcap subdirectory
// names the host CPU qualifies for. An empty list means the architecture
// has no hwcap concept (spec.md: "everything else: empty list").
func Supported() []string {
	switch runtime.GOARCH {
	case "amd64":
		return x86Levels()
	case "ppc64", "ppc64le":
		return ppc64Levels()
	case "s390x":
		return s390xLevels()
	default:
		return nil
	}
}
