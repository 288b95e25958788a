//go:build linux && (ppc64 || ppc64le || s390x)

package hwcap

import (
	"encoding/binary"
	"os"
)

const (
	atHWCAP  = 16
	atHWCAP2 = 26
)

// readAuxv parses /proc/self/auxv, returning the AT_HWCAP and AT_HWCAP2
// values. The file is a flat array of native-width (key, value) pairs
// terminated by an AT_NULL (key 0) entry, grounded on the same ELF auxv
// walk original_source/src/elf/ld_so_cache/hwcap/cpuid/auxv.rs performs.
func readAuxv() (hwcap, hwcap2 uint64) {
	data, err := os.ReadFile("/proc/self/auxv")
	if err != nil {
		return 0, 0
	}
	const wordSize = 8 // ppc64/s390x are both 64-bit-only targets.
	for i := 0; i+2*wordSize <= len(data); i += 2 * wordSize {
		key := binary.NativeEndian.Uint64(data[i:])
		val := binary.NativeEndian.Uint64(data[i+wordSize:])
		if key == 0 {
			break
		}
		switch key {
		case atHWCAP:
			hwcap = val
		case atHWCAP2:
			hwcap2 = val
		}
	}
	return hwcap, hwcap2
}
