// Package platform implements the pure (machine, endian) -> platform-token
// mapping used to expand $PLATFORM / ${PLATFORM} in ELF rpath/runpath
// strings. The token identifies the target ABI the way the loader's own
// internal `_dl_platform` string does, not the host's.
package platform

// Endian names the byte order of the target binary.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

// Token returns the $PLATFORM substitution string for the given ELF
// e_machine value and byte order. An empty string means the machine has no
// well-known platform token and $PLATFORM should be left for the caller to
// decide (spec.md requires an override to exist for these).
func Token(machine uint16, endian Endian) string {
	switch machine {
	case emX86_64:
		return "x86_64"
	case em386:
		return "i686"
	case emARM:
		if endian == BigEndian {
			return "armb"
		}
		return "armv7l" // the common case; older EABI gates are approximated.
	case emAARCH64:
		if endian == BigEndian {
			return "aarch64_be"
		}
		return "aarch64"
	case emPPC:
		return "ppc"
	case emPPC64:
		if endian == BigEndian {
			return "ppc64"
		}
		return "ppc64le"
	case emS390:
		return "s390x"
	case emRISCV:
		return "riscv64"
	case emMIPS:
		if endian == BigEndian {
			return "mips"
		}
		return "mipsel"
	default:
		return ""
	}
}

// Subset of ELF e_machine constants this package needs; kept local so
// platform has no dependency on the elf package (it is a pure leaf map,
// per spec.md's component table).
const (
	em386     = 3
	emMIPS    = 8
	emPPC     = 20
	emPPC64   = 21
	emARM     = 40
	emS390    = 22
	emX86_64  = 62
	emAARCH64 = 183
	emRISCV   = 243
)
