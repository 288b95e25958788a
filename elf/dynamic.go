package elf

import (
	"encoding/binary"
	"strings"

	"github.com/appsworld/depscan/pkg/platform"
	"github.com/appsworld/depscan/pkg/searchpath"
	"github.com/appsworld/depscan/pkg/sysdirs"
)

// dynEntry is one Elf32_Dyn/Elf64_Dyn pair, widened to 64 bits regardless
// of class so the walk below and everything downstream of it is
// class-independent.
type dynEntry struct {
	Tag int64
	Val uint64
}

const (
	elf32DynSize = 4 + 4  // d_tag (Elf32_Sword), d_val/d_ptr (Elf32_Word)
	elf64DynSize = 8 + 8  // d_tag (Elf64_Sxword), d_val/d_ptr (Elf64_Xword)
)

// readDynamicEntries walks PT_DYNAMIC's entries until DT_NULL or the
// segment's file size is exhausted, whichever comes first -- mirroring the
// bounded loop elf.rs runs over object::elf::Dyn.
func readDynamicEntries(data []byte, order binary.ByteOrder, class Class, dynSeg progHeader) ([]dynEntry, error) {
	entrySize := uint64(elf32DynSize)
	if class == Class64 {
		entrySize = elf64DynSize
	}
	if entrySize == 0 || dynSeg.Filesz == 0 {
		return nil, ErrNoDynamicSegment
	}

	var out []dynEntry
	count := dynSeg.Filesz / entrySize
	for i := uint64(0); i < count; i++ {
		off := dynSeg.Offset + i*entrySize
		if off+entrySize > uint64(len(data)) {
			return nil, ErrNotAnObject
		}
		b := data[off:]

		var e dynEntry
		if class == Class64 {
			e = dynEntry{
				Tag: int64(order.Uint64(b[0:])),
				Val: order.Uint64(b[8:]),
			}
		} else {
			e = dynEntry{
				Tag: int64(int32(order.Uint32(b[0:]))),
				Val: uint64(order.Uint32(b[4:])),
			}
		}
		if e.Tag == dtNull {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

// findStringTableTags returns DT_STRTAB/DT_STRSZ's values, or zero if
// either is absent (resolveStringTable then fails with
// ErrMissingDynamicStringTable, which is correct: a dynamic object with no
// string table has nothing this reader can resolve).
func findStringTableTags(entries []dynEntry) (strtab, strsz uint64) {
	for _, e := range entries {
		switch e.Tag {
		case dtStrtab:
			strtab = e.Val
		case dtStrsz:
			strsz = e.Val
		}
	}
	return strtab, strsz
}

// cstr reads a NUL-terminated string out of strtab starting at off.
func cstr(strtab []byte, off uint64) (string, bool) {
	if off >= uint64(len(strtab)) {
		return "", false
	}
	b := strtab[off:]
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n]), true
}

// dynString returns the first entry matching tag, resolved through strtab.
func dynString(entries []dynEntry, tag int64, strtab []byte) (string, bool) {
	for _, e := range entries {
		if e.Tag == tag {
			return cstr(strtab, e.Val)
		}
	}
	return "", false
}

// dynNeeded returns every DT_NEEDED string, in the order they appear in
// the dynamic table -- the same order the loader itself processes them.
func dynNeeded(entries []dynEntry, strtab []byte) []string {
	var out []string
	for _, e := range entries {
		if e.Tag != dtNeeded {
			continue
		}
		if s, ok := cstr(strtab, e.Val); ok {
			out = append(out, s)
		}
	}
	return out
}

// dynFlags ORs together every entry matching tag (DT_FLAGS_1 normally
// appears once, but nothing requires it).
func dynFlags(entries []dynEntry, tag int64) uint64 {
	var flags uint64
	for _, e := range entries {
		if e.Tag == tag {
			flags |= e.Val
		}
	}
	return flags
}

// dynSearchPath resolves DT_RPATH/DT_RUNPATH (selected by tag), expanding
// $ORIGIN, $LIB and $PLATFORM (and their ${...} forms) against origin and
// the object's own machine/class before splitting on ':'.
func dynSearchPath(entries []dynEntry, tag int64, strtab []byte, machine uint16, class Class, dataEnc Data, origin, platformOverride string) *searchpath.Set {
	raw, ok := dynString(entries, tag, strtab)
	if !ok || raw == "" {
		return searchpath.Split("", ":")
	}
	expanded := expandTokens(raw, machine, class, dataEnc, origin, platformOverride)
	return searchpath.Split(expanded, ":")
}

// expandTokens substitutes $ORIGIN, $LIB and $PLATFORM (bare or braced)
// the way glibc's _dl_dst_substitute does, left to right over the whole
// string.
func expandTokens(s string, machine uint16, class Class, dataEnc Data, origin, platformOverride string) string {
	lib := sysdirs.SLibDir(sysdirs.Linux, machineToSysdirs(machine, class), classToSysdirs(class))

	plat := platformOverride
	if plat == "" {
		endian := platform.LittleEndian
		if dataEnc == BigEndian {
			endian = platform.BigEndian
		}
		plat = platform.Token(machine, endian)
	}

	replacer := strings.NewReplacer(
		"${ORIGIN}", origin,
		"$ORIGIN", origin,
		"${LIB}", lib,
		"$LIB", lib,
		"${PLATFORM}", plat,
		"$PLATFORM", plat,
	)
	return replacer.Replace(s)
}

// Subset of ELF e_machine constants this file needs for the sysdirs/
// platform mapping; kept local rather than exported since callers outside
// this package only ever see the raw Info.Machine value.
const (
	em386     = 3
	emMIPS    = 8
	emPPC     = 20
	emPPC64   = 21
	emS390    = 22
	emARM     = 40
	emX86_64  = 62
	emAARCH64 = 183
	emRISCV   = 243
)

func classToSysdirs(c Class) sysdirs.Class {
	if c == Class64 {
		return sysdirs.Class64
	}
	return sysdirs.Class32
}

// machineToSysdirs maps an ELF e_machine value onto sysdirs' narrower
// machine enum; unrecognized machines fall back to MachineUnknown, which
// makes SLibDir return "" -- the $LIB token is then simply dropped, the
// same degradation path an unknown /etc/ld.so.conf architecture takes.
func machineToSysdirs(machine uint16, class Class) sysdirs.Machine {
	switch machine {
	case emX86_64:
		return sysdirs.MachineX86_64
	case em386:
		return sysdirs.MachineX86
	case emAARCH64:
		return sysdirs.MachineARM64
	case emARM:
		return sysdirs.MachineARM
	case emPPC:
		if class == Class64 {
			return sysdirs.MachinePPC64LE
		}
		return sysdirs.MachinePPC
	case emPPC64:
		return sysdirs.MachinePPC64
	case emS390:
		return sysdirs.MachineS390X
	case emMIPS:
		return sysdirs.MachineMIPS
	case emRISCV:
		return sysdirs.MachineRISCV64
	default:
		return sysdirs.MachineUnknown
	}
}
