package macho

import (
	"encoding/binary"
	"runtime"
)

// FatArch is one fat_arch/fat_arch_64 entry: which CPU the slice targets,
// and where to find it in the archive.
type FatArch struct {
	CPU    CPU
	SubCPU CPUSubtype
	Offset uint64
	Size   uint64
}

const (
	fatArch32Size = 5 * 4      // cputype, cpusubtype, offset, size, align
	fatArch64Size = 4 + 4 + 8 + 8 + 4 + 4 // cputype, cpusubtype, offset, size, align, reserved (64-bit variant)
	fatMagic64    = 0xcafebabf // FAT_MAGIC_64
)

// IsFat reports whether data begins with a Fat/universal archive magic
// (always stored big-endian on disk, regardless of host byte order).
func IsFat(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	m := binary.BigEndian.Uint32(data[0:4])
	return m == uint32(MagicFat) || m == fatMagic64
}

// ParseFat reads a Fat archive's slice table.
func ParseFat(data []byte) ([]FatArch, error) {
	if len(data) < 8 {
		return nil, ErrNotAnObject
	}
	magic := binary.BigEndian.Uint32(data[0:4])
	is64 := magic == fatMagic64
	if magic != uint32(MagicFat) && !is64 {
		return nil, ErrNotAnObject
	}
	nArch := binary.BigEndian.Uint32(data[4:8])

	archSize := fatArch32Size
	if is64 {
		archSize = fatArch64Size
	}

	out := make([]FatArch, 0, nArch)
	off := 8
	for i := uint32(0); i < nArch; i++ {
		if off+archSize > len(data) {
			return nil, ErrNotAnObject
		}
		b := data[off:]
		a := FatArch{CPU: CPU(binary.BigEndian.Uint32(b[0:])), SubCPU: CPUSubtype(binary.BigEndian.Uint32(b[4:]))}
		if is64 {
			a.Offset = binary.BigEndian.Uint64(b[8:])
			a.Size = binary.BigEndian.Uint64(b[16:])
		} else {
			a.Offset = uint64(binary.BigEndian.Uint32(b[8:]))
			a.Size = uint64(binary.BigEndian.Uint32(b[12:]))
		}
		out = append(out, a)
		off += archSize
	}
	return out, nil
}

// Slice extracts the byte range for arch out of the Fat archive data.
func Slice(data []byte, arch FatArch) ([]byte, error) {
	end := arch.Offset + arch.Size
	if end > uint64(len(data)) || end < arch.Offset {
		return nil, ErrNotAnObject
	}
	return data[arch.Offset:end], nil
}

// CurrentCPU returns the CPU value matching the host process's own
// architecture, used to pick a Fat archive's slice the way dyld itself
// does when loading a universal binary (spec: "pick the current-arch
// slice").
func CurrentCPU() CPU {
	switch runtime.GOARCH {
	case "amd64":
		return CPUX8664
	case "arm64":
		return CPUArm64
	case "386":
		return CPUX86
	case "arm":
		return CPUArm
	default:
		return 0
	}
}

// SelectSlice picks the FatArch matching want, or ErrNoMatchingSlice.
func SelectSlice(archs []FatArch, want CPU) (FatArch, error) {
	for _, a := range archs {
		if a.CPU == want {
			return a, nil
		}
	}
	return FatArch{}, ErrNoMatchingSlice
}
