package ldsocache

import (
	"encoding/binary"
	"fmt"
)

const (
	// extensionActive and isaLevelMask implement spec.md §4.4's
	// "extension active" test: (hwcap>>32) & ~ISA_LEVEL_MASK == EXTENSION>>32.
	// When it fails, the low 32 bits of the hwcap field are an ordinary
	// glibc HWCAP bitmask (or simply unused), not an index into the
	// extension's hwcap-strings table.
	extensionActive = uint64(1) << 62
	isaLevelMask    = uint64(0x3f) // low bits of the high word reserved for an ISA level, not the index
)

// hwcapActive reports whether hwcap's low 32 bits should be interpreted as
// an index into the cache's glibc-hwcaps string table.
func hwcapActive(hwcap uint64) bool {
	high := hwcap >> 32
	return high&^isaLevelMask == extensionActive>>32
}

// parseExtension walks the cache_extension / cache_extension_section chain
// starting at offset (already validated to lie within data by the caller)
// and returns the GLIBC_HWCAPS section's string list, index-addressed so
// that Entry.HWCapIndex can be used directly, per spec.md §4.4 step 3.
func parseExtension(data []byte, offset uint32) ([]string, error) {
	if uint64(offset)+8 > uint64(len(data)) {
		return nil, fmt.Errorf("ldsocache: extension offset out of range")
	}
	hdr := data[offset:]
	magic := binary.LittleEndian.Uint32(hdr[0:])
	if magic != extensionMagic {
		return nil, fmt.Errorf("ldsocache: bad extension magic %#x", magic)
	}
	count := binary.LittleEndian.Uint32(hdr[4:])
	sections := hdr[8:]

	const sectionHdrSize = 4 + 4 + 4 + 4 // tag, flags, offset, size
	var names []string
	for i := uint32(0); i < count; i++ {
		base := i * sectionHdrSize
		if uint64(base)+sectionHdrSize > uint64(len(sections)) {
			return nil, fmt.Errorf("ldsocache: truncated extension section header")
		}
		sh := sections[base : base+sectionHdrSize]
		tag := binary.LittleEndian.Uint32(sh[0:])
		secOffset := binary.LittleEndian.Uint32(sh[8:])
		secSize := binary.LittleEndian.Uint32(sh[12:])

		if tag != extTagGlibcHWCaps {
			continue
		}
		if uint64(secOffset)+uint64(secSize) > uint64(len(data)) {
			return nil, fmt.Errorf("ldsocache: glibc-hwcaps section out of range")
		}
		raw := data[secOffset : secOffset+secSize]
		n := int(secSize) / 4
		for j := 0; j < n; j++ {
			strOff := binary.LittleEndian.Uint32(raw[j*4:])
			name, err := cString(data, strOff)
			if err != nil {
				return nil, fmt.Errorf("ldsocache: glibc-hwcaps name: %w", err)
			}
			names = append(names, name)
		}
	}
	return names, nil
}
