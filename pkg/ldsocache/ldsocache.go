// Package ldsocache parses glibc's `ld.so.cache`, both the old libc5/glibc
// 2.0-2.1 format and the new (glibc 2.2+) format with the glibc-hwcaps
// extension, reproducing the file layouts from sysdeps/generic/dl-cache.h
// bit-exact. Grounded on two references retrieved for this system:
// chainguard-dev/ldso-cache's ldsocache.go (cache_file_new /
// cache_extension struct shapes and the 4-byte-aligned extension offset)
// and the sandboxed-tor-browser `dynlib` package's cache.go (the
// old-format-embeds-new-format peeling algorithm and the hwcap tie-break
// sort).
package ldsocache

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	oldMagic = "ld.so-1.7.0\x00"
	newMagic = "glibc-ld.so.cache1.1"

	oldEntrySize = 4 + 4 + 4         // flags, key, value
	newEntrySize = 4 + 4 + 4 + 4 + 8 // flags, key, value, osVersion, hwcap

	extensionMagic   = 0xEAA42174
	extTagGlibcHWCaps = uint32(1)
)

// Entry is one soname -> path mapping extracted from the cache, still
// carrying enough metadata to participate in hwcap scoring.
type Entry struct {
	Name       string
	Path       string
	Flags      uint32
	HWCapIndex int // index into the cache's hwcap-strings table, or -1
}

// Cache is the parsed, architecture-filtered contents of one ld.so.cache
// file: soname -> all surviving candidate entries (before hwcap scoring),
// plus the hwcap subdirectory-name table the extension contributed.
type Cache struct {
	entries    map[string][]Entry
	hwcapNames []string // index-addressed by Entry.HWCapIndex
}

// Query describes the binary on whose behalf a cache lookup is performed.
type Query struct {
	Machine uint16
	Class32 bool
	EFlags  uint32
}

// Load parses data, the contents of an ld.so.cache file (typically
// /etc/ld.so.cache), filtering entries to those compatible with q.
func Load(data []byte, q Query) (*Cache, error) {
	cls := class64
	if q.Class32 {
		cls = class32
	}

	newData, err := peelOldFormat(data)
	if err != nil {
		return nil, err
	}

	c := &Cache{entries: make(map[string][]Entry)}
	rawEntries, stringTable, extOff, err := parseNewFormat(newData)
	if err != nil {
		return nil, err
	}

	if extOff > 0 && extOff < uint32(len(newData)) {
		c.hwcapNames, err = parseExtension(newData, extOff)
		if err != nil {
			return nil, err
		}
	}

	for _, re := range rawEntries {
		if !archMatch(re.flags, q.Machine, cls, q.EFlags) {
			continue
		}
		key, err := cString(stringTable, re.key)
		if err != nil {
			return nil, fmt.Errorf("ldsocache: reading key: %w", err)
		}
		value, err := cString(stringTable, re.value)
		if err != nil {
			return nil, fmt.Errorf("ldsocache: reading value: %w", err)
		}

		idx := -1
		if hwcapActive(re.hwcap) && len(c.hwcapNames) > 0 {
			idx = int(re.hwcap & 0xffffffff)
		}

		c.entries[key] = append(c.entries[key], Entry{
			Name:       key,
			Path:       value,
			Flags:      re.flags,
			HWCapIndex: idx,
		})
	}

	return c, nil
}

// rawEntry is format-agnostic: both the old and new on-disk entry shapes
// are decoded into this before string resolution and arch filtering.
type rawEntry struct {
	flags uint32
	key   uint32
	value uint32
	hwcap uint64
}

// peelOldFormat validates the leading old_magic/cache_file header and
// returns the slice starting at the new-format region, per spec.md §4.4
// step 1's alignment arithmetic. If the remaining data is too small to
// hold a new-format header, it returns oldFormatAsNew's marked copy of the
// old-format count, entries and strings, which parseNewFormat decodes as a
// pure old-format cache.
func peelOldFormat(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte(oldMagic)) {
		// Some very old caches have no old_magic header at all; treat the
		// whole file as (an attempt at) the new format and let
		// parseNewFormat reject it cleanly if it isn't.
		return data, nil
	}
	off := len(oldMagic)
	if len(data) < off+4 {
		return nil, fmt.Errorf("ldsocache: truncated old header")
	}
	nlibs := int(binary.LittleEndian.Uint32(data[off:]))
	off += 4

	skip := nlibs * oldEntrySize
	if len(data) < off+skip {
		return nil, fmt.Errorf("ldsocache: truncated old entry table")
	}
	off += skip

	const newAlign = 8 // alignof(cache_file_new)
	aligned := (off + newAlign - 1) / newAlign * newAlign

	const newHeaderMin = 48
	if len(data) < aligned+newHeaderMin {
		// No new-format region follows; this is a pure old-format cache.
		return oldFormatAsNew(data, off, nlibs)
	}
	return data[aligned:], nil
}

// oldFormatAsNew synthesizes the rawEntry/string-table shape parseNewFormat
// expects directly from an old-format-only cache, so that both formats
// flow through one code path downstream (spec.md §4.4 step 1, "otherwise,
// read nlibs file_entrys ... materialize (key, value) strings").
func oldFormatAsNew(data []byte, entriesOff, nlibs int) ([]byte, error) {
	// Marker recognized by parseNewFormat to skip the new_magic check.
	// The slice starts at the 4-byte nlibs count, which parseOldEntries
	// reads before the entry table.
	return append([]byte{0}, data[entriesOff-nlibs*oldEntrySize-4:]...), nil
}

func parseNewFormat(data []byte) ([]rawEntry, []byte, uint32, error) {
	oldStyle := len(data) > 0 && data[0] == 0 && !bytes.HasPrefix(data, []byte(newMagic))
	if oldStyle {
		data = data[1:]
		return parseOldEntries(data)
	}

	if !bytes.HasPrefix(data, []byte(newMagic)) {
		return nil, nil, 0, fmt.Errorf("ldsocache: invalid new_magic")
	}
	b := data[len(newMagic):]
	const headerRest = 4 + 4 + 1 + 3 + 4 + 12 // nlibs,len_strings,flags,unused0,ext_offset,unused1
	if len(b) < headerRest {
		return nil, nil, 0, fmt.Errorf("ldsocache: truncated new header")
	}
	nlibs := int(binary.LittleEndian.Uint32(b[0:]))
	lenStrings := int(binary.LittleEndian.Uint32(b[4:]))
	extOffset := binary.LittleEndian.Uint32(b[4+4+1+3:])
	b = b[headerRest:]

	need := nlibs * newEntrySize
	if len(b) < need {
		return nil, nil, 0, fmt.Errorf("ldsocache: truncated new entry table")
	}
	rawTable := b[:need]
	strTable := b[need:]
	if lenStrings > 0 && len(strTable) < lenStrings {
		return nil, nil, 0, fmt.Errorf("ldsocache: len_strings exceeds remaining data")
	}

	entries := make([]rawEntry, 0, nlibs)
	for i := 0; i < nlibs; i++ {
		e := rawTable[i*newEntrySize : (i+1)*newEntrySize]
		entries = append(entries, rawEntry{
			flags: binary.LittleEndian.Uint32(e[0:]),
			key:   binary.LittleEndian.Uint32(e[4:]),
			value: binary.LittleEndian.Uint32(e[8:]),
			hwcap: binary.LittleEndian.Uint64(e[16:]),
		})
	}
	return entries, strTable, extOffset, nil
}

func parseOldEntries(data []byte) ([]rawEntry, []byte, uint32, error) {
	if len(data) < 4 {
		return nil, nil, 0, fmt.Errorf("ldsocache: truncated old-format-only cache")
	}
	nlibs := int(binary.LittleEndian.Uint32(data))
	b := data[4:]
	need := nlibs * oldEntrySize
	if len(b) < need {
		return nil, nil, 0, fmt.Errorf("ldsocache: truncated old-format-only entry table")
	}
	rawTable := b[:need]
	strTable := b[need:]

	entries := make([]rawEntry, 0, nlibs)
	for i := 0; i < nlibs; i++ {
		e := rawTable[i*oldEntrySize : (i+1)*oldEntrySize]
		entries = append(entries, rawEntry{
			flags: binary.LittleEndian.Uint32(e[0:]),
			key:   binary.LittleEndian.Uint32(e[4:]),
			value: binary.LittleEndian.Uint32(e[8:]),
		})
	}
	return entries, strTable, 0, nil
}

func cString(table []byte, offset uint32) (string, error) {
	if int(offset) > len(table) {
		return "", fmt.Errorf("string table index %d out of bounds (len %d)", offset, len(table))
	}
	rest := table[offset:]
	n := bytes.IndexByte(rest, 0)
	if n == -1 {
		return string(rest), nil
	}
	return string(rest[:n]), nil
}

// Lookup returns the best path for soname given the host's hwcap-supported
// priority list (best-first), per spec.md §4.4's "hwcap best-fit scoring".
func (c *Cache) Lookup(soname string, hwcapSupported []string) (string, bool) {
	candidates := c.entries[soname]
	if len(candidates) == 0 {
		return "", false
	}
	if best, ok := c.bestHWCapEntry(candidates, hwcapSupported); ok {
		return best.Path, true
	}
	// No eligible hwcap entry: fall back to a non-hwcap one.
	for _, e := range candidates {
		if e.HWCapIndex < 0 {
			return e.Path, true
		}
	}
	return "", false
}

func (c *Cache) bestHWCapEntry(candidates []Entry, hwcapSupported []string) (Entry, bool) {
	bestRank := -1
	var best Entry
	found := false
	for _, e := range candidates {
		if e.HWCapIndex < 0 || e.HWCapIndex >= len(c.hwcapNames) {
			continue
		}
		name := c.hwcapNames[e.HWCapIndex]
		rank := indexOf(hwcapSupported, name)
		if rank < 0 {
			continue
		}
		if !found || rank < bestRank {
			best = e
			bestRank = rank
			found = true
		}
	}
	return best, found
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
