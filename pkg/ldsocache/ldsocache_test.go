package ldsocache

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildCache synthesizes a minimal new-format cache file (no old-format
// prefix, no extensions) with the given (key, value, flags) triples, for
// the round-trip property in spec.md §8: "Parsing a freshly synthesized
// glibc cache_file_new with N entries and zero extensions yields exactly
// the N (key, value) pairs inserted."
func buildCache(t *testing.T, libs []rawLib) []byte {
	t.Helper()

	var strTable bytes.Buffer
	strOffset := func(s string) uint32 {
		off := uint32(strTable.Len())
		strTable.WriteString(s)
		strTable.WriteByte(0)
		return off
	}

	type packed struct {
		flags, key, value uint32
		hwcap             uint64
	}
	var entries []packed
	for _, l := range libs {
		k := strOffset(l.key)
		v := strOffset(l.value)
		entries = append(entries, packed{flags: l.flags, key: k, value: v, hwcap: l.hwcap})
	}

	var buf bytes.Buffer
	buf.WriteString(newMagic)
	write32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }

	write32(uint32(len(entries)))       // nlibs
	write32(uint32(strTable.Len()))     // len_strings
	buf.WriteByte(0)                    // flags
	buf.Write(make([]byte, 3))          // unused0
	write32(0)                          // extension_offset
	buf.Write(make([]byte, 12))         // unused1

	for _, e := range entries {
		write32(e.flags)
		write32(e.key)
		write32(e.value)
		write32(0) // osVersion
		binary.Write(&buf, binary.LittleEndian, e.hwcap)
	}
	buf.Write(strTable.Bytes())
	return buf.Bytes()
}

type rawLib struct {
	key, value string
	flags      uint32
	hwcap      uint64
}

func TestRoundTripNewFormatNoExtensions(t *testing.T) {
	libs := []rawLib{
		{key: "libc.so.6", value: "/usr/lib/x86_64-linux-gnu/libc.so.6", flags: flagELFLibc6 | flagX8664Lib64},
		{key: "libm.so.6", value: "/usr/lib/x86_64-linux-gnu/libm.so.6", flags: flagELFLibc6 | flagX8664Lib64},
	}
	data := buildCache(t, libs)

	c, err := Load(data, Query{Machine: emX86_64})
	if err != nil {
		t.Fatal(err)
	}
	if len(c.entries) != len(libs) {
		t.Fatalf("got %d entries, want %d", len(c.entries), len(libs))
	}
	for _, l := range libs {
		path, ok := c.Lookup(l.key, nil)
		if !ok || path != l.value {
			t.Errorf("Lookup(%q) = %q, %v; want %q, true", l.key, path, ok, l.value)
		}
	}
}

func TestArchFilterRejectsMismatchedVariant(t *testing.T) {
	libs := []rawLib{
		{key: "libc.so.6", value: "/usr/libx32/libc.so.6", flags: flagELFLibc6 | flagX8664LibX32},
	}
	data := buildCache(t, libs)

	c, err := Load(data, Query{Machine: emX86_64}) // LP64 query, not x32
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Lookup("libc.so.6", nil); ok {
		t.Fatal("x32 entry should not satisfy an LP64 lookup")
	}
}

func TestHWCapTieBreak(t *testing.T) {
	libs := []rawLib{
		{key: "libm.so.6", value: "/usr/lib/libm.so.6", flags: flagELFLibc6 | flagX8664Lib64},
		{key: "libm.so.6", value: "/usr/lib/glibc-hwcaps/x86-64-v3/libm.so.6", flags: flagELFLibc6 | flagX8664Lib64, hwcap: extensionActive | 0},
	}
	data := buildCacheWithHWCapExtension(t, libs, []string{"x86-64-v3"})

	c, err := Load(data, Query{Machine: emX86_64})
	if err != nil {
		t.Fatal(err)
	}

	// v3-capable host: the hwcap entry wins.
	path, ok := c.Lookup("libm.so.6", []string{"x86-64-v3", "x86-64-v2"})
	if !ok || path != "/usr/lib/glibc-hwcaps/x86-64-v3/libm.so.6" {
		t.Fatalf("v3 host: got %q, %v", path, ok)
	}

	// v2-only host: falls back to the plain path.
	path, ok = c.Lookup("libm.so.6", []string{"x86-64-v2"})
	if !ok || path != "/usr/lib/libm.so.6" {
		t.Fatalf("v2 host: got %q, %v", path, ok)
	}
}

// buildCacheWithHWCapExtension lays out, in a single contiguous buffer and
// in file order: the new-format header, the entry table, the main string
// table, the cache_extension header, its one section header, and the
// GLIBC_HWCAPS name table -- so every offset recorded in the header fields
// is known before any bytes are written, rather than patched afterward.
func buildCacheWithHWCapExtension(t *testing.T, libs []rawLib, hwcapNames []string) []byte {
	t.Helper()

	var mainStrings bytes.Buffer
	type packed struct {
		flags, key, value uint32
		hwcap             uint64
	}
	var entries []packed
	for _, l := range libs {
		k := uint32(mainStrings.Len())
		mainStrings.WriteString(l.key)
		mainStrings.WriteByte(0)
		v := uint32(mainStrings.Len())
		mainStrings.WriteString(l.value)
		mainStrings.WriteByte(0)
		entries = append(entries, packed{flags: l.flags, key: k, value: v, hwcap: l.hwcap})
	}

	headerSize := len(newMagic) + 4 + 4 + 1 + 3 + 4 + 12
	entryTableSize := len(entries) * newEntrySize
	stringsOffset := headerSize + entryTableSize
	extOffset := stringsOffset + mainStrings.Len()
	const sectionHdrSize = 16
	extHeaderSize := 8 + sectionHdrSize
	namesOffset := extOffset + extHeaderSize

	var nameTable bytes.Buffer
	var nameOffsets []uint32
	for _, n := range hwcapNames {
		nameOffsets = append(nameOffsets, uint32(namesOffset)+uint32(nameTable.Len()))
		nameTable.WriteString(n)
		nameTable.WriteByte(0)
	}
	indexTableOffset := namesOffset + nameTable.Len()

	var buf bytes.Buffer
	buf.WriteString(newMagic)
	write32 := func(v uint32) { binary.Write(&buf, binary.LittleEndian, v) }
	write32(uint32(len(entries)))
	write32(uint32(mainStrings.Len()))
	buf.WriteByte(0)
	buf.Write(make([]byte, 3))
	write32(uint32(extOffset))
	buf.Write(make([]byte, 12))

	for _, e := range entries {
		write32(e.flags)
		write32(e.key)
		write32(e.value)
		write32(0)
		binary.Write(&buf, binary.LittleEndian, e.hwcap)
	}
	buf.Write(mainStrings.Bytes())

	// cache_extension header.
	write32(extensionMagic)
	write32(1) // one section
	// cache_extension_section header: tag, flags, offset, size.
	write32(extTagGlibcHWCaps)
	write32(0)
	write32(uint32(indexTableOffset))
	write32(uint32(len(nameOffsets) * 4))

	buf.Write(nameTable.Bytes())
	for _, off := range nameOffsets {
		write32(off)
	}

	return buf.Bytes()
}
