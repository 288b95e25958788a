// Package bsdhints decodes the FreeBSD `elfhints_hdr` and OpenBSD
// `hints_header` binary cache formats (`ld.so.hints`), both of which boil
// down to a fixed header followed by a directory-list string, per
// spec.md §4.6.
package bsdhints

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/appsworld/depscan/pkg/searchpath"
)

// splitDirs splits a colon-or-semicolon-delimited directory list into a
// SearchPath set; OpenBSD hints have historically used either separator.
func splitDirs(s string) *searchpath.Set {
	set := &searchpath.Set{}
	for _, p := range strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == ';' }) {
		set.Add(p)
	}
	return set
}

const (
	freebsdMagic   = 0x746e6845
	freebsdVersion = 1
	freebsdMaxSize = 16 * 1024

	openbsdMagic   = 0o11421044151
	openbsdVersion = 2
)

// ReadFreeBSD decodes a FreeBSD elfhints_hdr blob into a SearchPath set.
//
//	struct elfhints_hdr {
//	  uint32_t magic, version;
//	  uint32_t strtab, strsize;
//	  uint32_t dirlist, dirlistlen;
//	  uint32_t spare[26];
//	};
func ReadFreeBSD(data []byte) (*searchpath.Set, error) {
	if len(data) > freebsdMaxSize {
		return nil, fmt.Errorf("bsdhints: FreeBSD hints file exceeds %d bytes", freebsdMaxSize)
	}
	const hdrSize = 4 * (2 + 2 + 2 + 26)
	if len(data) < hdrSize {
		return nil, fmt.Errorf("bsdhints: FreeBSD hints file truncated")
	}
	magic := binary.LittleEndian.Uint32(data[0:])
	version := binary.LittleEndian.Uint32(data[4:])
	strtab := binary.LittleEndian.Uint32(data[8:])
	dirlist := binary.LittleEndian.Uint32(data[16:])
	dirlistlen := binary.LittleEndian.Uint32(data[20:])

	if magic != freebsdMagic {
		return nil, fmt.Errorf("bsdhints: bad FreeBSD magic %#x", magic)
	}
	if version != freebsdVersion {
		return nil, fmt.Errorf("bsdhints: unsupported FreeBSD hints version %d", version)
	}

	start := uint64(strtab) + uint64(dirlist)
	end := start + uint64(dirlistlen)
	if end > uint64(len(data)) {
		return nil, fmt.Errorf("bsdhints: FreeBSD dirlist out of range")
	}
	dirs := string(data[start:end])
	return splitDirs(dirs), nil
}

// ReadOpenBSD decodes an OpenBSD hints_header blob (64-bit fields) into a
// SearchPath set.
//
//	struct hints_header {
//	  uint64_t hh_magic, hh_version;
//	  uint64_t hh_hashtab, hh_nbucket;
//	  uint64_t hh_strtab, hh_strtab_sz;
//	  uint64_t hh_ehints, hh_dirlist;
//	};
func ReadOpenBSD(data []byte) (*searchpath.Set, error) {
	const hdrSize = 8 * 8
	if len(data) < hdrSize {
		return nil, fmt.Errorf("bsdhints: OpenBSD hints file truncated")
	}
	magic := binary.LittleEndian.Uint64(data[0:])
	version := binary.LittleEndian.Uint64(data[8:])
	strtab := binary.LittleEndian.Uint64(data[32:])
	strtabSz := binary.LittleEndian.Uint64(data[40:])
	ehints := binary.LittleEndian.Uint64(data[48:])
	dirlist := binary.LittleEndian.Uint64(data[56:])

	if magic != openbsdMagic {
		return nil, fmt.Errorf("bsdhints: bad OpenBSD magic %#o", magic)
	}
	if version != openbsdVersion {
		return nil, fmt.Errorf("bsdhints: unsupported OpenBSD hints version %d", version)
	}
	if ehints > uint64(len(data)) {
		return nil, fmt.Errorf("bsdhints: ehints exceeds file length")
	}
	// spec.md §9 flags this: hh_strtab_sz is never validated against
	// dirlist by the reference loader. This reader performs the stricter,
	// bounds-checked reimplementation.
	if dirlist > strtabSz {
		return nil, fmt.Errorf("bsdhints: dirlist offset %d exceeds strtab size %d", dirlist, strtabSz)
	}

	start := strtab + dirlist
	if start > uint64(len(data)) {
		return nil, fmt.Errorf("bsdhints: OpenBSD dirlist out of range")
	}
	rest := data[start:]
	n := 0
	for n < len(rest) && rest[n] != 0 {
		n++
	}
	return splitDirs(string(rest[:n])), nil
}
