// Package elf parses just the fields the dynamic loader consults when
// resolving an ELF executable or shared object's dependencies: class, data
// encoding, OS/ABI, machine, PT_INTERP, and the DT_SONAME/DT_NEEDED/
// DT_RPATH/DT_RUNPATH/DT_FLAGS_1 entries reachable from PT_DYNAMIC.
//
// Field layouts are reproduced from the ELF specification directly (the
// shapes mirror debug/elf's, but the loader-relevant subset and error
// taxonomy differ enough from the standard library's own decoder that this
// package keeps its own struct definitions, the same way the teacher's
// Mach-O reader keeps its own instead of importing debug/macho). Parsing
// control flow -- locate PT_DYNAMIC, first pass for DT_STRTAB/DT_STRSZ,
// second pass for the rest -- is grounded on original_source/src/elf.rs.
package elf

import (
	"encoding/binary"
	"fmt"

	"github.com/appsworld/depscan/pkg/searchpath"
)

// Class is ELF's EI_CLASS: the address width of the object.
type Class uint8

const (
	Class32 Class = 1
	Class64 Class = 2
)

// Data is ELF's EI_DATA: the byte order of multi-byte fields.
type Data uint8

const (
	LittleEndian Data = 1
	BigEndian    Data = 2
)

// OSABI is ELF's EI_OSABI.
type OSABI uint8

const (
	OSABISysV    OSABI = 0
	OSABIGNU     OSABI = 3
	OSABINetBSD  OSABI = 2
	OSABISolaris OSABI = 6
	OSABIFreeBSD OSABI = 9
	OSABIOpenBSD OSABI = 12
)

const (
	etExec = 2
	etDyn  = 3

	ptInterp  = 3
	ptDynamic = 2

	dtNull    = 0
	dtNeeded  = 1
	dtStrtab  = 5
	dtSoname  = 14
	dtRpath   = 15
	dtStrsz   = 10
	dtRunpath = 29
	dtFlags1  = 0x6ffffffb

	df1Nodeflib = 0x00000800
)

var magic = [4]byte{0x7f, 'E', 'L', 'F'}

// ErrNotAnObject is returned for data that does not begin with the ELF
// magic, or whose class/data/type fields are not a 32/64-bit executable or
// shared object.
var ErrNotAnObject = fmt.Errorf("elf: not a recognized ELF executable or shared object")

// ErrMissingDynamicStringTable is returned when no program header's data
// range covers the DT_STRTAB/DT_STRSZ pair found in PT_DYNAMIC.
var ErrMissingDynamicStringTable = fmt.Errorf("elf: missing dynamic string table")

// ErrNoDynamicSegment is returned when the object has no PT_DYNAMIC
// program header at all (a static binary has nothing for this reader to
// do).
var ErrNoDynamicSegment = fmt.Errorf("elf: no PT_DYNAMIC segment")

// TokenOpts supplies the values rpath/runpath token substitution needs
// beyond the bytes being parsed: an optional caller-supplied $PLATFORM
// override. Read takes the origin directory as its own argument and does
// not consult the Origin field.
type TokenOpts struct {
	Origin           string
	PlatformOverride string
}

// Info is the subset of one ELF object's contents the resolver needs.
type Info struct {
	Class   Class
	Data    Data
	OSABI   OSABI
	Machine uint16
	Flags   uint32

	Interp    string // "" if the object has no PT_INTERP
	HasInterp bool
	Soname    string
	HasSoname bool

	RPath     *searchpath.Set
	RunPath   *searchpath.Set
	Nodeflibs bool
	IsMusl    bool

	Needed []string
}

// Read parses data (one mmap'd ELF file) into an Info, expanding rpath and
// runpath tokens against origin.
func Read(data []byte, origin string, opts TokenOpts) (*Info, error) {
	if len(data) < 20 || [4]byte(data[0:4]) != magic {
		return nil, ErrNotAnObject
	}

	class := Class(data[4])
	dataEnc := Data(data[5])
	var order binary.ByteOrder = binary.LittleEndian
	if dataEnc == BigEndian {
		order = binary.BigEndian
	} else if dataEnc != LittleEndian {
		return nil, ErrNotAnObject
	}

	var hdr commonHeader
	var err error
	switch class {
	case Class32:
		hdr, err = readHeader32(data, order)
	case Class64:
		hdr, err = readHeader64(data, order)
	default:
		return nil, ErrNotAnObject
	}
	if err != nil {
		return nil, err
	}
	if hdr.Type != etExec && hdr.Type != etDyn {
		return nil, ErrNotAnObject
	}

	var phdrs []progHeader
	switch class {
	case Class32:
		phdrs, err = readProgramHeaders32(data, order, hdr)
	case Class64:
		phdrs, err = readProgramHeaders64(data, order, hdr)
	}
	if err != nil {
		return nil, err
	}

	var dynSeg *progHeader
	for i := range phdrs {
		if phdrs[i].Type == ptDynamic {
			dynSeg = &phdrs[i]
			break
		}
	}
	if dynSeg == nil {
		return nil, ErrNoDynamicSegment
	}

	entries, err := readDynamicEntries(data, order, class, *dynSeg)
	if err != nil {
		return nil, err
	}

	strtab, strsz := findStringTableTags(entries)
	dynstr, err := resolveStringTable(data, phdrs, strtab, strsz)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Class:   class,
		Data:    dataEnc,
		OSABI:   OSABI(hdr.OSABI),
		Machine: hdr.Machine,
		Flags:   hdr.Flags,
	}

	info.Soname, info.HasSoname = dynString(entries, dtSoname, dynstr)
	info.Needed = dynNeeded(entries, dynstr)
	info.Nodeflibs = (dynFlags(entries, dtFlags1) & df1Nodeflib) == df1Nodeflib

	info.RPath = dynSearchPath(entries, dtRpath, dynstr, hdr.Machine, class, dataEnc, origin, opts.PlatformOverride)
	info.RunPath = dynSearchPath(entries, dtRunpath, dynstr, hdr.Machine, class, dataEnc, origin, opts.PlatformOverride)

	if interp, ok := findInterp(data, phdrs); ok {
		info.Interp = interp
		info.HasInterp = true
		info.IsMusl = IsMusl(interp)
	}

	return info, nil
}

// commonHeader is the class-independent subset of Elf32_Ehdr/Elf64_Ehdr
// that downstream parsing needs, populated by readHeader32/readHeader64.
type commonHeader struct {
	OSABI     uint8
	Type      uint16
	Machine   uint16
	Flags     uint32
	Phoff     uint64
	Phentsize uint16
	Phnum     uint16
}

// progHeader is the class-independent subset of Elf32_Phdr/Elf64_Phdr.
type progHeader struct {
	Type   uint32
	Offset uint64
	Vaddr  uint64
	Filesz uint64
}

func findInterp(data []byte, phdrs []progHeader) (string, bool) {
	for _, p := range phdrs {
		if p.Type != ptInterp {
			continue
		}
		end := p.Offset + p.Filesz
		if end > uint64(len(data)) {
			return "", false
		}
		raw := data[p.Offset:end]
		n := len(raw)
		for n > 0 && raw[n-1] == 0 {
			n--
		}
		return string(raw[:n]), true
	}
	return "", false
}

// resolveStringTable translates DT_STRTAB's virtual address into a file
// range by finding the program header whose [p_vaddr, p_vaddr+p_filesz)
// covers it, then offsetting into that segment's own file range -- the
// same data_range lookup elf.rs performs per program header.
func resolveStringTable(data []byte, phdrs []progHeader, strtab, strsz uint64) ([]byte, error) {
	for _, p := range phdrs {
		if strtab < p.Vaddr || strtab+strsz > p.Vaddr+p.Filesz {
			continue
		}
		off := p.Offset + (strtab - p.Vaddr)
		end := off + strsz
		if end > uint64(len(data)) {
			return nil, ErrMissingDynamicStringTable
		}
		return data[off:end], nil
	}
	return nil, ErrMissingDynamicStringTable
}
