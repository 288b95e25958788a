// Package macho parses just the fields the dynamic linker (dyld) consults
// when resolving a Mach-O executable or dylib's dependencies: CPU
// identity, LC_ID_DYLIB, LC_RPATH, and the LC_LOAD_DYLIB family. Thin
// 32/64-bit objects and Fat/universal archives are both accepted.
//
// Adapted from the teacher's file.go/macho.go/types/{header,cpu,commands}.go:
// everything those files built for symbol tables, code signing, objc
// metadata, Swift reflection and DWARF is out of scope here and is not
// reproduced (see DESIGN.md).
package macho

import (
	"encoding/binary"
	"fmt"

	"github.com/appsworld/depscan/pkg/searchpath"
)

// Magic identifies the object kind a blob starts with.
type Magic uint32

const (
	Magic32  Magic = 0xfeedface
	Magic64  Magic = 0xfeedfacf
	MagicFat Magic = 0xcafebabe
)

// CPU is a Mach-O cpu_type_t.
type CPU uint32

const (
	cpuArch64 = 0x01000000

	CPUX86    CPU = 7
	CPUX8664  CPU = CPUX86 | cpuArch64
	CPUArm    CPU = 12
	CPUArm64  CPU = CPUArm | cpuArch64
	CPUPpc    CPU = 18
	CPUPpc64  CPU = CPUPpc | cpuArch64
)

// CPUSubtype is a Mach-O cpu_subtype_t; the resolver never inspects it
// beyond display, so this package keeps no per-architecture subtype maps.
type CPUSubtype uint32

// FileHeader is mach_header/mach_header_64 (the trailing four-byte
// reserved field on the 64-bit header is consumed but not kept).
type FileHeader struct {
	Magic     Magic
	CPU       CPU
	SubCPU    CPUSubtype
	Type      HeaderFileType
	NCommands uint32
	SizeCmds  uint32
	Flags     HeaderFlag
}

// HeaderFileType is mach_header's filetype field.
type HeaderFileType uint32

const (
	TypeObject     HeaderFileType = 0x1
	TypeExecute    HeaderFileType = 0x2
	TypeFvmlib     HeaderFileType = 0x3
	TypeCore       HeaderFileType = 0x4
	TypePreload    HeaderFileType = 0x5
	TypeDylib      HeaderFileType = 0x6
	TypeDylinker   HeaderFileType = 0x7
	TypeBundle     HeaderFileType = 0x8
	TypeDylibStub  HeaderFileType = 0x9
	TypeDsym       HeaderFileType = 0xa
	TypeKextBundle HeaderFileType = 0xb
	TypeFileset    HeaderFileType = 0xc
)

// HeaderFlag is mach_header's flags field; the resolver doesn't branch on
// any individual bit today, so this stays an opaque bitmask.
type HeaderFlag uint32

// ErrNotAnObject is returned for data that is neither a recognized thin
// Mach-O object nor a Fat archive.
var ErrNotAnObject = fmt.Errorf("macho: not a recognized Mach-O object")

// ErrUnsupportedObject is returned for a structurally valid Mach-O header
// whose filetype the resolver has no use for (e.g. MH_OBJECT).
var ErrUnsupportedObject = fmt.Errorf("macho: unsupported Mach-O file type")

// ErrNoMatchingSlice is returned when a Fat archive has no slice for the
// requested CPU.
var ErrNoMatchingSlice = fmt.Errorf("macho: no Fat slice for requested architecture")

// TokenOpts supplies the values rpath token substitution needs.
// ExecutablePath is the directory of the main executable being analyzed
// ("@executable_path"). @loader_path and @rpath are intentionally left
// unexpanded in NEEDED strings: the former depends on which dylib in the
// dependency graph is being parsed, the latter on which rpath candidate
// the resolver is currently trying, and both are the resolver's job
// (spec: "@loader_path and @rpath tokens are left in strings and expanded
// by the resolver since their resolution is context-dependent").
type TokenOpts struct {
	ExecutablePath string
}

// Dylib is one LC_LOAD_DYLIB-family entry.
type Dylib struct {
	Path string
	Weak bool // LC_LOAD_WEAK_DYLIB
	Lazy bool // LC_LAZY_LOAD_DYLIB
}

// Info is the subset of one Mach-O object's contents the resolver needs.
type Info struct {
	CPU     CPU
	SubCPU  CPUSubtype
	Is64    bool
	ID      string // LC_ID_DYLIB, set when this object is itself a dylib
	HasID   bool
	RPath   *searchpath.Set
	Dylibs  []Dylib

	// TextFileOffset is __TEXT's segment fileoff, read off LC_SEGMENT/
	// LC_SEGMENT_64 (a well-formed thin Mach-O's __TEXT segment always
	// starts at file offset 0). It is recorded for callers; nothing in
	// this module checks a Fat slice against it.
	TextFileOffset uint64
	HasTextSegment bool

	// Platform/MinOSVersion come from LC_BUILD_VERSION (preferred) or
	// LC_VERSION_MIN_MACOSX, whichever is present.
	Platform     string
	MinOSVersion string
}

const headerSize32 = 7 * 4
const headerSize64 = 8 * 4

// Read parses data (one mmap'd thin Mach-O object -- not a Fat archive;
// see Slice for picking one out of a Fat file first).
func Read(data []byte, opts TokenOpts) (*Info, error) {
	if len(data) < 4 {
		return nil, ErrNotAnObject
	}
	order, is64, ok := detectThin(data)
	if !ok {
		return nil, ErrNotAnObject
	}

	hdrSize := headerSize32
	if is64 {
		hdrSize = headerSize64
	}
	if len(data) < hdrSize {
		return nil, ErrNotAnObject
	}

	hdr := FileHeader{
		Magic:     Magic(order.Uint32(data[0:])),
		CPU:       CPU(order.Uint32(data[4:])),
		SubCPU:    CPUSubtype(order.Uint32(data[8:])),
		Type:      HeaderFileType(order.Uint32(data[12:])),
		NCommands: order.Uint32(data[16:]),
		SizeCmds:  order.Uint32(data[20:]),
		Flags:     HeaderFlag(order.Uint32(data[24:])),
	}
	switch hdr.Type {
	case TypeExecute, TypeDylib, TypeBundle, TypeDylinker, TypeDylibStub, TypeFileset:
	default:
		return nil, ErrUnsupportedObject
	}

	info := &Info{CPU: hdr.CPU, SubCPU: hdr.SubCPU, Is64: is64}

	cmds, err := readLoadCommands(data[hdrSize:], order, int(hdr.NCommands), int(hdr.SizeCmds))
	if err != nil {
		return nil, err
	}

	var rawRPaths []string
	for _, c := range cmds {
		switch c.cmd {
		case lcIDDylib:
			if path, ok := parseDylibCmd(c.body, order); ok {
				info.ID = path
				info.HasID = true
			}
		case lcLoadDylib:
			if path, ok := parseDylibCmd(c.body, order); ok {
				info.Dylibs = append(info.Dylibs, Dylib{Path: path})
			}
		case lcLoadWeakDylib:
			if path, ok := parseDylibCmd(c.body, order); ok {
				info.Dylibs = append(info.Dylibs, Dylib{Path: path, Weak: true})
			}
		case lcReexportDylib:
			if path, ok := parseDylibCmd(c.body, order); ok {
				info.Dylibs = append(info.Dylibs, Dylib{Path: path})
			}
		case lcLazyLoadDylib:
			if path, ok := parseDylibCmd(c.body, order); ok {
				info.Dylibs = append(info.Dylibs, Dylib{Path: path, Lazy: true})
			}
		case lcRpath:
			if path, ok := parseRpathCmd(c.body, order); ok {
				rawRPaths = append(rawRPaths, path)
			}
		case lcSegment:
			if off, name, ok := parseSegmentCmd32(c.body, order); ok && name == "__TEXT" {
				info.TextFileOffset, info.HasTextSegment = off, true
			}
		case lcSegment64:
			if off, name, ok := parseSegmentCmd64(c.body, order); ok && name == "__TEXT" {
				info.TextFileOffset, info.HasTextSegment = off, true
			}
		case lcBuildVersion:
			if plat, minos, ok := parseBuildVersionCmd(c.body, order); ok {
				info.Platform = plat
				info.MinOSVersion = minos
			}
		case lcVersionMinOSX:
			if minos, ok := parseVersionMinCmd(c.body, order); ok && info.Platform == "" {
				info.Platform = "macos"
				info.MinOSVersion = minos
			}
		}
	}

	for i, p := range rawRPaths {
		rawRPaths[i] = expandExecutablePath(p, opts.ExecutablePath)
	}
	for i, d := range info.Dylibs {
		info.Dylibs[i].Path = expandExecutablePath(d.Path, opts.ExecutablePath)
	}

	info.RPath = searchpath.NewSet(rawRPaths...)

	return info, nil
}

func expandExecutablePath(s, executablePath string) string {
	const token = "@executable_path"
	if executablePath == "" {
		return s
	}
	return replaceAll(s, token, executablePath)
}

// replaceAll avoids pulling in strings.Replace semantics differences for
// a single fixed token; kept tiny and local since it's the only
// substitution macho.Read itself performs (the rest are the resolver's).
func replaceAll(s, old, new string) string {
	if old == "" {
		return s
	}
	var out []byte
	for {
		i := indexOf(s, old)
		if i < 0 {
			out = append(out, s...)
			break
		}
		out = append(out, s[:i]...)
		out = append(out, new...)
		s = s[i+len(old):]
	}
	return string(out)
}

func indexOf(s, substr string) int {
	n, m := len(s), len(substr)
	if m == 0 || m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}

// IsThin reports whether data begins with a recognized thin Mach-O magic
// (32 or 64-bit, either byte order) -- the format-sniffing test the
// resolver runs to choose between the ELF and Mach-O readers.
func IsThin(data []byte) bool {
	_, _, ok := detectThin(data)
	return ok
}

// detectThin reports the byte order and word size of a thin Mach-O
// object's magic, or ok=false if data doesn't start with one.
func detectThin(data []byte) (order binary.ByteOrder, is64 bool, ok bool) {
	if len(data) < 4 {
		return nil, false, false
	}
	be := binary.BigEndian.Uint32(data[0:4])
	le := binary.LittleEndian.Uint32(data[0:4])
	switch {
	case be == uint32(Magic32):
		return binary.BigEndian, false, true
	case le == uint32(Magic32):
		return binary.LittleEndian, false, true
	case be == uint32(Magic64):
		return binary.BigEndian, true, true
	case le == uint32(Magic64):
		return binary.LittleEndian, true, true
	default:
		return nil, false, false
	}
}
