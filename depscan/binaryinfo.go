package depscan

import (
	"fmt"

	"github.com/appsworld/depscan/elf"
	"github.com/appsworld/depscan/macho"
	"github.com/appsworld/depscan/pkg/dyldcache"
	"github.com/appsworld/depscan/pkg/platform"
	"github.com/appsworld/depscan/pkg/searchpath"
	"github.com/appsworld/depscan/pkg/sysdirs"
)

// Format names the on-disk object kind a file sniffed to.
type Format int

const (
	FormatELF Format = iota
	FormatMachO
	FormatDyldCache
)

// BinaryInfo is the subset of one ELF or Mach-O file's contents the
// resolver needs, adapted from elf.Info/macho.Info into one shape so the
// resolver never branches on Format past this point.
type BinaryInfo struct {
	Path   string
	Origin string // directory component of Path
	Format Format

	Class   sysdirs.Class
	Data    platform.Endian
	OSABI   string // "" for Mach-O, which has no OS-ABI field
	Machine uint32 // ELF e_machine, or Mach-O cpu_type_t (which needs the full 32 bits: the ABI64 bit distinguishes e.g. CPU_TYPE_X86_64 from CPU_TYPE_X86)
	EFlags  uint32 // ELF e_flags; always 0 for Mach-O

	Interpreter    string
	HasInterpreter bool
	Soname         string
	HasSoname      bool

	Rpath     *searchpath.Set
	Runpath   *searchpath.Set
	Nodeflibs bool
	IsMusl    bool

	Needed []string
}

// classify reports which reader a blob's magic belongs to.
func classify(data []byte) (Format, bool) {
	if len(data) >= 4 && data[0] == 0x7f && data[1] == 'E' && data[2] == 'L' && data[3] == 'F' {
		return FormatELF, true
	}
	if dyldcache.IsDyldCache(data) {
		return FormatDyldCache, true
	}
	if macho.IsFat(data) || macho.IsThin(data) {
		return FormatMachO, true
	}
	return 0, false
}

// ReadBinaryInfo sniffs data's format and parses it into a BinaryInfo.
// arch selects a Fat Mach-O slice when data is a universal archive; it is
// ignored for ELF and thin Mach-O input. A dyld shared cache is never
// returned from here -- callers route it through pkg/dyldcache directly
// and reparse individual images via ReadMachO on demand (spec.md §4.3).
func ReadBinaryInfo(path string, origin string, data []byte, arch macho.CPU, opts ReadOptions) (*BinaryInfo, error) {
	format, ok := classify(data)
	if !ok {
		return nil, ErrNotAnObject
	}

	switch format {
	case FormatELF:
		info, err := elf.Read(data, origin, elf.TokenOpts{PlatformOverride: opts.PlatformOverride})
		if err != nil {
			return nil, translateELFErr(err)
		}
		return fromELF(path, origin, info), nil

	case FormatMachO:
		slice := data
		if macho.IsFat(data) {
			archs, err := macho.ParseFat(data)
			if err != nil {
				return nil, translateMachOErr(err)
			}
			want := arch
			if want == 0 {
				want = macho.CurrentCPU()
			}
			picked, err := macho.SelectSlice(archs, want)
			if err != nil {
				return nil, translateMachOErr(err)
			}
			slice, err = macho.Slice(data, picked)
			if err != nil {
				return nil, translateMachOErr(err)
			}
		}
		info, err := macho.Read(slice, macho.TokenOpts{ExecutablePath: opts.ExecutablePath})
		if err != nil {
			return nil, translateMachOErr(err)
		}
		return fromMachO(path, origin, info), nil

	case FormatDyldCache:
		return nil, ErrUnsupportedObject

	default:
		return nil, ErrNotAnObject
	}
}

// ReadOptions carries the caller-supplied values BinaryInfo construction
// needs beyond the bytes being parsed.
type ReadOptions struct {
	PlatformOverride string // ELF $PLATFORM CLI override
	ExecutablePath   string // Mach-O @executable_path substitution
}

func translateELFErr(err error) error {
	switch err {
	case elf.ErrNotAnObject:
		return ErrNotAnObject
	case elf.ErrMissingDynamicStringTable:
		return &MalformedObjectError{Reason: "missing dynamic string table"}
	case elf.ErrNoDynamicSegment:
		return &MalformedObjectError{Reason: "no PT_DYNAMIC segment"}
	default:
		return &MalformedObjectError{Reason: err.Error()}
	}
}

func translateMachOErr(err error) error {
	switch err {
	case macho.ErrNotAnObject:
		return ErrNotAnObject
	case macho.ErrUnsupportedObject:
		return ErrUnsupportedObject
	case macho.ErrNoMatchingSlice:
		return &MalformedObjectError{Reason: "no Fat slice for requested architecture"}
	default:
		return &MalformedObjectError{Reason: err.Error()}
	}
}

func fromELF(path, origin string, info *elf.Info) *BinaryInfo {
	class := sysdirs.Class32
	if info.Class == elf.Class64 {
		class = sysdirs.Class64
	}
	data := platform.LittleEndian
	if info.Data == elf.BigEndian {
		data = platform.BigEndian
	}
	return &BinaryInfo{
		Path:           path,
		Origin:         origin,
		Format:         FormatELF,
		Class:          class,
		Data:           data,
		OSABI:          osabiName(info.OSABI),
		Machine:        uint32(info.Machine),
		EFlags:         info.Flags,
		Interpreter:    info.Interp,
		HasInterpreter: info.HasInterp,
		Soname:         info.Soname,
		HasSoname:      info.HasSoname,
		Rpath:          info.RPath,
		Runpath:        info.RunPath,
		Nodeflibs:      info.Nodeflibs,
		IsMusl:         info.IsMusl,
		Needed:         info.Needed,
	}
}

func fromMachO(path, origin string, info *macho.Info) *BinaryInfo {
	class := sysdirs.Class32
	if info.Is64 {
		class = sysdirs.Class64
	}
	needed := make([]string, len(info.Dylibs))
	for i, d := range info.Dylibs {
		needed[i] = d.Path
	}
	return &BinaryInfo{
		Path:      path,
		Origin:    origin,
		Format:    FormatMachO,
		Class:     class,
		Data:      platform.LittleEndian, // Mach-O on live architectures is always LE
		Machine:   uint32(info.CPU),
		Soname:    info.ID,
		HasSoname: info.HasID,
		Rpath:     info.RPath,
		Runpath:   searchpath.NewSet(), // Mach-O has no runpath equivalent
		Needed:    needed,
	}
}

func osabiName(a elf.OSABI) string {
	switch a {
	case elf.OSABISysV:
		return "SysV"
	case elf.OSABIGNU:
		return "GNU"
	case elf.OSABINetBSD:
		return "NetBSD"
	case elf.OSABISolaris:
		return "Solaris"
	case elf.OSABIFreeBSD:
		return "FreeBSD"
	case elf.OSABIOpenBSD:
		return "OpenBSD"
	default:
		return fmt.Sprintf("0x%x", uint8(a))
	}
}

// acceptableOSABI reports whether abi is in the per-host acceptable set
// spec.md §3 requires: "OS-ABI must be in the per-host acceptable set
// (SysV/GNU on Linux; FreeBSD on FreeBSD; SysV/OpenBSD on OpenBSD;
// SysV/NetBSD on NetBSD; SysV/Solaris on illumos)".
func acceptableOSABI(target sysdirs.OS, abi string) bool {
	switch target {
	case sysdirs.Linux, sysdirs.Android:
		return abi == "SysV" || abi == "GNU"
	case sysdirs.FreeBSD:
		return abi == "FreeBSD"
	case sysdirs.OpenBSD:
		return abi == "SysV" || abi == "OpenBSD"
	case sysdirs.NetBSD:
		return abi == "SysV" || abi == "NetBSD"
	case sysdirs.Darwin:
		return true // Mach-O carries no OS-ABI field
	default:
		return false
	}
}

// compatible implements spec.md §4.1's candidate compatibility check: same
// class, data encoding, machine; host-acceptable OS-ABI; and, if a NEEDED
// string drove the lookup via SONAME matching, the candidate's soname (if
// present) must equal it exactly.
func compatible(target sysdirs.OS, parent, candidate *BinaryInfo, neededBySoname string) bool {
	if candidate.Class != parent.Class || candidate.Data != parent.Data || candidate.Machine != parent.Machine {
		return false
	}
	if !acceptableOSABI(target, candidate.OSABI) {
		return false
	}
	if neededBySoname != "" && candidate.HasSoname && candidate.Soname != neededBySoname {
		return false
	}
	return true
}
