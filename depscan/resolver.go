package depscan

import (
	"strings"

	"github.com/appsworld/depscan/pkg/searchpath"
	"github.com/appsworld/depscan/pkg/sysdirs"
)

// Config carries everything the resolver needs beyond the binary it was
// asked to scan. It replaces the global environment variables and
// process-wide caches a real dynamic linker consults (spec.md §9: "Global
// state replaced by explicit context... the resolver receives a Config and
// a Context, never reads an environment variable or global singleton
// directly").
type Config struct {
	TargetOS sysdirs.OS

	// LibraryPath is LD_LIBRARY_PATH (ELF targets) or DYLD_LIBRARY_PATH
	// (Darwin), already split into an ordered set by the caller.
	LibraryPath *searchpath.Set

	// Preloads is LD_PRELOAD (or DYLD_INSERT_LIBRARIES), in search order.
	Preloads []string

	// PlatformOverride is the ELF $PLATFORM token substitution; propagated
	// into every elf.Read call the resolver makes while walking the graph.
	PlatformOverride string

	// ExecutablePath is the root binary's own directory, fixed for the
	// whole run: Mach-O's @executable_path always names the directory of
	// the binary the dynamic linker was originally invoked on, not
	// whichever dylib is currently being parsed (spec.md §4.2).
	ExecutablePath string

	// ReportAll controls whether an already-resolved dependency gets a
	// found=true back-reference node on a repeat encounter, or is silently
	// skipped (spec.md §4.9's dedup clause).
	ReportAll bool

	// Cache is the loader cache consulted at search-order step 7. Pass
	// NoCache when none could be loaded for the target.
	Cache Cache

	// Open maps a candidate path into memory. Defaults to MmapOpen when
	// left nil.
	Open Opener
}

func (c *Config) open(path string) ([]byte, func() error, error) {
	if c.Open != nil {
		return c.Open(path)
	}
	return MmapOpen(path)
}

// pending is one dependency awaiting resolution: a NEEDED string (or
// preload entry) discovered while walking parentIdx's node.
type pending struct {
	name      string
	parentIdx int
	parent    *BinaryInfo
	isPreload bool
}

// Resolve walks root's transitive dependency graph and returns the
// resulting tree. root must already have been parsed via ReadBinaryInfo;
// Resolve performs no I/O on root itself, only on the dependencies it and
// its descendants name.
func Resolve(root *BinaryInfo, cfg *Config) *Tree {
	tree := NewTree(Node{Path: root.Path, Name: root.Path, Mode: ModeExecutable, Info: root})

	var queue []pending
	for _, p := range cfg.Preloads {
		queue = append(queue, pending{name: p, parentIdx: 0, parent: root, isPreload: true})
	}

	if root.IsMusl && root.HasInterpreter {
		queue = injectMuslInterpreter(tree, root, queue)
	}

	for _, n := range root.Needed {
		queue = append(queue, pending{name: n, parentIdx: 0, parent: root})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		queue = processOne(tree, cfg, item, queue)
	}

	return tree
}

// injectMuslInterpreter adds the synthetic loader node musl scenario 2
// (spec.md §8) requires: a musl libc's PT_INTERP is the dynamic linker
// binary itself, which never appears in DT_NEEDED, yet every musl process
// image includes it. Its Found flag is set when the interpreter file exists
// on this host; the resolver does not queue it, and so never reparses it
// for its own dependencies, since musl's single combined
// libc/ld.so object supplies everything the rest of the graph needs
// through the normal soname search instead.
func injectMuslInterpreter(tree *Tree, root *BinaryInfo, queue []pending) []pending {
	tree.AddChild(0, Node{
		Path:  root.Interpreter,
		Name:  baseName(root.Interpreter),
		Mode:  ModeSystemDirs,
		Found: fileExists(root.Interpreter),
	})
	return queue
}

// processOne resolves item, appends the outcome (a resolved node, a
// back-reference, or a NotFound leaf) as a child of item.parentIdx, and
// returns queue extended with the new node's own dependencies. It is the
// iterative state-machine step spec.md §4.9 describes; there is no
// recursive call per dependency, only queue growth, so the whole graph is
// walked by an explicit work list regardless of its depth.
func processOne(tree *Tree, cfg *Config, item pending, queue []pending) []pending {
	// musl's interpreter doubles as libc.so; a second explicit lookup for
	// it anywhere in the graph is suppressed rather than walked (spec.md
	// §4.9's musl quirk).
	if item.parent.IsMusl && baseName(item.name) == "libc.so" {
		return queue
	}

	key := baseName(item.name)
	if !item.parent.Nodeflibs {
		if idx, ok := tree.find(item.name); ok {
			if cfg.ReportAll {
				orig := tree.Node(idx)
				tree.AddChild(item.parentIdx, Node{
					Path:  orig.Path,
					Name:  orig.Name,
					Mode:  orig.Mode,
					Found: true,
				})
			}
			return queue
		}
	}

	candidate, mode, ok := resolveOne(cfg, item)
	if !ok {
		tree.AddChild(item.parentIdx, Node{Name: key, Mode: ModeNotFound})
		return queue
	}

	if candidate.Format == FormatELF && candidate.Rpath.IsEmpty() {
		candidate.Rpath = item.parent.Rpath
	}

	idx := tree.AddChild(item.parentIdx, Node{
		Path: candidate.Path,
		Name: key,
		Mode: mode,
		Info: candidate,
	})

	for _, n := range candidate.Needed {
		queue = append(queue, pending{name: n, parentIdx: idx, parent: candidate})
	}
	return queue
}

// resolveOne runs the ordered search-order stages of spec.md §4.9 for a
// single dependency name against its parent, stopping at the first
// compatible candidate.
func resolveOne(cfg *Config, item pending) (*BinaryInfo, Mode, bool) {
	name := item.name
	if item.parent.Format == FormatMachO {
		name = expandLoaderPath(name, item.parent.Origin)
	}
	soname := baseName(name)

	// Step 1: absolute path, direct or preload.
	if isAbsolutePath(name) {
		if info, ok := tryOpen(cfg, name, item.parent, soname); ok {
			mode := ModeDirect
			if item.isPreload {
				mode = ModePreload
			}
			return info, mode, true
		}
		if item.isPreload {
			return nil, 0, false
		}
	}

	// Step 3: Mach-O @rpath. When the NEEDED string names @rpath, only the
	// parent's rpath set is tried first; a miss here still falls through
	// to steps 4/5/7/8 below against the bare soname, the same as any
	// other unresolved dependency reaching those stages (spec.md §8's
	// end-to-end scenario 5: an @rpath dependency absent from every rpath
	// entry is still found via the dyld shared cache).
	searchName := name
	if item.parent.Format == FormatMachO && strings.Contains(name, "@rpath") {
		for _, dir := range item.parent.Rpath.Paths() {
			candidatePath := strings.Replace(name, "@rpath", dir, 1)
			if info, ok := tryOpen(cfg, candidatePath, item.parent, soname); ok {
				return info, ModeDtRpath, true
			}
		}
		searchName = soname
	} else if isAbsolutePath(name) {
		// An absolute, non-preload, non-@rpath NEEDED string that failed
		// step 1 is not retried against any later stage: a concrete path
		// was given and it either worked or didn't.
		return nil, 0, false
	}

	// Step 2: ELF rpath, only when the parent's own runpath is empty
	// (DT_RUNPATH present and non-empty makes DT_RPATH dead per the
	// ELF gABI, which spec.md §4.9 step 2 encodes directly).
	if item.parent.Format == FormatELF && item.parent.Runpath.IsEmpty() {
		for _, dir := range item.parent.Rpath.Paths() {
			if info, ok := tryOpen(cfg, dir+"/"+searchName, item.parent, soname); ok {
				return info, ModeDtRpath, true
			}
		}
	}

	// Step 4: LD_LIBRARY_PATH / DYLD_LIBRARY_PATH.
	if cfg.LibraryPath != nil {
		for _, dir := range cfg.LibraryPath.Paths() {
			if info, ok := tryOpen(cfg, dir+"/"+searchName, item.parent, soname); ok {
				return info, ModeLdLibraryPath, true
			}
		}
	}

	// Step 5: DT_RUNPATH. Never inherited by children (spec.md §4.9 step
	// 5: "runpath is never inherited").
	for _, dir := range item.parent.Runpath.Paths() {
		if info, ok := tryOpen(cfg, dir+"/"+searchName, item.parent, soname); ok {
			return info, ModeDtRunpath, true
		}
	}

	// Step 6: DF_1_NODEFLIB short-circuits the remaining stages.
	if item.parent.Nodeflibs {
		return nil, 0, false
	}

	// Step 7: loader cache. macOS gets its own mode tag ([dyld cache]) per
	// the end-to-end scenario in spec.md §8; every other target reports
	// [ld.so.cache] regardless of which on-disk cache format backed it
	// (glibc ld.so.cache, ld-elf.so.hints, ld.so.conf, or a bare directory
	// list -- the original's own Display impl varies this per
	// conditionally-compiled target, which a single cross-platform binary
	// cannot do at compile time; DESIGN.md records the decision). A hit
	// may come back as pre-mapped bytes rather than a filesystem path (the
	// dyld shared cache case), so it is parsed directly instead of opened.
	if cfg.Cache != nil {
		if path, data, ok := cfg.Cache.Lookup(item.parent, soname); ok {
			var info *BinaryInfo
			var parsed bool
			if data != nil {
				info, parsed = tryParse(cfg, path, data, item.parent, soname)
			} else {
				info, parsed = tryOpen(cfg, path, item.parent, soname)
			}
			if parsed {
				mode := ModeLdCache
				if cfg.TargetOS == sysdirs.Darwin {
					mode = ModeDyldCache
				}
				return info, mode, true
			}
		}
	}

	// Step 8: system default directories.
	machine := toSysdirsMachine(item.parent.Format, item.parent.Machine)
	class := item.parent.Class
	dirs, err := sysdirs.Dirs(cfg.TargetOS, machine, class, item.parent.Interpreter)
	if err == nil {
		for _, dir := range dirs {
			if info, ok := tryOpen(cfg, dir+"/"+searchName, item.parent, soname); ok {
				return info, ModeSystemDirs, true
			}
		}
	}

	// Step 9: not found.
	return nil, 0, false
}

// tryOpen maps path, parses it, and checks it against parent for ABI
// compatibility and (when soname is non-empty) SONAME agreement. The
// mapping is released before returning; any string the parsed BinaryInfo
// needs to keep has already been copied out of the mapped bytes by the
// elf/macho readers (spec.md §5: "strings it needs long-term are copied
// out before the map is dropped").
func tryOpen(cfg *Config, path string, parent *BinaryInfo, soname string) (*BinaryInfo, bool) {
	data, release, err := cfg.open(path)
	if err != nil {
		return nil, false
	}
	defer release()
	return tryParse(cfg, path, data, parent, soname)
}

// tryParse is tryOpen's shared core, taking already-mapped bytes directly
// instead of opening path from the filesystem -- the path the dyld shared
// cache stage needs, since a cache-resident image generally has no file of
// its own to open (spec.md §4.3).
func tryParse(cfg *Config, path string, data []byte, parent *BinaryInfo, soname string) (*BinaryInfo, bool) {
	info, err := ReadBinaryInfo(path, dirOf(path), data, 0, ReadOptions{
		PlatformOverride: cfg.PlatformOverride,
		ExecutablePath:   cfg.ExecutablePath,
	})
	if err != nil {
		return nil, false
	}
	if !compatible(cfg.TargetOS, parent, info, soname) {
		return nil, false
	}
	return info, true
}

// expandLoaderPath substitutes @loader_path with the directory of the
// binary that names the dependency (loaderDir), the one Mach-O token
// macho.Read leaves unexpanded because it is context-dependent on which
// object in the graph is being parsed (spec.md §4.2).
func expandLoaderPath(name, loaderDir string) string {
	const token = "@loader_path"
	if loaderDir == "" || !strings.Contains(name, token) {
		return name
	}
	return strings.Replace(name, token, loaderDir, 1)
}

// dirOf returns the directory component of a slash-separated path.
func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "."
	}
	if i == 0 {
		return "/"
	}
	return path[:i]
}

// toSysdirsMachine adapts a BinaryInfo's raw e_machine/cpu_type_t value
// into sysdirs' small machine enumeration, the only place in the resolver
// that needs to know the numeric encodings both object formats use.
func toSysdirsMachine(format Format, machine uint32) sysdirs.Machine {
	if format == FormatMachO {
		switch machine {
		case 0x01000007: // CPUX8664
			return sysdirs.MachineX86_64
		case 0x0100000c: // CPUArm64
			return sysdirs.MachineARM64
		case 7: // CPUX86
			return sysdirs.MachineX86
		case 12: // CPUArm
			return sysdirs.MachineARM
		default:
			return sysdirs.MachineUnknown
		}
	}

	const (
		emX86_64  = 62
		em386     = 3
		emARM     = 40
		emAARCH64 = 183
		emPPC     = 20
		emPPC64   = 21
		emS390    = 22
		emMIPS    = 8
		emRISCV   = 243
	)
	switch uint16(machine) {
	case emX86_64:
		return sysdirs.MachineX86_64
	case em386:
		return sysdirs.MachineX86
	case emAARCH64:
		return sysdirs.MachineARM64
	case emARM:
		return sysdirs.MachineARM
	case emPPC64:
		return sysdirs.MachinePPC64
	case emPPC:
		return sysdirs.MachinePPC
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
