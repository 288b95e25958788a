// Command depscan reports the transitive shared-library dependency graph
// of one or more ELF or Mach-O binaries, annotating each dependency with
// the exact search-order rule that located it.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/xyproto/env/v2"

	"github.com/appsworld/depscan/depscan"
	"github.com/appsworld/depscan/pkg/androidns"
	"github.com/appsworld/depscan/pkg/ansicolor"
	"github.com/appsworld/depscan/pkg/bsdhints"
	"github.com/appsworld/depscan/pkg/dyldcache"
	"github.com/appsworld/depscan/pkg/ldsoconf"
	"github.com/appsworld/depscan/pkg/searchpath"
	"github.com/appsworld/depscan/pkg/sysdirs"
)

var (
	libraryPath = flag.String("library-path", "", "':'-separated LD_LIBRARY_PATH/DYLD_LIBRARY_PATH override")
	preload     = flag.String("preload", "", "preload list (whitespace- or ':'-separated)")
	platform    = flag.String("platform", "", "override $PLATFORM expansion")
	printPaths  = flag.Bool("p", false, "print resolved absolute paths instead of names")
	reportAll   = flag.Bool("a", false, "include already-resolved back-references in the output")
	flatList    = flag.Bool("l", false, "render ldd-style: one unique dependency per line")
	target      = flag.String("target", "", "target OS when it cannot be inferred from the binary (e.g. \"android\")")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	if flag.NArg() == 0 {
		fmt.Println("usage: depscan [flags] <binary> [binary...]")
		return
	}
	if os.Getenv("NO_COLOR") != "" {
		ansicolor.Enabled = false
	}

	libPathStr := *libraryPath
	if libPathStr == "" {
		libPathStr = env.Str("LD_LIBRARY_PATH", "")
	}

	for _, path := range flag.Args() {
		if err := scan(path); err != nil {
			glog.Errorf("%s: %v", path, err)
		}
	}
}

func scan(path string) error {
	data, release, err := depscan.MmapOpen(path)
	if err != nil {
		return err
	}
	defer release()

	root, err := depscan.ReadBinaryInfo(path, dirOf(path), data, 0, depscan.ReadOptions{
		PlatformOverride: *platform,
		ExecutablePath:   dirOf(path),
	})
	if err != nil {
		return err
	}

	targetOS, err := resolveTargetOS(root, *target)
	if err != nil {
		return err
	}

	cache, releaseCache := loadCache(targetOS, root)
	defer releaseCache()

	cfg := &depscan.Config{
		TargetOS:         targetOS,
		LibraryPath:      splitLibraryPath(libraryPathFlagOr(targetOS)),
		Preloads:         splitPreload(*preload, targetOS),
		PlatformOverride: *platform,
		ExecutablePath:   dirOf(path),
		ReportAll:        *reportAll,
		Cache:            cache,
	}

	tree := depscan.Resolve(root, cfg)

	switch {
	case *flatList:
		printFlat(os.Stdout, tree)
	default:
		printTree(os.Stdout, tree, *printPaths)
	}
	return nil
}

func libraryPathFlagOr(targetOS sysdirs.OS) string {
	if *libraryPath != "" {
		return *libraryPath
	}
	key := "LD_LIBRARY_PATH"
	if targetOS == sysdirs.Darwin {
		key = "DYLD_LIBRARY_PATH"
	}
	return env.Str(key, "")
}

func splitLibraryPath(s string) *searchpath.Set {
	if s == "" {
		return searchpath.NewSet()
	}
	return searchpath.Split(s, ":")
}

// splitPreload tokenizes a preload list; Linux's LD_PRELOAD accepts either
// whitespace or ':' as a separator, macOS's DYLD_INSERT_LIBRARIES only ':'
// (spec.md §6).
func splitPreload(s string, targetOS sysdirs.OS) []string {
	if s == "" {
		return nil
	}
	sepFn := func(r rune) bool { return r == ':' || r == ' ' || r == '\t' }
	if targetOS == sysdirs.Darwin {
		sepFn = func(r rune) bool { return r == ':' }
	}
	return strings.FieldsFunc(s, sepFn)
}

// resolveTargetOS infers the target dynamic loader from the binary's own
// format/OS-ABI. Mach-O always means Darwin; ELF's OS-ABI distinguishes
// the BSDs but cannot distinguish Android from Linux (both report
// SysV/GNU), so Android selection requires the explicit --target flag.
func resolveTargetOS(root *depscan.BinaryInfo, override string) (sysdirs.OS, error) {
	switch strings.ToLower(override) {
	case "android":
		return sysdirs.Android, nil
	case "linux":
		return sysdirs.Linux, nil
	case "freebsd":
		return sysdirs.FreeBSD, nil
	case "openbsd":
		return sysdirs.OpenBSD, nil
	case "netbsd":
		return sysdirs.NetBSD, nil
	case "darwin", "macos":
		return sysdirs.Darwin, nil
	case "":
		// fall through to inference
	default:
		return 0, fmt.Errorf("depscan: unknown --target %q", override)
	}

	if root.Format == depscan.FormatMachO {
		return sysdirs.Darwin, nil
	}
	switch root.OSABI {
	case "FreeBSD":
		return sysdirs.FreeBSD, nil
	case "OpenBSD":
		return sysdirs.OpenBSD, nil
	case "NetBSD":
		return sysdirs.NetBSD, nil
	default:
		return sysdirs.Linux, nil
	}
}

// noRelease is the release func loadCache returns alongside any cache that
// copies everything it needs out of its backing mapping before returning,
// so the mapping can be (and already has been) released immediately.
func noRelease() error { return nil }

// loadCache builds the platform-appropriate LoaderCache for one input
// binary; scan calls it once per binary, so the cache file is read again
// for every binary named on the command line. A failure to load is not
// fatal: resolution proceeds with depscan.NoCache,
// the cache stage simply never finds anything (the same outcome an
// absent /etc/ld.so.cache would produce).
//
// The returned release func must be deferred by the caller only after
// Resolve has run: every cache but Darwin's copies strings out of its
// backing mapping while loading and releases it immediately, but the dyld
// shared cache is reparsed on demand throughout resolution (spec.md §5,
// "except the dyld-cache mapping, which is held for the lifetime of the
// LoaderCache"), so its mapping must outlive the whole Resolve call.
func loadCache(targetOS sysdirs.OS, root *depscan.BinaryInfo) (depscan.Cache, func() error) {
	switch targetOS {
	case sysdirs.Linux:
		data, release, err := depscan.MmapOpen("/etc/ld.so.cache")
		if err != nil {
			glog.Errorf("loading ld.so.cache: %v", err)
			return depscan.NoCache, noRelease
		}
		defer release()
		cache, err := depscan.LoadLinuxCache(data, depscan.QueryFor(root))
		if err != nil {
			glog.Errorf("parsing ld.so.cache: %v", err)
			return depscan.NoCache, noRelease
		}
		return cache, noRelease

	case sysdirs.FreeBSD:
		return loadBSDHints("/var/run/ld-elf.so.hints", bsdhints.ReadFreeBSD)
	case sysdirs.OpenBSD:
		return loadBSDHints("/var/run/ld.so.hints", bsdhints.ReadOpenBSD)
	case sysdirs.NetBSD:
		dirs, err := ldsoconf.Parse("/etc/ld.so.conf")
		if err != nil {
			glog.Errorf("parsing ld.so.conf: %v", err)
			return depscan.NoCache, noRelease
		}
		return depscan.LoadBSDCache(dirs), noRelease

	case sysdirs.Android:
		release, err := androidns.ReadRelease()
		if err != nil {
			glog.Errorf("reading Android release: %v", err)
			return depscan.NoCache, noRelease
		}
		class32 := root.Class == sysdirs.Class32
		filename := androidns.ConfigPath(root.Path, uint16(root.Machine), class32, release)
		libDir := "lib64"
		if class32 {
			libDir = "lib"
		}
		cache, err := depscan.LoadAndroidCache(filename, androidns.Options{
			Binary:  root.Path,
			Interp:  root.Interpreter,
			LibDir:  libDir,
			Release: release,
		}, "default")
		if err != nil {
			glog.Errorf("parsing %s: %v", filename, err)
			return depscan.NoCache, noRelease
		}
		return cache, noRelease

	case sysdirs.Darwin:
		archPath, err := dyldcache.DefaultPath(archName(root.Machine))
		if err != nil {
			glog.Errorf("locating dyld shared cache: %v", err)
			return depscan.NoCache, noRelease
		}
		data, release, err := depscan.MmapOpen(archPath)
		if err != nil {
			glog.Errorf("opening dyld shared cache: %v", err)
			return depscan.NoCache, noRelease
		}
		cache, err := depscan.LoadDarwinCache(data)
		if err != nil {
			glog.Errorf("parsing dyld shared cache: %v", err)
			release()
			return depscan.NoCache, noRelease
		}
		return cache, release

	default:
		return depscan.NoCache, noRelease
	}
}

func loadBSDHints(path string, read func([]byte) (*searchpath.Set, error)) (depscan.Cache, func() error) {
	data, release, err := depscan.MmapOpen(path)
	if err != nil {
		glog.Errorf("loading %s: %v", path, err)
		return depscan.NoCache, noRelease
	}
	defer release()
	dirs, err := read(data)
	if err != nil {
		glog.Errorf("parsing %s: %v", path, err)
		return depscan.NoCache, noRelease
	}
	return depscan.LoadBSDCache(dirs), noRelease
}

func archName(machine uint32) string {
	switch machine {
	case 0x01000007: // CPUX8664
		return "x86_64"
	case 0x0100000c: // CPUArm64
		return "arm64"
	default:
		return "x86_64"
	}
}

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
