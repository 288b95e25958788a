// Package sysdirs implements the pure (os, machine, class, interpreter) ->
// ordered default library directory list that the resolver falls back to
// once rpath, LD_LIBRARY_PATH, runpath and the loader cache have all
// missed, and the $LIB/${LIB} rpath token expansion, which depends on the
// same (machine, class) pair.
package sysdirs

import "fmt"

// OS names the target operating system.
type OS int

const (
	Linux OS = iota
	FreeBSD
	OpenBSD
	NetBSD
	Android
	Darwin
)

// Class is the ELF/Mach-O word size.
type Class int

const (
	Class32 Class = 32
	Class64 Class = 64
)

// Machine is a small machine enumeration independent of the ELF e_machine
// numeric space, since system directory layout depends on the
// marketing/triplet name (e.g. "x86_64-linux-gnu") more than the raw ABI
// constant.
type Machine int

const (
	MachineUnknown Machine = iota
	MachineX86
	MachineX86_64
	MachineARM
	MachineARM64
	MachinePPC
	MachinePPC64
	MachinePPC64LE
	MachineS390X
	MachineMIPS
	MachineMIPSEL
	MachineRISCV64
)

// triplet is the Debian-style multiarch directory component glibc installs
// its libraries under; it is also the $LIB expansion for 64-bit Linux
// targets in practice (ld.so itself expands $LIB to "lib64" or "lib", but
// distributions additionally multiarch-qualify /usr/lib).
func triplet(m Machine) string {
	switch m {
	case MachineX86_64:
		return "x86_64-linux-gnu"
	case MachineX86:
		return "i386-linux-gnu"
	case MachineARM64:
		return "aarch64-linux-gnu"
	case MachineARM:
		return "arm-linux-gnueabihf"
	case MachinePPC64LE:
		return "powerpc64le-linux-gnu"
	case MachinePPC64:
		return "powerpc64-linux-gnu"
	case MachineS390X:
		return "s390x-linux-gnu"
	case MachineMIPSEL:
		return "mipsel-linux-gnu"
	case MachineMIPS:
		return "mips-linux-gnu"
	case MachineRISCV64:
		return "riscv64-linux-gnu"
	default:
		return ""
	}
}

// SLibDir returns the $LIB / ${LIB} rpath token expansion for the given
// machine and class. Only meaningful on Linux; BSD targets never expand
// $LIB (spec.md §4.1: "a no-op on BSD for now").
func SLibDir(os OS, m Machine, class Class) string {
	if os != Linux && os != Android {
		return ""
	}
	if class == Class64 {
		return "lib64"
	}
	return "lib"
}

// Dirs returns the ordered list of directories the loader searches by
// default for the given target, after every other stage of the search
// order has failed. interp, when non-empty, is the PT_INTERP path and
// distinguishes e.g. a musl target (which never uses multiarch
// directories) from a glibc one.
func Dirs(target OS, m Machine, class Class, interp string) ([]string, error) {
	switch target {
	case Linux, Android:
		return linuxDirs(m, class, interp)
	case FreeBSD:
		return []string{"/lib", "/usr/lib", "/usr/local/lib"}, nil
	case OpenBSD:
		return []string{"/usr/lib", "/usr/local/lib"}, nil
	case NetBSD:
		return []string{"/usr/lib", "/usr/pkg/lib", "/usr/local/lib"}, nil
	case Darwin:
		return []string{"/usr/lib", "/usr/local/lib"}, nil
	default:
		return nil, fmt.Errorf("sysdirs: unsupported target OS %v", target)
	}
}

func linuxDirs(m Machine, class Class, interp string) ([]string, error) {
	if isMuslInterp(interp) {
		// musl's dynamic linker only ever searches /lib and /usr/lib; it
		// has no concept of multiarch directories or a lib64 split.
		return []string{"/lib", "/usr/lib"}, nil
	}

	tr := triplet(m)
	if tr == "" {
		return nil, fmt.Errorf("sysdirs: no system directory table entry for machine %v class %v", m, class)
	}

	dirs := []string{
		fmt.Sprintf("/usr/lib/%s", tr),
		fmt.Sprintf("/lib/%s", tr),
	}
	if class == Class64 {
		dirs = append(dirs, "/usr/lib64", "/lib64")
	} else {
		dirs = append(dirs, "/usr/lib32", "/lib32")
	}
	dirs = append(dirs, "/usr/lib", "/lib")
	return dirs, nil
}

func isMuslInterp(interp string) bool {
	return len(interp) > 0 && containsMusl(interp)
}

func containsMusl(s string) bool {
	for i := 0; i+8 <= len(s); i++ {
		if s[i:i+8] == "ld-musl-" {
			return true
		}
	}
	return false
}
