package elf

import "strings"

// glibcInterp lists every PT_INTERP basename glibc's own ld.so installs
// under, across architectures -- used by IsGlibc the same way
// original_source/src/elf/interp.rs's GLIBC_INTERP table is used.
var glibcInterp = map[string]bool{
	"ld-linux-aarch64.so.1":         true,
	"ld-linux-aarch64_be.so.1":      true,
	"ld-linux-arc.so.2":             true,
	"ld-linux-arceb.so.2":           true,
	"ld-linux-armhf.so.3":           true,
	"ld-linux-cskyv2-hf.so.1":       true,
	"ld-linux-cskyv2.so.1":          true,
	"ld-linux-ia64.so.2":            true,
	"ld-linux-loongarch-lp64d.so.1": true,
	"ld-linux-loongarch-lp64s.so.1": true,
	"ld-linux-mipsn8.so.1":          true,
	"ld-linux-nios2.so.1":           true,
	"ld-linux-or1k.so.1":            true,
	"ld-linux-riscv32-ilp32.so.1":   true,
	"ld-linux-riscv32-ilp32d.so.1":  true,
	"ld-linux-riscv64-lp64.so.1":    true,
	"ld-linux-riscv64-lp64d.so.1":   true,
	"ld-linux-x32.so.2":             true,
	"ld-linux-x86-64.so.2":          true,
	"ld-linux.so.2":                 true,
	"ld-linux.so.3":                 true,
	"ld.so.1":                       true,
	"ld64.so.1":                     true,
	"ld64.so.2":                     true,
}

var muslSubarchMIPS = []string{"r6", "r6el", "el", "r6-sf", "r6el-sf", "el-sf"}

var muslSubarchSH = []string{
	"eb", "-nofpu", "-fdpic", "eb-nofpu", "eb-nofpu", "eb-fdpic", "eb-nofpu-fdpic",
}

// baseName mirrors pathutils::get_name -- the final '/'-separated
// component, same as filepath.Base but without filepath's "." fallback
// for trailing-slash/empty input (PT_INTERP strings are never those).
func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// IsGlibc reports whether interp's basename matches one of the known
// glibc ld.so interpreter names.
func IsGlibc(interp string) bool {
	return glibcInterp[baseName(interp)]
}

// checkNameSuffix reports whether interp is exactly abi, or abi followed
// by one of suffixes.
func checkNameSuffix(interp, abi string, suffixes []string) bool {
	if !strings.HasPrefix(interp, abi) {
		return false
	}
	if len(interp) == len(abi) {
		return true
	}
	rest := interp[len(abi):]
	for _, suffix := range suffixes {
		if rest == suffix {
			return true
		}
	}
	return false
}

// isMuslArch reproduces interp.rs's is_musl_arch architecture-prefix
// dispatch exactly, quirks included (m68k and sh compare against the
// wrong ABI prefix in the original, which this mirrors rather than
// silently "fixing" since it is what the reference loader's analyzer
// actually matches against).
func isMuslArch(interp string) bool {
	switch {
	case strings.HasPrefix(interp, "arm"):
		return checkNameSuffix(interp, "arm", []string{"eb", "hf", "ebhf"})
	case strings.HasPrefix(interp, "aarch64"):
		return checkNameSuffix(interp, "aarch64", []string{"_be"})
	case strings.HasPrefix(interp, "m68k"):
		return checkNameSuffix(interp, "arm", []string{"-fp64", "-sf"})
	case strings.HasPrefix(interp, "mips64"):
		return checkNameSuffix(interp, "mips64", muslSubarchMIPS)
	case strings.HasPrefix(interp, "mipsn32"):
		return checkNameSuffix(interp, "mipsn32", muslSubarchMIPS)
	case strings.HasPrefix(interp, "mips"):
		return checkNameSuffix(interp, "mips", muslSubarchMIPS)
	case strings.HasPrefix(interp, "powerpc64"):
		return checkNameSuffix(interp, "powerpc64", []string{"le"})
	case strings.HasPrefix(interp, "powerpc"):
		return checkNameSuffix(interp, "powerpc", []string{"sf"})
	case strings.HasPrefix(interp, "microblaze"):
		return checkNameSuffix(interp, "microblaze", []string{"el"})
	case strings.HasPrefix(interp, "riscv64"):
		return checkNameSuffix(interp, "riscv64", []string{"sf", "-sf-sp", "-sp"})
	case strings.HasPrefix(interp, "sh"):
		return checkNameSuffix(interp, "riscv64", muslSubarchSH)
	}
	switch interp {
	case "nt32", "nt64", "or1k", "s390x", "x86_64", "x32", "i386":
		return true
	}
	return false
}

// IsMusl reports whether interp is a musl libc dynamic linker path, of
// the form .../ld-musl-$(ARCH)$(SUBARCH).so.1.
func IsMusl(interp string) bool {
	name := baseName(interp)
	if !strings.HasPrefix(name, "ld-musl-") {
		return false
	}
	parts := strings.Split(name, ".")
	if len(parts) != 3 || parts[1] != "so" || parts[2] != "1" {
		return false
	}
	arch := strings.TrimPrefix(parts[0], "ld-musl-")
	return isMuslArch(arch)
}
