package androidns

import (
	"os"
	"strings"
)

// ABI returns the Android ABI string ld.config.<abi>.txt embeds in its
// filename, for the machine/class pairs bionic supports.
func ABI(machine uint16, class32 bool) string {
	switch {
	case machine == emARM && class32:
		return "arm"
	case machine == emAARCH64 && !class32:
		return "arm64"
	case machine == em386 && class32:
		return "x86"
	case machine == emX86_64 && !class32:
		return "x86_64"
	default:
		return ""
	}
}

const (
	em386     = 3
	emARM     = 40
	emX86_64  = 62
	emAARCH64 = 183
)

// ConfigPath resolves the ld.config.txt path bionic would select for a
// binary at executable, given its machine/class and the host's Android
// release, per original_source/src/elf/ld_config_txt.rs's get_ld_config_path
// (spec.md §4.8's "binary-dependent" invariant).
func ConfigPath(executable string, machine uint16, class32 bool, release Release) string {
	switch {
	case release <= ReleaseR25:
		// Android 7.0/7.1 predates ld.config.txt entirely.
		return ""
	case release <= ReleaseR27:
		// Android 8.0/8.1 hardcode the single default path.
		return defaultConfigPath()
	case release == ReleaseR28:
		return vndkConfigPath(machine, class32, false)
	case release == ReleaseR29:
		if p := apexConfigPath(executable, false); p != "" {
			return p
		}
		return vndkConfigPath(machine, class32, false)
	default:
		if p := apexConfigPath(executable, true); p != "" {
			return p
		}
		return vndkConfigPath(machine, class32, true)
	}
}

func defaultConfigPath() string {
	return "/system/etc/ld.config.txt"
}

func vndkConfigPath(machine uint16, class32 bool, linkerconfig bool) string {
	if abi := ABI(machine, class32); abi != "" {
		p := "/system/etc/ld.config." + abi + ".txt"
		if exists(p) {
			return p
		}
	}
	if linkerconfig {
		p := "/linkerconfig/ld.config.txt"
		if exists(p) {
			return p
		}
	}
	vndk := vndkLdConfigPath()
	if exists(vndk) {
		return vndk
	}
	return defaultConfigPath()
}

func vndkLdConfigPath() string {
	if ReadVNDKLite() {
		return "/system/etc/ld.config.vndk_lite.txt"
	}
	return "/system/etc/ld.config" + VNDKVersionSuffix('.') + ".txt"
}

// apexConfigPath implements the "/apex/<name>/bin/<binary>" per-APEX layout
// check from get_apex_ld_config_path: executable must have exactly the
// five path components "", "apex", name, "bin", binary.
func apexConfigPath(executable string, linkerconfig bool) string {
	parts := strings.Split(executable, "/")
	if len(parts) != 5 || parts[1] != "apex" || parts[3] != "bin" {
		return ""
	}
	name := parts[2]
	if linkerconfig {
		p := "/linkerconfig/" + name + "/ld.config.txt"
		if exists(p) {
			return p
		}
	}
	p := "/apex/" + name + "/etc/ld.config.txt"
	if exists(p) {
		return p
	}
	return ""
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
