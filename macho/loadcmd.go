package macho

import (
	"encoding/binary"
	"fmt"
)

// loadCmdType is a Mach-O load_command's cmd field. Only the commands the
// resolver cares about are named; everything else is walked over (by
// cmdsize) and discarded.
type loadCmdType uint32

const (
	lcSegment        loadCmdType = 0x1
	lcLoadDylib      loadCmdType = 0xc
	lcIDDylib        loadCmdType = 0xd
	lcReqDyld        loadCmdType = 0x80000000
	lcLoadWeakDylib  loadCmdType = 0x18 | lcReqDyld
	lcSegment64      loadCmdType = 0x19
	lcRpath          loadCmdType = 0x1c | lcReqDyld
	lcReexportDylib  loadCmdType = 0x1f | lcReqDyld
	lcLazyLoadDylib  loadCmdType = 0x20
	lcVersionMinOSX  loadCmdType = 0x24
	lcBuildVersion   loadCmdType = 0x32
)

// loadCmd is one load_command: its type and the bytes from right after
// (cmd, cmdsize) through cmdsize's end, i.e. the command-specific body.
type loadCmd struct {
	cmd  loadCmdType
	body []byte
}

const loadCmdHeaderSize = 8 // cmd uint32 + cmdsize uint32

// readLoadCommands walks ncmds load commands out of b, each bounded by
// its own cmdsize. It returns ErrNotAnObject when sizeCmds exceeds b, or
// when a command's header or cmdsize runs past the sizeCmds-byte area.
func readLoadCommands(b []byte, order binary.ByteOrder, ncmds, sizeCmds int) ([]loadCmd, error) {
	if sizeCmds > len(b) {
		return nil, ErrNotAnObject
	}
	region := b[:sizeCmds]

	out := make([]loadCmd, 0, ncmds)
	off := 0
	for i := 0; i < ncmds; i++ {
		if off+loadCmdHeaderSize > len(region) {
			return nil, ErrNotAnObject
		}
		cmd := loadCmdType(order.Uint32(region[off:]))
		size := int(order.Uint32(region[off+4:]))
		if size < loadCmdHeaderSize || off+size > len(region) {
			return nil, ErrNotAnObject
		}
		out = append(out, loadCmd{cmd: cmd, body: region[off+loadCmdHeaderSize : off+size]})
		off += size
	}
	return out, nil
}

// parseDylibCmd reads a dylib_command's body: an lc_str name offset (from
// the start of the load command, i.e. including the 8-byte header this
// package already stripped) followed by timestamp/current_version/
// compatibility_version, then the NUL-terminated path itself.
func parseDylibCmd(body []byte, order binary.ByteOrder) (string, bool) {
	if len(body) < 16 {
		return "", false
	}
	nameOff := order.Uint32(body[0:])
	// nameOff is relative to the load command's start, which is
	// loadCmdHeaderSize bytes before body[0].
	rel := int(nameOff) - loadCmdHeaderSize
	if rel < 0 || rel >= len(body) {
		return "", false
	}
	return cString(body[rel:]), true
}

// parseRpathCmd reads an rpath_command's body: an lc_str path offset
// followed by the NUL-terminated path.
func parseRpathCmd(body []byte, order binary.ByteOrder) (string, bool) {
	if len(body) < 4 {
		return "", false
	}
	pathOff := order.Uint32(body[0:])
	rel := int(pathOff) - loadCmdHeaderSize
	if rel < 0 || rel >= len(body) {
		return "", false
	}
	return cString(body[rel:]), true
}

func cString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// segName reads a fixed 16-byte, NUL-padded segment/section name field.
func segName(b []byte) string {
	n := 0
	for n < 16 && n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// parseSegmentCmd32 reads segment_command's segname and fileoff.
func parseSegmentCmd32(body []byte, order binary.ByteOrder) (fileoff uint64, name string, ok bool) {
	if len(body) < 16+4+4+4 {
		return 0, "", false
	}
	return uint64(order.Uint32(body[16+8:])), segName(body[0:16]), true
}

// parseSegmentCmd64 reads segment_command_64's segname and fileoff.
func parseSegmentCmd64(body []byte, order binary.ByteOrder) (fileoff uint64, name string, ok bool) {
	if len(body) < 16+8+8+8 {
		return 0, "", false
	}
	return order.Uint64(body[16+16:]), segName(body[0:16]), true
}

var buildPlatforms = map[uint32]string{
	1: "macos",
	2: "ios",
	3: "tvos",
	4: "watchos",
	5: "bridgeos",
	6: "mac-catalyst",
	7: "ios-simulator",
	8: "tvos-simulator",
	9: "watchos-simulator",
}

func formatPackedVersion(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", v>>16, (v>>8)&0xff, v&0xff)
}

// parseBuildVersionCmd reads build_version_command's platform and minos.
func parseBuildVersionCmd(body []byte, order binary.ByteOrder) (platform, minOS string, ok bool) {
	if len(body) < 16 {
		return "", "", false
	}
	p := order.Uint32(body[0:])
	minos := order.Uint32(body[4:])
	name, known := buildPlatforms[p]
	if !known {
		name = fmt.Sprintf("%d", p)
	}
	return name, formatPackedVersion(minos), true
}

// parseVersionMinCmd reads version_min_command's version field.
func parseVersionMinCmd(body []byte, order binary.ByteOrder) (minOS string, ok bool) {
	if len(body) < 8 {
		return "", false
	}
	return formatPackedVersion(order.Uint32(body[0:])), true
}
