package macho

import (
	"encoding/binary"
	"testing"
)

type cmdBuilder struct {
	order binary.ByteOrder
	cmds  []byte
	n     int
}

func (c *cmdBuilder) dylib(cmd loadCmdType, path string) {
	body := make([]byte, 16)
	c.order.PutUint32(body[0:], 24) // name offset: 8 (header) + 16
	strBytes := append([]byte(path), 0)
	body = append(body, strBytes...)
	c.add(cmd, body)
}

func (c *cmdBuilder) rpath(path string) {
	body := make([]byte, 4)
	c.order.PutUint32(body[0:], 12) // offset: 8 (header) + 4
	strBytes := append([]byte(path), 0)
	body = append(body, strBytes...)
	c.add(lcRpath, body)
}

func (c *cmdBuilder) segment64(name string, fileoff uint64) {
	body := make([]byte, 16+8+8+8+8+4+4+4+4)
	copy(body[0:16], name)
	c.order.PutUint64(body[32:], fileoff) // 16(name)+8(vmaddr)+8(vmsize)
	c.add(lcSegment64, body)
}

func (c *cmdBuilder) buildVersion(platform, minos uint32) {
	body := make([]byte, 16)
	c.order.PutUint32(body[0:], platform)
	c.order.PutUint32(body[4:], minos)
	c.add(lcBuildVersion, body)
}

func (c *cmdBuilder) add(cmd loadCmdType, body []byte) {
	// Pad to a 4-byte boundary the way real load commands are sized.
	for len(body)%4 != 0 {
		body = append(body, 0)
	}
	hdr := make([]byte, 8)
	c.order.PutUint32(hdr[0:], uint32(cmd))
	c.order.PutUint32(hdr[4:], uint32(8+len(body)))
	c.cmds = append(c.cmds, hdr...)
	c.cmds = append(c.cmds, body...)
	c.n++
}

func buildMachO64(t *testing.T, build func(*cmdBuilder)) []byte {
	t.Helper()
	order := binary.LittleEndian
	cb := &cmdBuilder{order: order}
	if build != nil {
		build(cb)
	}

	buf := make([]byte, headerSize64)
	order.PutUint32(buf[0:], uint32(Magic64)) // written little-endian, detected via LE match
	order.PutUint32(buf[4:], uint32(CPUArm64))
	order.PutUint32(buf[8:], 0)
	order.PutUint32(buf[12:], uint32(TypeExecute))
	order.PutUint32(buf[16:], uint32(cb.n))
	order.PutUint32(buf[20:], uint32(len(cb.cmds)))
	order.PutUint32(buf[24:], 0)
	buf = append(buf, cb.cmds...)
	return buf
}

func TestReadDylibsAndRPath(t *testing.T) {
	data := buildMachO64(t, func(cb *cmdBuilder) {
		cb.dylib(lcLoadDylib, "/usr/lib/libSystem.B.dylib")
		cb.dylib(lcLoadWeakDylib, "/usr/lib/libweak.dylib")
		cb.rpath("@executable_path/../Frameworks")
		cb.segment64("__TEXT", 0)
		cb.buildVersion(1, 0x000e0000) // macos, 14.0.0
	})

	info, err := Read(data, TokenOpts{ExecutablePath: "/Applications/Foo.app/Contents/MacOS"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !info.Is64 {
		t.Errorf("Is64 = false, want true")
	}
	if len(info.Dylibs) != 2 {
		t.Fatalf("Dylibs = %v", info.Dylibs)
	}
	if info.Dylibs[0].Path != "/usr/lib/libSystem.B.dylib" || info.Dylibs[0].Weak {
		t.Errorf("Dylibs[0] = %+v", info.Dylibs[0])
	}
	if info.Dylibs[1].Path != "/usr/lib/libweak.dylib" || !info.Dylibs[1].Weak {
		t.Errorf("Dylibs[1] = %+v", info.Dylibs[1])
	}
	if info.RPath.Len() != 1 {
		t.Fatalf("RPath = %v", info.RPath.Paths())
	}
	want := "/Applications/Foo.app/Contents/MacOS/../Frameworks"
	if got := info.RPath.Paths()[0]; got != want {
		t.Errorf("RPath[0] = %q, want %q", got, want)
	}
	if !info.HasTextSegment || info.TextFileOffset != 0 {
		t.Errorf("TextFileOffset = %d, %v", info.TextFileOffset, info.HasTextSegment)
	}
	if info.Platform != "macos" || info.MinOSVersion != "14.0.0" {
		t.Errorf("Platform/MinOSVersion = %q/%q", info.Platform, info.MinOSVersion)
	}
}

func TestReadIDDylib(t *testing.T) {
	data := buildMachO64(t, func(cb *cmdBuilder) {
		cb.dylib(lcIDDylib, "@rpath/libfoo.dylib")
	})
	info, err := Read(data, TokenOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !info.HasID || info.ID != "@rpath/libfoo.dylib" {
		t.Errorf("ID = %q, %v", info.ID, info.HasID)
	}
}

func TestReadBadMagic(t *testing.T) {
	if _, err := Read([]byte{0, 0, 0, 0}, TokenOpts{}); err != ErrNotAnObject {
		t.Errorf("Read = %v, want ErrNotAnObject", err)
	}
}

func TestReadUnsupportedFileType(t *testing.T) {
	order := binary.LittleEndian
	buf := make([]byte, headerSize64)
	order.PutUint32(buf[0:], uint32(Magic64))
	order.PutUint32(buf[4:], uint32(CPUArm64))
	order.PutUint32(buf[12:], uint32(TypeObject))
	if _, err := Read(buf, TokenOpts{}); err != ErrUnsupportedObject {
		t.Errorf("Read = %v, want ErrUnsupportedObject", err)
	}
}

func TestParseFatAndSelectSlice(t *testing.T) {
	order := binary.BigEndian
	slice := buildMachO64(t, func(cb *cmdBuilder) {
		cb.dylib(lcLoadDylib, "/usr/lib/libc++.1.dylib")
	})

	const archOff = 8 + fatArch32Size
	alignedOff := ((archOff + 15) / 16) * 16
	buf := make([]byte, alignedOff+len(slice))
	order.PutUint32(buf[0:4], uint32(MagicFat))
	order.PutUint32(buf[4:8], 1)
	order.PutUint32(buf[8:12], uint32(CPUArm64))
	order.PutUint32(buf[12:16], 0)
	order.PutUint32(buf[16:20], uint32(alignedOff))
	order.PutUint32(buf[20:24], uint32(len(slice)))
	order.PutUint32(buf[24:28], 4)
	copy(buf[alignedOff:], slice)

	if !IsFat(buf) {
		t.Fatalf("IsFat = false")
	}
	archs, err := ParseFat(buf)
	if err != nil {
		t.Fatalf("ParseFat: %v", err)
	}
	if len(archs) != 1 || archs[0].CPU != CPUArm64 {
		t.Fatalf("archs = %+v", archs)
	}
	arch, err := SelectSlice(archs, CPUArm64)
	if err != nil {
		t.Fatalf("SelectSlice: %v", err)
	}
	got, err := Slice(buf, arch)
	if err != nil {
		t.Fatalf("Slice: %v", err)
	}
	info, err := Read(got, TokenOpts{})
	if err != nil {
		t.Fatalf("Read(slice): %v", err)
	}
	if len(info.Dylibs) != 1 || info.Dylibs[0].Path != "/usr/lib/libc++.1.dylib" {
		t.Errorf("Dylibs = %v", info.Dylibs)
	}

	if _, err := SelectSlice(archs, CPUX8664); err != ErrNoMatchingSlice {
		t.Errorf("SelectSlice = %v, want ErrNoMatchingSlice", err)
	}
}
