package elf

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildELF64 assembles a minimal little-endian 64-bit ET_DYN object with
// one PT_INTERP segment (optional, via interp) and one PT_DYNAMIC segment
// whose DT_NEEDED/DT_SONAME/DT_RPATH/DT_RUNPATH/DT_FLAGS_1 entries resolve
// against a trailing string table. Layout, front to back:
//
//	[0:64)    Ehdr
//	[64:..)   Phdrs (2 or 3 entries, 56 bytes each)
//	interp bytes (if any), NUL-terminated
//	dynamic table (N entries * 16 bytes, DT_NULL-terminated)
//	string table
func buildELF64(t *testing.T, interp string, needed []string, soname, rpath, runpath string, flags1 uint64) []byte {
	t.Helper()
	order := binary.LittleEndian

	const ehdrSize = 64
	const phdrSize = 56

	nPhdrs := 2 // PT_LOAD (covers the whole file) + PT_DYNAMIC
	if interp != "" {
		nPhdrs++
	}
	phdrsOff := uint64(ehdrSize)
	cursor := phdrsOff + uint64(nPhdrs)*phdrSize

	var interpOff uint64
	if interp != "" {
		interpOff = cursor
		cursor += uint64(len(interp)) + 1
	}

	// Build the string table contents and remember each string's offset.
	var strtabBuf bytes.Buffer
	strtabBuf.WriteByte(0) // offset 0 is always the empty string
	strOff := func(s string) uint64 {
		if s == "" {
			return 0
		}
		off := uint64(strtabBuf.Len())
		strtabBuf.WriteString(s)
		strtabBuf.WriteByte(0)
		return off
	}

	type tagval struct {
		tag int64
		val uint64
	}
	var dyn []tagval
	for _, n := range needed {
		dyn = append(dyn, tagval{dtNeeded, strOff(n)})
	}
	if soname != "" {
		dyn = append(dyn, tagval{dtSoname, strOff(soname)})
	}
	if rpath != "" {
		dyn = append(dyn, tagval{dtRpath, strOff(rpath)})
	}
	if runpath != "" {
		dyn = append(dyn, tagval{dtRunpath, strOff(runpath)})
	}
	if flags1 != 0 {
		dyn = append(dyn, tagval{dtFlags1, flags1})
	}

	dynOff := cursor
	// DT_STRTAB/DT_STRSZ point at the string table, placed right after the
	// dynamic table itself; vaddr == offset throughout this fixture so
	// resolveStringTable's translation is an identity.
	strtabVaddr := dynOff + uint64(len(dyn)+3)*16 // +3 for STRTAB/STRSZ/NULL entries
	dyn = append(dyn,
		tagval{dtStrtab, strtabVaddr},
		tagval{dtStrsz, uint64(strtabBuf.Len())},
		tagval{dtNull, 0},
	)
	cursor = strtabVaddr + uint64(strtabBuf.Len())

	total := cursor
	buf := make([]byte, total)

	// e_ident
	copy(buf[0:4], magic[:])
	buf[4] = byte(Class64)
	buf[5] = byte(LittleEndian)
	buf[6] = 1 // EI_VERSION
	buf[7] = byte(OSABISysV)

	b := buf[16:]
	order.PutUint16(b[0:], etDyn)     // e_type
	order.PutUint16(b[2:], 62)        // e_machine = EM_X86_64
	order.PutUint32(b[4:], 1)         // e_version
	order.PutUint64(b[8:], 0)         // e_entry
	order.PutUint64(b[16:], phdrsOff) // e_phoff
	order.PutUint64(b[24:], 0)        // e_shoff
	order.PutUint32(b[32:], 0)        // e_flags
	order.PutUint16(b[36:], ehdrSize) // e_ehsize
	order.PutUint16(b[38:], phdrSize) // e_phentsize
	order.PutUint16(b[40:], uint16(nPhdrs))
	order.PutUint16(b[42:], 0) // e_shentsize
	order.PutUint16(b[44:], 0) // e_shnum
	order.PutUint16(b[46:], 0) // e_shstrndx

	writePhdr := func(idx int, ptype uint32, offset, vaddr, filesz uint64) {
		p := buf[phdrsOff+uint64(idx)*phdrSize:]
		order.PutUint32(p[0:], ptype)
		order.PutUint32(p[4:], 0) // p_flags
		order.PutUint64(p[8:], offset)
		order.PutUint64(p[16:], vaddr)
		order.PutUint64(p[24:], vaddr) // p_paddr, unused
		order.PutUint64(p[32:], filesz)
		order.PutUint64(p[40:], filesz) // p_memsz, unused
		order.PutUint64(p[48:], 0)      // p_align, unused
	}

	idx := 0
	writePhdr(idx, 1 /* PT_LOAD */, 0, 0, total) // covers the whole file, vaddr == offset
	idx++
	if interp != "" {
		writePhdr(idx, ptInterp, interpOff, interpOff, uint64(len(interp)+1))
		idx++
		copy(buf[interpOff:], interp)
	}
	dynFilesz := uint64(len(dyn)) * 16
	writePhdr(idx, ptDynamic, dynOff, dynOff, dynFilesz)

	for i, e := range dyn {
		p := buf[dynOff+uint64(i)*16:]
		order.PutUint64(p[0:], uint64(e.tag))
		order.PutUint64(p[8:], e.val)
	}

	copy(buf[strtabVaddr:], strtabBuf.Bytes())

	return buf
}

func TestReadBasic(t *testing.T) {
	data := buildELF64(t, "/lib64/ld-linux-x86-64.so.2",
		[]string{"libc.so.6", "libm.so.6"}, "libfoo.so.1", "", "", 0)

	info, err := Read(data, "/opt/app", TokenOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if info.Class != Class64 {
		t.Errorf("Class = %v, want Class64", info.Class)
	}
	if !info.HasInterp || info.Interp != "/lib64/ld-linux-x86-64.so.2" {
		t.Errorf("Interp = %q, %v", info.Interp, info.HasInterp)
	}
	if info.IsMusl {
		t.Errorf("IsMusl = true for a glibc interpreter")
	}
	if !info.HasSoname || info.Soname != "libfoo.so.1" {
		t.Errorf("Soname = %q, %v", info.Soname, info.HasSoname)
	}
	if len(info.Needed) != 2 || info.Needed[0] != "libc.so.6" || info.Needed[1] != "libm.so.6" {
		t.Errorf("Needed = %v", info.Needed)
	}
	if info.Nodeflibs {
		t.Errorf("Nodeflibs = true, want false")
	}
}

func TestReadNodeflib(t *testing.T) {
	data := buildELF64(t, "", nil, "", "", "", df1Nodeflib)
	info, err := Read(data, "/opt/app", TokenOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !info.Nodeflibs {
		t.Errorf("Nodeflibs = false, want true")
	}
	if info.HasInterp {
		t.Errorf("HasInterp = true for an object with no PT_INTERP")
	}
}

func TestReadMuslInterp(t *testing.T) {
	data := buildELF64(t, "/lib/ld-musl-x86_64.so.1", []string{"libc.musl-x86_64.so.1"}, "", "", "", 0)
	info, err := Read(data, "/opt/app", TokenOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !info.IsMusl {
		t.Errorf("IsMusl = false, want true")
	}
}

func TestReadRPathTokenSubstitution(t *testing.T) {
	data := buildELF64(t, "", nil, "", "$ORIGIN/../lib:${ORIGIN}/vendor", "", 0)
	info, err := Read(data, "/opt/app/bin", TokenOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if info.RPath == nil {
		t.Fatalf("RPath is nil")
	}
	// Entries that don't exist on the test host are silently dropped by
	// searchpath.Add, so assert on substitution having happened rather
	// than on Set membership: re-derive the expanded string directly.
	got := expandTokens("$ORIGIN/../lib:${ORIGIN}/vendor", 0, Class64, LittleEndian, "/opt/app/bin", "")
	want := "/opt/app/bin/../lib:/opt/app/bin/vendor"
	if got != want {
		t.Errorf("expandTokens = %q, want %q", got, want)
	}
}

func TestReadRunPath(t *testing.T) {
	data := buildELF64(t, "", nil, "", "", "/opt/lib", 0)
	info, err := Read(data, "/opt/app", TokenOpts{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if info.RunPath == nil {
		t.Fatalf("RunPath is nil")
	}
	if !info.RPath.IsEmpty() {
		t.Errorf("RPath should be empty when DT_RPATH is absent")
	}
}

func TestReadBadMagic(t *testing.T) {
	data := buildELF64(t, "", nil, "", "", "", 0)
	data[0] = 'X'
	if _, err := Read(data, "/", TokenOpts{}); err != ErrNotAnObject {
		t.Errorf("Read = %v, want ErrNotAnObject", err)
	}
}

func TestReadTruncated(t *testing.T) {
	if _, err := Read([]byte{0x7f, 'E', 'L', 'F'}, "/", TokenOpts{}); err != ErrNotAnObject {
		t.Errorf("Read = %v, want ErrNotAnObject", err)
	}
}

func TestReadNoDynamicSegment(t *testing.T) {
	data := buildELF64(t, "", nil, "", "", "", 0)
	// Corrupt the PT_DYNAMIC program header's p_type in place (it is the
	// second phdr here: PT_LOAD, then PT_DYNAMIC, no PT_INTERP) so the
	// object looks statically linked.
	order := binary.LittleEndian
	const phdrSize = 56
	phOff := order.Uint64(data[16+16:])       // e_phoff
	order.PutUint32(data[phOff+phdrSize:], 0) // PT_NULL instead of PT_DYNAMIC
	if _, err := Read(data, "/", TokenOpts{}); err != ErrNoDynamicSegment {
		t.Errorf("Read = %v, want ErrNoDynamicSegment", err)
	}
}

func TestIsGlibc(t *testing.T) {
	if !IsGlibc("/lib64/ld-linux-x86-64.so.2") {
		t.Errorf("IsGlibc = false, want true")
	}
	if IsGlibc("/lib/ld-musl-x86_64.so.1") {
		t.Errorf("IsGlibc = true for a musl interpreter")
	}
}

func TestIsMuslTable(t *testing.T) {
	cases := []struct {
		interp string
		want   bool
	}{
		{"", false},
		{"ld-linux-aarch64.so.1", false},
		{"ld-musl-aarch64.so", false},
		{"ld-musl-aarch64.so.1", true},
		{"ld-musl-aarch64_be.so.1", true},
		{"/lib/ld-musl-aarch64.so.1", true},
		{"/lib/ld-musl-x86_64.so.1", true},
		{"/lib/ld-musl-armhf.so.1", true},
		{"/lib/ld-musl-mips64el.so.1", true},
	}
	for _, c := range cases {
		if got := IsMusl(c.interp); got != c.want {
			t.Errorf("IsMusl(%q) = %v, want %v", c.interp, got, c.want)
		}
	}
}
