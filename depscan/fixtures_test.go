package depscan

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// Local copies of the DT_*/e_* constants elf_test.go already hardcodes in
// its own package; depscan's tests need to assemble the same fixtures but
// cannot reach elf's unexported tag table from outside the package.
const (
	fxDtNeeded  = 1
	fxDtStrtab  = 5
	fxDtSoname  = 14
	fxDtRpath   = 15
	fxDtStrsz   = 10
	fxDtRunpath = 29
	fxDtFlags1  = 0x6ffffffb
	fxDf1Nodeflib = 0x00000800

	fxPtInterp  = 3
	fxPtDynamic = 2
	fxPtLoad    = 1

	fxEtDyn = 3
)

// buildELF64 assembles a minimal little-endian 64-bit ET_DYN object, the
// same shape elf_test.go's buildELF64 builds, duplicated here since the
// tag constants it closes over are unexported in the elf package.
func buildELF64(t *testing.T, interp string, needed []string, soname, rpath, runpath string, flags1 uint64) []byte {
	t.Helper()
	order := binary.LittleEndian

	const ehdrSize = 64
	const phdrSize = 56

	nPhdrs := 2
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

	var strtabBuf bytes.Buffer
	strtabBuf.WriteByte(0)
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
		dyn = append(dyn, tagval{fxDtNeeded, strOff(n)})
	}
	if soname != "" {
		dyn = append(dyn, tagval{fxDtSoname, strOff(soname)})
	}
	if rpath != "" {
		dyn = append(dyn, tagval{fxDtRpath, strOff(rpath)})
	}
	if runpath != "" {
		dyn = append(dyn, tagval{fxDtRunpath, strOff(runpath)})
	}
	if flags1 != 0 {
		dyn = append(dyn, tagval{fxDtFlags1, flags1})
	}

	dynOff := cursor
	strtabVaddr := dynOff + uint64(len(dyn)+3)*16
	dyn = append(dyn,
		tagval{fxDtStrtab, strtabVaddr},
		tagval{fxDtStrsz, uint64(strtabBuf.Len())},
		tagval{0, 0}, // DT_NULL
	)
	cursor = strtabVaddr + uint64(strtabBuf.Len())

	total := cursor
	buf := make([]byte, total)

	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1
	buf[7] = 0 // ELFOSABI_SYSV

	b := buf[16:]
	order.PutUint16(b[0:], fxEtDyn)
	order.PutUint16(b[2:], 62) // EM_X86_64
	order.PutUint32(b[4:], 1)
	order.PutUint64(b[8:], 0)
	order.PutUint64(b[16:], phdrsOff)
	order.PutUint64(b[24:], 0)
	order.PutUint32(b[32:], 0)
	order.PutUint16(b[36:], ehdrSize)
	order.PutUint16(b[38:], phdrSize)
	order.PutUint16(b[40:], uint16(nPhdrs))
	order.PutUint16(b[42:], 0)
	order.PutUint16(b[44:], 0)
	order.PutUint16(b[46:], 0)

	writePhdr := func(idx int, ptype uint32, offset, vaddr, filesz uint64) {
		p := buf[phdrsOff+uint64(idx)*phdrSize:]
		order.PutUint32(p[0:], ptype)
		order.PutUint32(p[4:], 0)
		order.PutUint64(p[8:], offset)
		order.PutUint64(p[16:], vaddr)
		order.PutUint64(p[24:], vaddr)
		order.PutUint64(p[32:], filesz)
		order.PutUint64(p[40:], filesz)
		order.PutUint64(p[48:], 0)
	}

	idx := 0
	writePhdr(idx, fxPtLoad, 0, 0, total)
	idx++
	if interp != "" {
		writePhdr(idx, fxPtInterp, interpOff, interpOff, uint64(len(interp)+1))
		idx++
		copy(buf[interpOff:], interp)
	}
	dynFilesz := uint64(len(dyn)) * 16
	writePhdr(idx, fxPtDynamic, dynOff, dynOff, dynFilesz)

	for i, e := range dyn {
		p := buf[dynOff+uint64(i)*16:]
		order.PutUint64(p[0:], uint64(e.tag))
		order.PutUint64(p[8:], e.val)
	}

	copy(buf[strtabVaddr:], strtabBuf.Bytes())

	return buf
}

// Local copies of the Mach-O magic/cpu/load-command constants macho_test.go
// already hardcodes in its own package; depscan's tests need to assemble
// the same fixture shape but cannot reach macho's unexported tag table
// from outside the package.
const (
	fxMagic64     = 0xfeedfacf
	fxCPUX8664    = 0x01000007 // CPUX86 (7) | cpuArch64 (0x01000000)
	fxTypeExecute = 0x2

	fxLCLoadDylib = 0xc
	fxLCRpath     = 0x8000001c // 0x1c | LC_REQ_DYLD
)

// buildMachO64 assembles a minimal little-endian 64-bit Mach-O executable
// with one LC_RPATH command per entry in rpaths and one LC_LOAD_DYLIB
// command per entry in needed, the same load-command shape
// macho/macho_test.go's buildMachO64 builds, duplicated here since the
// load-command tag constants it closes over are unexported in the macho
// package.
func buildMachO64(t *testing.T, needed, rpaths []string) []byte {
	t.Helper()
	order := binary.LittleEndian

	const headerSize = 8 * 4
	const lcHeaderSize = 8

	pad4 := func(n int) int { return (n + 3) &^ 3 }

	type cmd struct {
		cmdType uint32
		body    []byte
	}
	var cmds []cmd

	dylibCmd := func(path string) cmd {
		body := make([]byte, pad4(16+len(path)+1))
		order.PutUint32(body[0:], uint32(lcHeaderSize+16)) // name offset, from load command start
		copy(body[16:], path)
		return cmd{cmdType: fxLCLoadDylib, body: body}
	}
	rpathCmd := func(path string) cmd {
		body := make([]byte, pad4(4+len(path)+1))
		order.PutUint32(body[0:], uint32(lcHeaderSize+4)) // path offset, from load command start
		copy(body[4:], path)
		return cmd{cmdType: fxLCRpath, body: body}
	}

	for _, p := range rpaths {
		cmds = append(cmds, rpathCmd(p))
	}
	for _, n := range needed {
		cmds = append(cmds, dylibCmd(n))
	}

	var lcBuf bytes.Buffer
	for _, c := range cmds {
		var hdr [8]byte
		order.PutUint32(hdr[0:], c.cmdType)
		order.PutUint32(hdr[4:], uint32(lcHeaderSize+len(c.body)))
		lcBuf.Write(hdr[:])
		lcBuf.Write(c.body)
	}

	buf := make([]byte, headerSize+lcBuf.Len())
	order.PutUint32(buf[0:], fxMagic64)
	order.PutUint32(buf[4:], fxCPUX8664)
	order.PutUint32(buf[8:], 0) // subtype
	order.PutUint32(buf[12:], fxTypeExecute)
	order.PutUint32(buf[16:], uint32(len(cmds)))
	order.PutUint32(buf[20:], uint32(lcBuf.Len()))
	order.PutUint32(buf[24:], 0) // flags
	copy(buf[headerSize:], lcBuf.Bytes())

	return buf
}

// mapOpener is an in-memory Opener backed by a path -> bytes table, used
// so resolver tests never touch the real filesystem.
type mapOpener map[string][]byte

func (m mapOpener) open(path string) ([]byte, func() error, error) {
	data, ok := m[path]
	if !ok {
		return nil, nil, &FileError{Path: path, Err: ErrCannotOpen}
	}
	return data, func() error { return nil }, nil
}

// stubCache is a Cache whose answers are fixed by a lookup table, so
// resolver tests exercise the search-order machine without parsing a real
// ld.so.cache blob (that format is covered in its own package's tests).
// Its hits are filesystem paths, opened through the test's mapOpener.
type stubCache map[string]string

func (c stubCache) Lookup(parent *BinaryInfo, soname string) (string, []byte, bool) {
	path, ok := c[soname]
	return path, nil, ok
}

// stubDataCache is a Cache whose hits are pre-mapped bytes rather than a
// filesystem path, the shape the dyld shared cache stage uses: a cached
// image generally has no file of its own to open.
type stubDataCache map[string][]byte

func (c stubDataCache) Lookup(parent *BinaryInfo, soname string) (string, []byte, bool) {
	data, ok := c[soname]
	return soname, data, ok
}
