package elf

import "encoding/binary"

// elf64Ehdr mirrors Elf64_Ehdr's fields from byte 16 onward.
type elf64Ehdr struct {
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint64
	Phoff     uint64
	Shoff     uint64
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

const elf64EhdrRestSize = 2 + 2 + 4 + 8 + 8 + 8 + 4 + 2 + 2 + 2 + 2 + 2 + 2 // 48 bytes

func readHeader64(data []byte, order binary.ByteOrder) (commonHeader, error) {
	if len(data) < 16+elf64EhdrRestSize {
		return commonHeader{}, ErrNotAnObject
	}
	b := data[16:]
	h := elf64Ehdr{
		Type:      order.Uint16(b[0:]),
		Machine:   order.Uint16(b[2:]),
		Version:   order.Uint32(b[4:]),
		Entry:     order.Uint64(b[8:]),
		Phoff:     order.Uint64(b[16:]),
		Shoff:     order.Uint64(b[24:]),
		Flags:     order.Uint32(b[32:]),
		Ehsize:    order.Uint16(b[36:]),
		Phentsize: order.Uint16(b[38:]),
		Phnum:     order.Uint16(b[40:]),
		Shentsize: order.Uint16(b[42:]),
		Shnum:     order.Uint16(b[44:]),
		Shstrndx:  order.Uint16(b[46:]),
	}
	return commonHeader{
		OSABI:     data[7],
		Type:      h.Type,
		Machine:   h.Machine,
		Flags:     h.Flags,
		Phoff:     h.Phoff,
		Phentsize: h.Phentsize,
		Phnum:     h.Phnum,
	}, nil
}

// elf64PhdrSize is sizeof(Elf64_Phdr): type, flags, offset, vaddr, paddr,
// filesz, memsz, align.
const elf64PhdrSize = 4 + 4 + 8*6

func readProgramHeaders64(data []byte, order binary.ByteOrder, hdr commonHeader) ([]progHeader, error) {
	if hdr.Phentsize != 0 && uint64(hdr.Phentsize) < elf64PhdrSize {
		return nil, ErrNotAnObject
	}
	out := make([]progHeader, 0, hdr.Phnum)
	for i := uint16(0); i < hdr.Phnum; i++ {
		off := hdr.Phoff + uint64(i)*uint64(hdr.Phentsize)
		if off+elf64PhdrSize > uint64(len(data)) {
			return nil, ErrNotAnObject
		}
		b := data[off:]
		out = append(out, progHeader{
			Type:   order.Uint32(b[0:]),
			Offset: order.Uint64(b[8:]),
			Vaddr:  order.Uint64(b[16:]),
			Filesz: order.Uint64(b[32:]),
		})
	}
	return out, nil
}
