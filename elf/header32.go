package elf

import "encoding/binary"

// elf32Ehdr mirrors Elf32_Ehdr's fields from byte 16 onward (the e_ident
// bytes preceding these are read directly by Read via fixed offsets).
type elf32Ehdr struct {
	Type      uint16
	Machine   uint16
	Version   uint32
	Entry     uint32
	Phoff     uint32
	Shoff     uint32
	Flags     uint32
	Ehsize    uint16
	Phentsize uint16
	Phnum     uint16
	Shentsize uint16
	Shnum     uint16
	Shstrndx  uint16
}

const elf32EhdrRestSize = 2 + 2 + 4 + 4 + 4 + 4 + 4 + 2 + 2 + 2 + 2 + 2 + 2 // 36 bytes

func readHeader32(data []byte, order binary.ByteOrder) (commonHeader, error) {
	if len(data) < 16+elf32EhdrRestSize {
		return commonHeader{}, ErrNotAnObject
	}
	var h elf32Ehdr
	readFields32(data[16:], order, &h)
	return commonHeader{
		OSABI:     data[7],
		Type:      h.Type,
		Machine:   h.Machine,
		Flags:     h.Flags,
		Phoff:     uint64(h.Phoff),
		Phentsize: h.Phentsize,
		Phnum:     h.Phnum,
	}, nil
}

func readFields32(b []byte, order binary.ByteOrder, h *elf32Ehdr) {
	h.Type = order.Uint16(b[0:])
	h.Machine = order.Uint16(b[2:])
	h.Version = order.Uint32(b[4:])
	h.Entry = order.Uint32(b[8:])
	h.Phoff = order.Uint32(b[12:])
	h.Shoff = order.Uint32(b[16:])
	h.Flags = order.Uint32(b[20:])
	h.Ehsize = order.Uint16(b[24:])
	h.Phentsize = order.Uint16(b[26:])
	h.Phnum = order.Uint16(b[28:])
	h.Shentsize = order.Uint16(b[30:])
	h.Shnum = order.Uint16(b[32:])
	h.Shstrndx = order.Uint16(b[34:])
}

// elf32PhdrSize is sizeof(Elf32_Phdr): type, offset, vaddr, paddr, filesz,
// memsz, flags, align.
const elf32PhdrSize = 4 * 8

func readProgramHeaders32(data []byte, order binary.ByteOrder, hdr commonHeader) ([]progHeader, error) {
	if hdr.Phentsize != 0 && uint64(hdr.Phentsize) < elf32PhdrSize {
		return nil, ErrNotAnObject
	}
	out := make([]progHeader, 0, hdr.Phnum)
	for i := uint16(0); i < hdr.Phnum; i++ {
		off := hdr.Phoff + uint64(i)*uint64(hdr.Phentsize)
		if off+elf32PhdrSize > uint64(len(data)) {
			return nil, ErrNotAnObject
		}
		b := data[off:]
		out = append(out, progHeader{
			Type:   order.Uint32(b[0:]),
			Offset: uint64(order.Uint32(b[4:])),
			Vaddr:  uint64(order.Uint32(b[8:])),
			Filesz: uint64(order.Uint32(b[16:])),
		})
	}
	return out, nil
}
