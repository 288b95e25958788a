// Package dyldcache parses the macOS dyld shared cache's header and image
// table well enough to answer one question: for a given dylib path (as it
// would appear in an LC_LOAD_DYLIB/LC_ID_DYLIB command), is it present in
// the cache, and if so what does dyld record as its load address.
//
// The on-disk dyld_cache_header/dyld_cache_image_info layout is Apple's
// long-public, widely mirrored format (unchanged across the classic-cache
// era this reader targets); grounded structurally the same way the
// teacher's own FatFile/LoadCmd decoding walks a fixed-size header followed
// by a table of fixed-size records. The cache-path-by-release selection
// logic is ported directly from original_source/src/macho/dydlcache.rs.
package dyldcache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const magicPrefix = "dyld_v1"

// Image is one dylib recorded in the cache's image table.
type Image struct {
	Path        string
	LoadAddress uint64

	// FileOffset is the byte offset of the image's own Mach-O header
	// within the cache file, translated from LoadAddress through the
	// mapping table. It is 0 when no mapping covers LoadAddress (the
	// header offset is never 0 itself -- that is the cache header).
	FileOffset uint64
}

// mapping is one entry of the cache's (address, size, file-offset) vm
// mapping table, used to translate an image's recorded load address into
// a byte offset inside the cache file.
type mapping struct {
	Address    uint64
	Size       uint64
	FileOffset uint64
}

// Cache is the parsed header and image table of one dyld shared cache
// file. It retains the backing bytes so an image can be reparsed as a
// Mach-O object on demand: from macOS Big Sur onward individual dylibs
// have no on-disk file of their own, so ReadMachO's slice into data is
// the only way to read one.
type Cache struct {
	Magic    string
	images   map[string]Image
	mappings []mapping
	data     []byte
}

type rawHeader struct {
	Magic                  [16]byte
	MappingOffset          uint32
	MappingCount           uint32
	ImagesOffsetOld        uint32
	ImagesCountOld         uint32
	DyldBaseAddress        uint64
	CodeSignatureOffset    uint64
	CodeSignatureSize      uint64
	SlideInfoOffsetUnused  uint64
	SlideInfoSizeUnused    uint64
	LocalSymbolsOffset     uint64
	LocalSymbolsSize       uint64
	UUID                   [16]byte
	CacheType              uint64
	BranchPoolsOffset      uint32
	BranchPoolsCount       uint32
	AccelerateInfoAddr     uint64
	AccelerateInfoSize     uint64
	ImagesTextOffset       uint64
	ImagesTextCount        uint64
}

type rawMapping struct {
	Address    uint64
	Size       uint64
	FileOffset uint64
	MaxProt    uint32
	InitProt   uint32
}

type rawImageInfo struct {
	Address        uint64
	ModTime        uint64
	Inode          uint64
	PathFileOffset uint32
	Pad            uint32
}

// IsDyldCache reports whether data begins with a dyld shared cache magic,
// the format-sniffing test the resolver runs before falling back to the
// Mach-O reader.
func IsDyldCache(data []byte) bool {
	return len(data) >= len(magicPrefix) && bytes.HasPrefix(data, []byte(magicPrefix))
}

// Parse decodes a dyld shared cache file's header and classic image table.
func Parse(data []byte) (*Cache, error) {
	if len(data) < 16 || !bytes.HasPrefix(data, []byte(magicPrefix)) {
		return nil, fmt.Errorf("dyldcache: not a dyld shared cache (bad magic)")
	}

	var hdr rawHeader
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("dyldcache: reading header: %w", err)
	}

	c := &Cache{
		Magic:  string(bytes.TrimRight(hdr.Magic[:], "\x00")),
		images: make(map[string]Image),
		data:   data,
	}

	mapEntrySize := uint64(binary.Size(rawMapping{}))
	mapBase := uint64(hdr.MappingOffset)
	for i := uint64(0); i < uint64(hdr.MappingCount); i++ {
		off := mapBase + i*mapEntrySize
		if off+mapEntrySize > uint64(len(data)) {
			break
		}
		var m rawMapping
		mr := bytes.NewReader(data[off : off+mapEntrySize])
		if err := binary.Read(mr, binary.LittleEndian, &m); err != nil {
			break
		}
		c.mappings = append(c.mappings, mapping{Address: m.Address, Size: m.Size, FileOffset: m.FileOffset})
	}

	if hdr.ImagesCountOld == 0 {
		return c, nil
	}

	entrySize := uint64(binary.Size(rawImageInfo{}))
	base := uint64(hdr.ImagesOffsetOld)
	for i := uint64(0); i < uint64(hdr.ImagesCountOld); i++ {
		off := base + i*entrySize
		if off+entrySize > uint64(len(data)) {
			break
		}
		var info rawImageInfo
		ir := bytes.NewReader(data[off : off+entrySize])
		if err := binary.Read(ir, binary.LittleEndian, &info); err != nil {
			break
		}
		path, err := cString(data, uint64(info.PathFileOffset))
		if err != nil {
			continue
		}
		img := Image{Path: path, LoadAddress: info.Address}
		if off, ok := c.fileOffsetFor(info.Address); ok {
			img.FileOffset = off
		}
		c.images[path] = img
	}

	return c, nil
}

// fileOffsetFor translates a vm address into a byte offset inside the
// cache file via the mapping table, the same translation dyld itself does
// when mapping the cache's segments at load time.
func (c *Cache) fileOffsetFor(addr uint64) (uint64, bool) {
	for _, m := range c.mappings {
		if addr >= m.Address && addr < m.Address+m.Size {
			return m.FileOffset + (addr - m.Address), true
		}
	}
	return 0, false
}

func cString(data []byte, offset uint64) (string, error) {
	if offset >= uint64(len(data)) {
		return "", fmt.Errorf("dyldcache: string offset %d out of range", offset)
	}
	rest := data[offset:]
	n := bytes.IndexByte(rest, 0)
	if n == -1 {
		return string(rest), nil
	}
	return string(rest[:n]), nil
}

// Lookup reports whether path is recorded in the cache's image table under
// its exact recorded install path.
func (c *Cache) Lookup(path string) (Image, bool) {
	img, ok := c.images[path]
	return img, ok
}

// LookupSuffix finds an image by its exact recorded install path, falling
// back to a basename match. The cache's table is keyed by the dylib's full
// install path (e.g. "/usr/lib/libSystem.B.dylib"), but a dependency name
// reaching this stage may already have been reduced to a bare soname by an
// earlier, failed search-order step, so an exact match alone would miss
// every cache hit a bare name is still expected to find.
func (c *Cache) LookupSuffix(name string) (Image, bool) {
	if img, ok := c.images[name]; ok {
		return img, true
	}
	base := baseName(name)
	for path, img := range c.images {
		if baseName(path) == base {
			return img, true
		}
	}
	return Image{}, false
}

// ReadMachO returns the raw bytes of img's own Mach-O object within the
// cache, sliced from the backing file at its translated file offset. It
// does not copy: the returned slice aliases the Cache's retained data for
// as long as the Cache itself is kept alive.
func (c *Cache) ReadMachO(img Image) ([]byte, bool) {
	if img.FileOffset == 0 || img.FileOffset >= uint64(len(c.data)) {
		return nil, false
	}
	return c.data[img.FileOffset:], true
}

// Len reports the number of images in the cache's table.
func (c *Cache) Len() int {
	return len(c.images)
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

type macOSRelease int

const (
	releaseCatalina macOSRelease = 19
	releaseBigSur   macOSRelease = 20
	releaseMonterey macOSRelease = 21
	releaseVentura  macOSRelease = 22
)

const (
	catalinaX8664   = "/var/db/dyld/dyld_shared_cache_x86_64h"
	bigSurARM64     = "/System/Library/dyld/dyld_shared_cache_arm64e"
	bigSurX8664     = "/System/Library/dyld/dyld_shared_cache_x86_64"
	venturaARM64    = "/System/Volumes/Preboot/Cryptexes/OS/System/Library/dyld/dyld_shared_cache_arm64e"
	venturaX8664    = "/System/Volumes/Preboot/Cryptexes/OS/System/Library/dyld/dyld_shared_cache_x86_64"
)

// osRelease invokes sysctl kern.osrelease the same way the teacher's
// platform-facing helpers shell out rather than bind cgo, returning just
// the major Darwin kernel version ("22" for Ventura, etc).
func osRelease() (macOSRelease, error) {
	out, err := exec.Command("sysctl", "-n", "kern.osrelease").Output()
	if err != nil {
		return 0, fmt.Errorf("dyldcache: reading kern.osrelease: %w", err)
	}
	major := strings.SplitN(strings.TrimSpace(string(out)), ".", 2)[0]
	n, err := strconv.Atoi(major)
	if err != nil {
		return 0, fmt.Errorf("dyldcache: invalid kern.osrelease %q", string(out))
	}
	switch n {
	case int(releaseVentura):
		return releaseVentura, nil
	case int(releaseMonterey):
		return releaseMonterey, nil
	case int(releaseBigSur):
		return releaseBigSur, nil
	case int(releaseCatalina):
		return releaseCatalina, nil
	default:
		return 0, fmt.Errorf("dyldcache: unsupported macOS release %q", major)
	}
}

// DefaultPath resolves the live host's shared cache path for the given CPU
// architecture ("arm64" or "x86_64"), per
// original_source/src/macho/dydlcache.rs's release/arch dispatch table.
func DefaultPath(arch string) (string, error) {
	rel, err := osRelease()
	if err != nil {
		return "", err
	}
	switch rel {
	case releaseVentura:
		switch arch {
		case "arm64":
			return venturaARM64, nil
		case "x86_64":
			return venturaX8664, nil
		}
	case releaseMonterey, releaseBigSur:
		switch arch {
		case "arm64":
			return bigSurARM64, nil
		case "x86_64":
			return bigSurX8664, nil
		}
	case releaseCatalina:
		if arch == "x86_64" {
			return catalinaX8664, nil
		}
	}
	return "", fmt.Errorf("dyldcache: no known shared cache path for release %d, arch %s", rel, arch)
}
