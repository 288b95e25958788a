package depscan

import (
	"os"

	"golang.org/x/sys/unix"
)

// Opener maps path into memory and returns its bytes alongside a function
// that releases the mapping. Tests supply a non-mmap Opener over in-memory
// fixtures; production callers use MmapOpen.
type Opener func(path string) (data []byte, release func() error, err error)

// MmapOpen is the default Opener: open -> mmap read-only -> hand back the
// slice, per spec.md §5's resource ordering ("open file -> map -> parse ->
// record outputs -> drop map -> drop file, on every exit path").
func MmapOpen(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &FileError{Path: path, Err: ErrCannotOpen}
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, &FileError{Path: path, Err: ErrCannotMap}
	}
	size := st.Size()
	if size == 0 {
		f.Close()
		return nil, nil, &FileError{Path: path, Err: ErrCannotMap}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		f.Close()
		return nil, nil, &FileError{Path: path, Err: ErrCannotMap}
	}

	release := func() error {
		munmapErr := unix.Munmap(data)
		closeErr := f.Close()
		if munmapErr != nil {
			return munmapErr
		}
		return closeErr
	}
	return data, release, nil
}
