// Package searchpath implements the loader's notion of an ordered list of
// directories with duplicate suppression keyed by (device, inode), so that
// symlinked or bind-mounted directories collapse to a single search entry
// the way glibc's ld.so and dyld both do internally.
package searchpath

import (
	"strings"

	"golang.org/x/sys/unix"
)

// Entry is one directory in a search path, tagged with the identity the
// filesystem reports for it.
type Entry struct {
	Path string
	Dev  uint64
	Ino  uint64
}

// synthetic reports whether e was inserted without consulting the
// filesystem (Dev == 0 && Ino == 0). Synthetic entries are never
// deduplicated against each other or against real entries.
func (e Entry) synthetic() bool {
	return e.Dev == 0 && e.Ino == 0
}

// Set is an ordered, (dev, ino)-deduplicated list of directories.
type Set struct {
	entries []Entry
}

// NewSet builds a Set from a list of directory paths, silently dropping any
// path that fails to stat.
func NewSet(paths ...string) *Set {
	s := &Set{}
	for _, p := range paths {
		s.Add(p)
	}
	return s
}

// Split builds a Set from a string joined with sep (":" for ELF rpath
// entries, ":" or ";" for BSD hint directory lists).
func Split(s string, sep string) *Set {
	set := &Set{}
	for _, p := range strings.Split(s, sep) {
		if p == "" {
			continue
		}
		set.Add(p)
	}
	return set
}

// Add stats path and appends it if it resolves and no existing entry shares
// its (dev, ino). Nonexistent paths are dropped, not an error: a bogus
// rpath entry is routine and the loader simply never finds anything there.
func (s *Set) Add(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	e := Entry{Path: path, Dev: uint64(st.Dev), Ino: st.Ino}
	for _, existing := range s.entries {
		if existing.synthetic() {
			continue
		}
		if existing.Dev == e.Dev && existing.Ino == e.Ino {
			return false
		}
	}
	s.entries = append(s.entries, e)
	return true
}

// AddSynthetic appends a directory that is never deduplicated against real
// filesystem entries (dev=ino=0), for default search lists that must be
// tried even when the caller cannot or should not stat the host's view of
// them (e.g. a cross-architecture analysis of a directory that does not
// exist on this host).
func (s *Set) AddSynthetic(path string) {
	s.entries = append(s.entries, Entry{Path: path})
}

// Entries returns the ordered list of directories.
func (s *Set) Entries() []Entry {
	if s == nil {
		return nil
	}
	return s.entries
}

// Len reports the number of directories in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// IsEmpty reports whether the set has no directories.
func (s *Set) IsEmpty() bool {
	return s.Len() == 0
}

// Merge appends other's entries to s, preserving other's ordering and
// still applying the (dev, ino) dedup rule against everything already in s.
func (s *Set) Merge(other *Set) {
	if other == nil {
		return
	}
	for _, e := range other.entries {
		if e.synthetic() {
			s.entries = append(s.entries, e)
			continue
		}
		dup := false
		for _, existing := range s.entries {
			if existing.synthetic() {
				continue
			}
			if existing.Dev == e.Dev && existing.Ino == e.Ino {
				dup = true
				break
			}
		}
		if !dup {
			s.entries = append(s.entries, e)
		}
	}
}

// Paths returns just the directory strings, in order.
func (s *Set) Paths() []string {
	out := make([]string, 0, s.Len())
	for _, e := range s.Entries() {
		out = append(out, e.Path)
	}
	return out
}
