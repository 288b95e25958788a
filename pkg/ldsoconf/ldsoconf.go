// Package ldsoconf reads glibc-style ld.so.conf text configuration files:
// one directory per line, "#"-delimited comments, blank lines skipped,
// "include <glob>" lines merged recursively (relative patterns anchored at
// the including file's directory), and "hwcap ..." lines ignored.
//
// Grounded on original_source/src/ld_conf.rs, the Rust implementation this
// system was distilled from; the merge-then-dedup order and the
// relative-glob-anchoring rule follow it line for line.
package ldsoconf

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/appsworld/depscan/pkg/searchpath"
)

// Parse reads filename and returns its fully-expanded, deduplicated
// directory list (includes resolved recursively).
func Parse(filename string) (*searchpath.Set, error) {
	return parseFile(filename, make(map[string]bool))
}

func parseFile(filename string, seen map[string]bool) (*searchpath.Set, error) {
	abs, err := filepath.Abs(filename)
	if err != nil {
		abs = filename
	}
	if seen[abs] {
		// Cycle via repeated includes; nothing new to contribute.
		return searchpath.NewSet(), nil
	}
	seen[abs] = true

	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("ldsoconf: opening %s: %w", filename, err)
	}
	defer f.Close()

	result := searchpath.NewSet()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		entry := strings.TrimLeft(scanner.Text(), " \t")
		if i := strings.IndexByte(entry, '#'); i >= 0 {
			entry = entry[:i]
		}
		entry = strings.TrimRight(entry, " \t\r")
		if entry == "" {
			continue
		}

		switch {
		case strings.HasPrefix(entry, "include"):
			fields := strings.Fields(entry)
			if len(fields) < 2 {
				return nil, fmt.Errorf("ldsoconf: %s: invalid include directive %q", filename, entry)
			}
			included, err := parseGlob(filepath.Dir(filename), fields[1], seen)
			if err != nil {
				return nil, err
			}
			mergeInto(result, included)
		case strings.HasPrefix(entry, "hwcap"):
			// hwcap directives are consumed by the loader's hwcap-tagged
			// search path feature, unrelated to plain directory resolution.
		default:
			result.Add(entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ldsoconf: reading %s: %w", filename, err)
	}
	return result, nil
}

// parseGlob expands pattern (anchored at root if relative) and merges the
// parsed contents of every matching file, in glob match order.
func parseGlob(root, pattern string, seen map[string]bool) (*searchpath.Set, error) {
	full := pattern
	if !filepath.IsAbs(pattern) {
		full = filepath.Join(root, pattern)
	}

	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, fmt.Errorf("ldsoconf: invalid include glob %q: %w", pattern, err)
	}

	result := searchpath.NewSet()
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		sub, err := parseFile(m, seen)
		if err != nil {
			return nil, err
		}
		mergeInto(result, sub)
	}
	return result, nil
}

// mergeInto appends src's entries to dst, skipping any path already present
// in dst — matching ld_conf.rs's merge_searchpaths retain-then-append.
func mergeInto(dst, src *searchpath.Set) {
	dst.Merge(src)
}
