// Package androidns tokenizes Android's `ld.config.txt` section/property
// grammar and materializes the per-binary namespace graph bionic's linker
// builds from it: isolation, visibility, allowed-libs, search paths (with
// ${LIB}/${SDK_VER}/${VNDK_VER}/${VNDK_APEX_VER} substitution), and
// namespace-to-namespace links gated by the shared_libs-xor-allow_all
// invariant.
//
// Grounded on original_source/src/elf/ld_config_txt.rs, down to the
// section/property token classification and the two-pass namespace-link
// resolution it calls out ("namespace definitions can mention each other
// out of order").
package androidns

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/appsworld/depscan/pkg/searchpath"
)

const defaultNamespaceName = "default"

// Namespace is one `ld.config.txt` namespace block, resolved against its
// enclosing Graph.
type Namespace struct {
	Name        string
	Isolated    bool
	Visible     bool
	AllowedLibs []string
	SearchPaths *searchpath.Set
	Links       []Link
}

// Link is one namespace-to-namespace edge, carrying the shared_libs/
// allow_all_shared_libs invariant bionic enforces at config-parse time.
type Link struct {
	Target         string
	AllowAllShared bool
	SharedLibs     []string
}

// IsAccessible reports whether file may be resolved through ns, per
// ld_config_txt.rs's NamespaceConfig::is_accessible: non-isolated namespaces
// admit anything, isolated namespaces with a non-empty allow-list admit only
// listed names, and an isolated namespace with an empty allow-list still
// falls through to the search path (not rejected here).
func (ns *Namespace) IsAccessible(file string) bool {
	if !ns.Isolated {
		return true
	}
	if len(ns.AllowedLibs) == 0 {
		return true
	}
	for _, lib := range ns.AllowedLibs {
		if lib == file {
			return true
		}
	}
	return false
}

// Graph is the full set of namespaces defined by one ld.config.txt section,
// keyed by name.
type Graph struct {
	Namespaces map[string]*Namespace
}

// Default returns the always-present "default" namespace.
func (g *Graph) Default() *Namespace {
	return g.Namespaces[defaultNamespaceName]
}

// Lookup returns the named namespace, or nil if undefined.
func (g *Graph) Lookup(name string) *Namespace {
	return g.Namespaces[name]
}

type properties struct {
	values           map[string]string
	targetSDKVersion string
}

func newProperties() *properties {
	return &properties{values: make(map[string]string)}
}

func (p *properties) assign(key, value string) {
	p.values[key] = value
}

// appendSuffix returns the join separator for key's append semantics per
// spec.md §4.8 step 4, or 0 if the suffix does not support appending.
func appendSuffix(key string) byte {
	switch {
	case strings.HasSuffix(key, ".links"), strings.HasSuffix(key, ".namespaces"):
		return ','
	case strings.HasSuffix(key, ".paths"),
		strings.HasSuffix(key, ".shared_libs"),
		strings.HasSuffix(key, ".whitelisted"),
		strings.HasSuffix(key, ".allowed_libs"):
		return ':'
	default:
		return 0
	}
}

func (p *properties) append(key, value string) {
	sep := appendSuffix(key)
	if sep == 0 {
		return
	}
	if existing, ok := p.values[key]; ok {
		p.values[key] = existing + string(sep) + value
	} else {
		p.values[key] = value
	}
}

func (p *properties) get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

func (p *properties) getString(key string) string {
	return p.values[key]
}

func (p *properties) getBool(key string) bool {
	return p.values[key] == "true"
}

func (p *properties) getPaths(key string, libDir string) *searchpath.Set {
	path := p.getString(key)
	path = strings.ReplaceAll(path, "${SDK_VER}", p.targetSDKVersion)
	vndk := VNDKVersionSuffix('-')
	path = strings.ReplaceAll(path, "${VNDK_VER}", vndk)
	path = strings.ReplaceAll(path, "${VNDK_APEX_VER}", vndk)
	path = strings.ReplaceAll(path, "${LIB}", libDir)
	return splitColon(path)
}

func splitColon(s string) *searchpath.Set {
	set := searchpath.NewSet()
	for _, p := range strings.Split(s, ":") {
		if p == "" {
			continue
		}
		set.Add(p)
	}
	return set
}

type tokenKind int

const (
	tokenPropertyAssign tokenKind = iota
	tokenPropertyAppend
	tokenSection
	tokenError
)

// nextToken classifies one ld.config.txt line, stripping comments and
// surrounding whitespace first, per ld_config_txt.rs's next_token.
func nextToken(line string) (tokenKind, string, bool) {
	line = strings.TrimLeft(line, " \t")
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimRight(line, " \t\r")
	if line == "" {
		return 0, "", false
	}
	if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
		return tokenSection, line[1 : len(line)-1], true
	}
	if strings.Contains(line, "+=") {
		return tokenPropertyAppend, line, true
	}
	if strings.Contains(line, "=") {
		return tokenPropertyAssign, line, true
	}
	return tokenError, line, true
}

func parseAssignment(line string) (string, string, error) {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("androidns: invalid assignment line %q", line)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

func parseAppend(line string) (string, string, error) {
	parts := strings.SplitN(line, "+=", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("androidns: invalid append line %q", line)
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
}

// Options configures Parse with the facts it needs that are not themselves
// part of ld.config.txt: the binary's path, its library directory name
// (the ${LIB} expansion), whether its interpreter is an ASan variant, and the
// Android release (for the legacy enable.target.sdk.version fallback).
type Options struct {
	Binary  string
	Interp  string
	LibDir  string // "lib" or "lib64", per the binary's ELF class
	Release Release
}

func isASanInterp(interp string) bool {
	base := interp
	if i := strings.LastIndexByte(interp, '/'); i >= 0 {
		base = interp[i+1:]
	}
	return base == "linker_asan" || base == "linker_asan64"
}

// Parse reads filename and builds the namespace Graph that applies to
// opts.Binary, per spec.md §4.8.
func Parse(filename string, opts Options) (*Graph, error) {
	isASan := isASanInterp(opts.Interp)
	if isASan && opts.Release == ReleaseR26 {
		return nil, fmt.Errorf("androidns: ASan linker not supported on Android 26")
	}

	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("androidns: opening %s: %w", filename, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := &lineReader{scanner: scanner}

	section, err := findInitialSection(opts.Binary, lines)
	if err != nil {
		return nil, err
	}
	if err := findSection(section, lines); err != nil {
		return nil, err
	}

	props := newProperties()
loop:
	for {
		line, ok := lines.next()
		if !ok {
			break
		}
		kind, text, matched := nextToken(line)
		if !matched {
			continue
		}
		switch kind {
		case tokenPropertyAssign:
			name, value, err := parseAssignment(text)
			if err != nil {
				return nil, err
			}
			props.assign(name, value)
		case tokenPropertyAppend:
			name, value, err := parseAppend(text)
			if err != nil {
				return nil, err
			}
			props.append(name, value)
		case tokenSection, tokenError:
			break loop
		}
	}

	if props.getBool("enable.target.sdk.version") {
		v, err := readVersionFile(opts.Binary)
		if err != nil {
			return nil, err
		}
		props.targetSDKVersion = v
	} else {
		props.targetSDKVersion = fmt.Sprintf("%d", opts.Release)
	}

	graph := &Graph{Namespaces: map[string]*Namespace{
		defaultNamespaceName: {Name: defaultNamespaceName},
	}}
	if additional, ok := props.get("additional.namespaces"); ok {
		for _, name := range strings.Split(additional, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			graph.Namespaces[name] = &Namespace{Name: name}
		}
	}

	// Two passes: namespace definitions can reference each other out of
	// order (a link target may be defined later in the file), so the set
	// of valid targets must be complete before any link is validated.
	for name, ns := range graph.Namespaces {
		prefix := "namespace." + name
		ns.Isolated = props.getBool(prefix + ".isolated")
		ns.Visible = props.getBool(prefix + ".visible")
		ns.AllowedLibs = mergeLibLists(
			props.getString(prefix+".whitelisted"),
			props.getString(prefix+".allowed_libs"),
		)

		searchPrefix := prefix
		if isASan {
			searchPrefix += ".asan"
		}
		ns.SearchPaths = props.getPaths(searchPrefix+".search.paths", opts.LibDir)

		if linked, ok := props.get(prefix + ".links"); ok {
			for _, target := range strings.Split(linked, ",") {
				target = strings.TrimSpace(target)
				if target == "" {
					continue
				}
				if _, ok := graph.Namespaces[target]; !ok {
					return nil, fmt.Errorf("androidns: namespace %q links to undefined namespace %q", name, target)
				}
				allowAll := props.getBool(fmt.Sprintf("%s.link.%s.allow_all_shared_libs", prefix, target))
				sharedLibs := props.getString(fmt.Sprintf("%s.link.%s.shared_libs", prefix, target))
				if !allowAll && sharedLibs == "" {
					return nil, fmt.Errorf("androidns: namespace %q link to %q: shared_libs is not specified or is empty", name, target)
				}
				if allowAll && sharedLibs != "" {
					return nil, fmt.Errorf("androidns: namespace %q link to %q: both shared_libs and allow_all_shared_libs are set", name, target)
				}
				ns.Links = append(ns.Links, Link{
					Target:         target,
					AllowAllShared: allowAll,
					SharedLibs:     splitNonEmpty(sharedLibs, ':'),
				})
			}
		}
	}

	return graph, nil
}

func mergeLibLists(lists ...string) []string {
	var out []string
	for _, l := range lists {
		out = append(out, splitNonEmpty(l, ':')...)
	}
	return out
}

func splitNonEmpty(s string, sep byte) []string {
	var out []string
	for _, p := range strings.Split(s, string(sep)) {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readVersionFile(binary string) (string, error) {
	dir := binary
	if i := strings.LastIndexByte(binary, '/'); i >= 0 {
		dir = binary[:i]
	}
	data, err := os.ReadFile(dir + "/.version")
	if err != nil {
		return "", fmt.Errorf("androidns: reading .version file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// lineReader buffers bufio.Scanner lines so findInitialSection and
// findSection can share one forward-only cursor with the property loop,
// matching ld_config_txt.rs's single io::Lines iterator threaded through
// find_initial_section -> find_section -> the property loop.
type lineReader struct {
	scanner *bufio.Scanner
}

func (r *lineReader) next() (string, bool) {
	if !r.scanner.Scan() {
		return "", false
	}
	return r.scanner.Text(), true
}

func findInitialSection(binary string, lines *lineReader) (string, error) {
	for {
		line, ok := lines.next()
		if !ok {
			break
		}
		kind, text, matched := nextToken(line)
		if !matched {
			continue
		}
		switch kind {
		case tokenPropertyAssign:
			name, value, err := parseAssignment(text)
			if err != nil {
				return "", err
			}
			if !strings.HasPrefix(name, "dir.") {
				continue
			}
			resolved, err := resolveSymlinks(value)
			if err != nil {
				continue
			}
			if strings.HasPrefix(binary, resolved) {
				return name[len("dir."):], nil
			}
		case tokenSection:
			return "", fmt.Errorf("androidns: no dir. directive selected a section for %s", binary)
		default:
			continue
		}
	}
	return "", fmt.Errorf("androidns: initial section for binary %s not found", binary)
}

func resolveSymlinks(p string) (string, error) {
	return filepath.EvalSymlinks(p)
}

func findSection(section string, lines *lineReader) error {
	for {
		line, ok := lines.next()
		if !ok {
			break
		}
		kind, text, matched := nextToken(line)
		if !matched {
			continue
		}
		switch kind {
		case tokenPropertyAssign, tokenPropertyAppend:
			continue
		case tokenSection:
			if text == section {
				return nil
			}
		default:
			return fmt.Errorf("androidns: malformed line while scanning for section %q", section)
		}
	}
	return fmt.Errorf("androidns: section %q not found", section)
}
