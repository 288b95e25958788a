package depscan

import (
	"os"

	"github.com/appsworld/depscan/pkg/androidns"
	"github.com/appsworld/depscan/pkg/dyldcache"
	"github.com/appsworld/depscan/pkg/hwcap"
	"github.com/appsworld/depscan/pkg/ldsocache"
	"github.com/appsworld/depscan/pkg/searchpath"
	"github.com/appsworld/depscan/pkg/sysdirs"
)

// Cache is the platform-tagged union spec.md §3 calls LoaderCache: "Linux:
// map soname -> path. FreeBSD/OpenBSD/NetBSD: an ordered SearchPath set.
// Android: a map namespace-name -> NamespaceConfig. macOS: map image-path
// -> optional file-offset." One lookup method covers all four shapes; the
// resolver never branches on platform beyond constructing the right Cache.
type Cache interface {
	// Lookup searches the cache for soname on behalf of a dependency whose
	// parent binary is described by parent. path is the location the hit
	// was recorded under. data is non-nil only when the hit has no
	// separate on-disk file to open -- macOS's dyld shared cache can hold
	// dylibs with no file of their own from Big Sur onward -- in which
	// case data is the image's own Mach-O bytes to parse directly instead
	// of opening path from the filesystem.
	Lookup(parent *BinaryInfo, soname string) (path string, data []byte, ok bool)
}

// linuxCache wraps pkg/ldsocache. Its entries are filtered for one
// binary's architecture, and cmd/depscan loads a fresh one for every input
// binary; no cache is shared across the binaries of one run.
type linuxCache struct {
	cache *ldsocache.Cache
	hwcap []string
}

// LoadLinuxCache parses data, the contents of an ld.so.cache file
// (typically /etc/ld.so.cache), filtered against q, memoizing the host's hwcap-supported list the way spec.md §9 calls
// for ("the hwcap-supported vector is memoized inside the cache parser by
// threading it through the call").
func LoadLinuxCache(data []byte, q ldsocache.Query) (Cache, error) {
	c, err := ldsocache.Load(data, q)
	if err != nil {
		return nil, err
	}
	return &linuxCache{cache: c, hwcap: hwcap.Supported()}, nil
}

func (c *linuxCache) Lookup(parent *BinaryInfo, soname string) (string, []byte, bool) {
	path, ok := c.cache.Lookup(soname, c.hwcap)
	return path, nil, ok
}

// bsdCache wraps an ordered SearchPath set decoded from ld.so.hints
// (FreeBSD/OpenBSD) or ld.so.conf (NetBSD): "iterate cache directories".
type bsdCache struct {
	dirs *searchpath.Set
}

// LoadBSDCache wraps an already-decoded directory set (the caller picks
// ReadFreeBSD/ReadOpenBSD or the ld.so.conf reader per target OS).
func LoadBSDCache(dirs *searchpath.Set) Cache {
	return &bsdCache{dirs: dirs}
}

func (c *bsdCache) Lookup(parent *BinaryInfo, soname string) (string, []byte, bool) {
	for _, d := range c.dirs.Paths() {
		candidate := d + "/" + soname
		if fileExists(candidate) {
			return candidate, nil, true
		}
	}
	return "", nil, false
}

// androidCache wraps a namespace Graph; reloaded per binary since
// ld.config.txt section selection depends on the binary's own path
// (spec.md §5, the one exception to "loaded at most once per process").
type androidCache struct {
	graph *androidns.Graph
	// namespace the parent binary resolves through; bionic always starts a
	// lookup from a binary's own namespace before following linked edges.
	start string
}

// LoadAndroidCache parses filename (chosen via androidns.ConfigPath) for
// the binary described by opts.
func LoadAndroidCache(filename string, opts androidns.Options, startNamespace string) (Cache, error) {
	g, err := androidns.Parse(filename, opts)
	if err != nil {
		return nil, err
	}
	return &androidCache{graph: g, start: startNamespace}, nil
}

// Lookup walks the parent's namespace chain honoring allowed_libs and
// linked-namespace shared_libs, per spec.md §4.9 step 7's Android clause.
func (c *androidCache) Lookup(parent *BinaryInfo, soname string) (string, []byte, bool) {
	ns := c.graph.Lookup(c.start)
	if ns == nil {
		ns = c.graph.Default()
	}
	if ns == nil {
		return "", nil, false
	}
	path, ok := c.searchNamespace(ns, soname, make(map[string]bool))
	return path, nil, ok
}

func (c *androidCache) searchNamespace(ns *androidns.Namespace, soname string, visited map[string]bool) (string, bool) {
	if visited[ns.Name] {
		return "", false
	}
	visited[ns.Name] = true

	if ns.IsAccessible(soname) {
		for _, d := range ns.SearchPaths.Paths() {
			candidate := d + "/" + soname
			if fileExists(candidate) {
				return candidate, true
			}
		}
	}

	for _, link := range ns.Links {
		if !link.AllowAllShared && !containsString(link.SharedLibs, soname) {
			continue
		}
		target := c.graph.Lookup(link.Target)
		if target == nil {
			continue
		}
		if path, ok := c.searchNamespace(target, soname, visited); ok {
			return path, true
		}
	}
	return "", false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// darwinCache wraps the dyld shared cache's image index. Its backing
// mapping is held for the lifetime of the darwinCache; cmd/depscan builds
// one per input binary and releases the mapping when that scan ends.
type darwinCache struct {
	cache *dyldcache.Cache
}

// LoadDarwinCache parses an already-mmap'd dyld shared cache file.
func LoadDarwinCache(data []byte) (Cache, error) {
	c, err := dyldcache.Parse(data)
	if err != nil {
		return nil, err
	}
	return &darwinCache{cache: c}, nil
}

// Lookup finds soname in the cache's image table (falling back to a
// basename match, since the table is keyed by full install path) and
// returns its own Mach-O bytes reparsed directly out of the cache -- the
// image's recorded path very likely does not exist as a file on disk to
// open separately (spec.md §4.3: "individual .dylibs do not exist on disk
// from Big Sur onward").
func (c *darwinCache) Lookup(parent *BinaryInfo, soname string) (string, []byte, bool) {
	img, ok := c.cache.LookupSuffix(soname)
	if !ok {
		return "", nil, false
	}
	data, ok := c.cache.ReadMachO(img)
	if !ok {
		return "", nil, false
	}
	return img.Path, data, true
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}

// NoCache is a Cache that never finds anything, used when a target's
// loader cache could not be loaded (missing file, unreadable) but
// resolution should still proceed to the system-directory stage rather
// than aborting the whole run.
type noCache struct{}

func (noCache) Lookup(*BinaryInfo, string) (string, []byte, bool) { return "", nil, false }

// NoCache is the shared noCache instance.
var NoCache Cache = noCache{}

// QueryFor builds an ldsocache.Query from a parent BinaryInfo, the
// adapter between depscan's BinaryInfo and ldsocache's narrower input
// shape.
func QueryFor(parent *BinaryInfo) ldsocache.Query {
	return ldsocache.Query{
		Machine: uint16(parent.Machine), // the Linux loader cache only ever concerns ELF machines, which fit 16 bits natively
		Class32: parent.Class == sysdirs.Class32,
		EFlags:  parent.EFlags,
	}
}
