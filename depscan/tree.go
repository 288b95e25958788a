package depscan

// Mode is the search-order stage that located a dependency (or Executable
// for the root, or NotFound when every stage failed), per spec.md §3's
// DependencyNode.mode enumeration.
type Mode int

const (
	ModeExecutable Mode = iota
	ModePreload
	ModeDirect
	ModeDtRpath
	ModeLdLibraryPath
	ModeDtRunpath
	ModeLdCache
	ModeDyldCache
	ModeSystemDirs
	ModeNotFound
)

func (m Mode) String() string {
	switch m {
	case ModeExecutable:
		return ""
	case ModePreload:
		return "[preload]"
	case ModeDirect:
		return "[direct]"
	case ModeDtRpath:
		return "[rpath]"
	case ModeLdLibraryPath:
		return "[LD_LIBRARY_PATH]"
	case ModeDtRunpath:
		return "[runpath]"
	case ModeLdCache:
		return "[ld.so.cache]"
	case ModeDyldCache:
		return "[dyld cache]"
	case ModeSystemDirs:
		return "[system default paths]"
	case ModeNotFound:
		return "[not found]"
	default:
		return "[?]"
	}
}

// Node is one entry in a DependencyTree: a resolved (or unresolved)
// dependency, never mutated after insertion.
type Node struct {
	Path  string // resolved absolute path, "" if NotFound
	Name  string // base name of the NEEDED string (the root's path for the root)
	Mode  Mode
	Found bool // true for a back-reference to an already-resolved node

	Info *BinaryInfo // nil for NotFound and back-reference nodes

	parent   int
	children []int
}

// Parent returns the node's parent index and whether it has one (the root
// has none).
func (n *Node) Parent() (int, bool) {
	if n.parent < 0 {
		return 0, false
	}
	return n.parent, true
}

// Children returns the ordered list of child indices.
func (n *Node) Children() []int {
	return n.children
}

// Tree is an arena-backed dependency tree: nodes are addressed by stable
// integer index, the root is always at index 0, and name lookup is a
// linear scan -- acceptable because a tree holds at most a few hundred
// resolved libraries (spec.md §3).
type Tree struct {
	nodes []Node
}

// NewTree creates a tree with root as node 0.
func NewTree(root Node) *Tree {
	root.parent = -1
	return &Tree{nodes: []Node{root}}
}

// AddChild appends a node as a child of parent, returning its index.
func (t *Tree) AddChild(parent int, n Node) int {
	idx := len(t.nodes)
	n.parent = parent
	t.nodes = append(t.nodes, n)
	t.nodes[parent].children = append(t.nodes[parent].children, idx)
	return idx
}

// Node returns the node at idx.
func (t *Tree) Node(idx int) *Node {
	return &t.nodes[idx]
}

// Len reports the number of nodes in the tree, including the root.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Contains reports whether any node matches other, per spec.md §4.9's
// deduplication consult ("the tree's name-indexed lookup (contains(name))").
func (t *Tree) Contains(other string) bool {
	_, ok := t.find(other)
	return ok
}

// find returns the first node (by insertion order) matching other.
func (t *Tree) find(other string) (int, bool) {
	for i := range t.nodes {
		if t.nodes[i].matches(other) {
			return i, true
		}
	}
	return 0, false
}

// matches mirrors arenatree.rs's EqualString::eqstr: a Preload or
// LdLibraryPath node is matched by basename (those modes are keyed off
// where a lookup found the file, not what the NEEDED string spelled), a
// node with no resolved path or given a non-absolute other is matched by
// bare name, and a resolved node is otherwise matched by its full
// directory-joined path.
func (n *Node) matches(other string) bool {
	if n.Mode == ModePreload || n.Mode == ModeLdLibraryPath {
		return baseName(other) == n.Name
	}
	if n.Path == "" || !isAbsolutePath(other) {
		return other == n.Name
	}
	return other == n.Path
}

func isAbsolutePath(p string) bool {
	return len(p) > 0 && p[0] == '/'
}

func baseName(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}
