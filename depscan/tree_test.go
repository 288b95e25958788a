package depscan

import "testing"

func TestModeStringTags(t *testing.T) {
	cases := []struct {
		mode Mode
		want string
	}{
		{ModeExecutable, ""},
		{ModePreload, "[preload]"},
		{ModeDirect, "[direct]"},
		{ModeDtRpath, "[rpath]"},
		{ModeLdLibraryPath, "[LD_LIBRARY_PATH]"},
		{ModeDtRunpath, "[runpath]"},
		{ModeLdCache, "[ld.so.cache]"},
		{ModeDyldCache, "[dyld cache]"},
		{ModeSystemDirs, "[system default paths]"},
		{ModeNotFound, "[not found]"},
	}
	for _, c := range cases {
		if got := c.mode.String(); got != c.want {
			t.Errorf("Mode(%d).String() = %q, want %q", c.mode, got, c.want)
		}
	}
}

func TestTreeContainsAndBackReference(t *testing.T) {
	tree := NewTree(Node{Path: "/bin/app", Name: "/bin/app", Mode: ModeExecutable})
	tree.AddChild(0, Node{Path: "/usr/lib/libfoo.so.1", Name: "libfoo.so.1", Mode: ModeLdCache})

	if !tree.Contains("libfoo.so.1") {
		t.Fatalf("Contains(libfoo.so.1) = false, want true")
	}
	if tree.Contains("libbar.so.1") {
		t.Fatalf("Contains(libbar.so.1) = true, want false")
	}
}

func TestNodeMatchesPreloadByBasename(t *testing.T) {
	n := &Node{Path: "/opt/lib/libfoo.so.1", Name: "libfoo.so.1", Mode: ModePreload}
	if !n.matches("/usr/lib/libfoo.so.1") {
		t.Errorf("a preload node should match any path sharing its basename")
	}
	if n.matches("/usr/lib/libbar.so.1") {
		t.Errorf("a preload node should not match an unrelated basename")
	}
}

func TestNodeMatchesResolvedByFullPath(t *testing.T) {
	n := &Node{Path: "/usr/lib/libfoo.so.1", Name: "libfoo.so.1", Mode: ModeLdCache}
	if !n.matches("/usr/lib/libfoo.so.1") {
		t.Errorf("a resolved node should match its own absolute path")
	}
	if n.matches("/opt/lib/libfoo.so.1") {
		t.Errorf("a resolved node should not match a different absolute path")
	}
	if !n.matches("libfoo.so.1") {
		t.Errorf("a resolved node should match its bare name when other is not absolute")
	}
}

func TestNodeMatchesUnresolvedByName(t *testing.T) {
	n := &Node{Name: "libbar.so.1", Mode: ModeNotFound}
	if !n.matches("libbar.so.1") {
		t.Errorf("an unresolved node should match by bare name")
	}
	if n.matches("/usr/lib/libbar.so.1") {
		t.Errorf("an unresolved node has no path to match an absolute lookup against")
	}
}

func TestTreeAddChildParentLinkage(t *testing.T) {
	tree := NewTree(Node{Name: "root", Mode: ModeExecutable})
	idx := tree.AddChild(0, Node{Name: "child", Mode: ModeDirect})
	grandIdx := tree.AddChild(idx, Node{Name: "grandchild", Mode: ModeDtRpath})

	if p, ok := tree.Node(0).Parent(); ok || p != 0 {
		t.Errorf("root should report no parent, got (%d, %v)", p, ok)
	}
	if p, ok := tree.Node(idx).Parent(); !ok || p != 0 {
		t.Errorf("child's parent = (%d, %v), want (0, true)", p, ok)
	}
	if got := tree.Node(0).Children(); len(got) != 1 || got[0] != idx {
		t.Errorf("root's children = %v, want [%d]", got, idx)
	}
	if p, ok := tree.Node(grandIdx).Parent(); !ok || p != idx {
		t.Errorf("grandchild's parent = (%d, %v), want (%d, true)", p, ok, idx)
	}
}
