package main

import (
	"fmt"
	"io"

	"github.com/appsworld/depscan/depscan"
	"github.com/appsworld/depscan/pkg/ansicolor"
)

// printTree renders tree pre-order as a guide-drawn tree, the default
// render mode. resolvedPaths selects printing each node's resolved
// absolute path (the "-p" flag) instead of its bare NEEDED/SONAME name.
func printTree(w io.Writer, tree *depscan.Tree, resolvedPaths bool) {
	fmt.Fprintln(w, nodeLabel(tree.Node(0), resolvedPaths))
	printChildren(w, tree, 0, nil, resolvedPaths)
}

func printChildren(w io.Writer, tree *depscan.Tree, idx int, ancestorHasRightSibling []bool, resolvedPaths bool) {
	children := tree.Node(idx).Children()
	for i, childIdx := range children {
		isLast := i == len(children)-1
		writeGuides(w, ancestorHasRightSibling)
		if isLast {
			fmt.Fprint(w, "└── ")
		} else {
			fmt.Fprint(w, "├── ")
		}
		fmt.Fprintln(w, nodeLabel(tree.Node(childIdx), resolvedPaths))
		printChildren(w, tree, childIdx, append(append([]bool{}, ancestorHasRightSibling...), !isLast), resolvedPaths)
	}
}

func writeGuides(w io.Writer, ancestorHasRightSibling []bool) {
	for _, hasSibling := range ancestorHasRightSibling {
		if hasSibling {
			fmt.Fprint(w, "│   ")
		} else {
			fmt.Fprint(w, "    ")
		}
	}
}

func nodeLabel(n *depscan.Node, resolvedPaths bool) string {
	name := n.Name
	if resolvedPaths && n.Path != "" {
		name = n.Path
	}

	switch {
	case n.Mode == depscan.ModeNotFound:
		return ansicolor.Red(name) + " " + ansicolor.Dim(n.Mode.String())
	case n.Found:
		return ansicolor.Yellow(name) + " " + ansicolor.Dim(n.Mode.String()+" (already resolved)")
	case n.Mode == depscan.ModeExecutable:
		return name
	default:
		tag := n.Mode.String()
		if n.Path != "" && !resolvedPaths {
			return fmt.Sprintf("%s %s %s", name, ansicolor.Dim(tag), ansicolor.Dim(n.Path))
		}
		return name + " " + ansicolor.Dim(tag)
	}
}

// printFlat renders the "-l" ldd-style flat list: one unique dependency
// per line as "name => path", skipping the root and any found=true
// back-reference (the same dependency was already printed once).
func printFlat(w io.Writer, tree *depscan.Tree) {
	seen := make(map[string]bool)
	for i := 1; i < tree.Len(); i++ {
		n := tree.Node(i)
		if n.Found || seen[n.Name] {
			continue
		}
		seen[n.Name] = true
		if n.Mode == depscan.ModeNotFound {
			fmt.Fprintf(w, "%s => %s\n", n.Name, ansicolor.Red("not found"))
			continue
		}
		fmt.Fprintf(w, "%s => %s\n", n.Name, n.Path)
	}
}
