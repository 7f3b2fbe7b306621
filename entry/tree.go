package entry

import (
	"sort"
	"strings"
)

// TreeNode is one node of the folder tree derived from flat entry paths.
type TreeNode struct {
	Entry    *Entry
	Children []*TreeNode
}

// BuildTree derives a folder tree from flat entries.
// Entries are sorted by path once, then each node finds its parent through a path map,
// so the cost is dominated by the sort. Entries whose parent folder is not present
// attach to their nearest present ancestor, or become roots.
func BuildTree(entries []*Entry) []*TreeNode {
	sorted := make([]*Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return comparePaths(sorted[i].Path, sorted[j].Path) < 0
	})

	nodes := make(map[string]*TreeNode, len(sorted))
	var roots []*TreeNode
	for _, e := range sorted {
		node := &TreeNode{Entry: e}
		nodes[e.Path] = node

		var parent *TreeNode
		for p := Parent(e.Path); p != ""; p = Parent(p) {
			if candidate, ok := nodes[p]; ok && candidate.Entry.IsFolder() {
				parent = candidate
				break
			}
		}
		if parent == nil {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	return roots
}

// comparePaths orders paths segment by segment so "a/b" sorts before "a-b".
func comparePaths(a, b string) int {
	as := strings.Split(a, "/")
	bs := strings.Split(b, "/")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := strings.Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return len(as) - len(bs)
}

// Walk visits every node depth-first, passing its depth.
func Walk(nodes []*TreeNode, fn func(node *TreeNode, depth int)) {
	var visit func(list []*TreeNode, depth int)
	visit = func(list []*TreeNode, depth int) {
		for _, n := range list {
			fn(n, depth)
			visit(n.Children, depth+1)
		}
	}
	visit(nodes, 0)
}
