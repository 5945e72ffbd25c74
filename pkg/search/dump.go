package search

import (
	"fmt"
	"os"

	"github.com/awalterschulze/gographviz"

	"github.com/corvidchess/corvid/pkg/node"
)

// DumpTree renders the live search tree rooted at the engine's current root to a Graphviz .dot
// file at path, for interactive debugging of an in-progress or just-halted search. Adapted from
// the teacher's console debug affordances (pkg/engine/console's board-printing commands); this
// is the search-tree analogue, since there is no textual rendering that does an MCTS tree
// justice the way ASCII board art does a position.
func (e *Engine) DumpTree(path string, maxNodes int) error {
	e.mu.Lock()
	tree := e.tree
	e.mu.Unlock()

	root, _, _ := tree.Root()

	if root == nil {
		return fmt.Errorf("no active tree")
	}

	g := gographviz.NewGraph()
	if err := g.SetName("search"); err != nil {
		return err
	}
	if err := g.SetDir(true); err != nil {
		return err
	}

	visited := 0
	var walk func(n *node.Node, id string) error
	walk = func(n *node.Node, id string) error {
		if maxNodes > 0 && visited >= maxNodes {
			return nil
		}
		visited++

		n.Lock()
		label := fmt.Sprintf("v=%d q=%.3f%s", n.Visits, n.QValue, exactSuffix(n.IsExact))
		children := n.Children
		n.Unlock()

		if err := g.AddNode("search", id, map[string]string{"label": quote(label)}); err != nil {
			return err
		}

		for i, c := range children {
			if !c.Embodied {
				continue
			}
			child := tree.nodeAt(c.Index)
			childID := fmt.Sprintf("%v_%d", id, i)
			if err := walk(child, childID); err != nil {
				return err
			}
			if err := g.AddEdge(id, childID, true, map[string]string{"label": quote(c.Move.String())}); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, "root"); err != nil {
		return err
	}

	return os.WriteFile(path, []byte(g.String()), 0o644)
}

func exactSuffix(exact bool) string {
	if exact {
		return " exact"
	}
	return ""
}

func quote(s string) string {
	return fmt.Sprintf("%q", s)
}
