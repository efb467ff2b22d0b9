package dualtree

// DualTreeTraverser runs the standard single-process pruning recursion over
// a (query, reference) node pair: score the pair, stop on the prune
// sentinel, evaluate base cases for points held directly by the pair, and
// descend into the child combinations otherwise. The recursion is
// unprioritized: children are visited left before right on both sides, so
// two runs over the same trees and rule state behave identically.
type DualTreeTraverser struct {
	rule       Rule
	query, ref *SpaceTree
	numPrunes  int
}

// NewDualTreeTraverser returns a traverser applying rule to pairs drawn
// from the given trees.
func NewDualTreeTraverser(rule Rule, query, ref *SpaceTree) *DualTreeTraverser {
	return &DualTreeTraverser{rule: rule, query: query, ref: ref}
}

// Traverse recurses over the pair rooted at (queryNode, refNode).
func (tr *DualTreeTraverser) Traverse(queryNode, refNode int) {
	if tr.rule.Score(queryNode, refNode) == PruneScore {
		tr.numPrunes++
		return
	}

	// NumPoints is zero for internal nodes, so this runs only when a side
	// is a leaf.
	for i := 0; i < tr.query.NumPoints(queryNode); i++ {
		for j := 0; j < tr.ref.NumPoints(refNode); j++ {
			tr.rule.BaseCase(tr.query.Point(queryNode, i), tr.ref.Point(refNode, j))
		}
	}

	qLeaf := tr.query.IsLeaf(queryNode)
	rLeaf := tr.ref.IsLeaf(refNode)
	switch {
	case qLeaf && rLeaf:
		// Base cases above covered everything.
	case qLeaf:
		tr.Traverse(queryNode, tr.ref.Left(refNode))
		tr.Traverse(queryNode, tr.ref.Right(refNode))
	case rLeaf:
		tr.Traverse(tr.query.Left(queryNode), refNode)
		tr.Traverse(tr.query.Right(queryNode), refNode)
	default:
		tr.Traverse(tr.query.Left(queryNode), tr.ref.Left(refNode))
		tr.Traverse(tr.query.Left(queryNode), tr.ref.Right(refNode))
		tr.Traverse(tr.query.Right(queryNode), tr.ref.Left(refNode))
		tr.Traverse(tr.query.Right(queryNode), tr.ref.Right(refNode))
	}
}

// NumPrunes reports how many node pairs were pruned so far.
func (tr *DualTreeTraverser) NumPrunes() int { return tr.numPrunes }
