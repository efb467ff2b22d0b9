package dualtree

import "math"

// PruneScore is the sentinel score meaning a node pair can be skipped
// entirely: no point pair drawn from it can improve the rule's results.
const PruneScore = math.MaxFloat64

// Rule supplies the pruning and base-case logic for one query type. A rule
// owns a growing result table mutated only through BaseCase.
type Rule interface {
	// Score rates a (query node, reference node) pair. Returning PruneScore
	// prunes the pair; any other value lets the traversal descend.
	Score(queryNode, refNode int) float64

	// BaseCase evaluates one (query point, reference point) pair, given as
	// row indices into the rule's query and reference trees, and folds the
	// outcome into the result table.
	BaseCase(queryPoint, refPoint int)
}

// RuleState is a self-contained, gob-encodable snapshot of a rule's
// parameters and result table. It can cross a process boundary and
// reconstruct a working rule against received trees on the far side.
type RuleState interface {
	// NewRule builds a rule from this snapshot, bound to the given trees.
	NewRule(query, ref *SpaceTree) TransportableRule
}

// TransportableRule is a Rule whose state can be shipped to workers and
// whose partial results can be folded back together.
type TransportableRule interface {
	Rule

	// Snapshot returns a deep copy of the rule's current state.
	Snapshot() RuleState

	// Merge folds another rule's result state into this one. Merging is
	// idempotent for results both sides already hold, so overlapping
	// partial results are safe.
	Merge(other RuleState) error
}
