// Package dualtree implements a binary space-partitioning tree over a fixed
// point set and dual-tree traversals that answer proximity queries (nearest
// neighbors, range search) without exhaustive pairwise comparison.
//
// A SpaceTree is built once from flat row-major data and is immutable
// afterwards. Nodes live in an arena indexed by int, each covering a
// contiguous range of the (reordered) dataset and caching a geometric Bound
// and a Statistic. The concrete bound shape, split heuristic, and per-node
// statistic are pluggable:
//
//	tree, err := dualtree.Build(data, n, dims, dualtree.TreeConfig{
//		MaxLeafSize: 2,
//	})
//
// Queries are expressed as a Rule supplying a pruning score for a node pair
// and a base case for a point pair. DualTreeTraverser runs the standard
// single-process pruning recursion over a (query, reference) tree pair:
//
//	rule := dualtree.NewNearestNeighborRule(queryTree, refTree, k)
//	trav := dualtree.NewDualTreeTraverser(rule, queryTree, refTree)
//	trav.Traverse(queryTree.Root(), refTree.Root())
//
// # Distributed traversal
//
// DistributedTraverser splits one dual-tree traversal across cooperating
// processes connected by a Transport. Rank 0 is the coordinator: it recurses
// synchronously down to a dispatch depth derived from the worker count, ships
// each remaining subtree pair to a deterministically chosen worker rank, and
// merges the returned partial results in ascending rank order so the outcome
// matches a single-process run exactly. Every other rank serves exactly one
// task with RunWorker.
package dualtree
