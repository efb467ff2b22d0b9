package dualtree

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"
)

// buildLine builds a tree over the 1-D points 1..8 with leaves of two
// points, giving a full three-level tree with seven nodes.
func buildLine(t *testing.T) *SpaceTree {
	t.Helper()
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	tree, err := Build(data, 8, 1, TreeConfig{MaxLeafSize: 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tree
}

// --- Construction tests ---

func TestBuild_BasicProperties(t *testing.T) {
	tree := buildLine(t)

	if tree.NumRows() != 8 {
		t.Errorf("NumRows() = %d, want 8", tree.NumRows())
	}
	if tree.Dims() != 1 {
		t.Errorf("Dims() = %d, want 1", tree.Dims())
	}
	if tree.NumNodes() != 7 {
		t.Errorf("NumNodes() = %d, want 7", tree.NumNodes())
	}
	if d := tree.TreeDepth(tree.Root()); d != 3 {
		t.Errorf("TreeDepth(root) = %d, want 3", d)
	}
	if s := tree.TreeSize(tree.Root()); s != 7 {
		t.Errorf("TreeSize(root) = %d, want 7", s)
	}
	if n := tree.NumDescendantNodes(tree.Root()); n != 6 {
		t.Errorf("NumDescendantNodes(root) = %d, want 6", n)
	}
	if tree.Offset() != 0 {
		t.Errorf("Offset() = %d, want 0", tree.Offset())
	}
}

func TestBuild_LeavesPartitionRows(t *testing.T) {
	tree := buildLine(t)

	covered := make([]bool, tree.NumRows())
	leaves := 0
	for node := 0; node < tree.NumNodes(); node++ {
		if !tree.IsLeaf(node) {
			continue
		}
		leaves++
		if tree.Count(node) != 2 {
			t.Errorf("leaf %d holds %d points, want 2", node, tree.Count(node))
		}
		for i := tree.Begin(node); i < tree.End(node); i++ {
			if covered[i] {
				t.Errorf("row %d covered by more than one leaf", i)
			}
			covered[i] = true
		}
	}
	if leaves != 4 {
		t.Errorf("leaf count = %d, want 4", leaves)
	}
	for i, c := range covered {
		if !c {
			t.Errorf("row %d not covered by any leaf", i)
		}
	}
}

func TestBuild_ChildRangesContiguous(t *testing.T) {
	tree := buildLine(t)

	for node := 0; node < tree.NumNodes(); node++ {
		if tree.IsLeaf(node) {
			continue
		}
		left, right := tree.Left(node), tree.Right(node)
		if tree.Begin(left) != tree.Begin(node) {
			t.Errorf("node %d: left child begins at %d, parent at %d", node, tree.Begin(left), tree.Begin(node))
		}
		if tree.End(left) != tree.Begin(right) {
			t.Errorf("node %d: children not contiguous (%d vs %d)", node, tree.End(left), tree.Begin(right))
		}
		if tree.End(right) != tree.End(node) {
			t.Errorf("node %d: right child ends at %d, parent at %d", node, tree.End(right), tree.End(node))
		}
		if tree.Parent(left) != node || tree.Parent(right) != node {
			t.Errorf("node %d: children report parents %d and %d", node, tree.Parent(left), tree.Parent(right))
		}
	}
	if tree.Parent(tree.Root()) != NoNode {
		t.Errorf("root parent = %d, want NoNode", tree.Parent(tree.Root()))
	}
}

func TestBuild_SinglePoint(t *testing.T) {
	tree, err := Build([]float64{3, 4}, 1, 2, TreeConfig{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tree.NumNodes() != 1 {
		t.Errorf("NumNodes() = %d, want 1", tree.NumNodes())
	}
	if !tree.IsLeaf(tree.Root()) {
		t.Error("single-point root should be a leaf")
	}
}

func TestBuild_CoincidentPointsStayOneLeaf(t *testing.T) {
	// The splitter cannot separate identical points; the node stays an
	// oversized leaf.
	data := []float64{5, 5, 5, 5, 5, 5, 5, 5, 5, 5}
	tree, err := Build(data, 5, 2, TreeConfig{MaxLeafSize: 2})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tree.NumNodes() != 1 {
		t.Errorf("NumNodes() = %d, want 1", tree.NumNodes())
	}
	if tree.Count(tree.Root()) != 5 {
		t.Errorf("root count = %d, want 5", tree.Count(tree.Root()))
	}
}

func TestBuild_InvalidArguments(t *testing.T) {
	if _, err := Build(nil, 0, 2, TreeConfig{}); err == nil {
		t.Error("Build accepted zero points")
	}
	if _, err := Build([]float64{1, 2}, 2, 2, TreeConfig{}); err == nil {
		t.Error("Build accepted short data")
	}
	if _, err := Build([]float64{1, 2}, 1, 2, TreeConfig{OldFromNew: make([]int, 5)}); err == nil {
		t.Error("Build accepted wrong-length OldFromNew")
	}
	if _, err := Build([]float64{1, 2}, 1, 2, TreeConfig{NewFromOld: make([]int, 1)}); err == nil {
		t.Error("Build accepted NewFromOld without OldFromNew")
	}
}

func TestBuild_PermutationMapsRows(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	n, dims := 50, 3
	original := make([]float64, n*dims)
	for i := range original {
		original[i] = rng.Float64() * 100
	}

	oldFromNew := make([]int, n)
	newFromOld := make([]int, n)
	tree, err := Build(original, n, dims, TreeConfig{
		MaxLeafSize: 4,
		OldFromNew:  oldFromNew,
		NewFromOld:  newFromOld,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for i := 0; i < n; i++ {
		old := oldFromNew[i]
		row := tree.PointRow(i)
		for d := 0; d < dims; d++ {
			if row[d] != original[old*dims+d] {
				t.Fatalf("row %d does not match original row %d", i, old)
			}
		}
		if newFromOld[old] != i {
			t.Errorf("newFromOld[%d] = %d, want %d", old, newFromOld[old], i)
		}
	}
}

// --- Node geometry tests ---

func TestSpaceTree_NumPoints_InternalNodesHoldNone(t *testing.T) {
	tree := buildLine(t)

	for node := 0; node < tree.NumNodes(); node++ {
		got := tree.NumPoints(node)
		if tree.IsLeaf(node) {
			if got != tree.Count(node) {
				t.Errorf("leaf %d: NumPoints = %d, want %d", node, got, tree.Count(node))
			}
		} else if got != 0 {
			t.Errorf("internal node %d: NumPoints = %d, want 0", node, got)
		}
	}
}

func TestSpaceTree_Point_MapsToRows(t *testing.T) {
	tree := buildLine(t)

	for node := 0; node < tree.NumNodes(); node++ {
		for i := 0; i < tree.NumPoints(node); i++ {
			if got, want := tree.Point(node, i), tree.Begin(node)+i; got != want {
				t.Errorf("Point(%d, %d) = %d, want %d", node, i, got, want)
			}
		}
	}
}

func TestSpaceTree_ParentDistance(t *testing.T) {
	tree := buildLine(t)

	if tree.ParentDistance(tree.Root()) != 0 {
		t.Errorf("root ParentDistance = %v, want 0", tree.ParentDistance(tree.Root()))
	}
	// Root centroid 4.5, left child centroid 2.5, right child centroid 6.5.
	if got := tree.ParentDistance(tree.Left(tree.Root())); !almostEqual(got, 2, floatTol) {
		t.Errorf("left child ParentDistance = %v, want 2", got)
	}
	if got := tree.ParentDistance(tree.Right(tree.Root())); !almostEqual(got, 2, floatTol) {
		t.Errorf("right child ParentDistance = %v, want 2", got)
	}
}

func TestSpaceTree_FurthestDescendantDistance(t *testing.T) {
	tree := buildLine(t)

	for node := 0; node < tree.NumNodes(); node++ {
		want := tree.Bound(node).Diameter() / 2
		if got := tree.FurthestDescendantDistance(node); !almostEqual(got, want, floatTol) {
			t.Errorf("node %d: FurthestDescendantDistance = %v, want %v", node, got, want)
		}
	}
}

func TestSpaceTree_FurthestPointDistance_ZeroForInternal(t *testing.T) {
	tree := buildLine(t)

	root := tree.Root()
	if got := tree.FurthestPointDistance(root); got != 0 {
		t.Errorf("internal FurthestPointDistance = %v, want 0", got)
	}
	leaf := tree.Left(tree.Left(root))
	want := tree.Bound(leaf).Diameter() / 2
	if got := tree.FurthestPointDistance(leaf); !almostEqual(got, want, floatTol) {
		t.Errorf("leaf FurthestPointDistance = %v, want %v", got, want)
	}
}

// --- Lookup tests ---

func TestSpaceTree_FindByRange(t *testing.T) {
	tree := buildLine(t)
	root := tree.Root()

	if got := tree.FindByRange(root, 0, 8); got != root {
		t.Errorf("FindByRange(root, 0, 8) = %d, want root", got)
	}
	if got := tree.FindByRange(root, 0, 4); got != tree.Left(root) {
		t.Errorf("FindByRange(root, 0, 4) = %d, want left child", got)
	}
	leaf := tree.FindByRange(root, 4, 2)
	if leaf == NoNode || !tree.IsLeaf(leaf) || tree.Begin(leaf) != 4 || tree.Count(leaf) != 2 {
		t.Errorf("FindByRange(root, 4, 2) = %d, want the [4, 6) leaf", leaf)
	}
	if got := tree.FindByRange(root, 1, 2); got != NoNode {
		t.Errorf("FindByRange(root, 1, 2) = %d, want NoNode", got)
	}
}

func TestSpaceTree_FindByRange_NotNestedPanics(t *testing.T) {
	tree := buildLine(t)
	left := tree.Left(tree.Root())

	defer func() {
		if recover() == nil {
			t.Error("expected panic for a range outside the node")
		}
	}()
	tree.FindByRange(left, 2, 4)
}

func TestSpaceTree_DescendantNode(t *testing.T) {
	tree := buildLine(t)
	root := tree.Root()

	// Breadth-first: the two children come before any grandchild.
	first, err := tree.DescendantNode(root, 0)
	if err != nil {
		t.Fatalf("DescendantNode(root, 0): %v", err)
	}
	if first != tree.Left(root) {
		t.Errorf("descendant 0 = %d, want left child %d", first, tree.Left(root))
	}
	second, err := tree.DescendantNode(root, 1)
	if err != nil {
		t.Fatalf("DescendantNode(root, 1): %v", err)
	}
	if second != tree.Right(root) {
		t.Errorf("descendant 1 = %d, want right child %d", second, tree.Right(root))
	}

	if _, err := tree.DescendantNode(root, 5); err != nil {
		t.Errorf("DescendantNode(root, 5): %v, want ok", err)
	}
	_, err = tree.DescendantNode(root, 6)
	if errors.Cause(err) != ErrInvalidIndex {
		t.Errorf("DescendantNode(root, 6) error = %v, want ErrInvalidIndex", err)
	}
}

// --- Copy tests ---

func TestSpaceTree_Clone_Independent(t *testing.T) {
	tree := buildLine(t)
	clone := tree.Clone()

	clone.Data()[0] = -999
	if tree.Data()[0] == -999 {
		t.Error("mutating clone data changed the original")
	}

	cb := clone.Bound(clone.Root()).(*RectBound)
	cb.Min[0] = -999
	if tree.Bound(tree.Root()).(*RectBound).Min[0] == -999 {
		t.Error("mutating clone bound changed the original")
	}
}

func TestSpaceTree_ExtractSubtree(t *testing.T) {
	tree := buildLine(t)
	right := tree.Right(tree.Root())

	sub := tree.ExtractSubtree(right)
	if sub.NumRows() != 4 {
		t.Errorf("extracted NumRows = %d, want 4", sub.NumRows())
	}
	if sub.Offset() != 4 {
		t.Errorf("extracted Offset = %d, want 4", sub.Offset())
	}
	if sub.Begin(sub.Root()) != 0 {
		t.Errorf("extracted root Begin = %d, want 0", sub.Begin(sub.Root()))
	}
	if sub.ParentDistance(sub.Root()) != 0 {
		t.Errorf("extracted root ParentDistance = %v, want 0", sub.ParentDistance(sub.Root()))
	}
	for i := 0; i < 4; i++ {
		if sub.PointRow(i)[0] != tree.PointRow(4+i)[0] {
			t.Errorf("extracted row %d = %v, want %v", i, sub.PointRow(i)[0], tree.PointRow(4+i)[0])
		}
	}

	// Extraction from an extracted tree accumulates the offset.
	nested := sub.ExtractSubtree(sub.Right(sub.Root()))
	if nested.Offset() != 6 {
		t.Errorf("nested Offset = %d, want 6", nested.Offset())
	}

	// The copy owns its data.
	sub.Data()[0] = -999
	if tree.PointRow(4)[0] == -999 {
		t.Error("mutating extracted data changed the original")
	}
}

// --- Statistic tests ---

func TestCountStatistic_BuiltBottomUp(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	tree, err := Build(data, 8, 1, TreeConfig{MaxLeafSize: 2, Statistic: CountStatisticBuilder{}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	rootStat := tree.Statistic(tree.Root()).(*CountStatistic)
	if rootStat.SubtreeNodes != 7 {
		t.Errorf("root SubtreeNodes = %d, want 7", rootStat.SubtreeNodes)
	}
	if rootStat.LeafPoints != 0 {
		t.Errorf("root LeafPoints = %d, want 0", rootStat.LeafPoints)
	}
	for node := 0; node < tree.NumNodes(); node++ {
		stat := tree.Statistic(node).(*CountStatistic)
		if stat.SubtreeNodes != tree.TreeSize(node) {
			t.Errorf("node %d: SubtreeNodes = %d, want %d", node, stat.SubtreeNodes, tree.TreeSize(node))
		}
		if stat.LeafPoints != tree.NumPoints(node) {
			t.Errorf("node %d: LeafPoints = %d, want %d", node, stat.LeafPoints, tree.NumPoints(node))
		}
	}
}
