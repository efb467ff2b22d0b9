package dualtree

import (
	"github.com/pkg/errors"
)

// NoNode marks an absent arena index (missing child, root's parent).
const NoNode = -1

// ErrInvalidIndex is returned by DescendantNode for an index at or beyond
// the actual descendant-node count.
var ErrInvalidIndex = errors.New("dualtree: descendant node index out of range")

// Node is one node of a SpaceTree arena. Begin and Count identify a
// half-open row interval [Begin, Begin+Count) of the tree's dataset; the
// pair uniquely identifies a node within one fixed tree and is the only
// node handle that survives serialization or a process boundary.
type Node struct {
	Begin, Count int
	Bound        Bound
	Stat         Statistic

	// ParentDistance is the distance between this node's bound centroid and
	// its parent's; 0 for the root.
	ParentDistance float64

	// FurthestDescendantDistance is an upper bound (half the bound's
	// diameter) on the distance from the centroid to any contained point,
	// not the exact maximum.
	FurthestDescendantDistance float64

	Left, Right, Parent int // arena indices; NoNode if absent
}

// TreeConfig controls SpaceTree construction. The zero value builds with
// Euclidean rectangular bounds, midpoint splits, leaves of at most 20
// points, and no statistics.
type TreeConfig struct {
	// MaxLeafSize is the largest point count a node may hold before the
	// splitter is asked to partition it. Default: 20.
	MaxLeafSize int

	// Metric measures point distances; bounds and parent distances use it.
	// Default: Euclidean.
	Metric Metric

	// Bound constructs the per-node bound. Default: NewRectBound.
	Bound BoundFactory

	// Split chooses and applies partitions. The same instance is reused for
	// every node. Default: MidpointSplit.
	Split SplitStrategy

	// Statistic, when set, builds a per-node statistic once each node's
	// subtree shape is final.
	Statistic StatisticBuilder

	// OldFromNew, when non-nil, must have length n; after the build,
	// OldFromNew[i] is the original index of the point now stored at row i.
	OldFromNew []int

	// NewFromOld, when non-nil, must have length n; after the build it is
	// the inverse of the applied permutation. Requires OldFromNew.
	NewFromOld []int
}

// SpaceTree is a binary space-partitioning tree over flat row-major point
// data. The tree owns one copy of the dataset, shared by every node; the
// arena layout means dropping the tree drops everything.
type SpaceTree struct {
	data   []float64
	n      int
	dims   int
	offset int // position of row 0 within the originally built dataset
	nodes  []Node
}

// Build constructs a SpaceTree over n points of the given dimensionality.
// data is flat row-major and is copied; the copy is reordered by splits.
func Build(data []float64, n, dims int, cfg TreeConfig) (*SpaceTree, error) {
	if n <= 0 || dims <= 0 {
		return nil, errors.Errorf("dualtree: cannot build tree over %d points of %d dims", n, dims)
	}
	if len(data) < n*dims {
		return nil, errors.Errorf("dualtree: data has %d values, need %d", len(data), n*dims)
	}
	if cfg.MaxLeafSize <= 0 {
		cfg.MaxLeafSize = 20
	}
	if cfg.Metric == nil {
		cfg.Metric = Euclidean()
	}
	if cfg.Bound == nil {
		cfg.Bound = NewRectBound
	}
	if cfg.Split == nil {
		cfg.Split = MidpointSplit{}
	}
	if cfg.OldFromNew != nil && len(cfg.OldFromNew) != n {
		return nil, errors.Errorf("dualtree: OldFromNew has length %d, want %d", len(cfg.OldFromNew), n)
	}
	if cfg.NewFromOld != nil {
		if cfg.OldFromNew == nil {
			return nil, errors.New("dualtree: NewFromOld requires OldFromNew")
		}
		if len(cfg.NewFromOld) != n {
			return nil, errors.Errorf("dualtree: NewFromOld has length %d, want %d", len(cfg.NewFromOld), n)
		}
	}

	t := &SpaceTree{
		data: make([]float64, n*dims),
		n:    n,
		dims: dims,
	}
	copy(t.data, data[:n*dims])

	if cfg.OldFromNew != nil {
		for i := range cfg.OldFromNew {
			cfg.OldFromNew[i] = i
		}
	}

	t.buildNode(NoNode, 0, n, &cfg)

	if cfg.NewFromOld != nil {
		for i, old := range cfg.OldFromNew {
			cfg.NewFromOld[old] = i
		}
	}
	return t, nil
}

// buildNode appends a node covering rows [begin, begin+count), recursively
// builds its children, and returns its arena index.
func (t *SpaceTree) buildNode(parent, begin, count int, cfg *TreeConfig) int {
	id := len(t.nodes)
	t.nodes = append(t.nodes, Node{
		Begin:  begin,
		Count:  count,
		Parent: parent,
		Left:   NoNode,
		Right:  NoNode,
	})

	b := cfg.Bound(t.dims, cfg.Metric)
	b.Grow(t.data, t.dims, begin, begin+count)
	t.nodes[id].Bound = b
	t.nodes[id].FurthestDescendantDistance = b.Diameter() / 2

	if count > cfg.MaxLeafSize {
		// The splitter may refuse (all points coincident, say); the node
		// then stays an oversized leaf, which is a documented outcome.
		if splitIdx, ok := cfg.Split.SplitNode(b, t.data, t.dims, begin, count, cfg.OldFromNew); ok {
			left := t.buildNode(id, begin, splitIdx-begin, cfg)
			right := t.buildNode(id, splitIdx, begin+count-splitIdx, cfg)
			t.nodes[id].Left = left
			t.nodes[id].Right = right

			centroid := make([]float64, t.dims)
			childCentroid := make([]float64, t.dims)
			t.nodes[id].Bound.Centroid(centroid)
			for _, child := range [2]int{left, right} {
				t.nodes[child].Bound.Centroid(childCentroid)
				t.nodes[child].ParentDistance = cfg.Metric.Distance(centroid, childCentroid)
			}
		}
	}

	if cfg.Statistic != nil {
		t.nodes[id].Stat = cfg.Statistic.NewStatistic(t, id)
	}
	return id
}

// Root returns the arena index of the root node.
func (t *SpaceTree) Root() int { return 0 }

// NumNodes returns the total number of nodes in the arena.
func (t *SpaceTree) NumNodes() int { return len(t.nodes) }

// NumRows returns the number of dataset rows held by the tree.
func (t *SpaceTree) NumRows() int { return t.n }

// Dims returns the dimensionality of each point.
func (t *SpaceTree) Dims() int { return t.dims }

// Data returns the tree's reordered flat row-major dataset.
func (t *SpaceTree) Data() []float64 { return t.data }

// Offset returns the position of this tree's first row within the dataset
// it was originally built over. Nonzero only for extracted subtrees.
func (t *SpaceTree) Offset() int { return t.offset }

func (t *SpaceTree) IsLeaf(node int) bool { return t.nodes[node].Left == NoNode }
func (t *SpaceTree) Left(node int) int    { return t.nodes[node].Left }
func (t *SpaceTree) Right(node int) int   { return t.nodes[node].Right }
func (t *SpaceTree) Parent(node int) int  { return t.nodes[node].Parent }
func (t *SpaceTree) Begin(node int) int   { return t.nodes[node].Begin }
func (t *SpaceTree) Count(node int) int   { return t.nodes[node].Count }
func (t *SpaceTree) End(node int) int     { return t.nodes[node].Begin + t.nodes[node].Count }

// Bound returns the node's cached bound. Callers must not mutate it.
func (t *SpaceTree) Bound(node int) Bound { return t.nodes[node].Bound }

// Statistic returns the node's statistic, or nil if none was built.
func (t *SpaceTree) Statistic(node int) Statistic { return t.nodes[node].Stat }

func (t *SpaceTree) ParentDistance(node int) float64 {
	return t.nodes[node].ParentDistance
}

func (t *SpaceTree) FurthestDescendantDistance(node int) float64 {
	return t.nodes[node].FurthestDescendantDistance
}

// NumPoints returns the number of points held directly by the node: its
// count for a leaf, 0 for an internal node (points live in the leaves).
func (t *SpaceTree) NumPoints(node int) int {
	if t.nodes[node].Left != NoNode {
		return 0
	}
	return t.nodes[node].Count
}

// Point returns the dataset row index of the node's index-th held point.
func (t *SpaceTree) Point(node, index int) int { return t.nodes[node].Begin + index }

// PointRow returns the coordinates of dataset row i.
func (t *SpaceTree) PointRow(i int) []float64 {
	return t.data[i*t.dims : (i+1)*t.dims]
}

// FurthestPointDistance returns half the bound diameter for a leaf and 0
// for an internal node, which holds no points of its own.
func (t *SpaceTree) FurthestPointDistance(node int) float64 {
	if !t.IsLeaf(node) {
		return 0
	}
	return 0.5 * t.nodes[node].Bound.Diameter()
}

// MinimumBoundDistance returns the minimum distance from the bound's center
// to any of its edges.
func (t *SpaceTree) MinimumBoundDistance(node int) float64 {
	return t.nodes[node].Bound.MinWidth() / 2
}

// FindByRange returns the unique node at or below the given node with
// exactly the row range [begin, begin+count), or NoNode if no node has that
// exact range. The query range must be nested within the searched node's
// range and is only meaningful against the tree it was obtained from;
// violating that precondition panics.
func (t *SpaceTree) FindByRange(node, begin, count int) int {
	nd := &t.nodes[node]
	if begin < nd.Begin || begin+count > nd.Begin+nd.Count {
		panic("dualtree: FindByRange query range not nested within node")
	}
	if nd.Begin == begin && nd.Count == count {
		return node
	}
	if nd.Left == NoNode {
		return NoNode
	}
	if begin < t.End(nd.Left) {
		return t.FindByRange(nd.Left, begin, count)
	}
	return t.FindByRange(nd.Right, begin, count)
}

// TreeSize returns the number of nodes in the subtree rooted at node,
// recomputed by full recursion on every call.
func (t *SpaceTree) TreeSize(node int) int {
	size := 1
	if left := t.nodes[node].Left; left != NoNode {
		size += t.TreeSize(left)
	}
	if right := t.nodes[node].Right; right != NoNode {
		size += t.TreeSize(right)
	}
	return size
}

// TreeDepth returns the number of levels in the subtree rooted at node,
// counting the node itself; a leaf has depth 1.
func (t *SpaceTree) TreeDepth(node int) int {
	depth := 0
	if left := t.nodes[node].Left; left != NoNode {
		depth = t.TreeDepth(left)
	}
	if right := t.nodes[node].Right; right != NoNode {
		if d := t.TreeDepth(right); d > depth {
			depth = d
		}
	}
	return depth + 1
}

// NumDescendantNodes returns the number of nodes strictly below node,
// walking the whole subtree on every call.
func (t *SpaceTree) NumDescendantNodes(node int) int {
	return t.TreeSize(node) - 1
}

// DescendantNode returns the index-th descendant of node in breadth-first
// order. It walks the subtree on every call and returns ErrInvalidIndex
// when index is at or beyond the descendant count.
func (t *SpaceTree) DescendantNode(node, index int) (int, error) {
	queue := make([]int, 0, 2)
	if left := t.nodes[node].Left; left != NoNode {
		queue = append(queue, left)
	}
	if right := t.nodes[node].Right; right != NoNode {
		queue = append(queue, right)
	}
	current := 0
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if current == index {
			return n, nil
		}
		current++
		if left := t.nodes[n].Left; left != NoNode {
			queue = append(queue, left)
		}
		if right := t.nodes[n].Right; right != NoNode {
			queue = append(queue, right)
		}
	}
	return NoNode, errors.Wrapf(ErrInvalidIndex, "index %d", index)
}

// Clone deep-copies the tree: the dataset is copied once and every node's
// bound and statistic are cloned. Mutating the clone's data leaves the
// original untouched.
func (t *SpaceTree) Clone() *SpaceTree {
	c := &SpaceTree{
		data:   make([]float64, len(t.data)),
		n:      t.n,
		dims:   t.dims,
		offset: t.offset,
		nodes:  make([]Node, len(t.nodes)),
	}
	copy(c.data, t.data)
	for i, nd := range t.nodes {
		cn := nd
		cn.Bound = nd.Bound.Clone()
		if nd.Stat != nil {
			cn.Stat = nd.Stat.Clone()
		}
		c.nodes[i] = cn
	}
	return c
}

// ExtractSubtree returns a self-contained copy of the subtree rooted at
// node: its own arena, its own slice of the dataset, and row indices
// rebased to start at 0. Offset records where the copy's rows sit in the
// parent tree's dataset, so point indices can be mapped back. The copy's
// root has no parent and a zero parent distance.
func (t *SpaceTree) ExtractSubtree(node int) *SpaceTree {
	begin := t.nodes[node].Begin
	count := t.nodes[node].Count
	sub := &SpaceTree{
		data:   make([]float64, count*t.dims),
		n:      count,
		dims:   t.dims,
		offset: t.offset + begin,
	}
	copy(sub.data, t.data[begin*t.dims:(begin+count)*t.dims])

	var walk func(src, parent int) int
	walk = func(src, parent int) int {
		id := len(sub.nodes)
		nd := t.nodes[src]
		cn := nd
		cn.Begin = nd.Begin - begin
		cn.Parent = parent
		cn.Left, cn.Right = NoNode, NoNode
		cn.Bound = nd.Bound.Clone()
		if nd.Stat != nil {
			cn.Stat = nd.Stat.Clone()
		}
		sub.nodes = append(sub.nodes, cn)
		if nd.Left != NoNode {
			left := walk(nd.Left, id)
			right := walk(nd.Right, id)
			sub.nodes[id].Left = left
			sub.nodes[id].Right = right
		}
		return id
	}
	walk(node, NoNode)
	sub.nodes[0].ParentDistance = 0
	return sub
}
