package dualtree

// Statistic is a per-node aggregate computed once the node's subtree shape
// is final. Implementations must be gob-encodable for tree serialization.
type Statistic interface {
	Clone() Statistic
}

// StatisticBuilder constructs the statistic for a node. NewStatistic runs
// after the node's bound and children (including their statistics) exist.
type StatisticBuilder interface {
	NewStatistic(t *SpaceTree, node int) Statistic
}

// CountStatistic caches the subtree node count and the number of points
// held directly by the node (nonzero only for leaves).
type CountStatistic struct {
	SubtreeNodes int
	LeafPoints   int
}

func (s *CountStatistic) Clone() Statistic {
	c := *s
	return &c
}

// CountStatisticBuilder builds CountStatistic values.
type CountStatisticBuilder struct{}

func (CountStatisticBuilder) NewStatistic(t *SpaceTree, node int) Statistic {
	s := &CountStatistic{SubtreeNodes: 1, LeafPoints: t.NumPoints(node)}
	if left := t.Left(node); left != NoNode {
		s.SubtreeNodes += t.nodes[left].Stat.(*CountStatistic).SubtreeNodes
	}
	if right := t.Right(node); right != NoNode {
		s.SubtreeNodes += t.nodes[right].Stat.(*CountStatistic).SubtreeNodes
	}
	return s
}
