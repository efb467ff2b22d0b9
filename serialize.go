package dualtree

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"

	"github.com/pkg/errors"
)

func init() {
	gob.Register(&RectBound{})
	gob.Register(&BallBound{})
	gob.Register(&CountStatistic{})
	gob.Register(LMetric{})
}

// nodeRecord is the persisted form of one node. Parent links are never
// written; they are rebuilt from the child indices after a load.
type nodeRecord struct {
	Begin, Count               int
	Bound                      Bound
	Stat                       Statistic
	ParentDistance             float64
	FurthestDescendantDistance float64
	Left, Right                int // indices into the record slice, NoNode if omitted
}

// treeRecord is the persisted form of a whole tree. The dataset appears
// exactly once, at the tree level, mirroring the root-only ownership of the
// in-memory form.
type treeRecord struct {
	Rows, Dims, Offset int
	Data               []float64
	Nodes              []nodeRecord
}

// Save writes the whole tree to w in gob form.
func (t *SpaceTree) Save(w io.Writer) error {
	return t.save(w, -1)
}

// SaveDepth writes the tree to w keeping at most maxDepth levels below the
// root: with maxDepth 0 only the root record is written, with maxDepth 1
// the root and its two children, and so on. The budget is threaded down the
// recursion explicitly; the live tree is never modified. maxDepth must be
// >= 0.
func (t *SpaceTree) SaveDepth(w io.Writer, maxDepth int) error {
	if maxDepth < 0 {
		return errors.Errorf("dualtree: negative save depth %d", maxDepth)
	}
	return t.save(w, maxDepth)
}

func (t *SpaceTree) save(w io.Writer, maxDepth int) error {
	rec := treeRecord{
		Rows:   t.n,
		Dims:   t.dims,
		Offset: t.offset,
		Data:   t.data,
	}

	// Depth-first copy into the record slice, cutting off children once the
	// remaining depth budget hits zero. A negative budget means unlimited.
	var walk func(node, remaining int) int
	walk = func(node, remaining int) int {
		id := len(rec.Nodes)
		nd := t.nodes[node]
		rec.Nodes = append(rec.Nodes, nodeRecord{
			Begin:                      nd.Begin,
			Count:                      nd.Count,
			Bound:                      nd.Bound,
			Stat:                       nd.Stat,
			ParentDistance:             nd.ParentDistance,
			FurthestDescendantDistance: nd.FurthestDescendantDistance,
			Left:                       NoNode,
			Right:                      NoNode,
		})
		if nd.Left != NoNode && remaining != 0 {
			left := walk(nd.Left, remaining-1)
			right := walk(nd.Right, remaining-1)
			rec.Nodes[id].Left = left
			rec.Nodes[id].Right = right
		}
		return id
	}
	walk(t.Root(), maxDepth)

	if err := gob.NewEncoder(w).Encode(&rec); err != nil {
		return errors.Wrap(err, "dualtree: encoding tree")
	}
	return nil
}

// Load reads a tree previously written by Save or SaveDepth. Parent links
// are reconstructed top-down as each child is attached.
func Load(r io.Reader) (*SpaceTree, error) {
	var rec treeRecord
	if err := gob.NewDecoder(r).Decode(&rec); err != nil {
		return nil, errors.Wrap(err, "dualtree: decoding tree")
	}
	if len(rec.Nodes) == 0 {
		return nil, errors.New("dualtree: decoded tree has no nodes")
	}
	t := &SpaceTree{
		data:   rec.Data,
		n:      rec.Rows,
		dims:   rec.Dims,
		offset: rec.Offset,
		nodes:  make([]Node, len(rec.Nodes)),
	}
	for i, nr := range rec.Nodes {
		t.nodes[i] = Node{
			Begin:                      nr.Begin,
			Count:                      nr.Count,
			Bound:                      nr.Bound,
			Stat:                       nr.Stat,
			ParentDistance:             nr.ParentDistance,
			FurthestDescendantDistance: nr.FurthestDescendantDistance,
			Left:                       nr.Left,
			Right:                      nr.Right,
			Parent:                     NoNode,
		}
	}
	for i := range t.nodes {
		if left := t.nodes[i].Left; left != NoNode {
			t.nodes[left].Parent = i
		}
		if right := t.nodes[i].Right; right != NoNode {
			t.nodes[right].Parent = i
		}
	}
	return t, nil
}

// SaveFile persists the tree to the named file.
func (t *SpaceTree) SaveFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "dualtree: creating tree file")
	}
	defer f.Close()
	return t.Save(f)
}

// LoadFile reads a tree from the named file.
func LoadFile(path string) (*SpaceTree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "dualtree: opening tree file")
	}
	defer f.Close()
	return Load(f)
}

// GobEncode implements gob.GobEncoder so trees can ride inside transport
// messages.
func (t *SpaceTree) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (t *SpaceTree) GobDecode(p []byte) error {
	loaded, err := Load(bytes.NewReader(p))
	if err != nil {
		return err
	}
	*t = *loaded
	return nil
}
