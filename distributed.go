package dualtree

import (
	"net/rpc"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Distributed traversal errors.
var (
	// ErrProtocol reports a violation of the dispatch protocol, such as two
	// recursion branches resolving to the same worker rank.
	ErrProtocol = errors.New("dualtree: distributed protocol violation")

	// ErrWorkerTimeout reports a worker failing to respond before the
	// configured deadline.
	ErrWorkerTimeout = errors.New("dualtree: worker did not respond before deadline")
)

// DistributedConfig configures a coordinator-side distributed traversal.
type DistributedConfig struct {
	// Workers is the number of worker processes, occupying ranks 1 through
	// Workers. The coordinator itself is rank 0.
	Workers int

	// Transport connects the coordinator to the workers.
	Transport Transport

	// Timeout bounds how long the coordinator waits for each outstanding
	// worker after dispatch finishes. Zero means wait forever.
	Timeout time.Duration
}

// dispatchDepth returns the deepest recursion level whose full set of
// node-pair branches still fits in the worker pool: the largest d with
// 4^d <= workers. With fewer than four workers everything runs at depth
// zero, meaning the root pair itself is shipped to rank 1.
func dispatchDepth(workers int) int {
	depth := 0
	for span := 4; span <= workers; span *= 4 {
		depth++
	}
	return depth
}

// DistributedTraverser is the coordinator side of a distributed dual-tree
// traversal. It runs the pruning recursion down to a bounded depth, ships
// each surviving node pair to a dedicated worker as a self-contained task,
// and folds the workers' partial results back into the rule in rank order.
//
// Worker ranks derive from recursion paths: each level below the root
// contributes two bits (00 left/left, 01 left/right, 10 right/left, 11
// right/right), packed most significant level first, and the resulting
// path value plus one is the rank. Distinct surviving branches therefore
// map to distinct workers, and the mapping is reproducible across runs.
type DistributedTraverser struct {
	rule       TransportableRule
	query, ref *SpaceTree
	cfg        DistributedConfig
	depth      int

	// Outstanding dispatch state, indexed by rank-1.
	calls   []*rpc.Call
	replies []*TaskResponse
	clients []Client
}

// NewDistributedTraverser returns a coordinator applying rule to pairs
// drawn from the given trees, dispatching work per cfg.
func NewDistributedTraverser(rule TransportableRule, query, ref *SpaceTree, cfg DistributedConfig) (*DistributedTraverser, error) {
	if cfg.Workers < 1 {
		return nil, errors.Errorf("dualtree: distributed traversal needs at least 1 worker, got %d", cfg.Workers)
	}
	if cfg.Transport == nil {
		return nil, errors.New("dualtree: distributed traversal needs a transport")
	}
	return &DistributedTraverser{
		rule:  rule,
		query: query,
		ref:   ref,
		cfg:   cfg,
		depth: dispatchDepth(cfg.Workers),
	}, nil
}

// Traverse runs the distributed traversal over the pair rooted at
// (queryNode, refNode). On return the rule holds the complete merged
// results, identical to what a single-process traversal would produce.
func (d *DistributedTraverser) Traverse(queryNode, refNode int) error {
	d.calls = make([]*rpc.Call, d.cfg.Workers)
	d.replies = make([]*TaskResponse, d.cfg.Workers)
	d.clients = make([]Client, d.cfg.Workers)
	defer d.closeClients()

	if err := d.recurse(queryNode, refNode, 0, 0); err != nil {
		return err
	}
	if err := d.join(); err != nil {
		return err
	}
	return d.merge()
}

// recurse is the coordinator-side bounded pruning recursion. path packs the
// branch choices taken so far, two bits per level.
func (d *DistributedTraverser) recurse(queryNode, refNode, level, path int) error {
	if d.rule.Score(queryNode, refNode) == PruneScore {
		return nil
	}
	if level == d.depth {
		return d.dispatch(queryNode, refNode, path)
	}

	qLeaf := d.query.IsLeaf(queryNode)
	rLeaf := d.ref.IsLeaf(refNode)
	if qLeaf && rLeaf {
		for i := 0; i < d.query.NumPoints(queryNode); i++ {
			for j := 0; j < d.ref.NumPoints(refNode); j++ {
				d.rule.BaseCase(d.query.Point(queryNode, i), d.ref.Point(refNode, j))
			}
		}
		return nil
	}
	if qLeaf || rLeaf {
		// One side bottomed out above the dispatch cutoff; its branch can no
		// longer fan out into the full rank space, so finish it locally.
		NewDualTreeTraverser(d.rule, d.query, d.ref).Traverse(queryNode, refNode)
		return nil
	}

	if err := d.recurse(d.query.Left(queryNode), d.ref.Left(refNode), level+1, path<<2); err != nil {
		return err
	}
	if err := d.recurse(d.query.Left(queryNode), d.ref.Right(refNode), level+1, path<<2|1); err != nil {
		return err
	}
	if err := d.recurse(d.query.Right(queryNode), d.ref.Left(refNode), level+1, path<<2|2); err != nil {
		return err
	}
	return d.recurse(d.query.Right(queryNode), d.ref.Right(refNode), level+1, path<<2|3)
}

// dispatch ships the pair to the worker rank encoded by path. The request
// carries extracted subtree copies, so the worker needs no prior knowledge
// of the full trees.
func (d *DistributedTraverser) dispatch(queryNode, refNode, path int) error {
	rank := path + 1
	if rank < 1 || rank > d.cfg.Workers {
		return errors.Wrapf(ErrProtocol, "path %b resolves to rank %d outside 1..%d",
			path, rank, d.cfg.Workers)
	}
	if d.calls[rank-1] != nil {
		return errors.Wrapf(ErrProtocol, "rank %d assigned twice", rank)
	}

	client, err := d.cfg.Transport.Connect(rank)
	if err != nil {
		return errors.Wrapf(err, "dualtree: connecting to rank %d", rank)
	}
	req := &TaskRequest{
		State: d.rule.Snapshot(),
		Ref:   d.ref.ExtractSubtree(refNode),
		Query: d.query.ExtractSubtree(queryNode),
	}
	resp := &TaskResponse{}
	d.clients[rank-1] = client
	d.replies[rank-1] = resp
	d.calls[rank-1] = client.Go(taskMethod, req, resp, make(chan *rpc.Call, 1))
	return nil
}

// join waits for every outstanding worker call, in rank order.
func (d *DistributedTraverser) join() error {
	var deadline <-chan time.Time
	if d.cfg.Timeout > 0 {
		timer := time.NewTimer(d.cfg.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for rank := 1; rank <= d.cfg.Workers; rank++ {
		call := d.calls[rank-1]
		if call == nil {
			continue
		}
		select {
		case <-call.Done:
			if call.Error != nil {
				return errors.Wrapf(call.Error, "dualtree: task on rank %d", rank)
			}
		case <-deadline:
			return errors.Wrapf(ErrWorkerTimeout, "rank %d", rank)
		}
	}
	return nil
}

// merge folds worker results into the coordinator's rule in ascending rank
// order, keeping the merged table deterministic.
func (d *DistributedTraverser) merge() error {
	for rank := 1; rank <= d.cfg.Workers; rank++ {
		if d.calls[rank-1] == nil {
			continue
		}
		if err := d.rule.Merge(d.replies[rank-1].State); err != nil {
			return errors.Wrapf(err, "dualtree: merging result from rank %d", rank)
		}
	}
	return nil
}

func (d *DistributedTraverser) closeClients() {
	for _, client := range d.clients {
		if client != nil {
			client.Close()
		}
	}
}

// runTask rebuilds the rule from the shipped state, runs the full local
// traversal over the shipped subtrees, and returns the resulting state.
func runTask(req *TaskRequest, resp *TaskResponse) error {
	if req.State == nil || req.Query == nil || req.Ref == nil {
		return errors.Wrap(ErrProtocol, "task request missing state or trees")
	}
	rule := req.State.NewRule(req.Query, req.Ref)
	tr := NewDualTreeTraverser(rule, req.Query, req.Ref)
	tr.Traverse(req.Query.Root(), req.Ref.Root())
	resp.State = rule.Snapshot()
	return nil
}

// Worker serves a single dual-tree task.
type Worker struct {
	once sync.Once
	done chan struct{}
}

// NewWorker returns a worker ready to be registered with a transport.
func NewWorker() *Worker {
	return &Worker{done: make(chan struct{})}
}

// RunTask implements TaskServer.
func (w *Worker) RunTask(req *TaskRequest, resp *TaskResponse) error {
	defer w.once.Do(func() { close(w.done) })
	return runTask(req, resp)
}

// Done is closed after the worker has served its task.
func (w *Worker) Done() <-chan struct{} { return w.done }

// RunWorker listens on the given rank, serves exactly one task, and stops
// listening. It is the main loop of a one-shot worker process.
func RunWorker(transport Transport, rank int) error {
	if rank < 1 {
		return errors.Errorf("dualtree: worker ranks start at 1, got %d", rank)
	}
	w := NewWorker()
	if err := transport.Listen(rank, w); err != nil {
		return err
	}
	<-w.Done()
	transport.Stop(rank)
	return nil
}

// LoopWorker serves dual-tree tasks indefinitely, letting one worker
// process participate in successive traversal runs.
type LoopWorker struct{}

// RunTask implements TaskServer.
func (LoopWorker) RunTask(req *TaskRequest, resp *TaskResponse) error {
	return runTask(req, resp)
}

// RunWorkerLoop listens on the given rank and serves tasks until stop is
// closed, then stops listening.
func RunWorkerLoop(transport Transport, rank int, stop <-chan struct{}) error {
	if rank < 1 {
		return errors.Errorf("dualtree: worker ranks start at 1, got %d", rank)
	}
	if err := transport.Listen(rank, LoopWorker{}); err != nil {
		return err
	}
	<-stop
	transport.Stop(rank)
	return nil
}
