package skitter

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Placement is the constraint a strategy supplies to create_remote, per
// spec §4.3. At most one of On/With/Avoid should be set; the zero value
// requests the default round-robin-across-worker-cores placement.
type Placement struct {
	On    string     // must land on this exact node
	With  *WorkerRef // must land on the same node as this worker
	Avoid *WorkerRef // must land on any node except this worker's
}

// PlacementService resolves a Placement against the cluster's current
// worker-core view (spec §4.6's Registry of connected worker nodes).
type PlacementService struct {
	cluster *Cluster
	rr      uint64
}

// NewPlacementService builds a placement service backed by cluster's
// live Registry/Tags view.
func NewPlacementService(cluster *Cluster) *PlacementService {
	return &PlacementService{cluster: cluster}
}

// Resolve picks a node for a new worker given p. nodeOf resolves an
// existing worker ref to its node, used for With/Avoid.
func (p *PlacementService) Resolve(placement Placement, nodeOf func(WorkerRef) (string, bool)) (string, error) {
	switch {
	case placement.On != "":
		if !p.cluster.HasNode(placement.On) {
			return "", &PlacementError{Constraint: "on", Reason: fmt.Sprintf("node %q unreachable", placement.On)}
		}
		return placement.On, nil

	case placement.With != nil:
		node, ok := nodeOf(*placement.With)
		if !ok {
			return "", &PlacementError{Constraint: "with", Reason: "referenced worker is unknown"}
		}
		return node, nil

	case placement.Avoid != nil:
		avoidNode, _ := nodeOf(*placement.Avoid)
		nodes := p.cluster.Nodes()
		for _, n := range nodes {
			if n != avoidNode {
				return n, nil
			}
		}
		// No alternative: fall back to the avoided node itself, per
		// spec §4.3.
		if avoidNode != "" {
			return avoidNode, nil
		}
		return "", &PlacementError{Constraint: "avoid", Reason: "no worker core available"}

	default:
		return p.roundRobin()
	}
}

// roundRobin cycles through advertised worker cores (spec §4.3 default
// placement). Testable Property 6 only requires indistinguishable
// *initial state*, not a specific distribution, but round-robin is the
// simplest policy that actually spreads load.
func (p *PlacementService) roundRobin() (string, error) {
	nodes := p.cluster.Nodes()
	if len(nodes) == 0 {
		return "", &PlacementError{Constraint: "default", Reason: "no worker cores registered"}
	}

	n := atomic.AddUint64(&p.rr, 1) - 1
	return nodes[int(n%uint64(len(nodes)))], nil
}

// nodeTable is a trivial single-writer/many-reader map of worker refs to
// the node that owns them, used to answer nodeOf for With/Avoid.
type nodeTable struct {
	mu    sync.RWMutex
	table map[WorkerRef]string
}

func newNodeTable() *nodeTable {
	return &nodeTable{table: map[WorkerRef]string{}}
}

func (t *nodeTable) put(ref WorkerRef, node string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.table[ref] = node
}

func (t *nodeTable) get(ref WorkerRef) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.table[ref]
	return n, ok
}

func (t *nodeTable) delete(ref WorkerRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.table, ref)
}
