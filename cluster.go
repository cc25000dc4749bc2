package skitter

import (
	"fmt"
	"sync"
)

// connState is a remote node's membership state as tracked by the
// master, per spec §4.6's state machine:
//
//	disconnected --connect--> verifying --ok--> connected --loss--> disconnected
//	                  \--mode-mismatch/rejected--> disconnected
type connState int

const (
	stateDisconnected connState = iota
	stateVerifying
	stateConnected
)

// Mode is the role a node advertises during the handshake.
type Mode string

const (
	ModeMaster Mode = "master"
	ModeWorker Mode = "worker"
	ModeLocal  Mode = "local"
)

// UpDownEvent is delivered to subscribers when a worker node joins or
// leaves the cluster's Registry.
type UpDownEvent struct {
	Node string
	Up   bool
	Tags []string
}

// Cluster implements the master/worker membership component from spec
// §4.6: exactly one master owns the Registry and Tags stores; workers
// subscribe to up/down events once the master is known. Both stores are
// single-writer (this type) / many-reader (Nodes/HasNode/TagsFor),
// matching the replicated-constant-store discipline of spec §5.
type Cluster struct {
	self Mode
	id   string

	mu     sync.RWMutex
	states map[string]connState
	tags   map[string][]string

	subsMu sync.Mutex
	subs   []chan UpDownEvent
}

// NewCluster creates a membership component for a node identified by id
// advertising the given mode. A master starts with itself absent from
// the Registry (it is not a worker core); a worker or local node starts
// with only itself visible.
func NewCluster(id string, mode Mode) *Cluster {
	c := &Cluster{
		self:   mode,
		id:     id,
		states: map[string]connState{},
		tags:   map[string][]string{},
	}

	if mode != ModeMaster {
		c.states[id] = stateConnected
	}

	return c
}

// Connect attempts to admit node into the cluster, transitioning
// disconnected -> verifying -> connected, or back to disconnected on a
// mode mismatch (spec §4.6).
func (c *Cluster) Connect(node string, peerMode Mode, tags []string) error {
	c.mu.Lock()
	c.states[node] = stateVerifying
	c.mu.Unlock()

	if peerMode != ModeWorker {
		c.mu.Lock()
		c.states[node] = stateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("skitter: mode_mismatch connecting %q (advertised %q)", node, peerMode)
	}

	c.mu.Lock()
	c.states[node] = stateConnected
	c.tags[node] = tags
	c.mu.Unlock()

	c.publish(UpDownEvent{Node: node, Up: true, Tags: tags})
	return nil
}

// Down removes node from the Registry and Tags stores (spec §4.6's
// `down` transition). Further sends to workers on that node observe
// NodeDown from Runtime.Send; re-admission after Down is treated as a
// brand new node with no prior workers (spec §9 open question,
// resolved: reconnected nodes do not get their old workers back).
func (c *Cluster) Down(node string) {
	c.mu.Lock()
	_, existed := c.states[node]
	delete(c.states, node)
	delete(c.tags, node)
	c.mu.Unlock()

	if existed {
		c.publish(UpDownEvent{Node: node, Up: false})
	}
}

// HasNode reports whether node is currently connected.
func (c *Cluster) HasNode(node string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.states[node] == stateConnected
}

// Nodes returns the currently connected worker cores.
func (c *Cluster) Nodes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.states))
	for n, st := range c.states {
		if st == stateConnected {
			out = append(out, n)
		}
	}
	return out
}

// TagsFor returns the tag set a connected worker node advertised.
func (c *Cluster) TagsFor(node string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tags[node]
	return t, ok
}

// Subscribe registers a channel that receives every future up/down
// event, the way a worker node subscribes once it learns of the master
// (spec §4.6's `master_up` -> subscribe behavior).
func (c *Cluster) Subscribe() <-chan UpDownEvent {
	ch := make(chan UpDownEvent, 32)
	c.subsMu.Lock()
	c.subs = append(c.subs, ch)
	c.subsMu.Unlock()
	return ch
}

func (c *Cluster) publish(evt UpDownEvent) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Reset clears every known node except self, mirroring spec §4.6's
// worker-side `master_down` behavior ("the worker clears its view and
// retains only itself").
func (c *Cluster) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states = map[string]connState{}
	c.tags = map[string][]string{}
	if c.self != ModeMaster {
		c.states[c.id] = stateConnected
	}
}
