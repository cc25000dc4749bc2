package skitter

import (
	"fmt"
	"sync"

	"github.com/mitchellh/copystructure"
)

// Lifetime controls when a worker is reclaimed. Deployment-lifetime
// workers live as long as the workflow; invocation-lifetime workers are
// garbage-collected once their single invocation's processing completes
// (spec §3, Testable Scenario E6).
type Lifetime int

const (
	// LifetimeDeployment ties a worker's life to its owning deployment.
	LifetimeDeployment Lifetime = iota
	// LifetimeInvocation ties a worker's life to a single invocation.
	LifetimeInvocation
)

type workerMessage struct {
	invocation Invocation
	payload    interface{}
}

// worker is the runtime entity described in spec §3/§4.3: single-
// threaded by construction (one goroutine drains its mailbox), owning
// its state exclusively.
type worker struct {
	ref      WorkerRef
	tag      string
	lifetime Lifetime
	owning   Context

	mu       sync.Mutex
	state    interface{}
	stopped  bool
	mailbox  chan workerMessage
	pending  int // messages enqueued but not yet finished, for Lifetime tracking

	rt *Runtime
}

func newWorker(rt *Runtime, ref WorkerRef, state interface{}, tag string, lifetime Lifetime, owning Context, bufferSize int) *worker {
	w := &worker{
		ref:      ref,
		tag:      tag,
		lifetime: lifetime,
		owning:   owning,
		state:    state,
		mailbox:  make(chan workerMessage, bufferSize),
		rt:       rt,
	}
	go w.run()
	return w
}

func (w *worker) run() {
	for msg := range w.mailbox {
		w.process(msg)

		w.mu.Lock()
		w.pending--
		done := w.lifetime == LifetimeInvocation && w.pending <= 0
		w.mu.Unlock()

		if done {
			w.stop()
			return
		}
	}
}

func (w *worker) process(msg workerMessage) {
	ctx := w.owning.WithInvocation(msg.invocation)

	strat, err := w.rt.lookupStrategy(ctx.Strategy)
	if err != nil {
		w.rt.logger().WithError(err).Error("skitter: worker process: unknown strategy")
		return
	}

	err = instrumented(ctx.ctx, w.rt.optionFor(ctx.Node), "worker.process", w.ref.String(), 1, func() (procErr error) {
		defer func() {
			if r := recover(); r != nil {
				procErr = &CallbackFailure{
					Operation: ctx.Operation.Name(),
					Callback:  "process",
					Cause:     fmt.Errorf("%v", r),
				}
			}
		}()

		w.mu.Lock()
		state := w.state
		w.mu.Unlock()

		result, procErr := strat.Process(ctx, msg.payload, state, w.tag)
		if procErr != nil {
			return procErr
		}

		return w.apply(ctx, result)
	})

	if err != nil {
		if _, ok := err.(*DefinitionError); ok {
			w.rt.logger().WithError(err).Error("skitter: fatal definition error applying process result")
			return
		}

		w.rt.logger().WithError(err).WithField("worker", w.ref.String()).Warn("skitter: callback failure, restarting worker")
		w.restart()
	}
}

// apply merges a ProcessResult into worker state and hands emitted
// records back to the router, implementing the §4.3/§9 rules: state is
// replaced only if present, emit and emit_invocation merge additively
// per port (a same-port collision between the two is a DefinitionError,
// resolving spec §9's open question), an emit on a port the operation
// does not declare is a DefinitionError, and each element re-enters the
// router tagged with the invocation it was emitted under.
func (w *worker) apply(ctx Context, result ProcessResult) error {
	if result.State != nil {
		w.mu.Lock()
		w.state = *result.State
		w.mu.Unlock()
	}

	merged := map[string][]taggedRecord{}

	for port, seq := range result.Emit {
		for _, v := range seq {
			merged[port] = append(merged[port], taggedRecord{value: v, invocation: ctx.Invocation})
		}
	}

	for port, seq := range result.EmitInvocation {
		if _, collides := result.Emit[port]; collides {
			return &DefinitionError{
				Operation: ctx.Operation.Name(),
				Reason:    fmt.Sprintf("emit and emit_invocation both targeted port %q", port),
			}
		}
		for _, ev := range seq {
			merged[port] = append(merged[port], taggedRecord{value: ev.Value, invocation: ev.Invocation})
		}
	}

	for port := range merged {
		if _, ok := ctx.Operation.OutPortIndex(port); !ok {
			return &DefinitionError{
				Operation: ctx.Operation.Name(),
				Reason:    fmt.Sprintf("emit to undeclared out-port %q", port),
			}
		}
	}

	for port, records := range merged {
		w.rt.router().route(ctx.Node, port, records)
	}

	return nil
}

// errStopped is returned by send once a worker has been stopped,
// matching scenario E6's expectation that a post-stop send fails.
var errStopped = fmt.Errorf("skitter: worker stopped")

func (w *worker) send(invocation Invocation, payload interface{}) (err error) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return errStopped
	}
	w.pending++
	w.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = errStopped
		}
	}()

	w.mailbox <- workerMessage{invocation: invocation, payload: payload}
	return nil
}

func (w *worker) restart() {
	w.mu.Lock()
	w.state = w.owning.Operation.InitialState()
	w.mu.Unlock()
}

func (w *worker) stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()
	close(w.mailbox)
}

// deepCopyState gives every newly created worker (create_local and
// create_remote alike) its own copy of its initial state, the way
// packet.go used copystructure to keep concurrent mutation safe.
func deepCopyState(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	cp, err := copystructure.Copy(v)
	if err != nil {
		return v
	}
	return cp
}
