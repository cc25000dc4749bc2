package skitter

import "fmt"

// callbackKey identifies a registered callback by name and arity, per
// spec §3's `(name, arity)` keyed callbacks map.
type callbackKey struct {
	name  string
	arity int
}

type registeredCallback struct {
	info CallbackInfo
	body Callback
}

// Operation is the static, immutable descriptor of a computation unit:
// its ports, its default strategy, its initial state, and its callbacks.
// Operations are registered once at program start (spec §3 Lifecycle)
// and never mutated afterward.
type Operation struct {
	name             string
	inPorts          []string
	outPorts         []string
	inIndex          map[string]int
	outIndex         map[string]int
	defaultStrategy  string
	initialState     interface{}
	callbacks        map[callbackKey]registeredCallback
}

// NewOperation builds an Operation descriptor. Port name collisions
// within either list are a DefinitionError, raised immediately (spec
// §3 invariant: operation port names are unique).
func NewOperation(name string, inPorts, outPorts []string, initialState interface{}, defaultStrategy string) (*Operation, error) {
	inIndex, err := indexPorts(inPorts)
	if err != nil {
		return nil, &DefinitionError{Operation: name, Reason: err.Error()}
	}

	outIndex, err := indexPorts(outPorts)
	if err != nil {
		return nil, &DefinitionError{Operation: name, Reason: err.Error()}
	}

	return &Operation{
		name:            name,
		inPorts:         append([]string{}, inPorts...),
		outPorts:        append([]string{}, outPorts...),
		inIndex:         inIndex,
		outIndex:        outIndex,
		defaultStrategy: defaultStrategy,
		initialState:    initialState,
		callbacks:       map[callbackKey]registeredCallback{},
	}, nil
}

func indexPorts(ports []string) (map[string]int, error) {
	idx := make(map[string]int, len(ports))
	for i, p := range ports {
		if _, dup := idx[p]; dup {
			return nil, fmt.Errorf("duplicate port name %q", p)
		}
		idx[p] = i
	}
	return idx, nil
}

// Name returns the operation's registered name.
func (o *Operation) Name() string { return o.name }

// InPorts returns the ordered input port names.
func (o *Operation) InPorts() []string { return o.inPorts }

// OutPorts returns the ordered output port names.
func (o *Operation) OutPorts() []string { return o.outPorts }

// Arity returns |in_ports|.
func (o *Operation) Arity() int { return len(o.inPorts) }

// Strategy returns the operation's default strategy name, if any.
func (o *Operation) Strategy() string { return o.defaultStrategy }

// InitialState returns the value used to (re)initialize a worker's state,
// e.g. after a CallbackFailure restart.
func (o *Operation) InitialState() interface{} { return o.initialState }

// InPortIndex resolves a port name to its 0-based index.
func (o *Operation) InPortIndex(port string) (int, bool) {
	i, ok := o.inIndex[port]
	return i, ok
}

// OutPortIndex resolves a port name to its 0-based index.
func (o *Operation) OutPortIndex(port string) (int, bool) {
	i, ok := o.outIndex[port]
	return i, ok
}

// IndexToInPort is the inverse of InPortIndex, a helper strategies use
// (spec §4.2's `index_to_in_port`).
func (o *Operation) IndexToInPort(i int) (string, bool) {
	if i < 0 || i >= len(o.inPorts) {
		return "", false
	}
	return o.inPorts[i], true
}

// RegisterCallback adds a callback under (name, arity). info must
// faithfully describe body's behavior; skittertest's dynamic verifier
// checks that at test time.
func (o *Operation) RegisterCallback(name string, arity int, info CallbackInfo, body Callback) {
	o.callbacks[callbackKey{name: name, arity: arity}] = registeredCallback{info: info, body: body}
}

// Callbacks returns the set of (name, arity) pairs registered on this
// operation.
func (o *Operation) Callbacks() []struct {
	Name  string
	Arity int
} {
	out := make([]struct {
		Name  string
		Arity int
	}, 0, len(o.callbacks))
	for k := range o.callbacks {
		out = append(out, struct {
			Name  string
			Arity int
		}{Name: k.name, Arity: k.arity})
	}
	return out
}

// CallbackInfo returns the declared info for (name, arity), or false if
// no such callback is registered.
func (o *Operation) CallbackInfo(name string, arity int) (CallbackInfo, bool) {
	rc, ok := o.callbacks[callbackKey{name: name, arity: arity}]
	return rc.info, ok
}

// Call invokes the named callback and returns its CallbackResult. It
// fails with StrategyError if no such (name, arity) callback exists; use
// CallIfExists when absence is expected and should no-op.
func (o *Operation) Call(name string, arity int, state, config interface{}, args []interface{}) (CallbackResult, error) {
	rc, ok := o.callbacks[callbackKey{name: name, arity: arity}]
	if !ok {
		return CallbackResult{}, &StrategyError{
			Operation: o.name,
			Reason:    fmt.Sprintf("missing required callback %s/%d", name, arity),
		}
	}

	res, _ := runCallback(rc.body, state, config, args)
	return res, nil
}

// CallTraced invokes the named callback like Call, but also returns the
// primitives it actually exercised on this one invocation — the
// observed counterpart to the CallbackInfo declared at registration
// time, used by skittertest's dynamic verifier (Testable Property 1).
func (o *Operation) CallTraced(name string, arity int, state, config interface{}, args []interface{}) (CallbackResult, CallbackInfo, error) {
	rc, ok := o.callbacks[callbackKey{name: name, arity: arity}]
	if !ok {
		return CallbackResult{}, CallbackInfo{}, &StrategyError{
			Operation: o.name,
			Reason:    fmt.Sprintf("missing required callback %s/%d", name, arity),
		}
	}

	res, trace := runCallback(rc.body, state, config, args)
	return res, trace, nil
}

// CallIfExists invokes the named callback if present; otherwise it
// returns the no-op result {value: nil, state: initial_state, emit: ∅}
// per spec §4.1.
func (o *Operation) CallIfExists(name string, arity int, state, config interface{}, args []interface{}) CallbackResult {
	rc, ok := o.callbacks[callbackKey{name: name, arity: arity}]
	if !ok {
		return CallbackResult{Value: nil, State: o.initialState, Emit: map[string][]interface{}{}}
	}

	res, _ := runCallback(rc.body, state, config, args)
	return res
}
