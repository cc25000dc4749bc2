package skitter

// CallbackInfo declares whether a callback reads state, writes state, or
// emits, as required by spec §4.1. It must be supplied at registration
// time and must agree with what the callback actually does; skittertest
// provides a dynamic trace-based verifier (Testable Property 1) to check
// that agreement in tests.
type CallbackInfo struct {
	ReadsState  bool
	WritesState bool
	Emits       bool
}

// CallbackResult is the outcome of invoking a callback: the value of its
// final expression, its (possibly unchanged) resulting state, and the
// accumulated per-port emit map.
type CallbackResult struct {
	Value interface{}
	State interface{}
	Emit  map[string][]interface{}
}

// Callback is the restricted mini-language body described in spec §4.1.
// It is invoked with a *Call exposing exactly the five primitives
// (read_state, read_field, write_state, write_field, emit) plus read-only
// access to config and args, and returns the callback's value.
type Callback func(c *Call) interface{}

// Call is the execution context handed to a Callback. It accumulates the
// primitives' effects so the executor can assemble a CallbackResult once
// the body returns.
type Call struct {
	config interface{}
	args   []interface{}

	state   interface{}
	touched bool // state ever read (read_state or read_field)
	written bool // state ever written (write_state or write_field)
	emitted bool
	emit    map[string][]interface{}
}

// Config returns the static configuration the operation instance was
// deployed with.
func (c *Call) Config() interface{} { return c.config }

// Args returns the positional arguments passed to this callback
// invocation (e.g. the matcher's port-index-ordered values).
func (c *Call) Args() []interface{} { return c.args }

// ReadState implements the read_state primitive.
func (c *Call) ReadState() interface{} {
	c.touched = true
	return c.state
}

// ReadField implements the read_field primitive: state must be a record
// (map[string]interface{}), else MissingField.
func (c *Call) ReadField(field string) (interface{}, error) {
	c.touched = true

	m, ok := c.state.(map[string]interface{})
	if !ok {
		return nil, &MissingField{Field: field}
	}

	v, ok := m[field]
	if !ok {
		return nil, &MissingField{Field: field}
	}

	return v, nil
}

// WriteState implements the write_state primitive.
func (c *Call) WriteState(v interface{}) {
	c.written = true
	c.state = v
}

// WriteField implements the write_field primitive: state must already be
// a record (or absent/nil, in which case a fresh record is created).
func (c *Call) WriteField(field string, v interface{}) error {
	m, ok := c.state.(map[string]interface{})
	if !ok {
		if c.state != nil {
			return &MissingField{Field: field}
		}
		m = map[string]interface{}{}
	} else {
		out := make(map[string]interface{}, len(m)+1)
		for k, val := range m {
			out[k] = val
		}
		m = out
	}

	m[field] = v
	c.written = true
	c.state = m
	return nil
}

// Emit implements the emit primitive: emit[port] <- seq, overwriting any
// prior value for that port within this invocation.
func (c *Call) Emit(port string, seq []interface{}) {
	c.emitted = true
	if c.emit == nil {
		c.emit = map[string][]interface{}{}
	}
	c.emit[port] = seq
}

// runCallback executes body against (state, config, args) and assembles
// the CallbackResult per the §4.1 executor guarantees: state' is the
// final write_state/write_field value (or the input state if neither was
// called), emit is the accumulated map, value is the body's return. The
// second return value is the *observed* trace for this one invocation —
// which primitives actually fired — in the same shape as the info
// declared at registration time; skittertest compares an accumulation
// of these across random inputs against the declared CallbackInfo.
func runCallback(body Callback, state, config interface{}, args []interface{}) (res CallbackResult, trace CallbackInfo) {
	c := &Call{config: config, args: args, state: state}
	value := body(c)

	return CallbackResult{
		Value: value,
		State: c.state,
		Emit:  c.emit,
	}, CallbackInfo{ReadsState: c.touched, WritesState: c.written, Emits: c.emitted}
}
