package skitter

import "sync"

// Token is a single arrival at the matcher, per spec §4.5.
type Token struct {
	Invocation Invocation
	PortIndex  int
	Value      interface{}
}

type partial struct {
	values map[int]interface{}
	arity  int
}

// Matcher buffers per-invocation partial token sets for multi-input
// operations until every in-port has contributed a value, then returns
// the values ordered by port index (spec §4.5, Testable Property 3).
// Duplicate tokens for the same (invocation, port-idx) overwrite, which
// strategies may rely on for replay.
type Matcher struct {
	mu      sync.Mutex
	pending map[Invocation]*partial
}

// NewMatcher returns an empty matcher.
func NewMatcher() *Matcher {
	return &Matcher{pending: map[Invocation]*partial{}}
}

// MatchResult is the outcome of Add: either Ready with the ordered
// argument vector, or Pending.
type MatchResult struct {
	Ready bool
	Args  []interface{}
}

// Add records tok against arity (the target operation's input arity)
// and reports whether the invocation is now complete.
func (m *Matcher) Add(tok Token, arity int) MatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[tok.Invocation]
	if !ok {
		p = &partial{values: map[int]interface{}{}, arity: arity}
		m.pending[tok.Invocation] = p
	}

	p.values[tok.PortIndex] = tok.Value

	if len(p.values) < p.arity {
		return MatchResult{Ready: false}
	}

	delete(m.pending, tok.Invocation)

	args := make([]interface{}, p.arity)
	for i := 0; i < p.arity; i++ {
		args[i] = p.values[i]
	}

	return MatchResult{Ready: true, Args: args}
}
