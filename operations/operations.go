// Package operations provides the worked-example operations skitter's
// end-to-end tests deploy: Average, Print, KeyedState, and Adder — the
// four operations spec.md's testable scenarios E1-E4 are built around.
// They illustrate the operation/callback model's shape only; skitter
// itself ships no built-in operations beyond these examples.
package operations

import (
	"fmt"

	skitter "github.com/skitter-run/skitter"
)

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// NewAverage builds the E1 operation: in=[value] out=[current], state
// {total, count}, react(v) accumulates and emits the running mean.
func NewAverage() (*skitter.Operation, error) {
	op, err := skitter.NewOperation("average", []string{"value"}, []string{"current"},
		map[string]interface{}{"total": 0.0, "count": 0.0}, "")
	if err != nil {
		return nil, err
	}

	op.RegisterCallback("react", 1, skitter.CallbackInfo{ReadsState: true, WritesState: true, Emits: true},
		func(c *skitter.Call) interface{} {
			state, _ := c.ReadState().(map[string]interface{})
			total := toFloat(state["total"]) + toFloat(c.Args()[0])
			count := toFloat(state["count"]) + 1

			c.WriteState(map[string]interface{}{"total": total, "count": count})

			current := total / count
			c.Emit("current", []interface{}{current})
			return current
		})

	return op, nil
}

// NewPrint builds the E2 operation: in=_ out=_, conf(str) fixes a
// label, react(v) prints "label: v" and forwards v unchanged.
func NewPrint() (*skitter.Operation, error) {
	op, err := skitter.NewOperation("print", []string{"_"}, []string{"_"}, nil, "")
	if err != nil {
		return nil, err
	}

	op.RegisterCallback("conf", 0, skitter.CallbackInfo{}, func(c *skitter.Call) interface{} {
		label, _ := c.Args()[0].(string)
		return label
	})

	op.RegisterCallback("react", 1, skitter.CallbackInfo{Emits: true}, func(c *skitter.Call) interface{} {
		label, _ := c.Config().(string)
		v := c.Args()[0]
		fmt.Printf("%s: %q\n", label, v)
		c.Emit("_", []interface{}{v})
		return v
	})

	return op, nil
}

// NewKeyedState builds the E3 operation: key(v) = v mod 4 picks the
// aggregator, react(v) (state accessed via read_state/write_state)
// accumulates a running partial sum and emits it.
func NewKeyedState() (*skitter.Operation, error) {
	op, err := skitter.NewOperation("keyed_state", []string{"_"}, []string{"out"}, 0, "")
	if err != nil {
		return nil, err
	}

	op.RegisterCallback("key", 1, skitter.CallbackInfo{}, func(c *skitter.Call) interface{} {
		return toInt(c.Args()[0]) % 4
	})

	op.RegisterCallback("react", 1, skitter.CallbackInfo{ReadsState: true, WritesState: true, Emits: true},
		func(c *skitter.Call) interface{} {
			next := toInt(c.ReadState()) + toInt(c.Args()[0])
			c.WriteState(next)
			c.Emit("out", []interface{}{next})
			return next
		})

	return op, nil
}

// NewAdder builds the E4 operation: in=[a,b] out=[sum], react(a,b) =
// a+b — a pure, stateless two-input operation exercising the matcher.
func NewAdder() (*skitter.Operation, error) {
	op, err := skitter.NewOperation("adder", []string{"a", "b"}, []string{"sum"}, nil, "")
	if err != nil {
		return nil, err
	}

	op.RegisterCallback("react", 2, skitter.CallbackInfo{Emits: true}, func(c *skitter.Call) interface{} {
		sum := toFloat(c.Args()[0]) + toFloat(c.Args()[1])
		c.Emit("sum", []interface{}{sum})
		return sum
	})

	return op, nil
}
