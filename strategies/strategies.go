// Package strategies provides the reference Strategy implementations
// skitter's worked examples and tests deploy against: Broadcast (one
// deployment-lifetime worker per operation instance), Keyed (one
// aggregator per worker core, records routed by a registered "key"
// callback), and Matched (buffers multi-input records through a
// Matcher before invoking the worker). These illustrate the strategy
// protocol's shape; a real deployment supplies its own.
package strategies

import (
	"fmt"

	skitter "github.com/skitter-run/skitter"
)

func toProcessResult(res skitter.CallbackResult) skitter.ProcessResult {
	state := res.State
	return skitter.ProcessResult{State: &state, Emit: res.Emit}
}

func resolveConfig(ctx skitter.Context, args interface{}) interface{} {
	if _, ok := ctx.Operation.CallbackInfo("conf", 0); !ok {
		return args
	}
	res, err := ctx.Operation.Call("conf", 0, nil, nil, []interface{}{args})
	if err != nil {
		return args
	}
	return res.Value
}

func keyOf(ctx skitter.Context, record interface{}) (int, error) {
	res, err := ctx.Operation.Call("key", 1, nil, nil, []interface{}{record})
	if err != nil {
		return 0, err
	}
	switch v := res.Value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("skitter: strategies: key callback returned non-numeric value %v", res.Value)
	}
}

// broadcastData is the deployment_data for Broadcast: the single
// worker every Deliver forwards to, plus the resolved static config
// every Process call sees.
type broadcastData struct {
	Ref    skitter.WorkerRef
	Config interface{}
}

// Broadcast deploys exactly one deployment-lifetime worker and forwards
// every record to it unconditionally, invoking the operation's "react"
// callback of arity 1 with that record as its single argument (spec E1
// and E2's shape).
type Broadcast struct{}

func (Broadcast) Deploy(ctx skitter.Context, args interface{}) (interface{}, error) {
	ref, err := ctx.CreateLocal(ctx.Operation.InitialState(), "", skitter.LifetimeDeployment)
	if err != nil {
		return nil, err
	}
	return &broadcastData{Ref: ref, Config: resolveConfig(ctx, args)}, nil
}

func (Broadcast) Deliver(ctx skitter.Context, record interface{}, inPortIndex int) error {
	data, ok := ctx.DeploymentData.(*broadcastData)
	if !ok {
		return fmt.Errorf("skitter: strategies: Broadcast.Deliver called without deployment data")
	}
	return ctx.Send(data.Ref, ctx.Invocation, record)
}

func (Broadcast) Process(ctx skitter.Context, message interface{}, workerState interface{}, tag string) (skitter.ProcessResult, error) {
	data, _ := ctx.DeploymentData.(*broadcastData)
	var config interface{}
	if data != nil {
		config = data.Config
	}

	res, err := ctx.Operation.Call("react", 1, workerState, config, []interface{}{message})
	if err != nil {
		return skitter.ProcessResult{}, err
	}
	return toProcessResult(res), nil
}

// keyedData is the deployment_data for Keyed: the ordered table of
// per-worker-core aggregator refs records are hashed across.
type keyedData struct {
	Refs []skitter.WorkerRef
}

// Keyed deploys one aggregator worker per connected worker core (or
// just one, locally, if the cluster has none) and routes each record
// to workers[key(record) mod len(workers)], so records sharing a key
// always land on the same worker (spec E3's shape).
type Keyed struct{}

func (Keyed) Deploy(ctx skitter.Context, args interface{}) (interface{}, error) {
	cores := ctx.WorkerCores()
	if len(cores) == 0 {
		ref, err := ctx.CreateLocal(ctx.Operation.InitialState(), "", skitter.LifetimeDeployment)
		if err != nil {
			return nil, err
		}
		return &keyedData{Refs: []skitter.WorkerRef{ref}}, nil
	}

	refs := make([]skitter.WorkerRef, 0, len(cores))
	for _, core := range cores {
		ref, err := ctx.CreateRemote(ctx.Operation.InitialState(), "", skitter.LifetimeDeployment, skitter.Placement{On: core})
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return &keyedData{Refs: refs}, nil
}

func (Keyed) Deliver(ctx skitter.Context, record interface{}, inPortIndex int) error {
	data, ok := ctx.DeploymentData.(*keyedData)
	if !ok || len(data.Refs) == 0 {
		return fmt.Errorf("skitter: strategies: Keyed.Deliver called without deployment data")
	}

	key, err := keyOf(ctx, record)
	if err != nil {
		return err
	}

	idx := key % len(data.Refs)
	if idx < 0 {
		idx += len(data.Refs)
	}

	return ctx.Send(data.Refs[idx], ctx.Invocation, record)
}

func (Keyed) Process(ctx skitter.Context, message interface{}, workerState interface{}, tag string) (skitter.ProcessResult, error) {
	res, err := ctx.Operation.Call("react", 1, workerState, nil, []interface{}{message})
	if err != nil {
		return skitter.ProcessResult{}, err
	}
	return toProcessResult(res), nil
}

// matchedData is the deployment_data for Matched: the single worker
// records eventually reach, and the Matcher buffering partial arrivals
// per invocation until every in-port has contributed.
type matchedData struct {
	Ref     skitter.WorkerRef
	Matcher *skitter.Matcher
}

// Matched deploys one deployment-lifetime worker and buffers records
// arriving on different in-ports through a Matcher, forwarding the
// assembled, port-index-ordered argument vector to the worker only once
// every in-port has a value for that invocation (spec §4.5, E4's shape).
type Matched struct{}

func (Matched) Deploy(ctx skitter.Context, args interface{}) (interface{}, error) {
	ref, err := ctx.CreateLocal(ctx.Operation.InitialState(), "", skitter.LifetimeDeployment)
	if err != nil {
		return nil, err
	}
	return &matchedData{Ref: ref, Matcher: skitter.NewMatcher()}, nil
}

func (Matched) Deliver(ctx skitter.Context, record interface{}, inPortIndex int) error {
	data, ok := ctx.DeploymentData.(*matchedData)
	if !ok {
		return fmt.Errorf("skitter: strategies: Matched.Deliver called without deployment data")
	}

	result := data.Matcher.Add(skitter.Token{Invocation: ctx.Invocation, PortIndex: inPortIndex, Value: record}, ctx.Operation.Arity())
	if !result.Ready {
		return nil
	}

	return ctx.Send(data.Ref, ctx.Invocation, result.Args)
}

func (Matched) Process(ctx skitter.Context, message interface{}, workerState interface{}, tag string) (skitter.ProcessResult, error) {
	args, ok := message.([]interface{})
	if !ok {
		return skitter.ProcessResult{}, fmt.Errorf("skitter: strategies: Matched.Process expected a matched argument vector")
	}

	res, err := ctx.Operation.Call("react", ctx.Operation.Arity(), workerState, nil, args)
	if err != nil {
		return skitter.ProcessResult{}, err
	}
	return toProcessResult(res), nil
}
