package skitter

// Router translates an operation instance's emitted records into
// per-destination Deliver calls against the flattened workflow's
// link-table (spec §4.4). The link-table is published once at deploy
// time and is read-only thereafter, so lookups need no cross-node
// coordination (spec §5). One Router serves every deployment a Runtime
// hosts; it looks the right link-table up by DeploymentRef on each call.
type Router struct {
	rt *Runtime
}

func newRouter(rt *Runtime) *Router {
	return &Router{rt: rt}
}

// route delivers every record in records to every destination linked
// from (srcNode, port), exactly once per (record, destination) pair
// (Testable Property 4). A port absent from the link-table discards its
// records (sink behavior, spec §4.4 step 4).
func (r *Router) route(srcNode NodeRef, port string, records []taggedRecord) {
	d, err := r.rt.getDeployment(srcNode.Deployment)
	if err != nil {
		r.rt.logger().WithError(err).Error("skitter: router: unknown deployment")
		return
	}
	flat := d.flat

	if flat == nil || srcNode.Index >= len(flat.Nodes) {
		return
	}

	targets := flat.Nodes[srcNode.Index].Links[port]
	if len(targets) == 0 {
		return
	}

	for _, rec := range records {
		for _, target := range targets {
			r.deliverOne(srcNode.Deployment, target, rec)
		}
	}
}

func (r *Router) deliverOne(dep DeploymentRef, target LinkTarget, rec taggedRecord) {
	ctx, strat, err := r.rt.contextFor(dep, target.NodeIndex)
	if err != nil {
		r.rt.logger().WithError(err).Error("skitter: router: cannot build destination context")
		return
	}
	ctx = ctx.WithInvocation(rec.invocation)

	dstOpt := ctx.runtimeOption()
	if err := instrumented(ctx.ctx, dstOpt, "router.deliver", ctx.Operation.Name(), 1, func() error {
		return strat.Deliver(ctx, rec.value, target.PortIndex)
	}); err != nil {
		r.rt.logger().WithError(err).WithField("operation", ctx.Operation.Name()).Warn("skitter: router: deliver failed, dropping record")
	}
}

func (c Context) runtimeOption() *Option {
	if c.runtime == nil {
		return defaultOption
	}
	return c.runtime.optionFor(c.Node)
}
