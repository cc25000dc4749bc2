package skitter

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// WorkerRef is the routable address of a worker. Refs are unique per
// worker and are produced by create_local/create_remote; two workers
// created with identical inputs get distinct refs but indistinguishable
// initial state (Testable Property 6).
type WorkerRef struct {
	ID   string
	Node string
}

func (w WorkerRef) String() string {
	if w.Node == "" {
		return w.ID
	}
	return w.Node + "/" + w.ID
}

func newWorkerID() string {
	return uuid.New().String()
}

// DeploymentRef identifies one run of Deploy. It is published alongside
// the flattened link-table and deployment-data vector so every node can
// key its replicated stores consistently (skitter_links, R) etc.
type DeploymentRef string

func newDeploymentRef() DeploymentRef {
	return DeploymentRef(uuid.New().String())
}

// Invocation is an opaque token correlating a logical firing across a
// workflow. It is time-sortable so supervisors and matchers can reason
// about ordering without a central sequence generator. The sentinel
// External marks records that entered the system from outside (i.e. the
// output of a source's deploy-allocated worker in response to its own
// Subscription, not in response to another invocation).
type Invocation string

// External is the sentinel invocation token for records that originate
// outside the system, per the Context.invocation contract in spec §3.
const External Invocation = "external"

var (
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
	ulidMu      sync.Mutex
)

// NewInvocation mints a fresh, monotonically-sortable invocation token.
func NewInvocation() Invocation {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return Invocation(ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String())
}
