package skitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
)

// FrameKind is the wire message kind carried by the framed RPC described
// in spec §6. Beyond the kinds spec.md names explicitly, skitter adds
// STOP (stopping a worker on another node) and
// DeployPublish/DeployData/DeployClose to carry the deployer's
// replicated-constant-store publications (spec §4.7 steps 4 and 6) —
// listed as extensions in DESIGN.md.
type FrameKind string

const (
	FrameWorkerMsg          FrameKind = "WORKER_MSG"
	FrameDeployRemoteCreate FrameKind = "DEPLOY_REMOTE_CREATE"
	FrameRegistryPut        FrameKind = "REGISTRY_PUT"
	FrameRegistryDel        FrameKind = "REGISTRY_DEL"
	FrameTagsPut            FrameKind = "TAGS_PUT"
	FrameTagsDel            FrameKind = "TAGS_DEL"
	FrameSubscribeUp        FrameKind = "SUBSCRIBE_UP"
	FrameSubscribeDown      FrameKind = "SUBSCRIBE_DOWN"
	FramePing               FrameKind = "PING"
	FramePong               FrameKind = "PONG"
	FrameStop               FrameKind = "STOP"

	FrameDeployPublish FrameKind = "DEPLOY_PUBLISH"
	FrameDeployData    FrameKind = "DEPLOY_DATA"
	FrameDeployClose   FrameKind = "DEPLOY_CLOSE"
)

// Frame is a single length-prefixed (by the underlying websocket framing)
// RPC message: a kind, an optional invocation, and a deterministic
// (JSON) payload encoding, per spec §6.
type Frame struct {
	ID         uint64          `json:"id"`
	Reply      bool            `json:"reply"`
	Kind       FrameKind       `json:"kind"`
	Invocation string          `json:"invocation,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Transport is the seam Runtime uses to reach workers/deployments that
// live on other nodes. A nil Transport means every remote send fails
// with NodeDown, which is the correct behavior for a single-process
// "local" deployment (spec §6 SKITTER_MODE=local).
type Transport interface {
	CreateRemote(node string, owner NodeRef, state interface{}, tag string, lifetime Lifetime) (WorkerRef, error)
	SendWorkerMsg(ref WorkerRef, invocation Invocation, message interface{}) error
	Stop(ref WorkerRef) error
	PublishDeployment(node string, ref DeploymentRef, flat *FlattenedWorkflow, options []*Option) error
	PublishDeploymentData(node string, ref DeploymentRef, data []interface{}) error
	Close(node string, ref DeploymentRef) error
}

type createRemotePayload struct {
	Owner    NodeRef     `json:"owner"`
	State    interface{} `json:"state"`
	Tag      string      `json:"tag"`
	Lifetime Lifetime    `json:"lifetime"`
}

type createRemoteReply struct {
	Ref WorkerRef `json:"ref"`
}

type workerMsgPayload struct {
	Ref     WorkerRef   `json:"ref"`
	Message interface{} `json:"message"`
}

type stopPayload struct {
	Ref WorkerRef `json:"ref"`
}

type publishDeploymentPayload struct {
	Ref     DeploymentRef      `json:"ref"`
	Flat    *FlattenedWorkflow `json:"flat"`
	Options []*Option          `json:"options"`
}

type publishDataPayload struct {
	Ref  DeploymentRef `json:"ref"`
	Data []interface{} `json:"data"`
}

type closePayload struct {
	Ref DeploymentRef `json:"ref"`
}

// peerConn is one duplex websocket connection to another node, used both
// to send requests and to correlate their replies by Frame.ID.
type peerConn struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	nextID  uint64
	waiters map[uint64]chan Frame
}

func newPeerConn(conn *websocket.Conn) *peerConn {
	p := &peerConn{conn: conn, waiters: map[uint64]chan Frame{}}
	go p.readLoop()
	return p
}

func (p *peerConn) readLoop() {
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		if f.Reply {
			p.mu.Lock()
			ch, ok := p.waiters[f.ID]
			if ok {
				delete(p.waiters, f.ID)
			}
			p.mu.Unlock()

			if ok {
				ch <- f
			}
		}
	}
}

func (p *peerConn) request(ctx context.Context, kind FrameKind, invocation Invocation, payload interface{}) (Frame, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}

	p.mu.Lock()
	p.nextID++
	id := p.nextID
	ch := make(chan Frame, 1)
	p.waiters[id] = ch
	p.mu.Unlock()

	frame := Frame{ID: id, Kind: kind, Invocation: string(invocation), Payload: body}
	encoded, err := json.Marshal(frame)
	if err != nil {
		return Frame{}, err
	}

	if err := p.writeRaw(encoded); err != nil {
		return Frame{}, err
	}

	select {
	case reply := <-ch:
		if reply.Error != "" {
			return reply, fmt.Errorf("%s", reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-time.After(10 * time.Second):
		return Frame{}, fmt.Errorf("skitter: transport request timed out")
	}
}

func (p *peerConn) writeRaw(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// WSTransport is the concrete Transport implementation: a fiber HTTP
// server hosting a websocket upgrade route for incoming peer
// connections, plus outbound fasthttp/websocket dialer connections to
// every other known node — the same client/server split
// builder_test.go's Test_Pipe_Websocket and loader.go's
// NewWebsocketStream exercise for ingress streams, reused here as the
// inter-node wire.
type WSTransport struct {
	nodeName string
	handler  FrameHandler

	mu    sync.RWMutex
	peers map[string]*peerConn
	dial  map[string]string // node -> ws url, dialed once on first use
}

// FrameHandler services inbound requests from other nodes against this
// node's local Runtime/Cluster.
type FrameHandler interface {
	HandleCreateRemote(owner NodeRef, state interface{}, tag string, lifetime Lifetime) (WorkerRef, error)
	HandleWorkerMsg(ref WorkerRef, invocation Invocation, message interface{}) error
	HandleStop(ref WorkerRef) error
	HandlePublishDeployment(ref DeploymentRef, flat *FlattenedWorkflow, options []*Option) error
	HandlePublishData(ref DeploymentRef, data []interface{}) error
	HandleClose(ref DeploymentRef) error
}

// NewWSTransport returns a transport for node nodeName. Call Serve to
// mount its websocket route on a fiber app, and Dial to register the
// address of a peer node before sending it anything.
func NewWSTransport(nodeName string, handler FrameHandler) *WSTransport {
	return &WSTransport{
		nodeName: nodeName,
		handler:  handler,
		peers:    map[string]*peerConn{},
		dial:     map[string]string{},
	}
}

// Serve mounts the cluster websocket upgrade endpoint at path on app,
// mirroring the fiber route + websocket.New handler pattern
// builder_test.go exercises for stream ingress.
func (t *WSTransport) Serve(app *fiber.App, path string) {
	app.Use(path, func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get(path, fiberws.New(func(c *fiberws.Conn) {
		t.serveConn(c.Conn)
	}))
}

func (t *WSTransport) serveConn(conn *websocket.Conn) {
	peer := newPeerConn(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}
		if f.Reply {
			continue
		}

		go t.dispatch(peer, f)
	}
}

func (t *WSTransport) dispatch(peer *peerConn, f Frame) {
	reply := Frame{ID: f.ID, Reply: true, Kind: f.Kind}

	var payload interface{}
	var err error

	switch f.Kind {
	case FrameDeployRemoteCreate:
		var p createRemotePayload
		if err = json.Unmarshal(f.Payload, &p); err == nil {
			var ref WorkerRef
			ref, err = t.handler.HandleCreateRemote(p.Owner, p.State, p.Tag, p.Lifetime)
			payload = createRemoteReply{Ref: ref}
		}
	case FrameWorkerMsg:
		var p workerMsgPayload
		if err = json.Unmarshal(f.Payload, &p); err == nil {
			err = t.handler.HandleWorkerMsg(p.Ref, Invocation(f.Invocation), p.Message)
		}
	case FrameStop:
		var p stopPayload
		if err = json.Unmarshal(f.Payload, &p); err == nil {
			err = t.handler.HandleStop(p.Ref)
		}
	case FrameDeployPublish:
		var p publishDeploymentPayload
		if err = json.Unmarshal(f.Payload, &p); err == nil {
			err = t.handler.HandlePublishDeployment(p.Ref, p.Flat, p.Options)
		}
	case FrameDeployData:
		var p publishDataPayload
		if err = json.Unmarshal(f.Payload, &p); err == nil {
			err = t.handler.HandlePublishData(p.Ref, p.Data)
		}
	case FrameDeployClose:
		var p closePayload
		if err = json.Unmarshal(f.Payload, &p); err == nil {
			err = t.handler.HandleClose(p.Ref)
		}
	case FramePing:
		reply.Kind = FramePong
	default:
		err = fmt.Errorf("skitter: unknown frame kind %q", f.Kind)
	}

	if err != nil {
		reply.Error = err.Error()
	} else if payload != nil {
		reply.Payload, _ = json.Marshal(payload)
	}

	encoded, mErr := json.Marshal(reply)
	if mErr == nil {
		_ = peer.writeRaw(encoded)
	}
}

// Dial records addr (a ws:// URL) as where node's cluster endpoint can
// be reached; the connection itself is established lazily on first use.
func (t *WSTransport) Dial(node, addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dial[node] = addr
}

func (t *WSTransport) peerFor(node string) (*peerConn, error) {
	t.mu.RLock()
	p, ok := t.peers[node]
	t.mu.RUnlock()
	if ok {
		return p, nil
	}

	t.mu.RLock()
	addr, ok := t.dial[node]
	t.mu.RUnlock()
	if !ok {
		return nil, &NodeDown{Node: node}
	}

	conn, _, err := websocket.DefaultDialer.Dial(addr, http.Header{})
	if err != nil {
		return nil, &NodeDown{Node: node}
	}

	peer := newPeerConn(conn)

	t.mu.Lock()
	t.peers[node] = peer
	t.mu.Unlock()

	return peer, nil
}

func (t *WSTransport) CreateRemote(node string, owner NodeRef, state interface{}, tag string, lifetime Lifetime) (WorkerRef, error) {
	peer, err := t.peerFor(node)
	if err != nil {
		return WorkerRef{}, err
	}

	reply, err := peer.request(context.Background(), FrameDeployRemoteCreate, "", createRemotePayload{Owner: owner, State: state, Tag: tag, Lifetime: lifetime})
	if err != nil {
		return WorkerRef{}, err
	}

	var r createRemoteReply
	if err := json.Unmarshal(reply.Payload, &r); err != nil {
		return WorkerRef{}, err
	}
	return r.Ref, nil
}

func (t *WSTransport) SendWorkerMsg(ref WorkerRef, invocation Invocation, message interface{}) error {
	peer, err := t.peerFor(ref.Node)
	if err != nil {
		return err
	}

	_, err = peer.request(context.Background(), FrameWorkerMsg, invocation, workerMsgPayload{Ref: ref, Message: message})
	return err
}

func (t *WSTransport) Stop(ref WorkerRef) error {
	peer, err := t.peerFor(ref.Node)
	if err != nil {
		return err
	}
	_, err = peer.request(context.Background(), FrameStop, "", stopPayload{Ref: ref})
	return err
}

func (t *WSTransport) PublishDeployment(node string, ref DeploymentRef, flat *FlattenedWorkflow, options []*Option) error {
	peer, err := t.peerFor(node)
	if err != nil {
		return err
	}
	_, err = peer.request(context.Background(), FrameDeployPublish, "", publishDeploymentPayload{Ref: ref, Flat: flat, Options: options})
	return err
}

func (t *WSTransport) PublishDeploymentData(node string, ref DeploymentRef, data []interface{}) error {
	peer, err := t.peerFor(node)
	if err != nil {
		return err
	}
	_, err = peer.request(context.Background(), FrameDeployData, "", publishDataPayload{Ref: ref, Data: data})
	return err
}

func (t *WSTransport) Close(node string, ref DeploymentRef) error {
	peer, err := t.peerFor(node)
	if err != nil {
		return err
	}
	_, err = peer.request(context.Background(), FrameDeployClose, "", closePayload{Ref: ref})
	return err
}
