package skitter

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
)

// clusterStatus is what /cluster/status reports, mirroring the
// HealthInfo shape the teacher's Pipe exposed at /health — one JSON
// snapshot of liveness, here scoped to cluster membership instead of
// per-stream last-payload times.
type clusterStatus struct {
	Node  string   `json:"node"`
	Mode  string   `json:"mode"`
	Nodes []string `json:"nodes"`
}

// AdminServer is the node-local HTTP surface: a /health liveness probe
// and a /cluster/status membership snapshot, hosted by a fiber.App the
// same way the teacher's Pipe.Run hosted /health and /stream/:id on one
// app instance. It also mounts the node's cluster websocket transport
// endpoint when one is configured.
type AdminServer struct {
	app     *fiber.App
	rt      *Runtime
	mode    Mode
	log     *logrus.Logger
	ws      *WSTransport
	wsPath  string
}

// NewAdminServer builds the admin app for rt, reporting mode in
// /cluster/status. If ws is non-nil, its websocket route is mounted at
// wsPath so peer nodes can dial in.
func NewAdminServer(rt *Runtime, mode Mode, ws *WSTransport, wsPath string) *AdminServer {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())

	s := &AdminServer{app: app, rt: rt, mode: mode, log: rt.logger(), ws: ws, wsPath: wsPath}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "node": rt.NodeName})
	})

	app.Get("/cluster/status", func(c *fiber.Ctx) error {
		return c.JSON(clusterStatus{
			Node:  rt.NodeName,
			Mode:  string(mode),
			Nodes: rt.cluster.Nodes(),
		})
	})

	if ws != nil {
		ws.Serve(app, wsPath)
	}

	return s
}

// Run listens on addr until ctx is canceled, then shuts the app down,
// logging a warning if that takes longer than gracePeriod (the shutdown
// itself is not cut short) — the same ctx.Done()-triggered
// app.Shutdown() pattern the teacher's Pipe.Run used for graceful
// termination.
func (s *AdminServer) Run(ctx context.Context, addr string, gracePeriod time.Duration) error {
	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod)
		defer cancel()

		done := make(chan struct{})
		go func() {
			if err := s.app.Shutdown(); err != nil {
				s.log.WithError(err).Error("skitter: admin server shutdown error")
			}
			close(done)
		}()

		select {
		case <-done:
		case <-shutdownCtx.Done():
			s.log.Warn("skitter: admin server shutdown exceeded grace period")
		}
	}()

	return s.app.Listen(addr)
}
