package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	skitter "github.com/skitter-run/skitter"
)

func exitCodeFor(err error) int {
	switch err.(type) {
	case *skitter.DefinitionError:
		return skitter.ExitInvalidConfig
	case *skitter.NodeDown:
		return skitter.ExitClusterJoinFailure
	}
	return skitter.ExitInternalInvariant
}

// runServe is the body shared by `skitter master`/`skitter worker`/
// `skitter local`: load config, build the cluster/runtime/transport,
// deploy a topology if one was given, serve /health and the cluster
// websocket endpoint, and block until interrupted — the same
// viper.GetInt + signal.Notify + ctx-with-timeout shutdown shape
// cmd/cmd/serve.go used around machine.Pipe.Run.
func runServe(mode skitter.Mode) error {
	cfg, err := skitter.LoadConfig(cfgFile)
	if err != nil {
		return err
	}
	cfg.Mode = mode

	logger := logrus.New()

	cluster := skitter.NewCluster(cfg.NodeName, cfg.Mode)
	rt := skitter.NewRuntime(cfg.NodeName, nil, nil, cluster, nil, logger)

	ws := skitter.NewWSTransport(cfg.NodeName, rt)
	rt.SetTransport(ws)
	admin := skitter.NewAdminServer(rt, cfg.Mode, ws, "/skitter/cluster")

	if mode == skitter.ModeMaster {
		// SKITTER_WORKERS enumerates the worker cores the master trusts
		// (spec §6); the master admits them directly rather than waiting
		// on a discovery handshake, then dials each one over the cluster
		// websocket transport for create_remote/WORKER_MSG traffic.
		for _, node := range cfg.Workers {
			if err := cluster.Connect(node, skitter.ModeWorker, nil); err != nil {
				logger.WithError(err).WithField("node", node).Warn("skitter: could not admit configured worker")
				continue
			}
			ws.Dial(node, fmt.Sprintf("ws://%s/skitter/cluster", node))
		}
	}

	if topologyPath := viper.GetString("topology"); topologyPath != "" {
		workflow, err := skitter.LoadTopology(topologyPath)
		if err != nil {
			return err
		}
		if _, err := rt.Deploy(workflow); err != nil {
			return err
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)

	serveCtx, cancel := context.WithCancel(context.Background())
	go func() {
		<-quit
		cancel()
	}()

	gracePeriod := time.Duration(cfg.GracePeriod) * time.Second
	addr := fmt.Sprintf(":%d", cfg.Port)

	logger.WithFields(logrus.Fields{"node": cfg.NodeName, "mode": cfg.Mode, "addr": addr}).Info("skitter: starting")

	return admin.Run(serveCtx, addr, gracePeriod)
}

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "starts a master node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(skitter.ModeMaster)
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "starts a worker node",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(skitter.ModeWorker)
	},
}

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "starts a single-process node with no cluster (development/testing)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(skitter.ModeLocal)
	},
}

func init() {
	rootCmd.AddCommand(masterCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(localCmd)

	_ = viper.BindPFlag("topology", rootCmd.PersistentFlags().Lookup("topology"))
}
