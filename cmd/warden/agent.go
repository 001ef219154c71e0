package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/basinlabs/warden/pkg/agent"
	"github.com/basinlabs/warden/pkg/log"
	"github.com/basinlabs/warden/pkg/runtime"
	"github.com/basinlabs/warden/pkg/types"
	"github.com/spf13/cobra"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a node agent",
	RunE:  runAgent,
}

func init() {
	agentCmd.Flags().String("control-plane", "http://127.0.0.1:7500", "Control plane address")
	agentCmd.Flags().String("listen", "0.0.0.0:7501", "Address this agent listens on for directives")
	agentCmd.Flags().String("endpoint", "", "Address the control plane should use to reach this agent (defaults to http:// followed by the --listen address)")
	agentCmd.Flags().String("data-dir", "./warden-agent-data", "Data directory for node identity")
	agentCmd.Flags().String("containerd-socket", "/run/containerd/containerd.sock", "Containerd socket path")
	agentCmd.Flags().Int64("cpu", 4000, "CPU millicores advertised to the control plane")
	agentCmd.Flags().Int64("memory", 8192, "Memory in MB advertised to the control plane")
	agentCmd.Flags().Duration("heartbeat-interval", 5*time.Second, "Heartbeat send interval")
	agentCmd.Flags().Duration("monitor-interval", 5*time.Second, "Task status poll interval")
}

func runAgent(cmd *cobra.Command, args []string) error {
	controlPlane, _ := cmd.Flags().GetString("control-plane")
	listen, _ := cmd.Flags().GetString("listen")
	endpoint, _ := cmd.Flags().GetString("endpoint")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	socket, _ := cmd.Flags().GetString("containerd-socket")
	cpu, _ := cmd.Flags().GetInt64("cpu")
	memory, _ := cmd.Flags().GetInt64("memory")
	heartbeatInterval, _ := cmd.Flags().GetDuration("heartbeat-interval")
	monitorInterval, _ := cmd.Flags().GetDuration("monitor-interval")

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	rt, err := runtime.NewContainerdRuntime(socket)
	if err != nil {
		return fmt.Errorf("connect to containerd: %w", err)
	}

	if endpoint == "" {
		endpoint = "http://" + listen
	}

	a, err := agent.New(agent.Config{
		DataDir:           dataDir,
		ControlPlaneURL:   controlPlane,
		Endpoint:          endpoint,
		Resources:         types.NodeResources{CPU: cpu, Memory: memory},
		HeartbeatInterval: heartbeatInterval,
		MonitorInterval:   monitorInterval,
	}, rt)
	if err != nil {
		return fmt.Errorf("create agent: %w", err)
	}

	logger := log.WithComponent("agent-cmd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start agent: %w", err)
	}
	defer a.Close()

	httpServer := &http.Server{Addr: listen, Handler: a.Handler()}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("node_id", a.NodeID()).Str("addr", listen).Msg("agent listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-sigCh:
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
