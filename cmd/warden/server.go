package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/basinlabs/warden/pkg/api"
	"github.com/basinlabs/warden/pkg/executor"
	"github.com/basinlabs/warden/pkg/log"
	"github.com/basinlabs/warden/pkg/metrics"
	"github.com/basinlabs/warden/pkg/nodemanager"
	"github.com/basinlabs/warden/pkg/resourcemanager"
	"github.com/basinlabs/warden/pkg/scheduler"
	"github.com/basinlabs/warden/pkg/storage"
	"github.com/basinlabs/warden/pkg/transport"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the control plane",
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().String("listen", "127.0.0.1:7500", "HTTP listen address")
	serverCmd.Flags().String("data-dir", "./warden-data", "Data directory for the embedded store")
	serverCmd.Flags().Duration("sweep-interval", 5*time.Second, "Node-health sweep interval")
	serverCmd.Flags().Duration("sweep-timeout", 15*time.Second, "Heartbeat timeout before a node is marked unhealthy")
	serverCmd.Flags().String("test-api-key", os.Getenv("WARDEN_TEST_API_KEY"), "API key gating /test/clear-all (empty disables it)")
}

func runServer(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	sweepInterval, _ := cmd.Flags().GetDuration("sweep-interval")
	sweepTimeout, _ := cmd.Flags().GetDuration("sweep-timeout")
	testAPIKey, _ := cmd.Flags().GetString("test-api-key")

	metrics.SetVersion(Version)

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	nm := nodemanager.New(store)

	planCh := make(chan scheduler.JobPlan, 256)
	sched := scheduler.New(nm, planCh)
	sched.Open()
	defer sched.Close()

	at := transport.NewHTTPTransport()
	exec := executor.New(nm, at, planCh)
	exec.Open()
	defer exec.Close()

	rm := resourcemanager.New(nm, resourcemanager.Config{Interval: sweepInterval, Timeout: sweepTimeout})
	rm.Open()
	defer rm.Close()

	collector := metrics.NewCollector(nm)
	collector.Start()
	defer collector.Stop()

	metrics.RegisterComponent("store", true, "")
	metrics.RegisterComponent("scheduler", true, "")
	metrics.RegisterComponent("executor", true, "")

	srv := api.New(nm, sched, exec, testAPIKey)

	httpServer := &http.Server{
		Addr:    listen,
		Handler: srv.Handler(),
	}

	logger := log.WithComponent("server")

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", listen).Msg("control plane listening")
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

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}
