package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetgraph/fleetgraph/pkg/api"
	"github.com/fleetgraph/fleetgraph/pkg/config"
	"github.com/fleetgraph/fleetgraph/pkg/log"
	"github.com/fleetgraph/fleetgraph/pkg/manager"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "fleetgraph-manager",
	Short:   "fleetgraph cluster authority: worker registry, graph commit, lifecycle control",
	Version: Version,
	RunE:    runManager,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetgraph-manager version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.Flags().String("id", "", "Manager id (generated if empty)")
	rootCmd.Flags().String("ip", "0.0.0.0", "Address to bind the north-bound API to")
	rootCmd.Flags().Int("port", 8000, "Port to bind the north-bound API to")
	rootCmd.Flags().String("log-dir", "./fleetgraph-manager-data", "Directory for session archives")
	rootCmd.Flags().String("config", "", "Path to a fleetgraph config YAML file")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runManager(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("id")
	ip, _ := cmd.Flags().GetString("ip")
	port, _ := cmd.Flags().GetInt("port")
	logDir, _ := cmd.Flags().GetString("log-dir")
	configPath, _ := cmd.Flags().GetString("config")

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mgrLog := log.Logger
	mgr := manager.New(manager.Config{
		ID:               id,
		IP:               ip,
		Port:             port,
		LogDir:           logDir,
		CommitTimeout:    appCfg.ManagerTimeoutCommit,
		LifecycleTimeout: appCfg.ManagerTimeoutLifecycle,
	}, manager.NewHTTPWorkerClient(appCfg.ManagerTimeoutLifecycle), mgrLog)

	server := api.NewServer(mgr, appCfg, mgrLog)
	collector := manager.NewMetricsCollector(mgr)

	mgr.Start()
	collector.Start()

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", ip, port),
		Handler: server.Engine(),
	}

	fmt.Println("Starting fleetgraph manager...")
	fmt.Printf("  North-bound API: http://%s:%d\n", ip, port)
	fmt.Printf("  Log directory: %s\n", logDir)
	fmt.Println()

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	fmt.Println("Manager is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("north-bound API server: %w", err)
	case <-sigCh:
	}

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	collector.Stop()
	_ = mgr.Workers.Shutdown(ctx)
	_ = mgr.Shutdown(ctx)
	_ = httpSrv.Shutdown(ctx)

	fmt.Println("Shutdown complete")
	return nil
}
