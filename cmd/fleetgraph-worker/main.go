package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fleetgraph/fleetgraph/pkg/config"
	"github.com/fleetgraph/fleetgraph/pkg/log"
	"github.com/fleetgraph/fleetgraph/pkg/node"
	"github.com/fleetgraph/fleetgraph/pkg/worker"
)

// Registering Node kinds with node.Default is the caller's job in a
// real deployment: import the packages defining your UserNode
// factories (for their init() side effect) alongside this package.
// This CLI carries no built-in kinds of its own.

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a top-level error to spec.md §6.4's exit codes:
// 2 for invalid arguments (including cobra's own missing-required-flag
// error), 1 for a failed connection to the Manager and any other error.
func exitCodeFor(err error) int {
	if ce, ok := err.(*cliExitError); ok {
		return ce.code
	}
	if strings.HasPrefix(err.Error(), "required flag(s)") {
		return 2
	}
	return 1
}

type cliExitError struct {
	code int
	err  error
}

func (e *cliExitError) Error() string { return e.err.Error() }

var rootCmd = &cobra.Command{
	Use:     "fleetgraph-worker",
	Short:   "fleetgraph per-host data-plane process: hosts Nodes, reports to a Manager",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetgraph-worker version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(internalRunNodeCmd)

	startCmd.Flags().String("name", "", "Worker name (required)")
	startCmd.Flags().String("ip", "", "Manager IP address (required)")
	startCmd.Flags().Int("port", 0, "Manager north-bound API port (required)")
	startCmd.Flags().String("id", "", "Worker id (generated if empty)")
	startCmd.Flags().Int("wport", 8080, "Port this worker's south-bound API binds to")
	startCmd.Flags().Bool("delete", true, "Deregister from the manager on shutdown")
	startCmd.Flags().String("log-dir", "./fleetgraph-worker-data", "Directory for recorded streams")
	startCmd.Flags().String("config", "", "Path to a fleetgraph config YAML file")
	startCmd.Flags().String("token", "", "Join token minted by the manager, if it requires one")
	_ = startCmd.MarkFlagRequired("name")
	_ = startCmd.MarkFlagRequired("ip")
	_ = startCmd.MarkFlagRequired("port")
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Register with a Manager and host its assigned Nodes",
	RunE:  runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("name")
	managerIP, _ := cmd.Flags().GetString("ip")
	managerPort, _ := cmd.Flags().GetInt("port")
	id, _ := cmd.Flags().GetString("id")
	wport, _ := cmd.Flags().GetInt("wport")
	deleteOnExit, _ := cmd.Flags().GetBool("delete")
	logDir, _ := cmd.Flags().GetString("log-dir")
	configPath, _ := cmd.Flags().GetString("config")
	joinToken, _ := cmd.Flags().GetString("token")

	if name == "" || managerIP == "" || managerPort == 0 {
		return &cliExitError{code: 2, err: fmt.Errorf("--name, --ip and --port are required")}
	}
	if id == "" {
		id = uuid.NewString()
	}

	appCfg, err := config.Load(configPath)
	if err != nil {
		return &cliExitError{code: 2, err: fmt.Errorf("load config: %w", err)}
	}

	workerLog := log.Logger
	w, err := worker.New(worker.Config{
		ID:          id,
		Name:        name,
		IP:          managerIP,
		Port:        wport,
		ManagerAddr: fmt.Sprintf("http://%s:%d", managerIP, managerPort),
		LogDir:      logDir,
		JoinToken:   joinToken,
	}, node.Default, appCfg, workerLog)
	if err != nil {
		return &cliExitError{code: 1, err: fmt.Errorf("build worker: %w", err)}
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", wport),
		Handler: w.Engine(),
	}
	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	fmt.Println("Starting fleetgraph worker...")
	fmt.Printf("  Worker id: %s\n", id)
	fmt.Printf("  Manager: %s:%d\n", managerIP, managerPort)
	fmt.Printf("  South-bound API: 0.0.0.0:%d\n", wport)
	fmt.Println()

	regCtx, regCancel := context.WithTimeout(context.Background(), appCfg.ManagerTimeoutLifecycle)
	defer regCancel()
	if err := w.Register(regCtx); err != nil {
		return &cliExitError{code: 1, err: fmt.Errorf("register with manager: %w", err)}
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go w.RunHeartbeat(runCtx)
	w.StartLiveness()

	fmt.Println("Worker is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return &cliExitError{code: 1, err: fmt.Errorf("south-bound API server: %w", err)}
	case <-sigCh:
	}

	fmt.Println("\nShutting down...")
	runCancel()
	w.Shutdown()

	if deleteOnExit {
		deregisterCtx, deregisterCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.Deregister(deregisterCtx); err != nil {
			workerLog.Warn().Err(err).Msg("deregister from manager failed")
		}
		deregisterCancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)

	fmt.Println("Shutdown complete")
	return nil
}

// internalRunNodeCmd is the hidden entry point spawnNodeProcess execs
// this same binary with: it hosts exactly one Node, driven entirely
// by environment variables and a control-channel socket back to the
// Worker that spawned it. It is never invoked directly by an operator.
var internalRunNodeCmd = &cobra.Command{
	Use:    "internal-run-node",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return worker.RunSubprocessNode(node.Default, log.Logger)
	},
}
