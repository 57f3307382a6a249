// Package main is the CLI entry point for the guardagent service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/guardline/agent/internal/daemon"
	"github.com/guardline/agent/internal/infra"
	"github.com/guardline/agent/internal/logging"
)

var (
	// Version info (set via ldflags)
	Version   = "1.0.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "guardagent",
	Short: "Guardline parental control agent",
	Long: `guardagent is the privileged service of the Guardline parental control
agent. It monitors application usage, enforces the rules configured by the
parent, and keeps the UI companion alive in the interactive session.

There is no stop command.`,
	Version: Version,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agent service in the background",
	Long: `Starts the agent service detached from this console. The service keeps
running after logout and restarts the UI companion if it is killed.`,
	RunE: runStart,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether the agent service is running",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

// Hidden run command - the detached service process started by `start`.
var runCmd = &cobra.Command{
	Use:    "run",
	Hidden: true,
	RunE:   runService,
}

var (
	configPath string
	jsonOutput bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")
	statusCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	if running, pid := serviceRunning(); running {
		fmt.Printf("guardagent is already running (pid %d)\n", pid)
		return nil
	}

	var extra []string
	if configPath != "" {
		extra = append(extra, "--config", configPath)
	}
	if err := daemon.StartDetached(extra...); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	// Give the service a moment to come up before reporting.
	time.Sleep(500 * time.Millisecond)
	if running, pid := serviceRunning(); running {
		fmt.Printf("guardagent started (pid %d)\n", pid)
	} else {
		fmt.Println("guardagent starting, check status in a moment")
	}
	return nil
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}

	logFile := cfg.Logger.Filename
	if logFile == "" {
		logFile = filepath.Join(cfg.DataDir, "agent.log")
	}
	logger := logging.New(logging.Config{
		Level:    cfg.Logger.Level,
		Filename: logFile,
	})
	defer func() { _ = logger.Sync() }()

	logger.Info("guardagent starting",
		zap.String("version", Version),
		zap.String("commit", Commit))

	runtime, err := daemon.Build(cfg, logger)
	if err != nil {
		logger.Error("failed to assemble runtime", zap.Error(err))
		return err
	}
	defer runtime.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runtime.Agent.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("guardagent stopped")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	running, pid := serviceRunning()

	if jsonOutput {
		out := map[string]interface{}{
			"running": running,
			"version": Version,
		}
		if running {
			out["pid"] = pid
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Println("\n=== guardagent Status ===")
	if running {
		fmt.Printf("Status: RUNNING (pid %d)\n", pid)
	} else {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'guardagent start' to enable protection.")
	}
	fmt.Println("=========================")
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out := map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Printf("guardagent %s (commit %s, built %s)\n", Version, Commit, BuildTime)
}

// serviceRunning looks for another guardagent process besides this one.
func serviceRunning() (bool, int32) {
	pm := infra.NewProcessManager()
	procs, err := pm.List()
	if err != nil {
		return false, 0
	}
	self := int32(os.Getpid())
	for _, p := range procs {
		if p.PID == self {
			continue
		}
		name := strings.ToLower(strings.TrimSuffix(p.Name, ".exe"))
		if name == "guardagent" {
			return true, p.PID
		}
	}
	return false, 0
}
