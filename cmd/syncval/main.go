// Package main implements the syncval CLI tool.
//
// The syncval tool replays scenario files against the synchronization
// validator and reports the hazards each one produces:
//
//	syncval replay frame.yaml upload.yaml   # Replay scenarios
//	syncval validate scenarios/*.yaml       # Check scenario files only
//	syncval version                         # Show version information
//
// Exit status is 0 when every scenario passes, 1 when a scenario cannot be
// loaded, reports unexpected hazards or fails its expectations, and 2 for
// usage and configuration errors.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kolkov/syncval/syncval"
)

const version = syncval.Version

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// errFailed marks a run that completed but found problems. Its details
// were already printed.
var errFailed = errors.New("one or more scenarios failed")

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line args and returns the exit status.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.Execute()
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errFailed):
		return exitFailed
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:   "syncval",
		Short: "Host-side GPU synchronization validator",
		Long: `syncval models Vulkan queue submissions, semaphores, fences and host waits
and reports resource accesses that no synchronization orders.

Scenarios are YAML files describing queues, command buffers and the
submissions and host calls to replay.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("syncval version {{.Version}}\n")
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "engine configuration file (YAML)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")

	root.AddCommand(
		newReplayCmd(&g),
		newValidateCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves the engine configuration and the logger it asks for.
func (g *globalFlags) loadConfig(stderr io.Writer) (syncval.Config, *slog.Logger, error) {
	cfg, err := syncval.LoadConfig(g.configPath)
	if err != nil {
		return cfg, nil, err
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
		if err := cfg.Validate(); err != nil {
			return cfg, nil, err
		}
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := syncval.GetInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "syncval version %s\n", info.Version)
			fmt.Fprintf(cmd.OutOrStdout(), "scenario format %s\n", info.ScenarioFormat)
			fmt.Fprintf(cmd.OutOrStdout(), "model: %s\n", info.Model)
			return nil
		},
	}
}
