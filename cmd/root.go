// Package cmd implements the CLI commands for ctrun.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ctrun/logging"
)

// Version information set at build time
var (
	Version   = "0.1.0"
	SpecVer   = "1.0.2"
	BuildTime = "unknown"
)

// Global flags
var (
	globalRoot          string
	globalLog           string
	globalLogFormat     string
	globalDebug         bool
	globalSystemdCgroup bool
)

// rootCmd is the base command for ctrun.
var rootCmd = &cobra.Command{
	Use:   "ctrun",
	Short: "OCI container runtime",
	Long: `ctrun is an OCI-compliant container runtime.

It implements the OCI Runtime Specification's create/start/kill/delete/state
lifecycle on top of Linux namespaces, cgroups v1/v2/systemd, and seccomp.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

// GetStateRoot returns the state root directory.
//
// When --root is not given and the process is not running as uid 0, the
// root defaults under $XDG_RUNTIME_DIR (matching the rootless convention
// used by the youki project this runtime's lifecycle model is based on),
// falling back to /run/ctrun otherwise.
func GetStateRoot() string {
	if globalRoot != "" {
		return globalRoot
	}
	if os.Geteuid() != 0 {
		if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
			return fmt.Sprintf("%s/ctrun", dir)
		}
	}
	return "/run/ctrun"
}

// UseSystemdCgroup reports whether the systemd cgroup driver was requested.
func UseSystemdCgroup() bool {
	return globalSystemdCgroup
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&globalRoot, "root", "", "root directory for storage of container state (default: /run/ctrun, or $XDG_RUNTIME_DIR/ctrun when not running as root)")
	rootCmd.PersistentFlags().StringVar(&globalLog, "log", "", "set the log file path")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "set the format for log output (text or json)")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&globalSystemdCgroup, "systemd-cgroup", false, "use the systemd cgroup driver instead of the cgroupfs driver")
}

func setupLogging() {
	var logOutput = os.Stderr
	if globalLog != "" {
		f, err := os.OpenFile(globalLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err == nil {
			logOutput = f
		}
	}

	logLevel := logging.ParseLevel("info")
	if globalDebug {
		logLevel = logging.ParseLevel("debug")
	}

	logger := logging.NewLogger(logging.Config{
		Level:  logLevel,
		Format: globalLogFormat,
		Output: logOutput,
	})
	logging.SetDefault(logger)
}
