package main

import (
	"fmt"
	"os"

	"github.com/cuemby/granary/pkg/granaryerr"
	"github.com/cuemby/granary/pkg/log"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error's granaryerr.Kind to a process exit code (§6);
// errors that never reached the daemon (connection failures, CLI usage
// errors) fall back to granaryerr.Internal's code.
func exitCode(err error) int {
	kind := granaryerr.KindOf(err)
	if kind == "" {
		return granaryerr.Internal.ExitCode()
	}
	return kind.ExitCode()
}

var rootCmd = &cobra.Command{
	Use:   "granary",
	Short: "Granary - a local worker daemon that turns events into subprocess runs",
	Long: `Granary watches for events and spawns subprocess runs against them.
One daemon per workspace, reached over a local Unix socket (or named pipe
on Windows) — no cluster, no network-exposed endpoints.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("granary version %s\n", Version))

	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(workspaceCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(actionCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(daemonCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
		Output:     os.Stderr,
	})
}
