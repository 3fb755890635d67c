package main

import (
	"fmt"
	"strings"

	"github.com/cuemby/granary/pkg/granaryerr"
	"github.com/cuemby/granary/pkg/ipc"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage workers (event-type subscriptions)",
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a worker subscribed to an event type",
	Long: `Start a worker that watches for events matching --event-type (and any
--filter expressions) and spawns a run per match, up to --concurrency
in-flight runs at a time.

Either --runner (a named template from the global config) or --command
must be given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, _ := cmd.Flags().GetString("runner")
		command, _ := cmd.Flags().GetString("command")
		cmdArgs, _ := cmd.Flags().GetStringSlice("arg")
		env, _ := cmd.Flags().GetStringSlice("env")
		eventType, _ := cmd.Flags().GetString("event-type")
		filters, _ := cmd.Flags().GetStringSlice("filter")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		maxAttempts, _ := cmd.Flags().GetInt("max-attempts")
		instancePath, _ := cmd.Flags().GetString("instance-path")

		if runner == "" && command == "" {
			return granaryerr.New(granaryerr.UserInput, "one of --runner or --command is required")
		}
		if eventType == "" {
			return granaryerr.New(granaryerr.UserInput, "--event-type is required")
		}

		c, err := connectClient()
		if err != nil {
			return err
		}
		defer c.Close()

		w, err := c.StartWorker(ipc.StartWorkerRequest{
			RunnerName:   runner,
			Command:      command,
			Args:         cmdArgs,
			Env:          env,
			EventType:    eventType,
			Filters:      filters,
			Concurrency:  concurrency,
			MaxAttempts:  maxAttempts,
			InstancePath: instancePath,
		})
		if err != nil {
			return err
		}

		fmt.Printf("✓ Worker started: %s\n", w.ID)
		fmt.Printf("  Event type: %s\n", w.EventType)
		fmt.Printf("  Concurrency: %d\n", w.Concurrency)
		return nil
	},
}

var workerStopCmd = &cobra.Command{
	Use:   "stop WORKER_ID",
	Short: "Stop a worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stopRuns, _ := cmd.Flags().GetBool("stop-runs")

		c, err := connectClient()
		if err != nil {
			return err
		}
		defer c.Close()

		w, err := c.StopWorker(args[0], stopRuns)
		if err != nil {
			return err
		}

		fmt.Printf("✓ Worker stopped: %s\n", w.ID)
		return nil
	},
}

var workerGetCmd = &cobra.Command{
	Use:   "get WORKER_ID",
	Short: "Show one worker's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connectClient()
		if err != nil {
			return err
		}
		defer c.Close()

		w, err := c.GetWorker(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID: %s\n", w.ID)
		if w.RunnerName != "" {
			fmt.Printf("Runner: %s\n", w.RunnerName)
		}
		fmt.Printf("Command: %s %s\n", w.Command, joinArgs(w.Args))
		fmt.Printf("Event type: %s\n", w.EventType)
		if len(w.Filters) > 0 {
			fmt.Printf("Filters: %s\n", strings.Join(w.Filters, ", "))
		}
		fmt.Printf("Concurrency: %d\n", w.Concurrency)
		fmt.Printf("Max attempts: %d\n", w.MaxAttempts)
		fmt.Printf("Status: %s\n", w.Status)
		if w.ErrorMessage != "" {
			fmt.Printf("Error: %s\n", w.ErrorMessage)
		}
		fmt.Printf("Created: %s\n", w.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		all, _ := cmd.Flags().GetBool("all")

		c, err := connectClient()
		if err != nil {
			return err
		}
		defer c.Close()

		workers, err := c.ListWorkers(all)
		if err != nil {
			return err
		}

		if len(workers) == 0 {
			fmt.Println("No workers found")
			return nil
		}

		fmt.Printf("%-15s %-20s %-12s %-10s %s\n", "ID", "EVENT TYPE", "STATUS", "CONCURRENCY", "COMMAND")
		for _, w := range workers {
			fmt.Printf("%-15s %-20s %-12s %-10d %s\n",
				truncate(w.ID, 15),
				truncate(w.EventType, 20),
				w.Status,
				w.Concurrency,
				truncate(w.Command+" "+joinArgs(w.Args), 40))
		}
		return nil
	},
}

var workerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove Stopped/Error workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connectClient()
		if err != nil {
			return err
		}
		defer c.Close()

		count, err := c.PruneWorkers()
		if err != nil {
			return err
		}

		fmt.Printf("✓ Pruned %d worker(s)\n", count)
		return nil
	},
}

var workerLogsCmd = &cobra.Command{
	Use:   "logs WORKER_ID",
	Short: "Show a worker's supervisor-level log tail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, _ := cmd.Flags().GetInt("lines")
		follow, _ := cmd.Flags().GetBool("follow")

		c, err := connectClient()
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.WorkerLogs(args[0], follow, lines)
		if err != nil {
			return err
		}
		for _, line := range resp.Lines {
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	workerCmd.AddCommand(workerStartCmd)
	workerCmd.AddCommand(workerStopCmd)
	workerCmd.AddCommand(workerGetCmd)
	workerCmd.AddCommand(workerListCmd)
	workerCmd.AddCommand(workerPruneCmd)
	workerCmd.AddCommand(workerLogsCmd)

	workerStartCmd.Flags().String("runner", "", "named runner template from the global config")
	workerStartCmd.Flags().String("command", "", "command to run (overrides the runner's command)")
	workerStartCmd.Flags().StringSlice("arg", nil, "command argument (repeatable)")
	workerStartCmd.Flags().StringSlice("env", nil, "environment variable KEY=VALUE (repeatable)")
	workerStartCmd.Flags().String("event-type", "", "event type to subscribe to (required)")
	workerStartCmd.Flags().StringSlice("filter", nil, "filter expression field OP value (repeatable)")
	workerStartCmd.Flags().Int("concurrency", 1, "maximum in-flight runs")
	workerStartCmd.Flags().Int("max-attempts", 1, "maximum attempts per run before giving up")
	workerStartCmd.Flags().String("instance-path", "", "working directory for the worker's runs")

	workerStopCmd.Flags().Bool("stop-runs", false, "also kill the worker's in-flight runs")

	workerListCmd.Flags().Bool("all", false, "include Stopped/Error workers")

	workerLogsCmd.Flags().Int("lines", 100, "number of lines to tail")
	workerLogsCmd.Flags().Bool("follow", false, "set the follow flag on the request; the command prints the current tail once and exits")
}
