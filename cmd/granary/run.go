package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Inspect and control individual runs",
}

var runGetCmd = &cobra.Command{
	Use:   "get RUN_ID",
	Short: "Show one run's full record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connectClient()
		if err != nil {
			return err
		}
		defer c.Close()

		r, err := c.GetRun(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("ID: %s\n", r.ID)
		fmt.Printf("Worker: %s\n", r.WorkerID)
		fmt.Printf("Event: %d (%s)\n", r.EventID, r.EventType)
		fmt.Printf("Command: %s %s\n", r.Command, joinArgs(r.Args))
		fmt.Printf("Status: %s\n", r.Status)
		fmt.Printf("PID: %s\n", formatPID(r.PID))
		fmt.Printf("Exit code: %s\n", formatExitCode(r.ExitCode))
		fmt.Printf("Attempt: %d/%d\n", r.Attempt, r.MaxAttempts)
		if r.ErrorMessage != "" {
			fmt.Printf("Error: %s\n", r.ErrorMessage)
		}
		if r.LogPath != "" {
			fmt.Printf("Log: %s\n", r.LogPath)
		}
		return nil
	},
}

var runListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		workerID, _ := cmd.Flags().GetString("worker")
		status, _ := cmd.Flags().GetString("status")
		all, _ := cmd.Flags().GetBool("all")

		c, err := connectClient()
		if err != nil {
			return err
		}
		defer c.Close()

		runs, err := c.ListRuns(workerID, status, all)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs found")
			return nil
		}

		fmt.Printf("%-15s %-15s %-12s %-6s %s\n", "ID", "WORKER", "STATUS", "EXIT", "COMMAND")
		for _, r := range runs {
			fmt.Printf("%-15s %-15s %-12s %-6s %s\n",
				truncate(r.ID, 15),
				truncate(r.WorkerID, 15),
				r.Status,
				formatExitCode(r.ExitCode),
				truncate(r.Command+" "+joinArgs(r.Args), 40))
		}
		return nil
	},
}

var runStopCmd = &cobra.Command{
	Use:   "stop RUN_ID",
	Short: "Kill a run's in-flight process",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connectClient()
		if err != nil {
			return err
		}
		defer c.Close()

		r, err := c.StopRun(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Run stopped: %s (status %s)\n", r.ID, r.Status)
		return nil
	},
}

var runPauseCmd = &cobra.Command{
	Use:   "pause RUN_ID",
	Short: "Suspend a run's process group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connectClient()
		if err != nil {
			return err
		}
		defer c.Close()

		r, err := c.PauseRun(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Run paused: %s\n", r.ID)
		return nil
	},
}

var runResumeCmd = &cobra.Command{
	Use:   "resume RUN_ID",
	Short: "Resume a paused run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := connectClient()
		if err != nil {
			return err
		}
		defer c.Close()

		r, err := c.ResumeRun(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Run resumed: %s\n", r.ID)
		return nil
	},
}

var runLogsCmd = &cobra.Command{
	Use:   "logs RUN_ID",
	Short: "Show a run's combined stdout/stderr log tail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lines, _ := cmd.Flags().GetInt("lines")
		follow, _ := cmd.Flags().GetBool("follow")

		c, err := connectClient()
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.RunLogs(args[0], follow, lines)
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
	runCmd.AddCommand(runGetCmd)
	runCmd.AddCommand(runListCmd)
	runCmd.AddCommand(runStopCmd)
	runCmd.AddCommand(runPauseCmd)
	runCmd.AddCommand(runResumeCmd)
	runCmd.AddCommand(runLogsCmd)

	runListCmd.Flags().String("worker", "", "limit to one worker's runs")
	runListCmd.Flags().String("status", "", "limit to one status (Pending, Running, Completed, Failed, Paused, Cancelled)")
	runListCmd.Flags().Bool("all", false, "include terminal runs (default: in-flight only)")

	runLogsCmd.Flags().Int("lines", 100, "number of lines to tail")
	runLogsCmd.Flags().Bool("follow", false, "set the follow flag on the request; the command prints the current tail once and exits")
}
