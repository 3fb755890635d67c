package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/granary/pkg/granaryerr"
	"github.com/cuemby/granary/pkg/ipc"
	"github.com/cuemby/granary/pkg/types"
	"github.com/spf13/cobra"
)

// manualEventType is the reserved event type `granary action run` uses for
// its synthetic single event, keeping the one-off command path entirely
// client-side (no new IPC operation) per SPEC_FULL.md's E.3 composition.
const manualEventType = "__granary_manual__"

var actionCmd = &cobra.Command{
	Use:   "action",
	Short: "Run one-off commands against the resolved workspace",
}

var actionRunCmd = &cobra.Command{
	Use:   "run -- COMMAND [ARGS...]",
	Short: "Run a single command once and print its output when it finishes",
	Long: `Run composes a concurrency:1 worker, a single synthetic event, and a
StopWorker once the run reaches a terminal state — built entirely from
existing operations rather than a dedicated wire operation. The process
exits with the run's own exit code.`,
	Args:               cobra.MinimumNArgs(1),
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		command := args[0]
		cmdArgs := args[1:]

		c, err := connectClient()
		if err != nil {
			return err
		}
		defer c.Close()

		w, err := c.StartWorker(ipc.StartWorkerRequest{
			Command:     command,
			Args:        cmdArgs,
			EventType:   manualEventType,
			Concurrency: 1,
			MaxAttempts: 1,
		})
		if err != nil {
			return err
		}

		if _, err := c.PublishEvent(ipc.PublishEventRequest{
			EventType: manualEventType,
			Payload:   map[string]any{},
		}); err != nil {
			_, _ = c.StopWorker(w.ID, true)
			return err
		}

		run, err := awaitRun(c, w.ID)
		if err != nil {
			_, _ = c.StopWorker(w.ID, true)
			return err
		}

		if _, err := c.StopWorker(w.ID, false); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to stop worker %s: %v\n", w.ID, err)
		}

		logs, err := c.RunLogs(run.ID, false, 10000)
		if err == nil {
			for _, line := range logs.Lines {
				fmt.Println(line)
			}
		}

		if run.ExitCode != nil {
			os.Exit(*run.ExitCode)
		}
		if run.Status == types.RunFailed || run.Status == types.RunCancelled {
			os.Exit(1)
		}
		return nil
	},
}

// awaitRun polls ListRuns for worker's one run until it reaches a terminal
// status, per §5's "poll, don't push" concurrency model — there is no
// server-side push channel for run completion in this protocol.
func awaitRun(c clientLike, workerID string) (*types.Run, error) {
	deadline := time.Now().Add(10 * time.Minute)
	for time.Now().Before(deadline) {
		runs, err := c.ListRuns(workerID, "", true)
		if err != nil {
			return nil, err
		}
		if len(runs) > 0 && runs[0].Status.IsTerminal() {
			return runs[0], nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return nil, granaryerr.New(granaryerr.Internal, "timed out waiting for run to complete")
}

// clientLike is the narrow surface awaitRun needs, so it can be exercised
// without a live daemon connection in tests.
type clientLike interface {
	ListRuns(workerID, status string, all bool) ([]*types.Run, error)
}

func init() {
	actionCmd.AddCommand(actionRunCmd)
}
