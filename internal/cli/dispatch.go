package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Reminders/internal/dispatcher"
)

// CycleRunner выполняет один dispatch-цикл.
type CycleRunner interface {
	RunCycle(ctx context.Context) (dispatcher.CycleStats, error)
}

// NewDispatchCmd создаёт команду dispatch.
func NewDispatchCmd(runnerFn func(ctx context.Context) (CycleRunner, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run a single dispatch cycle",
		Long: "Acquires the dispatch lock, sends all due reminders and marks them sent.\n" +
			"Does nothing if another instance holds the lock.",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := runnerFn(cmd.Context())
			if err != nil {
				return err
			}

			stats, err := runner.RunCycle(cmd.Context())
			if err != nil {
				return err
			}

			out := outputFn()
			if stats.Skipped {
				out.Success("Lock is held by another instance, nothing dispatched")
				return nil
			}

			out.Success(fmt.Sprintf("Dispatch cycle completed in %s", stats.Duration))
			return out.Print(
				[]string{"DUE", "SENT", "SEND_FAILED", "SAVE_FAILED"},
				[][]string{{
					strconv.Itoa(stats.Due), strconv.Itoa(stats.Sent),
					strconv.Itoa(stats.SendFailed), strconv.Itoa(stats.SaveFailed),
				}},
				stats,
			)
		},
	}
}
