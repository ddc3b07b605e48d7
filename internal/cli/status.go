package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewStatusCmd создаёт команду вывода статуса scheduler.
func NewStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show scheduler and leader lock status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			status, err := client.SchedulerStatus(cmd.Context())
			if err != nil {
				return err
			}

			lastTick := "-"
			if status.LastTickTime != nil {
				lastTick = status.LastTickTime.Local().Format(time.RFC3339)
			}
			holder := status.Lock.HolderID
			if holder == "" {
				holder = "-"
			}

			headers := []string{"STATE", "DISABLED", "LAST_TICK", "ERRORS", "POLL_MIN", "HOLDER", "LEADER"}
			rows := [][]string{{
				stateOf(status),
				strconv.FormatBool(status.IsDisabled),
				lastTick,
				strconv.Itoa(status.ConsecutiveErrors) + "/" + strconv.Itoa(status.MaxConsecutiveErrors),
				strconv.FormatFloat(status.PollIntervalMinutes, 'f', -1, 64),
				holder,
				strconv.FormatBool(status.Lock.IsHeld),
			}}

			out.Print(headers, rows, status)
			return nil
		},
	}
}

func stateOf(s *SchedulerStatus) string {
	switch {
	case s.IsDisabled:
		return "disabled"
	case s.State != "":
		return s.State
	case s.IsRunning:
		return "running"
	default:
		return "stopped"
	}
}
