package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewSearchCmd создаёт группу команд для поисков.
func NewSearchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Manage saved searches",
	}

	cmd.AddCommand(newSearchRunCmd(clientFn, outputFn))

	return cmd
}

func newSearchRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "run ID",
		Short: "Queue a manual run of a search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			resp, err := client.RunSearch(cmd.Context(), args[0])
			if err != nil {
				if IsNotFound(err) {
					return fmt.Errorf("search %s not found", args[0])
				}
				return err
			}

			if out.jsonMode {
				out.JSON(resp)
				return nil
			}
			out.Success(fmt.Sprintf("Search %s queued (message %s)", resp.SearchID, resp.MessageID))
			return nil
		},
	}
}
