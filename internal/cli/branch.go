package cli

import (
	"context"
	"fmt"
	"strconv"

	"branchdown/pkg/client"

	"github.com/spf13/cobra"
)

func newBranchCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "branch",
		Short: "Query branches of a stream",
	}

	var depth int
	pointsCmd := &cobra.Command{
		Use:   "points <streamId> <branchNum>",
		Short: "List the points of one branch",
		Long: `List the points of one branch.

With --depth d only points deeper than d are listed; --depth 0 skips the
root. Ancestors that live on other branches are never included.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			streamID, err := parseID("stream id", args[0])
			if err != nil {
				return err
			}
			branch, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid branch number %q: must be an integer", args[1])
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			points, err := opts.client.GetBranchPoints(ctx, streamID, branch, depth)
			if err != nil {
				return err
			}
			return printJSON(cmd, points)
		},
	}
	pointsCmd.Flags().IntVar(&depth, "depth", client.NoDepthFilter, "only list points with depth greater than this")
	cmd.AddCommand(pointsCmd)
	return cmd
}
