package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func newPointCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "point",
		Short: "Add points and walk their ancestry",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <parentPointId> <itemId>",
			Short: "Add a child point under a parent",
			Long: `Add a child point under a parent.

The first child of a point continues its branch; any later child opens a
new branch numbered above every branch the stream has used.`,
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				parent, err := parseID("parent point id", args[0])
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				p, err := opts.client.AddPoint(ctx, parent, args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd, p)
			},
		},
		&cobra.Command{
			Use:   "ancestors <pointId>",
			Short: "List a point and its ancestors, nearest first, without the root",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID("point id", args[0])
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				points, err := opts.client.GetAncestors(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, points)
			},
		},
	)
	return cmd
}
