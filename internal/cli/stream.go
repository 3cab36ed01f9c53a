package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func newStreamCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Create, show, list points of, or delete streams",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "create",
			Short: "Create a stream with its root point",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				s, err := opts.client.CreateStream(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, s)
			},
		},
		&cobra.Command{
			Use:   "get <streamId>",
			Short: "Show stream metadata",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID("stream id", args[0])
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				s, err := opts.client.GetStream(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, s)
			},
		},
		&cobra.Command{
			Use:   "delete <streamId>",
			Short: "Delete a stream and all of its points",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID("stream id", args[0])
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				if err := opts.client.DeleteStream(ctx, id); err != nil {
					return err
				}
				return printJSON(cmd, map[string]int64{"deleted": id})
			},
		},
		&cobra.Command{
			Use:   "points <streamId>",
			Short: "List every point of a stream in insertion order",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID("stream id", args[0])
				if err != nil {
					return err
				}
				ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
				defer cancel()
				points, err := opts.client.GetStreamPoints(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd, points)
			},
		},
	)
	return cmd
}
