package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"branchdown/pkg/client"

	"github.com/spf13/cobra"
)

const defaultServer = "http://127.0.0.1:8080"

type rootOptions struct {
	server  string
	timeout time.Duration
	client  *client.Client
}

// NewRootCmd builds the branchdownctl command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     "branchdownctl",
		Short:   "Inspect and edit branchdown streams from the command line",
		Version: version,
		Long: `branchdownctl talks to a branchdown server over its HTTP API.

Every command prints the returned data as JSON. The server address comes
from --server, then BRANCHDOWN_URL, then ` + defaultServer + `.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			server := opts.server
			if server == "" {
				server = os.Getenv("BRANCHDOWN_URL")
			}
			if server == "" {
				server = defaultServer
			}
			c, err := client.New(server)
			if err != nil {
				return err
			}
			opts.client = c
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", "", "branchdown server base URL")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "per-command timeout")

	rootCmd.AddCommand(newStreamCmd(opts))
	rootCmd.AddCommand(newBranchCmd(opts))
	rootCmd.AddCommand(newPointCmd(opts))
	return rootCmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(name, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be an integer", name, raw)
	}
	return id, nil
}
