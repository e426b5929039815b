package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/airfi/edgeship/internal/outbox"
	"github.com/airfi/edgeship/internal/streams"
)

// PendingOptions holds flags for the pending command.
type PendingOptions struct {
	*RootOptions
	JSON bool
}

// PendingCount is the backlog of one stream.
type PendingCount struct {
	Stream  string `json:"stream"`
	Path    string `json:"path"`
	Pending int64  `json:"pending"`
}

// NewPendingCommand creates the pending command.
func NewPendingCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PendingOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Print the number of undelivered records per stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printPending(cmd, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print JSON")
	return cmd
}

func printPending(cmd *cobra.Command, opts *PendingOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	cfg.Resolve()
	if err := cfg.EnsureDirectories(); err != nil {
		return WrapExitError(ExitCommandError, "failed to create directories", err)
	}

	var counts []PendingCount
	if cfg.Passenger.Enabled {
		n, err := countPending(cmd, cfg.Passenger.DBPath, streams.PassengerSchema())
		if err != nil {
			return err
		}
		counts = append(counts, PendingCount{Stream: streams.PassengerTable, Path: cfg.Passenger.DBPath, Pending: n})
	}
	if cfg.Health.Enabled {
		n, err := countPending(cmd, cfg.Health.DBPath, streams.HealthSchema())
		if err != nil {
			return err
		}
		counts = append(counts, PendingCount{Stream: streams.HealthTable, Path: cfg.Health.DBPath, Pending: n})
	}

	return writePending(cmd.OutOrStdout(), counts, opts.JSON)
}

func countPending[P any](cmd *cobra.Command, path string, schema outbox.Schema[P]) (int64, error) {
	store, err := outbox.Open(path, schema)
	if err != nil {
		return 0, WrapExitError(ExitFailure, "failed to open "+schema.Table, err)
	}
	defer store.Close()

	n, err := store.CountPending(cmd.Context())
	if err != nil {
		return 0, WrapExitError(ExitFailure, "failed to count "+schema.Table, err)
	}
	return n, nil
}

func writePending(w io.Writer, counts []PendingCount, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(counts)
	}
	for _, c := range counts {
		fmt.Fprintf(w, "%-18s %6d  %s\n", c.Stream, c.Pending, c.Path)
	}
	return nil
}
