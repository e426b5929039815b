package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/airfi/edgeship/internal/counters"
)

// NewResetCountsCommand creates the reset-counts command.
func NewResetCountsCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "reset-counts",
		Short: "Reset the passenger counter file to in=0 out=0 flag=1",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				cfg, err := loadConfig(rootOpts)
				if err != nil {
					return err
				}
				cfg.Resolve()
				path = cfg.Health.CounterFile
			}
			if err := counters.Reset(path); err != nil {
				return WrapExitError(ExitFailure, "failed to reset counters", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "counters reset: %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "counter file (defaults to health.counter_file)")
	return cmd
}
