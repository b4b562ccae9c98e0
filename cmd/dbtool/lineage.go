package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/monopilot/monopilot/internal/server"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/monopilot/monopilot/modules/warehouse/services"
	"github.com/spf13/cobra"
)

func newLineageCmd(f *rootFlags) *cobra.Command {
	var (
		tenantID        string
		direction       string
		maxDepth        int
		includeReversed bool
	)
	cmd := &cobra.Command{
		Use:   "lineage <lp-id>",
		Short: "Print the genealogy tree of a license plate as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return errors.New("missing --tenant")
			}
			cfg, err := f.load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			stores, err := server.OpenStores(ctx, cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			lineage, err := services.NewLineageBuilder(stores.Warehouse, services.WithHardDepthCap(cfg.LineageDepthCap)).
				Build(ctx, tenantID, args[0], types.LineageOptions{
					MaxDepth:        maxDepth,
					Direction:       types.LineageDirection(direction),
					IncludeReversed: includeReversed,
				})
			if err != nil {
				return fmt.Errorf("lineage: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(lineage)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&direction, "direction", string(types.LineageBoth), "both|ancestors|descendants")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "keep nodes within this many levels (0 = all)")
	cmd.Flags().BoolVar(&includeReversed, "include-reversed", false, "follow reversed links")
	return cmd
}
