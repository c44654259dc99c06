// Package gc implements the top-level "gc" command: reclaim backend images
// and vmstore temp directories no longer referenced by anything live.
package gc

import (
	"fmt"

	"github.com/spf13/cobra"

	cmdcore "github.com/transientvm/transient/cmd/core"
	"github.com/transientvm/transient/gc"
)

// Handler carries the shared BaseHandler for the gc verb.
type Handler struct {
	cmdcore.BaseHandler
}

// Commands returns the "gc" command.
func Commands(h Handler) []*cobra.Command {
	return []*cobra.Command{h.gcCmd()}
}

func (h Handler) gcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Reclaim unreferenced backend images and stale vmstore temp directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, conf, err := h.Init(cmd)
			if err != nil {
				return err
			}
			if err := gc.NewDefault(conf).Run(ctx); err != nil {
				return fmt.Errorf("gc: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "gc completed.")
			return nil
		},
	}
	return cmd
}
