package commands

import (
	"encoding/json"

	"github.com/dkeye/VoiceAgent/internal/tokenclient"
	"github.com/spf13/cobra"
)

func newTokenCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:     "token",
		Short:   "Fetch a room grant and print it as JSON",
		Example: `  voicectl token --room demo-1 --identity patient-42`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd)
			if err != nil {
				return err
			}
			if err := requireRoom(cfg); err != nil {
				return err
			}
			resp, err := tokenclient.New(cfg.TokenURL).Fetch(cmd.Context(), tokenclient.Request{
				RoomName: cfg.Room,
				Identity: cfg.Identity,
				Metadata: cfg.Metadata,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
}
