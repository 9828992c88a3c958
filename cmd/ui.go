package cmd

import (
	"github.com/spf13/cobra"

	"github.com/huangyocai/mihomo-installer/internal/services"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Clone the web dashboard into an existing installation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext()
		defer cancel()

		svc, err := services.NewServices(ctx, Cfg, runID)
		if err != nil {
			return err
		}
		defer svc.Close()

		services.RenderUIResult(cmd.OutOrStdout(), svc.InstallUI(ctx))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(uiCmd)
}
