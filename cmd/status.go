package cmd

import (
	"github.com/spf13/cobra"

	"github.com/huangyocai/mihomo-installer/internal/services"
)

var statusLogs int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the installed binary, config and service state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext()
		defer cancel()

		svc, err := services.NewServices(ctx, Cfg, runID)
		if err != nil {
			return err
		}
		defer svc.Close()

		services.RenderStatus(cmd.OutOrStdout(), svc.Status(ctx, statusLogs))
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLogs, "logs", 0, "also print the newest N service log lines")
	RootCmd.AddCommand(statusCmd)
}
