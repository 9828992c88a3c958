package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/huangyocai/mihomo-installer/internal/config"
	"github.com/huangyocai/mihomo-installer/internal/services"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Download mihomo, write its config and register the service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := runContext()
		defer cancel()

		if Cfg.Interactive {
			if err := promptOptions(Cfg); err != nil {
				return err
			}
		}

		svc, err := services.NewServices(ctx, Cfg, runID)
		if err != nil {
			return err
		}
		defer svc.Close()

		report, err := svc.Install(ctx)
		services.RenderInstallSummary(cmd.OutOrStdout(), report, err)
		return err
	},
}

func init() {
	flags := installCmd.Flags()
	flags.String("sub-url", "", "subscription (proxy provider) URL")
	flags.String("secret", "", "controller secret, generated when empty")
	flags.Int("port", 7890, "mixed listen port")
	flags.String("controller", "127.0.0.1:9090", "external controller bind address")
	flags.Bool("install-ui", false, "clone the web dashboard")
	flags.Bool("force-config", false, "overwrite an existing config (the old one is backed up)")
	flags.Bool("tier-fallback", false, "try lower microarchitecture levels when no asset matches")
	flags.String("release", "", "release tag to install instead of the latest")
	flags.Bool("interactive", false, "prompt for missing options when attached to a terminal")

	for key, name := range map[string]string{
		"subscription_url": "sub-url",
		"secret":           "secret",
		"port":             "port",
		"controller":       "controller",
		"install_ui":       "install-ui",
		"force_config":     "force-config",
		"tier_fallback":    "tier-fallback",
		"release.version":  "release",
		"interactive":      "interactive",
	} {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}

	RootCmd.AddCommand(installCmd)
}

// promptOptions asks for a subscription URL when none was given
func promptOptions(cfg *config.Config) error {
	if cfg.SubscriptionURL != "" || !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}

	var (
		subURL    string
		installUI = cfg.InstallUI
	)
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Subscription URL").
			Description("Leave empty to write a placeholder provider").
			Value(&subURL),
		huh.NewConfirm().
			Title("Install the web dashboard?").
			Value(&installUI),
	))
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return fmt.Errorf("installation cancelled")
		}
		return err
	}

	cfg.SubscriptionURL = strings.TrimSpace(subURL)
	cfg.InstallUI = installUI
	return cfg.Validate()
}
