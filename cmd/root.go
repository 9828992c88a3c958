package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/huangyocai/mihomo-installer/internal/config"
	"github.com/huangyocai/mihomo-installer/pkg/logger"
	"github.com/huangyocai/mihomo-installer/pkg/models"
)

var (
	cfgFile string
	envFile string
	v       = config.NewViper()
	Cfg     *config.Config
	Version string
	runID   string
)

var RootCmd = &cobra.Command{
	Use:   "mihomo-installer",
	Short: "Install the mihomo proxy core as a systemd service",
	Long: `mihomo-installer detects the CPU microarchitecture level, downloads the
matching mihomo release, writes its config and registers a systemd unit.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
}

func Execute(version string) error {
	Version = version
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "options file (yaml)")
	RootCmd.PersistentFlags().StringVar(&envFile, "env-file", models.EnvFilePath, "KEY=VALUE file loaded before the environment is read")
	RootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	RootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	RootCmd.PersistentFlags().String("log-file", models.LogFilePath, "rotating log file, empty to disable")

	_ = v.BindPFlag("logging.level", RootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("logging.format", RootCmd.PersistentFlags().Lookup("log-format"))
	_ = v.BindPFlag("logging.file", RootCmd.PersistentFlags().Lookup("log-file"))
}

func initConfig(cmd *cobra.Command, args []string) error {
	// An explicitly named env file must exist
	loaded, err := config.LoadEnvFile(envFile, cmd.Flags().Changed("env-file"))
	if err != nil {
		return err
	}

	Cfg, err = config.Load(v, cfgFile)
	if err != nil {
		return fmt.Errorf("configuration could not be loaded: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:      Cfg.Logging.Level,
		Format:     Cfg.Logging.Format,
		Module:     "root",
		File:       Cfg.Logging.File,
		MaxSize:    10,
		MaxAge:     30,
		MaxBackups: 3,
		Compress:   true,
	}); err != nil {
		return fmt.Errorf("logger could not be initialized: %w", err)
	}

	runID = uuid.NewString()
	logger.SetRunID(runID)

	log := logger.NewLogger("root")
	if loaded {
		log.Debugf("Loaded options from %s", envFile)
	}
	if os.Geteuid() != 0 {
		log.Warn("Not running as root: writing system paths and registering the service will likely fail")
	}

	return nil
}

// runContext bounds a command by the run budget and cancels it on SIGINT or SIGTERM
func runContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, Cfg.Timeouts.Run)
	return ctx, func() {
		cancel()
		stop()
	}
}
