package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/neKamita/telegram-star-manager/internal/config"
	"github.com/neKamita/telegram-star-manager/internal/logger"
	"github.com/neKamita/telegram-star-manager/internal/repo"
	"github.com/neKamita/telegram-star-manager/internal/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagConfig        = "config"
	flagDatabaseURL   = "database-url"
	flagStaleAge      = "stale-age"
	flagStuckAge      = "stuck-age"
	configKeyConfig   = "config_path"
	configKeyDatabase = "database_url"
	configKeyStaleAge = "stale_age"
	configKeyStuckAge = "stuck_age"
	defaultConfigPath = "internal/config/config.yaml"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "reconcile: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:           "reconcile",
		Short:         "Run one reconciliation sweep and print the report as JSON",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log, err := logger.NewLogger(cfg.Log.Level, "reconcile")
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer func() { _ = log.Sync() }()

			gdb, _, err := repo.Open(cfg.Database.URL)
			if err != nil {
				return err
			}
			if err := repo.Migrate(gdb); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
			svc := service.NewServices(repo.NewRepository(gdb, nil, nil, log), cfg, log)
			report, err := svc.Reconciler.Sweep(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().String(flagConfig, defaultConfigPath, "path to the yaml config")
	cmd.Flags().String(flagDatabaseURL, "", "database url overriding the config file")
	cmd.Flags().Duration(flagStaleAge, 0, "cancel PENDING transactions older than this")
	cmd.Flags().Duration(flagStuckAge, 0, "report orders not updated for this long")
	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *config.Config) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv(configKeyConfig, "CONFIG_PATH"); err != nil {
		return err
	}
	bindings := map[string]string{
		configKeyConfig:   flagConfig,
		configKeyDatabase: flagDatabaseURL,
		configKeyStaleAge: flagStaleAge,
		configKeyStuckAge: flagStuckAge,
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	loaded, err := config.Load(viper.GetString(configKeyConfig))
	if err != nil {
		return err
	}
	*cfg = *loaded
	if url := viper.GetString(configKeyDatabase); url != "" {
		cfg.Database.URL = url
	}
	if d := viper.GetDuration(configKeyStaleAge); d > 0 {
		cfg.Reconcile.StaleTransactionAge = d
	}
	if d := viper.GetDuration(configKeyStuckAge); d > 0 {
		cfg.Reconcile.StuckOrderAge = d
	}
	return cfg.Validate()
}
