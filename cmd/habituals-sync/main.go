package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MarcoPoloResearchLab/habituals/internal/config"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "habituals-sync",
		Short:         "Offline mutation queue and purchase client for the Habituals API",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newEnqueueCommand(),
		newMarkDoneCommand(),
		newDrainCommand(),
		newShowCommand(),
		newClearCommand(),
		newClaimCommand(),
		newWalletCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("api-base-url", defaults.GetString("sync.api_base_url"), "Habituals API base URL")
	cmd.PersistentFlags().String("access-token", "", "Session token sent as a bearer credential (overrides env)")
	cmd.PersistentFlags().String("queue-dsn", defaults.GetString("sync.queue_dsn"), "Queue storage: memory://, file://path, sqlite://path, redis://host:port/db")
	cmd.PersistentFlags().Int("max-attempts", defaults.GetInt("sync.max_attempts"), "Delivery attempts before an op is dropped")
	cmd.PersistentFlags().Duration("request-timeout", defaults.GetDuration("sync.request_timeout"), "Per-request timeout")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "sync.api_base_url", "api-base-url")
	bindFlag(cmd, "sync.access_token", "access-token")
	bindFlag(cmd, "sync.queue_dsn", "queue-dsn")
	bindFlag(cmd, "sync.max_attempts", "max-attempts")
	bindFlag(cmd, "sync.request_timeout", "request-timeout")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}
	return nil
}

func printJSON(cmd *cobra.Command, value any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
