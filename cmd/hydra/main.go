package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hydra-ops/hydra/internal/app"
	"github.com/hydra-ops/hydra/internal/config"
	"github.com/hydra-ops/hydra/internal/logger"
)

const defaultConfigFile = "hydra.yaml"

var (
	configFile string
	envFile    string
	output     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hydra",
		Short: "hydra - consume request logs from a stream and keep a model retrained on them",
		Long: `hydra reads structured request logs from a Redis stream, keeps the ones
that carry training features, and retrains a classifier whenever enough new
samples have accumulated. Configuration comes from hydra.yaml (or --config),
.env, and HYDRA_<SECTION>__<KEY> environment variables.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML config file (default hydra.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file; ignored when missing")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "json", "result format for prune and retrain: json or yaml")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newProduceCommand())
	rootCmd.AddCommand(newPruneCommand())
	rootCmd.AddCommand(newRetrainCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the application for a subcommand.
func setup(ctx context.Context) (*app.App, zerolog.Logger, error) {
	file := configFile
	if file == "" && config.Exists(defaultConfigFile) {
		file = defaultConfigFile
	}
	cfg, err := config.Load(config.LoadOptions{File: file, EnvFile: envFile})
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := logger.New(cfg)
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return nil, log, fmt.Errorf("startup: %w", err)
	}
	return a, log, nil
}
