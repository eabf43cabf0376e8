package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/marlonbarreto-git/nimbus-checkout/internal/config"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	var configPath string
	rootCmd := &cobra.Command{
		Use:     "checkout",
		Short:   "Nimbus Checkout - run payments against a checkout backend",
		Version: Version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "yaml settings file (NIMBUS_* env vars override)")

	load := func() (config.Settings, error) {
		settings, err := config.Load(configPath)
		if err != nil {
			return config.Settings{}, err
		}
		setupLogging(settings.LogLevel)
		return settings, nil
	}

	rootCmd.AddCommand(payCmd(load))
	rootCmd.AddCommand(mockBackendCmd(load))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	}))
	slog.SetDefault(logger)
}
