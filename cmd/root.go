// Package cmd implements the botnexa CLI: bot management against the
// BotNexa backend and interactive WhatsApp device pairing over the
// real-time channel.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/arosyihuddin/BotNexa/internal/api"
	"github.com/arosyihuddin/BotNexa/internal/config"
)

var configPathFlag string

var rootCmd = &cobra.Command{
	Use:   "botnexa",
	Short: "Manage BotNexa WhatsApp bots from the terminal",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

// Execute runs the CLI.
func Execute() {
	rootCmd.AddCommand(botsCmd())
	rootCmd.AddCommand(pairCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", "", "config file (default ~/.botnexa/config.json5)")
}

// resolveConfigPath picks the config location: flag, then BOTNEXA_CONFIG,
// then the conventional path.
func resolveConfigPath() string {
	if configPathFlag != "" {
		return config.ExpandHome(configPathFlag)
	}
	if env := os.Getenv("BOTNEXA_CONFIG"); env != "" {
		return config.ExpandHome(env)
	}
	return config.DefaultPath()
}

func setupLogging() {
	cfg, err := config.Load(resolveConfigPath())
	level := slog.LevelInfo
	if err == nil {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// mustLoadConfig loads and validates the config, exiting with guidance
// when the CLI cannot run without it.
func mustLoadConfig() *config.Config {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		fmt.Fprintf(os.Stderr, "Edit %s or export the matching BOTNEXA_* variable.\n", resolveConfigPath())
		os.Exit(1)
	}
	return cfg
}

func newAPIClient(cfg *config.Config) *api.Client {
	return api.NewClient(cfg.APIURL, cfg.Token, cfg.UserID)
}
