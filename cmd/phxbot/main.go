// Package main is the entrypoint for the PHX bot.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/XpNow/PHX-Bot/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "phxbot",
		Short: "PHX role-play organization bot",
		Long: `phxbot manages role-play organizations on a Discord guild: membership,
ranks, cooldowns and warnings, keeping guild roles in line with its records.

Run 'phxbot run' to connect to the gateway.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")

	load := func() (*config.BotConfig, zerolog.Logger, error) {
		cfg, err := config.Load(envFile)
		if err != nil {
			return nil, zerolog.Nop(), err
		}
		return cfg, newLogger(cfg), nil
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(load),
		newMigrateCmd(load),
		newSeedCmd(load),
		newSweepCmd(load),
		newResolveCmd(load),
		newSettingsCmd(load),
		newAuditCmd(load),
	)
	return rootCmd
}

type configLoader func() (*config.BotConfig, zerolog.Logger, error)

func newLogger(cfg *config.BotConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("version", Version).Logger()
	if !cfg.IsProduction() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "phxbot %s\n", Version)
			fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			fmt.Fprintf(out, "  Built:      %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
