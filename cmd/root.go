package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/Builder-Lawyers/church-provisioner/pkg/env"
	"github.com/spf13/cobra"
)

func Root() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:           "church-provisioner",
		Short:         "Provision church tenants: queue, approval and site pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			setupLogger(logLevel)
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", env.GetEnv("LOG_LEVEL", "info"), "debug, info, warn or error")

	cmd.AddCommand(Serve())
	cmd.AddCommand(Migrate())
	return cmd
}

func Execute() {
	if err := Root().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func setupLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
