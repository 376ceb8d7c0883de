package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/commitcast/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

// newRootCmd builds the commitcast command tree. The root command runs the
// bot until SIGINT or SIGTERM.
func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "commitcast",
		Short:         "Announce new GitHub commits in Discord channels",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg))
			return run(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to the YAML config file (default $COMMITCAST_CONFIG or "+config.DefaultPath+")")

	cmd.AddCommand(newValidateCmd(&configPath))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the commitcast version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "commitcast %s\n", version)
		},
	})

	return cmd
}

// newValidateCmd loads and validates the configuration, then lists the
// resolved targets without connecting anywhere.
func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and print the watched branches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			settings := cfg.Settings()
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "config OK: %d targets, poll interval %s\n",
				len(settings.Targets), settings.PollInterval)
			for _, target := range settings.Targets {
				_, _ = fmt.Fprintf(out, "  %s -> channel %s\n", target.Slug(), settings.ChannelFor(target))
			}
			return nil
		},
	}
}

func loadConfig(flagValue string) (*config.Config, error) {
	return config.Load(config.ResolvePath(flagValue))
}

// newLogger builds the process logger from the configured format and level.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}

	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
