// Copyright 2024-2026 Aiku AI

// Command discordlink relays chat and game events between an Eco game server
// and Discord or Mattermost.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/aiku/discordlink/pkg/connector"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 30 * time.Second

type options struct {
	configPath string
	saveConfig bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "discordlink",
		Short:         "Eco game server to Discord and Mattermost relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the config file")
	cmd.PersistentFlags().BoolVar(&opts.saveConfig, "save-config", true, "write the upgraded config back to disk")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newCheckConfigCmd(opts))
	cmd.AddCommand(newExampleConfigCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newRunCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := connector.LoadConfig(opts.configPath, opts.saveConfig)
			if err != nil {
				return err
			}
			log, err := cfg.Logging.Compile()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			zerolog.DefaultContextLogger = log

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(log.WithContext(ctx), cfg, *log)
		},
	}
}

func run(ctx context.Context, cfg *connector.Config, log zerolog.Logger) error {
	log.Info().
		Str("version", Tag).
		Str("commit", Commit).
		Str("build_time", BuildTime).
		Str("remote", string(cfg.Remote.Type)).
		Str("local", string(cfg.Local.Type)).
		Msg("Starting discordlink")

	relay, err := connector.New(cfg, log)
	if err != nil {
		return err
	}
	if err := relay.Start(ctx); err != nil {
		return err
	}
	runErr := relay.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := relay.Stop(stopCtx); err != nil {
		log.Err(err).Msg("Failed to stop relay cleanly")
	}
	return runErr
}

func newCheckConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and print the active channel links",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := connector.LoadConfig(opts.configPath, false)
			if err != nil {
				return err
			}
			return describeConfig(cmd.OutOrStdout(), cfg)
		},
	}
}

func describeConfig(w io.Writer, cfg *connector.Config) error {
	_, err := fmt.Fprintf(w, "remote: %s\nlocal: %s\n", cfg.Remote.Type, cfg.Local.Type)
	if err != nil {
		return err
	}
	for _, link := range cfg.ChatLinks {
		state := "ok"
		if !link.IsValid() {
			state = "invalid, skipped"
		}
		if _, err := fmt.Fprintf(w, "link %s <-> %s (%s)\n", link.LocalChannel, link.Key(), state); err != nil {
			return err
		}
	}
	return nil
}

func newExampleConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "example-config",
		Short: "Print the example config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), connector.ExampleConfig)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "discordlink %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
