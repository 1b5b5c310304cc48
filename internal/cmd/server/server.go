// Package server implements the "sftpadmin server" subcommand.
package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Atari-Inc/Atari-Files-Transfer/internal/cmd/cliconfig"
	"github.com/Atari-Inc/Atari-Files-Transfer/internal/daemon"
)

func NewCommand(flags *cliconfig.Flags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the admin API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.Config()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Port = port
			}
			log, closer, err := flags.Logger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log.Info("starting", "env", cfg.Env, "addr", cfg.Addr(), "database", cfg.Database.Driver)
			return daemon.Run(ctx, daemon.Options{Config: cfg, Logger: log})
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port override")
	return cmd
}
