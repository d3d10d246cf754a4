package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iged-project/iged/internal/webauthn"
)

func webauthnCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webauthn",
		Short: "WebAuthn registration and login server",
	}

	var addr string
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebAuthn server in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.WebAuthn.Addr = addr
			}
			log, closer, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer closer.Close()

			store, err := webauthn.OpenStore(cfg.WebAuthn.CredentialsFile, log)
			if err != nil {
				return err
			}
			opts := webauthn.OptionsFromConfig(cfg)
			opts.Version = version
			srv, err := webauthn.New(store, opts, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log.Info().Str("addr", opts.Addr).Str("rp_id", opts.RPID).Msg("webauthn server starting")
			return srv.Run(ctx, cfg.ShutdownTimeout())
		},
	}
	serve.Flags().StringVar(&addr, "addr", "", "override webauthn.addr")

	users := &cobra.Command{
		Use:   "users",
		Short: "List registered users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := webauthn.OpenStore(cfg.WebAuthn.CredentialsFile, zerolog.Nop())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, u := range store.Users() {
				fmt.Fprintf(out, "%-36s  %-20s  %d credential(s)\n", u.ID, u.Name, u.CredentialCount)
			}
			return nil
		},
	}

	cmd.AddCommand(serve, users)
	return cmd
}
