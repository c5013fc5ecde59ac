/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/accountsync/userservice/config"
	"github.com/accountsync/userservice/internal/identity"
	"github.com/accountsync/userservice/internal/relay"
	"github.com/accountsync/userservice/internal/server"
	"github.com/accountsync/userservice/pkg/logger"
	"github.com/spf13/cobra"
)

// relayCmd represents the relay command
var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Starts the deletion relay consumer",
	Long: `Starts the deletion relay: consumes user.deleted events from the
broker and deletes the corresponding users at the identity provider.
Runs independently of the HTTP server, usually as its own process.

	userservice relay
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.LoadConfig()
		log := logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		broker, err := server.NewBroker(ctx, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect broker: %v\n", err)
			os.Exit(1)
		}
		defer broker.Close()

		idp, err := identity.NewKeycloakClient(cfg.Keycloak)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build identity client: %v\n", err)
			os.Exit(1)
		}

		var dedup relay.Deduper
		if cfg.Redis.Addr != "" {
			redisDedup, err := relay.ConnectRedisDedup(ctx, cfg.Redis)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to connect redis: %v\n", err)
				os.Exit(1)
			}
			defer redisDedup.Close()
			dedup = redisDedup
		}

		r := relay.New(broker, idp, dedup, log)
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "relay error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
}
