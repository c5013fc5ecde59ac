/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/accountsync/userservice/config"
	"github.com/accountsync/userservice/internal/server"
	"github.com/accountsync/userservice/pkg/logger"
	"github.com/spf13/cobra"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Starts the user account HTTP server",
	Long: `Starts the user account HTTP server. Usage:

	userservice server
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.LoadConfig()
		log := logger.Init(logger.Options{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

		srv, err := server.New(cmd.Context(), cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
			os.Exit(1)
		}
		log.Info().Int("port", cfg.ServerPort).Msg("server listening")
		if err := srv.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
