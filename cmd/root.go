/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "userservice",
	Short: "User account service with identity-provider deletion sync",
	Long: `userservice maintains a local copy of user profile records and
propagates account deletions to the external identity provider through
the message broker. Run "userservice server" for the HTTP API and
"userservice relay" for the deletion consumer.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
