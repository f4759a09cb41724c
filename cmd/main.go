package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	appConfigPath  string
	s3ConfigPath   string
	authConfigPath string
)

var rootCmd = &cobra.Command{
	Use:   "updates-server",
	Short: "Update server for Expo and Electron applications",
	Long: `Serves Expo Updates protocol manifests and assets and distributes
Electron releases published on GitHub.

Examples:
  # Run the HTTP and gRPC servers
  updates-server serve

  # Apply database migrations
  updates-server migrate

  # Generate a code signing key pair
  updates-server keygen --out ./keys`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&appConfigPath, "config", ".app.env", "Path to the application config file")
	rootCmd.PersistentFlags().StringVar(&s3ConfigPath, "s3-config", ".s3.env", "Path to the S3 config file")
	rootCmd.PersistentFlags().StringVar(&authConfigPath, "auth-config", ".auth.env", "Path to the admin auth config file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newTokenCmd())
}

func main() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
