package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ablestor/expo-electron-updates-server/internal/auth"
	"github.com/Ablestor/expo-electron-updates-server/internal/signing"
)

func newKeygenCmd() *cobra.Command {
	var (
		outDir string
		bits   int
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA key pair for code signing",
		RunE: func(cmd *cobra.Command, args []string) error {
			privPEM, pubPEM, err := signing.GenerateKeyPair(bits)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("failed to create %s: %w", outDir, err)
			}
			privPath := filepath.Join(outDir, "private-key.pem")
			if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
				return fmt.Errorf("failed to write private key: %w", err)
			}
			pubPath := filepath.Join(outDir, "public-key.pem")
			if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
				return fmt.Errorf("failed to write public key: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "private key: %s\npublic key: %s\n", privPath, pubPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "keys", "Output directory")
	cmd.Flags().IntVar(&bits, "bits", 2048, "RSA key size")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an admin bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			authConfig, err := auth.NewConfig(authConfigPath)
			if err != nil {
				return fmt.Errorf("failed to load auth config: %w", err)
			}

			token, err := auth.NewVerifier(authConfig).IssueToken(ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
