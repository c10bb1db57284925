package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sonnik9/gate-bob-deploy/internal/crypto"
)

var (
	encryptOut      string
	encryptSecret   string
	encryptPassword string
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt-secret",
	Short: "Encrypt the Gate API secret into a file for encrypted_secret_path",
	Long: `Encrypt the Gate API secret with a password. The secret and password
default to GATE_API_SECRET and GATEBOT_GATE_SECRET_PASSWORD.

Example:
  GATE_API_SECRET=... GATEBOT_GATE_SECRET_PASSWORD=... gatebot encrypt-secret --out secret.json`,
	RunE: runEncrypt,
}

func init() {
	rootCmd.AddCommand(encryptCmd)
	encryptCmd.Flags().StringVar(&encryptOut, "out", "gate_secret.json", "output file")
	encryptCmd.Flags().StringVar(&encryptSecret, "secret", "", "API secret (default $GATE_API_SECRET)")
	encryptCmd.Flags().StringVar(&encryptPassword, "password", "", "encryption password (default $GATEBOT_GATE_SECRET_PASSWORD)")
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	secret := encryptSecret
	if secret == "" {
		secret = os.Getenv("GATE_API_SECRET")
	}
	password := encryptPassword
	if password == "" {
		password = os.Getenv("GATEBOT_GATE_SECRET_PASSWORD")
	}
	if secret == "" {
		return errors.New("no secret given: set --secret or GATE_API_SECRET")
	}

	data, err := crypto.EncryptSecret(secret, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(encryptOut, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", encryptOut, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "encrypted secret written to %s\n", encryptOut)
	return nil
}
