package cmd

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/v2xtrx/internal/secmsg"
)

func newKeygenCmd() *cobra.Command {
	var out string
	keygenCmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 signing key",
		Long: `Generate a PKCS#8 PEM Ed25519 private key for security.key_file.

Examples:
  v2xtrx keygen -o /etc/v2xtrx/signing.pem`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, pemBytes, err := secmsg.GenerateKey()
			if err != nil {
				return err
			}
			digest := secmsg.Digest(key.Public().(ed25519.PublicKey))
			if out == "" {
				_, err = cmd.OutOrStdout().Write(pemBytes)
				return err
			}
			if err := os.WriteFile(out, pemBytes, 0600); err != nil {
				return fmt.Errorf("failed to write key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (signer digest %x)\n", out, digest)
			return nil
		},
	}
	keygenCmd.Flags().StringVarP(&out, "output", "o", "", "output file (default: stdout)")
	return keygenCmd
}
