package cmd

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/spf13/cobra"
)

var keygenSecret bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate signing key material",
	Long: `Generate signing key material for token issuance.

By default, generates an RSA-2048 keypair and prints both keys as PEM,
suitable for the JWT_PRIVATE_KEY and JWT_PUBLIC_KEY variables when
jwt.algorithm is RS256.

With --secret, generates a 48-byte random secret (hex) for HS256. The
production minimum is 32 bytes; 48 leaves headroom.

Examples:
  # RSA keypair for RS256
  aegis-gate keygen

  # Shared secret for HS256
  aegis-gate keygen --secret`,
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().BoolVar(&keygenSecret, "secret", false, "Generate an HS256 shared secret instead of an RSA keypair")
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	if keygenSecret {
		secret := make([]byte, 48)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("failed to generate secret: %w", err)
		}
		fmt.Println(hex.EncodeToString(secret))
		return nil
	}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("failed to generate RSA keypair: %w", err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("failed to marshal public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubDER,
	})

	fmt.Print(string(privPEM))
	fmt.Print(string(pubPEM))
	return nil
}
