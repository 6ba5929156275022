package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mrlokans/crudkit/internal/auth"
	"github.com/mrlokans/crudkit/internal/cipher"
	"github.com/mrlokans/crudkit/internal/config"
)

type GenSecretCommand struct {
	Bytes  int
	AESGCM bool
	AES    bool
}

func NewGenSecretCommand() *GenSecretCommand {
	return &GenSecretCommand{}
}

func (g *GenSecretCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gen-secret",
		Short: "Print a random secret",
		Long: `Print a random secret.

By default a hex secret suitable for AUTH_SECRET_KEY is printed. --aes-gcm
prints a base64 AES-256 key for SSH_SECRET_KEY and --aes a 16 character
AES-CBC key.`,
		Example: `  crudkit gen-secret
  crudkit gen-secret --bytes 64
  crudkit gen-secret --aes-gcm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.Run(cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&g.Bytes, "bytes", 32, "Number of random bytes of the hex secret")
	cmd.Flags().BoolVar(&g.AESGCM, "aes-gcm", false, "Print a base64 AES-256-GCM key")
	cmd.Flags().BoolVar(&g.AES, "aes", false, "Print a 16 character AES-CBC key")
	cmd.MarkFlagsMutuallyExclusive("aes-gcm", "aes")
	return cmd
}

func (g *GenSecretCommand) Run(w io.Writer) error {
	var (
		secret string
		err    error
	)
	switch {
	case g.AESGCM:
		secret, err = cipher.GenerateKey()
	case g.AES:
		secret, err = cipher.GenerateAESKey()
	default:
		if g.Bytes < 16 {
			return fmt.Errorf("a secret needs at least 16 bytes, got %d", g.Bytes)
		}
		secret, err = auth.GenerateSecret(g.Bytes)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, secret)
	return err
}

type GenRSAKeyCommand struct {
	Bits   int
	Base64 bool
	OutDir string
}

func NewGenRSAKeyCommand() *GenRSAKeyCommand {
	return &GenRSAKeyCommand{}
}

func (g *GenRSAKeyCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gen-rsa-key",
		Short: "Generate an RSA key pair",
		Example: `  crudkit gen-rsa-key
  crudkit gen-rsa-key --bits 4096 --out ./keys`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.Run(cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&g.Bits, "bits", cipher.DefaultRSABits, "Key size in bits")
	cmd.Flags().BoolVar(&g.Base64, "base64", false, "Base64 encode the PEM blocks")
	cmd.Flags().StringVar(&g.OutDir, "out", "", "Write private.pem and public.pem to this directory instead of stdout")
	return cmd
}

func (g *GenRSAKeyCommand) Run(w io.Writer) error {
	if g.Bits < 1024 {
		return fmt.Errorf("rsa keys need at least 1024 bits, got %d", g.Bits)
	}
	private, public, err := cipher.GenerateRSAKey(g.Bits, g.Base64)
	if err != nil {
		return err
	}
	if g.OutDir == "" {
		_, err = fmt.Fprintf(w, "%s\n%s\n", private, public)
		return err
	}

	if err := os.MkdirAll(g.OutDir, 0o700); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	privatePath := filepath.Join(g.OutDir, "private.pem")
	publicPath := filepath.Join(g.OutDir, "public.pem")
	if err := os.WriteFile(privatePath, []byte(private), 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, []byte(public), 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	_, err = fmt.Fprintf(w, "Wrote %s and %s\n", privatePath, publicPath)
	return err
}

// encryptedPrefix marks a password sealed with the SSH secret key.
const encryptedPrefix = "enc:"

type EncryptCommand struct {
	Key string
}

func NewEncryptCommand() *EncryptCommand {
	return &EncryptCommand{}
}

func (e *EncryptCommand) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encrypt <plaintext>",
		Short: "Encrypt a password for use in ssh commands",
		Long: `Encrypt a password with the AES-256-GCM key in SSH_SECRET_KEY (or --key).
The printed value starts with "enc:" and is accepted wherever the ssh
commands take a password.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.Run(cmd.OutOrStdout(), args[0])
		},
	}
	cmd.Flags().StringVar(&e.Key, "key", "", "Base64 AES-256 key (default $SSH_SECRET_KEY)")
	return cmd
}

func (e *EncryptCommand) Run(w io.Writer, plaintext string) error {
	enc, err := newEncryptor(e.Key)
	if err != nil {
		return err
	}
	sealed, err := enc.Encrypt(plaintext)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, encryptedPrefix+sealed)
	return err
}

func newEncryptor(key string) (*cipher.Encryptor, error) {
	if key == "" {
		key = config.NewConfig().SSH.SecretKey
	}
	if key == "" {
		return nil, errors.New("no encryption key, set SSH_SECRET_KEY or pass --key")
	}
	return cipher.NewEncryptorFromBase64(key)
}
