package cli

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/xraph/billsync/verify"
)

// DefaultKeyBits is the RSA modulus size keygen uses.
const DefaultKeyBits = 2048

// ──────────────────────────────────────────────────
// keygen
// ──────────────────────────────────────────────────

// KeygenOptions holds flags for the keygen command.
type KeygenOptions struct {
	Bits        int
	PrivateFile string
	PublicFile  string
}

// KeyPair is the output of keygen.
type KeyPair struct {
	PrivateKey string `json:"private_key,omitempty"`
	PublicKey  string `json:"public_key"`
	PrivateOut string `json:"private_file,omitempty"`
	PublicOut  string `json:"public_file,omitempty"`
}

func (k *KeyPair) String() string {
	var b strings.Builder
	if k.PrivateOut != "" {
		fmt.Fprintf(&b, "Private key written to %s\n", k.PrivateOut)
	} else {
		b.WriteString(k.PrivateKey)
	}
	if k.PublicOut != "" {
		fmt.Fprintf(&b, "Public key written to %s", k.PublicOut)
	} else {
		fmt.Fprintf(&b, "Public key: %s", k.PublicKey)
	}
	return b.String()
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &KeygenOptions{}

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA key pair for receipt signing",
		Long: `Generate an RSA key pair. The private key is PEM encoded (PKCS#8); the
public key is printed in the base64 DER form accepted by the public_key
configuration setting.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			formatter := newFormatter(rootOpts, cmd)

			pair, err := generateKeyPair(opts.Bits)
			if err != nil {
				_ = formatter.Error(ErrCodeKey, err.Error(), nil) //nolint:errcheck // best-effort output
				return WrapExitError(ExitCommandError, "generate key", err)
			}

			if opts.PrivateFile != "" {
				if err := os.WriteFile(opts.PrivateFile, []byte(pair.PrivateKey), 0o600); err != nil {
					return WrapExitError(ExitCommandError, "write private key", err)
				}
				pair.PrivateOut = opts.PrivateFile
				pair.PrivateKey = ""
			}
			if opts.PublicFile != "" {
				if err := os.WriteFile(opts.PublicFile, []byte(pair.PublicKey+"\n"), 0o644); err != nil { //nolint:gosec // public key
					return WrapExitError(ExitCommandError, "write public key", err)
				}
				pair.PublicOut = opts.PublicFile
			}
			formatter.VerboseLog("Generated %d-bit RSA key", opts.Bits)

			return formatter.Success(pair)
		},
	}

	cmd.Flags().IntVar(&opts.Bits, "bits", DefaultKeyBits, "RSA modulus size")
	cmd.Flags().StringVar(&opts.PrivateFile, "private-out", "", "write the private key PEM to this file")
	cmd.Flags().StringVar(&opts.PublicFile, "public-out", "", "write the public key to this file")

	return cmd
}

func generateKeyPair(bits int) (*KeyPair, error) {
	if bits < 1024 {
		return nil, fmt.Errorf("key size %d is too small", bits)
	}
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	pub, err := verify.EncodePublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{
		PrivateKey: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
		PublicKey:  pub,
	}, nil
}

// ──────────────────────────────────────────────────
// sign
// ──────────────────────────────────────────────────

// SignOptions holds flags for the sign command.
type SignOptions struct {
	KeyFile     string
	Payload     string
	PayloadFile string
}

// Signature is the output of sign.
type Signature struct {
	Signature string `json:"signature"`
}

func (s *Signature) String() string { return s.Signature }

// NewSignCommand creates the sign command.
func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignOptions{}

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a receipt payload with a private key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			formatter := newFormatter(rootOpts, cmd)

			pemBytes, err := os.ReadFile(opts.KeyFile)
			if err != nil {
				_ = formatter.Error(ErrCodeKey, err.Error(), nil) //nolint:errcheck // best-effort output
				return WrapExitError(ExitCommandError, "read private key", err)
			}
			key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
			if err != nil {
				_ = formatter.Error(ErrCodeKey, err.Error(), nil) //nolint:errcheck // best-effort output
				return WrapExitError(ExitCommandError, "parse private key", err)
			}

			payload, err := readPayload(opts.Payload, opts.PayloadFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "read payload", err)
			}

			sig, err := verify.Sign(key, payload)
			if err != nil {
				_ = formatter.Error(ErrCodeSignature, err.Error(), nil) //nolint:errcheck // best-effort output
				return WrapExitError(ExitCommandError, "sign payload", err)
			}
			formatter.VerboseLog("Signed %d byte payload", len(payload))

			return formatter.Success(&Signature{Signature: sig})
		},
	}

	cmd.Flags().StringVar(&opts.KeyFile, "key", "", "private key PEM file")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "payload to sign")
	cmd.Flags().StringVar(&opts.PayloadFile, "payload-file", "", "read the payload from this file")
	_ = cmd.MarkFlagRequired("key") //nolint:errcheck // flag is defined above

	return cmd
}

// ──────────────────────────────────────────────────
// verify
// ──────────────────────────────────────────────────

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	Key         string
	KeyFile     string
	Payload     string
	PayloadFile string
	Signature   string
}

// Verification is the output of verify.
type Verification struct {
	Valid bool `json:"valid"`
}

func (v *Verification) String() string {
	if v.Valid {
		return "Signature valid"
	}
	return "Signature invalid"
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a receipt signature against a public key",
		Long: `Check a receipt signature against a public key. Exits with status 1 when
the signature does not match.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			formatter := newFormatter(rootOpts, cmd)

			key := opts.Key
			if opts.KeyFile != "" {
				b, err := os.ReadFile(opts.KeyFile)
				if err != nil {
					return WrapExitError(ExitCommandError, "read public key", err)
				}
				key = string(b)
			}
			if _, err := verify.ParsePublicKey(key); err != nil {
				_ = formatter.Error(ErrCodeKey, err.Error(), nil) //nolint:errcheck // best-effort output
				return WrapExitError(ExitCommandError, "parse public key", err)
			}

			payload, err := readPayload(opts.Payload, opts.PayloadFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "read payload", err)
			}

			if !verify.Verify(key, payload, opts.Signature) {
				_ = formatter.Error(ErrCodeSignature, "signature does not match payload", nil) //nolint:errcheck // best-effort output
				return NewExitError(ExitFailure, "signature invalid")
			}
			return formatter.Success(&Verification{Valid: true})
		},
	}

	cmd.Flags().StringVar(&opts.Key, "key", "", "public key (base64 DER or PEM)")
	cmd.Flags().StringVar(&opts.KeyFile, "key-file", "", "read the public key from this file")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "signed payload")
	cmd.Flags().StringVar(&opts.PayloadFile, "payload-file", "", "read the payload from this file")
	cmd.Flags().StringVar(&opts.Signature, "signature", "", "base64 signature")
	_ = cmd.MarkFlagRequired("signature") //nolint:errcheck // flag is defined above

	return cmd
}

var errNoPayload = errors.New("one of --payload or --payload-file is required")

func readPayload(inline, path string) ([]byte, error) {
	switch {
	case inline != "" && path != "":
		return nil, errors.New("--payload and --payload-file are mutually exclusive")
	case path != "":
		return os.ReadFile(path)
	case inline != "":
		return []byte(inline), nil
	default:
		return nil, errNoPayload
	}
}
