// Command keygen writes a fresh RSA-2048 license signing key pair.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"licensehub/internal/logs"
	"licensehub/internal/signing"
)

func main() {
	dir := flag.String("out", "keys", "directory for private.pem and public.pem")
	force := flag.Bool("force", false, "overwrite existing key files")
	flag.Parse()

	logger, _ := logs.New(logs.Options{Level: "info"})

	if err := writeKeyPair(*dir, *force); err != nil {
		logger.WithError(err).Fatal("Key generation failed")
	}
	logger.WithField("dir", *dir).Info("Key pair written; keep private.pem secret and ship public.pem with clients")
}

func writeKeyPair(dir string, force bool) error {
	privatePath := filepath.Join(dir, "private.pem")
	publicPath := filepath.Join(dir, "public.pem")

	if !force {
		for _, p := range []string{privatePath, publicPath} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("%s already exists, use -force to overwrite", p)
			}
		}
	}

	key, err := signing.GenerateKeyPair()
	if err != nil {
		return err
	}
	publicPEM, err := signing.EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	if err := os.WriteFile(privatePath, signing.EncodePrivateKeyPEM(key), 0o600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write public key: %w", err)
	}
	return nil
}
