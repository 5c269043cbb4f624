package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// KeyBits is the modulus size of license signing keys
const KeyBits = 2048

// ParsePrivateKeyPEM accepts PKCS#1 ("RSA PRIVATE KEY") and PKCS#8
// ("PRIVATE KEY") encodings.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("signing: no PEM block in private key")
	}

	var key *rsa.PrivateKey
	switch block.Type {
	case "RSA PRIVATE KEY":
		k, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signing: parse PKCS#1 private key: %w", err)
		}
		key = k
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signing: parse PKCS#8 private key: %w", err)
		}
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("signing: PKCS#8 key is not RSA")
		}
		key = rsaKey
	default:
		return nil, fmt.Errorf("signing: unsupported private key type %q", block.Type)
	}

	if key.N.BitLen() < KeyBits {
		return nil, fmt.Errorf("signing: private key is %d bits, need at least %d", key.N.BitLen(), KeyBits)
	}
	return key, nil
}

// ParsePublicKeyPEM accepts PKIX ("PUBLIC KEY") and PKCS#1
// ("RSA PUBLIC KEY") encodings.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("signing: no PEM block in public key")
	}

	switch block.Type {
	case "PUBLIC KEY":
		k, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signing: parse PKIX public key: %w", err)
		}
		rsaKey, ok := k.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("signing: public key is not RSA")
		}
		return rsaKey, nil
	case "RSA PUBLIC KEY":
		k, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signing: parse PKCS#1 public key: %w", err)
		}
		return k, nil
	default:
		return nil, fmt.Errorf("signing: unsupported public key type %q", block.Type)
	}
}

// LoadKeys resolves the key pair from inline PEM or file paths. Inline
// material wins over paths; the public key is optional.
func LoadKeys(privatePEM, privatePath, publicPEM, publicPath string) (*rsa.PrivateKey, *rsa.PublicKey, error) {
	privData, err := pemSource(privatePEM, privatePath)
	if err != nil {
		return nil, nil, fmt.Errorf("signing: read private key: %w", err)
	}
	pubData, err := pemSource(publicPEM, publicPath)
	if err != nil {
		return nil, nil, fmt.Errorf("signing: read public key: %w", err)
	}

	var priv *rsa.PrivateKey
	if len(privData) > 0 {
		if priv, err = ParsePrivateKeyPEM(privData); err != nil {
			return nil, nil, err
		}
	}
	var pub *rsa.PublicKey
	if len(pubData) > 0 {
		if pub, err = ParsePublicKeyPEM(pubData); err != nil {
			return nil, nil, err
		}
	}
	if priv == nil && pub == nil {
		return nil, nil, errors.New("signing: no key material configured")
	}
	return priv, pub, nil
}

func pemSource(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

// GenerateKeyPair creates a fresh signing key
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, KeyBits)
}

// EncodePrivateKeyPEM renders key as PKCS#1 PEM
func EncodePrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
}

// EncodePublicKeyPEM renders key as PKIX PEM
func EncodePublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("signing: marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
