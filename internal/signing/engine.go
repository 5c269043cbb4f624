package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"licensehub/internal/common"

	"github.com/jonboulle/clockwork"
)

var signatureEncoding = base64.StdEncoding.Strict()

// ValidationResult is the outcome of checking a presented license key
type ValidationResult struct {
	Valid      bool
	DeviceID   string
	Owner      string
	ExpiryDate string
	Reason     common.ErrorCode
}

// Err returns the typed failure for an invalid result, nil otherwise
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	switch r.Reason {
	case common.CodeExpired:
		return common.NewError(common.CodeExpired, "license expired")
	case common.CodeBadSignature:
		return common.NewError(common.CodeBadSignature, "invalid signature")
	default:
		return common.NewError(common.CodeMalformedToken, "invalid license key format")
	}
}

// Engine signs and verifies license tokens with one process-wide key pair.
// Keys are fixed at construction and never re-read.
type Engine struct {
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
	clock      clockwork.Clock
}

// NewEngine creates a signature engine. A nil public key is derived from
// the private key; a nil private key yields a verify-only engine.
func NewEngine(privateKey *rsa.PrivateKey, publicKey *rsa.PublicKey, clock clockwork.Clock) (*Engine, error) {
	if publicKey == nil && privateKey != nil {
		publicKey = &privateKey.PublicKey
	}
	if publicKey == nil {
		return nil, errors.New("signing: a public or private key is required")
	}
	if privateKey != nil && !privateKey.PublicKey.Equal(publicKey) {
		return nil, errors.New("signing: public key does not match private key")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{privateKey: privateKey, publicKey: publicKey, clock: clock}, nil
}

// Sign produces a PKCS#1 v1.5 signature over the SHA-256 digest of message
func (e *Engine) Sign(message string) ([]byte, error) {
	if e.privateKey == nil {
		return nil, common.NewError(common.CodeSigningError, "private key not loaded")
	}
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPKCS1v15(rand.Reader, e.privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return nil, common.WrapError(common.CodeSigningError, "failed to sign license", err)
	}
	return sig, nil
}

// Verify checks a signature over message. It never fails loudly: any
// malformed signature is simply reported as invalid.
func (e *Engine) Verify(message string, signature []byte) bool {
	if len(signature) == 0 {
		return false
	}
	digest := sha256.Sum256([]byte(message))
	return rsa.VerifyPKCS1v15(e.publicKey, crypto.SHA256, digest[:], signature) == nil
}

// IssueToken builds, signs and encodes a four-field license key
func (e *Engine) IssueToken(deviceID, owner, expiryDate string) (string, error) {
	message, err := BuildMessage(deviceID, owner, expiryDate)
	if err != nil {
		return "", err
	}
	sig, err := e.Sign(message)
	if err != nil {
		return "", err
	}
	return message + fieldSeparator + signatureEncoding.EncodeToString(sig), nil
}

// ValidateToken parses a license key, verifies its signature and checks the
// expiry date. A token stays valid through the whole of its expiry day (UTC).
func (e *Engine) ValidateToken(token string) ValidationResult {
	t, err := ParseToken(token)
	if err != nil {
		return ValidationResult{Reason: common.CodeMalformedToken}
	}

	sig, err := signatureEncoding.DecodeString(t.Signature)
	if err != nil || !e.Verify(t.Message(), sig) {
		return ValidationResult{Reason: common.CodeBadSignature}
	}

	result := ValidationResult{DeviceID: t.DeviceID, Owner: t.Owner, ExpiryDate: t.ExpiryDate}
	expiry, err := time.Parse(DateLayout, t.ExpiryDate)
	if err != nil {
		result.Reason = common.CodeMalformedToken
		return result
	}
	if Today(e.clock.Now()).After(expiry) {
		result.Reason = common.CodeExpired
		return result
	}
	result.Valid = true
	return result
}

// Today truncates t to its UTC calendar date
func Today(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
