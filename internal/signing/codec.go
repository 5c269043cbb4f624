package signing

import (
	"strings"
	"time"

	"licensehub/internal/common"
)

// DateLayout is the fixed-width UTC calendar date carried in every token.
// Licenses expire at a day boundary, never at an instant.
const DateLayout = "2006-01-02"

const fieldSeparator = "|"

// Token is a parsed license key: deviceId|owner|expiryDate|signature
type Token struct {
	DeviceID   string
	Owner      string
	ExpiryDate string
	Signature  string
}

// Message returns the signed portion of the token
func (t Token) Message() string {
	return strings.Join([]string{t.DeviceID, t.Owner, t.ExpiryDate}, fieldSeparator)
}

// SanitizeOwner replaces every delimiter character so the owner field can
// never split the token.
func SanitizeOwner(owner string) string {
	return strings.TrimSpace(strings.ReplaceAll(owner, fieldSeparator, " "))
}

// FormatDate renders t as the token's UTC calendar date
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// BuildMessage joins the three signed fields after sanitizing owner
func BuildMessage(deviceID, owner, expiryDate string) (string, error) {
	if deviceID == "" {
		return "", common.NewError(common.CodeInvalidField, "device id is required")
	}
	if strings.Contains(deviceID, fieldSeparator) {
		return "", common.NewError(common.CodeInvalidField, "device id must not contain '|'")
	}
	if expiryDate == "" {
		return "", common.NewError(common.CodeInvalidField, "expiry date is required")
	}
	if _, err := time.Parse(DateLayout, expiryDate); err != nil {
		return "", common.WrapError(common.CodeInvalidField, "expiry date must be a YYYY-MM-DD calendar date", err)
	}
	return Token{DeviceID: deviceID, Owner: SanitizeOwner(owner), ExpiryDate: expiryDate}.Message(), nil
}

// ParseToken splits a license key into its four fields. Only the owner
// field may be empty.
func ParseToken(token string) (Token, error) {
	parts := strings.Split(token, fieldSeparator)
	if len(parts) != 4 {
		return Token{}, common.NewError(common.CodeMalformedToken, "license key must have exactly four fields")
	}
	t := Token{DeviceID: parts[0], Owner: parts[1], ExpiryDate: parts[2], Signature: parts[3]}
	if t.DeviceID == "" || t.ExpiryDate == "" || t.Signature == "" {
		return Token{}, common.NewError(common.CodeMalformedToken, "license key has an empty field")
	}
	return t, nil
}
