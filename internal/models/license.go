package models

import (
	"time"

	"github.com/google/uuid"
)

type LicenseType string

const (
	LicenseTypeTrial    LicenseType = "TRIAL"
	LicenseTypeMonthly  LicenseType = "MONTHLY"
	LicenseTypeYearly   LicenseType = "YEARLY"
	LicenseTypeLifetime LicenseType = "LIFETIME"
	LicenseTypeCustom   LicenseType = "CUSTOM"
)

// Valid reports whether t is one of the known license types
func (t LicenseType) Valid() bool {
	switch t {
	case LicenseTypeTrial, LicenseTypeMonthly, LicenseTypeYearly, LicenseTypeLifetime, LicenseTypeCustom:
		return true
	}
	return false
}

type LicenseStatus string

const (
	LicenseStatusActive  LicenseStatus = "ACTIVE"
	LicenseStatusExpired LicenseStatus = "EXPIRED"
	LicenseStatusRevoked LicenseStatus = "REVOKED"
)

// Valid reports whether s is one of the known license statuses
func (s LicenseStatus) Valid() bool {
	switch s {
	case LicenseStatusActive, LicenseStatusExpired, LicenseStatusRevoked:
		return true
	}
	return false
}

// Metadata keys recorded on licenses. Authorization never reads them;
// IssuerIdentity on the License itself is the only scoping attribute.
const (
	MetaIssuerIdentity = "issuerIdentity"
	MetaIssuerRole     = "issuerRole"
	MetaPackage        = "package"
	MetaDays           = "days"
	MetaExtendedBy     = "extendedBy"
	MetaExtendedAt     = "extendedAt"
	MetaDaysAdded      = "daysAdded"
	MetaPreviousExpiry = "previousExpiry"
	MetaExtendReason   = "reason"
	MetaRevokeReason   = "revokeReason"
	MetaRevokedBy      = "revokedBy"
)

// License is a signed entitlement for one (device, tool) pair
type License struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	DeviceID       string        `json:"deviceId" db:"device_id"`
	ToolType       string        `json:"toolType" db:"tool_type"`
	LicenseKey     string        `json:"licenseKey" db:"license_key"`
	Type           LicenseType   `json:"type" db:"type"`
	Status         LicenseStatus `json:"status" db:"status"`
	Owner          *string       `json:"owner" db:"owner"`
	IssuerIdentity *string       `json:"issuerIdentity,omitempty" db:"issuer_identity"`
	ExpiresAt      time.Time     `json:"expiresAt" db:"expires_at"`
	IssuedAt       time.Time     `json:"issuedAt" db:"issued_at"`
	ActivatedAt    *time.Time    `json:"activatedAt" db:"activated_at"`
	LastUsed       *time.Time    `json:"lastUsed" db:"last_used"`
	RevokedAt      *time.Time    `json:"revokedAt" db:"revoked_at"`
	Activations    int           `json:"activations" db:"activations"`
	Metadata       JSONB         `json:"metadata" db:"metadata"`

	Device *Device `json:"device,omitempty" db:"-"`
}

// IsTrial reports whether the license was auto-granted as a trial
func (l *License) IsTrial() bool {
	return l.Type == LicenseTypeTrial
}

// IssuedBy reports whether the license carries exactly the given issuer identity
func (l *License) IssuedBy(email string) bool {
	return l.IssuerIdentity != nil && email != "" && *l.IssuerIdentity == email
}

// Clone returns a deep copy so callers can't mutate stored records
func (l *License) Clone() *License {
	if l == nil {
		return nil
	}
	c := *l
	c.Owner = cloneString(l.Owner)
	c.IssuerIdentity = cloneString(l.IssuerIdentity)
	c.ActivatedAt = cloneTime(l.ActivatedAt)
	c.LastUsed = cloneTime(l.LastUsed)
	c.RevokedAt = cloneTime(l.RevokedAt)
	c.Metadata = l.Metadata.Clone()
	if l.Device != nil {
		c.Device = l.Device.Clone()
	}
	return &c
}

// LicenseUpdate is a partial update applied to one license row.
// Nil fields are left untouched.
type LicenseUpdate struct {
	Status           *LicenseStatus
	LicenseKey       *string
	ExpiresAt        *time.Time
	RevokedAt        *time.Time
	LastUsed         *time.Time
	ActivatedAt      *time.Time // only applied when the stored value is null
	ActivationsDelta int
	Metadata         JSONB // replaces the stored metadata when non-nil
}

// LicenseFilters represents filters for listing licenses
type LicenseFilters struct {
	Status   *LicenseStatus `json:"status"`
	ToolType *string        `json:"toolType"`
	DeviceID *string        `json:"deviceId"` // substring match
	Type     *LicenseType   `json:"type"`
	Search   *string        `json:"search"` // device id, owner or license key substring

	// Visibility scope, filled in by AccessScope and never from request input.
	// A nil IssuerIdentity means unrestricted.
	IssuerIdentity *string `json:"-"`
	IncludeTrials  bool    `json:"-"`
}

// LicenseSummary holds license counts under one visibility scope
type LicenseSummary struct {
	Total     int            `json:"totalLicenses"`
	Active    int            `json:"activeLicenses"`
	Expired   int            `json:"expiredLicenses"`
	Revoked   int            `json:"revokedLicenses"`
	ByTool    map[string]int `json:"toolCounts,omitempty"`
	ByPackage map[string]int `json:"packageCounts,omitempty"`
}

// LicenseView is the summary returned to license clients
type LicenseView struct {
	ID            uuid.UUID   `json:"id,omitempty"`
	LicenseKey    string      `json:"licenseKey"`
	DeviceID      string      `json:"deviceId,omitempty"`
	ToolType      string      `json:"toolType,omitempty"`
	Type          LicenseType `json:"type"`
	Package       string      `json:"package,omitempty"`
	Owner         *string     `json:"owner"`
	ExpiresAt     time.Time   `json:"expiresAt"`
	DaysRemaining int         `json:"daysRemaining"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
