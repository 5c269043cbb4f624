package models

import "time"

// Device is one client installation, keyed by its fingerprint
type Device struct {
	DeviceID     string    `json:"deviceId" db:"device_id"`
	Hostname     *string   `json:"hostname" db:"hostname"`
	IPAddress    *string   `json:"ipAddress" db:"ip_address"`
	FirstSeen    time.Time `json:"firstSeen" db:"first_seen"`
	LastSeen     time.Time `json:"lastSeen" db:"last_seen"`
	TrialGranted bool      `json:"trialGranted" db:"trial_granted"`

	LicenseCount int `json:"licenseCount" db:"-"`
}

// Clone returns a deep copy of the device
func (d *Device) Clone() *Device {
	if d == nil {
		return nil
	}
	c := *d
	c.Hostname = cloneString(d.Hostname)
	c.IPAddress = cloneString(d.IPAddress)
	return &c
}

// DeviceFields are the attributes written by an upsert. Nil fields keep
// the stored value; TrialGranted can only move from false to true.
type DeviceFields struct {
	Hostname     *string
	IPAddress    *string
	TrialGranted bool
	SeenAt       time.Time
}

// DeviceFilters represents filters for listing devices
type DeviceFilters struct {
	DeviceID *string `json:"deviceId"` // substring match

	// Restricts to devices holding at least one license with this issuer.
	IssuerIdentity *string `json:"-"`
}
