package models

import (
	"time"

	"github.com/google/uuid"
)

// ActivityLog represents one operator action written to the activity sink
type ActivityLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	AdminID   uuid.UUID `json:"adminId" db:"admin_id"`
	Action    string    `json:"action" db:"action"`
	Details   JSONB     `json:"details" db:"details"`
	IPAddress *string   `json:"ipAddress" db:"ip_address"`
	UserAgent *string   `json:"userAgent" db:"user_agent"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	AdminEmail *string `json:"adminEmail,omitempty" db:"-"`
	AdminName  *string `json:"adminName,omitempty" db:"-"`
}

// Action constants for activity logs
const (
	ActionLogin          = "LOGIN"
	ActionCreateLicense  = "CREATE_LICENSE"
	ActionSellerAdd      = "SELLER_ADD"
	ActionCreateReseller = "CREATE_RESELLER"
	ActionRevokeLicense  = "REVOKE_LICENSE"
	ActionExtendLicense  = "EXTEND_LICENSE"
)

// ActivityLogFilters represents filters for querying activity logs
type ActivityLogFilters struct {
	AdminID *uuid.UUID `json:"adminId"`
	Action  *string    `json:"action"`
	Limit   int        `json:"limit"`
	Offset  int        `json:"offset"`
}
