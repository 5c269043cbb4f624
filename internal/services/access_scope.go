package services

import (
	"sort"

	"licensehub/internal/common"
	"licensehub/internal/models"
)

// Reseller packages and their durations in days
var ResellerPackages = map[string]int{
	"1_MONTH":  30,
	"3_MONTHS": 90,
	"6_MONTHS": 180,
	"1_YEAR":   365,
	"2_YEARS":  730,
}

// Fixed durations per license type. CUSTOM takes its duration from the request.
var licenseTypeDays = map[models.LicenseType]int{
	models.LicenseTypeTrial:    1,
	models.LicenseTypeMonthly:  30,
	models.LicenseTypeYearly:   365,
	models.LicenseTypeLifetime: 10000,
}

// PackageNames lists the reseller packages, shortest first
func PackageNames() []string {
	names := make([]string, 0, len(ResellerPackages))
	for name := range ResellerPackages {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return ResellerPackages[names[i]] < ResellerPackages[names[j]]
	})
	return names
}

// PackageForDays returns the package whose duration is exactly days
func PackageForDays(days int) (string, bool) {
	for name, d := range ResellerPackages {
		if d == days {
			return name, true
		}
	}
	return "", false
}

// IssueGrant is an authorized issuance: the stored type, its duration and,
// for resellers, the package it was sold as
type IssueGrant struct {
	Type    models.LicenseType
	Days    int
	Package string
}

// AccessScope decides what one caller may see and change. Resellers are
// scoped by exact equality of License.IssuerIdentity with their email.
type AccessScope struct {
	caller models.CallerIdentity
}

func NewAccessScope(caller models.CallerIdentity) AccessScope {
	return AccessScope{caller: caller}
}

func (s AccessScope) Caller() models.CallerIdentity {
	return s.caller
}

func (s AccessScope) isReseller() bool {
	return !s.caller.IsAdmin()
}

// RequireAdmin fails unless the caller is ADMIN or SUPER_ADMIN
func (s AccessScope) RequireAdmin() error {
	if !s.caller.IsAdmin() {
		return common.NewError(common.CodeAccessDenied, "Administrator role required")
	}
	return nil
}

// RequireReseller fails unless the caller is a RESELLER
func (s AccessScope) RequireReseller() error {
	if !s.caller.IsReseller() {
		return common.NewError(common.CodeAccessDenied, "Reseller role required")
	}
	return nil
}

// ListFilters narrows filters to what the caller may list. Resellers see
// their own licenses plus shared trial licenses.
func (s AccessScope) ListFilters(filters models.LicenseFilters) models.LicenseFilters {
	filters.IssuerIdentity = nil
	filters.IncludeTrials = false
	if s.isReseller() {
		email := s.caller.Email
		filters.IssuerIdentity = &email
		filters.IncludeTrials = true
	}
	return filters
}

// ExportFilters narrows filters to what the caller may export. Trials are
// readable by resellers but never exported by them.
func (s AccessScope) ExportFilters(filters models.LicenseFilters) models.LicenseFilters {
	filters = s.ListFilters(filters)
	filters.IncludeTrials = false
	return filters
}

// OwnFilters restricts filters to licenses the caller issued, for any role
func (s AccessScope) OwnFilters(filters models.LicenseFilters) models.LicenseFilters {
	email := s.caller.Email
	filters.IssuerIdentity = &email
	filters.IncludeTrials = false
	return filters
}

// DeviceFilters restricts resellers to devices holding one of their licenses
func (s AccessScope) DeviceFilters(filters models.DeviceFilters) models.DeviceFilters {
	filters.IssuerIdentity = nil
	if s.isReseller() {
		email := s.caller.Email
		filters.IssuerIdentity = &email
	}
	return filters
}

// CanView reports AccessDenied unless the caller may read license
func (s AccessScope) CanView(license *models.License) error {
	if !s.isReseller() || license.IssuedBy(s.caller.Email) || license.IsTrial() {
		return nil
	}
	return common.NewError(common.CodeAccessDenied, "You can only access licenses you issued")
}

// CanMutate reports AccessDenied unless the caller may extend or revoke license
func (s AccessScope) CanMutate(license *models.License) error {
	if !s.isReseller() || license.IssuedBy(s.caller.Email) {
		return nil
	}
	return common.NewError(common.CodeAccessDenied, "You can only modify licenses you issued")
}

// AuthorizeIssue resolves the type and duration of a new license.
// Administrators may issue any type; CUSTOM needs a positive day count.
// Resellers are limited to the package durations and always issue CUSTOM.
func (s AccessScope) AuthorizeIssue(licenseType models.LicenseType, days int, pkg string) (IssueGrant, error) {
	if s.isReseller() {
		return s.authorizeResellerIssue(licenseType, days, pkg)
	}

	if pkg != "" {
		pkgDays, ok := ResellerPackages[pkg]
		if !ok {
			return IssueGrant{}, common.NewError(common.CodePackageNotAllowed, "Unknown package "+pkg)
		}
		return IssueGrant{Type: models.LicenseTypeCustom, Days: pkgDays, Package: pkg}, nil
	}

	if !licenseType.Valid() {
		return IssueGrant{}, common.NewError(common.CodeInvalidField, "Unknown license type "+string(licenseType))
	}
	if licenseType == models.LicenseTypeCustom {
		if days <= 0 {
			return IssueGrant{}, common.NewError(common.CodeMissingDays, "Days are required for CUSTOM licenses")
		}
		return IssueGrant{Type: licenseType, Days: days}, nil
	}
	return IssueGrant{Type: licenseType, Days: licenseTypeDays[licenseType]}, nil
}

func (s AccessScope) authorizeResellerIssue(licenseType models.LicenseType, days int, pkg string) (IssueGrant, error) {
	if pkg != "" {
		pkgDays, ok := ResellerPackages[pkg]
		if !ok {
			return IssueGrant{}, common.NewError(common.CodePackageNotAllowed, "Unknown package "+pkg)
		}
		return IssueGrant{Type: models.LicenseTypeCustom, Days: pkgDays, Package: pkg}, nil
	}

	switch licenseType {
	case models.LicenseTypeMonthly, models.LicenseTypeYearly:
		days = licenseTypeDays[licenseType]
	case models.LicenseTypeCustom:
	default:
		return IssueGrant{}, common.NewError(common.CodePackageNotAllowed, "Resellers can only issue package licenses")
	}

	name, ok := PackageForDays(days)
	if !ok {
		return IssueGrant{}, common.NewError(common.CodePackageNotAllowed, "Resellers can only issue package licenses")
	}
	return IssueGrant{Type: models.LicenseTypeCustom, Days: days, Package: name}, nil
}

// AuthorizeExtend checks that the caller may add days to license
func (s AccessScope) AuthorizeExtend(license *models.License, days int) error {
	if err := s.CanMutate(license); err != nil {
		return err
	}
	if s.isReseller() {
		if _, ok := PackageForDays(days); !ok {
			return common.NewError(common.CodePackageNotAllowed, "Resellers can only extend by a package duration")
		}
	}
	return nil
}
