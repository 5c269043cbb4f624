package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"licensehub/internal/common"
	"licensehub/internal/logs"
	"licensehub/internal/metrics"
	"licensehub/internal/models"
	"licensehub/internal/repositories"
	"licensehub/internal/signing"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const trialOwnerPrefix = "AUTO_TRIAL_"

// TokenSigner mints and validates license tokens
type TokenSigner interface {
	IssueToken(deviceID, owner, expiryDate string) (string, error)
	ValidateToken(token string) signing.ValidationResult
}

// DeviceLocker serializes trial grants for one device across processes.
// The store's uniqueness rules stay authoritative when no lock is held.
type DeviceLocker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

type LifecycleConfig struct {
	TrialDays    int
	StoreTimeout time.Duration
	LockTTL      time.Duration
}

// CheckRequest is a client asking whether it may run a tool
type CheckRequest struct {
	DeviceID   string
	ToolType   string
	LicenseKey string
	Hostname   *string
	IPAddress  *string
}

type CheckResult struct {
	License       *models.License
	DaysRemaining int
	Trial         bool // granted by this call
	Verified      bool // a presented key was verified
}

type IssueRequest struct {
	DeviceID string
	ToolType string
	Owner    string
	Type     models.LicenseType
	Days     int
	Package  string
}

type IssueResult struct {
	License       *models.License
	DaysRemaining int
	Superseded    *models.License
}

type LifecycleService interface {
	// CheckOrGrant verifies a presented key, returns the current active
	// license, or grants the one trial allowed per (device, tool)
	CheckOrGrant(ctx context.Context, req CheckRequest) (*CheckResult, error)

	// Issue creates a paid license, revoking any active one for the same (device, tool)
	Issue(ctx context.Context, caller models.CallerIdentity, req IssueRequest) (*IssueResult, error)

	Extend(ctx context.Context, caller models.CallerIdentity, licenseID uuid.UUID, days int, reason string) (*models.License, error)
	Revoke(ctx context.Context, caller models.CallerIdentity, licenseID uuid.UUID, reason string) (*models.License, error)
}

type LifecycleOption func(*lifecycleService)

func WithDeviceLocker(locker DeviceLocker) LifecycleOption {
	return func(s *lifecycleService) { s.locker = locker }
}

func WithMetrics(recorder *metrics.Recorder) LifecycleOption {
	return func(s *lifecycleService) { s.metrics = recorder }
}

func WithLogger(logger logrus.FieldLogger) LifecycleOption {
	return func(s *lifecycleService) { s.log = logs.Component(logger, "lifecycle") }
}

type lifecycleService struct {
	store    repositories.LicenseStore
	signer   TokenSigner
	activity ActivitySink
	clock    clockwork.Clock
	cfg      LifecycleConfig
	locker   DeviceLocker
	metrics  *metrics.Recorder
	log      *logrus.Entry
}

func NewLifecycleService(store repositories.LicenseStore, signer TokenSigner, activity ActivitySink, clock clockwork.Clock, cfg LifecycleConfig, opts ...LifecycleOption) LifecycleService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}
	s := &lifecycleService{
		store:    store,
		signer:   signer,
		activity: activity,
		clock:    clock,
		cfg:      cfg,
		log:      logs.Component(nil, "lifecycle"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DaysRemaining rounds up, so a license on its last calendar day reports 1
func DaysRemaining(expiresAt, now time.Time) int {
	if signing.Today(now).After(signing.Today(expiresAt)) {
		return 0
	}
	days := int(math.Ceil(expiresAt.Sub(now).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}

// IsExpired reports whether the license's expiry day is over (UTC)
func IsExpired(license *models.License, now time.Time) bool {
	return signing.Today(now).After(signing.Today(license.ExpiresAt))
}

func validateLineage(deviceID, toolType string) error {
	if strings.TrimSpace(deviceID) == "" || strings.Contains(deviceID, "|") {
		return common.NewError(common.CodeInvalidField, "deviceId is required and must not contain '|'")
	}
	if strings.TrimSpace(toolType) == "" {
		return common.NewError(common.CodeInvalidField, "toolType is required")
	}
	return nil
}

func (s *lifecycleService) CheckOrGrant(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	result, err := s.checkOrGrant(ctx, req)
	if err != nil {
		code, _ := common.CodeOf(err)
		s.metrics.LicenseCheck(string(code))
		s.log.WithFields(logrus.Fields{"device_id": req.DeviceID, "tool_type": req.ToolType, "code": code}).
			Warn("License check rejected")
		return nil, err
	}

	switch {
	case result.Trial:
		s.metrics.LicenseCheck("granted_trial")
	case result.Verified:
		s.metrics.LicenseCheck("verified")
	default:
		s.metrics.LicenseCheck("existing")
	}
	return result, nil
}

func (s *lifecycleService) checkOrGrant(ctx context.Context, req CheckRequest) (*CheckResult, error) {
	if err := validateLineage(req.DeviceID, req.ToolType); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	ctx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	_, err := s.store.UpsertDevice(ctx, req.DeviceID, models.DeviceFields{
		Hostname:  req.Hostname,
		IPAddress: req.IPAddress,
		SeenAt:    now,
	})
	if err != nil {
		return nil, storeError("touch device", err)
	}

	if req.LicenseKey != "" {
		return s.verifyPresentedKey(ctx, req, now)
	}
	return s.currentOrTrial(ctx, req, now)
}

func (s *lifecycleService) verifyPresentedKey(ctx context.Context, req CheckRequest, now time.Time) (*CheckResult, error) {
	if result := s.signer.ValidateToken(req.LicenseKey); !result.Valid {
		return nil, result.Err()
	}

	license, err := s.store.FindByKey(ctx, req.LicenseKey)
	if err != nil {
		return nil, storeError("find license", err)
	}
	if license == nil {
		return nil, common.NewError(common.CodeNotFound, "License not found")
	}
	if license.DeviceID != req.DeviceID {
		return nil, common.NewError(common.CodeDeviceMismatch, "License was issued for another device")
	}
	if license.ToolType != req.ToolType {
		return nil, common.NewError(common.CodeToolMismatch, "License was issued for another tool")
	}
	if license.Status != models.LicenseStatusActive {
		return nil, common.NewError(common.CodeLicenseInactive, "License is "+strings.ToLower(string(license.Status)))
	}

	updated, err := s.store.Update(ctx, license.ID, models.LicenseUpdate{
		LastUsed:         &now,
		ActivatedAt:      &now,
		ActivationsDelta: 1,
	})
	if err != nil {
		return nil, storeError("record activation", err)
	}
	if updated == nil {
		return nil, common.NewError(common.CodeNotFound, "License not found")
	}

	return &CheckResult{License: updated, DaysRemaining: DaysRemaining(updated.ExpiresAt, now), Verified: true}, nil
}

func (s *lifecycleService) currentOrTrial(ctx context.Context, req CheckRequest, now time.Time) (*CheckResult, error) {
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, "trial:"+req.DeviceID, s.cfg.LockTTL)
		if err != nil {
			s.log.WithError(err).WithField("device_id", req.DeviceID).Warn("Trial lock unavailable, relying on store constraints")
		} else {
			defer unlock()
		}
	}

	var result *CheckResult
	err := s.store.WithTransaction(ctx, func(tx repositories.LicenseStore) error {
		active, err := tx.FindActiveLicense(ctx, req.DeviceID, req.ToolType)
		if err != nil {
			return err
		}
		if active != nil {
			if !IsExpired(active, now) {
				result = &CheckResult{License: active, DaysRemaining: DaysRemaining(active.ExpiresAt, now)}
				return nil
			}
			expired := models.LicenseStatusExpired
			if _, err := tx.Update(ctx, active.ID, models.LicenseUpdate{Status: &expired}); err != nil {
				return err
			}
		}

		used, err := tx.FindTrialForTool(ctx, req.DeviceID, req.ToolType)
		if err != nil {
			return err
		}
		if used != nil {
			return common.NewError(common.CodeTrialAlreadyUsed, "Trial already used for this tool on this device")
		}

		anyTrial, err := tx.FindAnyTrial(ctx, req.DeviceID)
		if err != nil {
			return err
		}

		license, err := s.newTrial(req, now)
		if err != nil {
			return err
		}
		if err := tx.Create(ctx, license); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return common.WrapError(common.CodeTrialAlreadyUsed, "Trial already used for this tool on this device", err)
			}
			return err
		}

		if anyTrial == nil {
			if _, err := tx.UpsertDevice(ctx, req.DeviceID, models.DeviceFields{TrialGranted: true, SeenAt: now}); err != nil {
				return err
			}
		}

		result = &CheckResult{License: license, DaysRemaining: s.cfg.TrialDays, Trial: true}
		return nil
	})
	if errors.Is(err, repositories.ErrDuplicate) {
		// a concurrent check for the same device won the grant
		if active, findErr := s.store.FindActiveLicense(ctx, req.DeviceID, req.ToolType); findErr == nil && active != nil && !IsExpired(active, now) {
			return &CheckResult{License: active, DaysRemaining: DaysRemaining(active.ExpiresAt, now)}, nil
		}
	}
	if err != nil {
		return nil, storeError("grant trial", err)
	}

	if result.Trial {
		s.log.WithFields(logrus.Fields{
			"license_id": result.License.ID,
			"device_id":  req.DeviceID,
			"tool_type":  req.ToolType,
		}).Info("Trial granted")
	}
	return result, nil
}

func (s *lifecycleService) newTrial(req CheckRequest, now time.Time) (*models.License, error) {
	owner := trialOwnerPrefix + req.ToolType
	expiresAt := now.AddDate(0, 0, s.cfg.TrialDays)

	key, err := s.signer.IssueToken(req.DeviceID, owner, signing.FormatDate(expiresAt))
	if err != nil {
		return nil, err
	}

	return &models.License{
		ID:         uuid.New(),
		DeviceID:   req.DeviceID,
		ToolType:   req.ToolType,
		LicenseKey: key,
		Type:       models.LicenseTypeTrial,
		Status:     models.LicenseStatusActive,
		Owner:      &owner,
		ExpiresAt:  expiresAt,
		IssuedAt:   now,
		Metadata:   models.JSONB{models.MetaDays: s.cfg.TrialDays},
	}, nil
}

func (s *lifecycleService) Issue(ctx context.Context, caller models.CallerIdentity, req IssueRequest) (*IssueResult, error) {
	scope := NewAccessScope(caller)
	grant, err := scope.AuthorizeIssue(req.Type, req.Days, req.Package)
	if err != nil {
		return nil, err
	}
	if err := validateLineage(req.DeviceID, req.ToolType); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	expiresAt := now.AddDate(0, 0, grant.Days)

	owner := signing.SanitizeOwner(req.Owner)
	tokenOwner := owner
	if tokenOwner == "" {
		tokenOwner = req.ToolType
	}
	key, err := s.signer.IssueToken(req.DeviceID, tokenOwner, signing.FormatDate(expiresAt))
	if err != nil {
		return nil, err
	}

	issuer := caller.Email
	metadata := models.JSONB{
		models.MetaIssuerIdentity: issuer,
		models.MetaIssuerRole:     string(caller.Role),
		models.MetaDays:           grant.Days,
	}
	if grant.Package != "" {
		metadata[models.MetaPackage] = grant.Package
	}

	license := &models.License{
		ID:             uuid.New(),
		DeviceID:       req.DeviceID,
		ToolType:       req.ToolType,
		LicenseKey:     key,
		Type:           grant.Type,
		Status:         models.LicenseStatusActive,
		Owner:          common.OptionalString(owner),
		IssuerIdentity: &issuer,
		ExpiresAt:      expiresAt,
		IssuedAt:       now,
		Metadata:       metadata,
	}

	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	var superseded *models.License
	err = s.store.WithTransaction(storeCtx, func(tx repositories.LicenseStore) error {
		device, err := tx.FindDevice(storeCtx, req.DeviceID)
		if err != nil {
			return err
		}
		trial := grant.Type == models.LicenseTypeTrial
		if trial {
			used, err := tx.FindTrialForTool(storeCtx, req.DeviceID, req.ToolType)
			if err != nil {
				return err
			}
			if used != nil {
				return common.NewError(common.CodeTrialAlreadyUsed, "Trial already used for this tool on this device")
			}
		}
		if device == nil || (trial && !device.TrialGranted) {
			if _, err := tx.UpsertDevice(storeCtx, req.DeviceID, models.DeviceFields{SeenAt: now, TrialGranted: trial}); err != nil {
				return err
			}
		}

		active, err := tx.FindActiveLicense(storeCtx, req.DeviceID, req.ToolType)
		if err != nil {
			return err
		}
		if active != nil {
			revoked := models.LicenseStatusRevoked
			superseded, err = tx.Update(storeCtx, active.ID, models.LicenseUpdate{
				Status:    &revoked,
				RevokedAt: &now,
				Metadata:  active.Metadata.Merge(models.JSONB{"supersededBy": license.ID.String()}),
			})
			if err != nil {
				return err
			}
		}

		if err := tx.Create(storeCtx, license); err != nil {
			if trial && errors.Is(err, repositories.ErrDuplicate) {
				return common.WrapError(common.CodeTrialAlreadyUsed, "Trial already used for this tool on this device", err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, storeError("issue license", err)
	}

	action := models.ActionCreateLicense
	if caller.IsReseller() {
		action = models.ActionSellerAdd
	}
	details := models.JSONB{
		"licenseId": license.ID.String(),
		"deviceId":  license.DeviceID,
		"toolType":  license.ToolType,
		"type":      string(license.Type),
		"days":      grant.Days,
	}
	if grant.Package != "" {
		details["package"] = grant.Package
	}
	if superseded != nil {
		details["supersededLicenseId"] = superseded.ID.String()
		s.metrics.LicenseRevoked()
	}
	s.emit(ctx, caller, action, details)

	s.metrics.LicenseIssued(string(license.Type), string(caller.Role))
	s.log.WithFields(logrus.Fields{
		"license_id": license.ID,
		"device_id":  license.DeviceID,
		"tool_type":  license.ToolType,
		"issuer":     issuer,
		"type":       license.Type,
	}).Info("License issued")

	return &IssueResult{License: license, DaysRemaining: grant.Days, Superseded: superseded}, nil
}

// tokenOwner reuses the owner segment of the current key so a re-signed
// token carries the same owner
func tokenOwner(license *models.License) string {
	if token, err := signing.ParseToken(license.LicenseKey); err == nil {
		return token.Owner
	}
	if license.Owner != nil && *license.Owner != "" {
		return *license.Owner
	}
	return license.ToolType
}

func (s *lifecycleService) Extend(ctx context.Context, caller models.CallerIdentity, licenseID uuid.UUID, days int, reason string) (*models.License, error) {
	if days <= 0 {
		return nil, common.NewError(common.CodeInvalidField, "days must be positive")
	}
	scope := NewAccessScope(caller)
	now := s.clock.Now().UTC()

	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	var previous, updated *models.License
	err := s.store.WithTransaction(storeCtx, func(tx repositories.LicenseStore) error {
		license, err := tx.FindByID(storeCtx, licenseID)
		if err != nil {
			return err
		}
		if license == nil {
			return common.NewError(common.CodeNotFound, "License not found")
		}
		if err := scope.AuthorizeExtend(license, days); err != nil {
			return err
		}
		if license.IsTrial() {
			return common.NewError(common.CodeTrialNotExtendable, "Trial licenses cannot be extended")
		}
		if license.Status == models.LicenseStatusRevoked {
			return common.NewError(common.CodeLicenseInactive, "Revoked licenses cannot be extended")
		}

		newExpiry := license.ExpiresAt.AddDate(0, 0, days)
		key, err := s.signer.IssueToken(license.DeviceID, tokenOwner(license), signing.FormatDate(newExpiry))
		if err != nil {
			return err
		}

		meta := models.JSONB{
			models.MetaExtendedBy:     caller.Email,
			models.MetaExtendedAt:     now.Format(time.RFC3339),
			models.MetaDaysAdded:      days,
			models.MetaPreviousExpiry: license.ExpiresAt.UTC().Format(time.RFC3339),
		}
		if reason != "" {
			meta[models.MetaExtendReason] = reason
		}

		update := models.LicenseUpdate{
			LicenseKey: &key,
			ExpiresAt:  &newExpiry,
			Metadata:   license.Metadata.Merge(meta),
		}
		if license.Status == models.LicenseStatusExpired && newExpiry.After(now) {
			active := models.LicenseStatusActive
			update.Status = &active
		}

		previous = license
		updated, err = tx.Update(storeCtx, license.ID, update)
		if errors.Is(err, repositories.ErrDuplicate) {
			return common.WrapError(common.CodeLicenseInactive, "License was superseded and cannot be reactivated", err)
		}
		return err
	})
	if err != nil {
		return nil, storeError("extend license", err)
	}
	if updated == nil {
		return nil, common.NewError(common.CodeNotFound, "License not found")
	}

	details := models.JSONB{
		"licenseId":      updated.ID.String(),
		"deviceId":       updated.DeviceID,
		"toolType":       updated.ToolType,
		"daysAdded":      days,
		"previousExpiry": previous.ExpiresAt.UTC().Format(time.RFC3339),
		"newExpiry":      updated.ExpiresAt.UTC().Format(time.RFC3339),
	}
	if reason != "" {
		details["reason"] = reason
	}
	s.emit(ctx, caller, models.ActionExtendLicense, details)

	s.metrics.LicenseExtended()
	s.log.WithFields(logrus.Fields{
		"license_id": updated.ID,
		"device_id":  updated.DeviceID,
		"tool_type":  updated.ToolType,
		"issuer":     caller.Email,
		"days":       days,
	}).Info("License extended")

	return updated, nil
}

func (s *lifecycleService) Revoke(ctx context.Context, caller models.CallerIdentity, licenseID uuid.UUID, reason string) (*models.License, error) {
	scope := NewAccessScope(caller)
	now := s.clock.Now().UTC()

	storeCtx, cancel := withStoreTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	var updated *models.License
	err := s.store.WithTransaction(storeCtx, func(tx repositories.LicenseStore) error {
		license, err := tx.FindByID(storeCtx, licenseID)
		if err != nil {
			return err
		}
		if license == nil {
			return common.NewError(common.CodeNotFound, "License not found")
		}
		if err := scope.CanMutate(license); err != nil {
			return err
		}

		meta := models.JSONB{models.MetaRevokedBy: caller.Email}
		if reason != "" {
			meta[models.MetaRevokeReason] = reason
		}
		revoked := models.LicenseStatusRevoked
		updated, err = tx.Update(storeCtx, license.ID, models.LicenseUpdate{
			Status:    &revoked,
			RevokedAt: &now,
			Metadata:  license.Metadata.Merge(meta),
		})
		return err
	})
	if err != nil {
		return nil, storeError("revoke license", err)
	}
	if updated == nil {
		return nil, common.NewError(common.CodeNotFound, "License not found")
	}

	details := models.JSONB{
		"licenseId": updated.ID.String(),
		"deviceId":  updated.DeviceID,
		"toolType":  updated.ToolType,
	}
	if reason != "" {
		details["reason"] = reason
	}
	s.emit(ctx, caller, models.ActionRevokeLicense, details)

	s.metrics.LicenseRevoked()
	s.log.WithFields(logrus.Fields{
		"license_id": updated.ID,
		"device_id":  updated.DeviceID,
		"tool_type":  updated.ToolType,
		"issuer":     caller.Email,
	}).Info("License revoked")

	return updated, nil
}

// emit writes one activity record. A failed write is logged and counted
// but does not undo the committed mutation.
func (s *lifecycleService) emit(ctx context.Context, caller models.CallerIdentity, action string, details models.JSONB) {
	if s.activity == nil {
		return
	}
	entry := &models.ActivityLog{
		AdminID:   caller.ID,
		Action:    action,
		Details:   details,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.activity.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.metrics.ActivityWriteFailed()
		s.log.WithError(err).WithFields(logrus.Fields{"action": action, "admin_id": caller.ID}).
			Error("Failed to record activity")
	}
}
