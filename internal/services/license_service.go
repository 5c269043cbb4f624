package services

import (
	"context"
	"time"

	"licensehub/internal/common"
	"licensehub/internal/models"
	"licensehub/internal/repositories"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const recentActivityCount = 10

// DashboardStats are the counts shown on the operator dashboard
type DashboardStats struct {
	models.LicenseSummary
	TotalDevices     int                   `json:"totalDevices"`
	RecentActivities []*models.ActivityLog `json:"recentActivities"`
}

// LicenseService answers caller-scoped read queries over licenses and devices
type LicenseService interface {
	Get(ctx context.Context, caller models.CallerIdentity, id uuid.UUID) (*models.License, error)
	List(ctx context.Context, caller models.CallerIdentity, filters models.LicenseFilters, page, limit int) ([]*models.License, int, error)

	// ExportRows returns every license the caller may export, newest first
	ExportRows(ctx context.Context, caller models.CallerIdentity, filters models.LicenseFilters) ([]*models.License, error)

	Devices(ctx context.Context, caller models.CallerIdentity, filters models.DeviceFilters, page, limit int) ([]*models.Device, int, error)
	Stats(ctx context.Context, caller models.CallerIdentity) (*DashboardStats, error)

	// ResellerStats summarizes the reseller's own licenses by status, package and tool
	ResellerStats(ctx context.Context, caller models.CallerIdentity) (*models.LicenseSummary, error)
}

type licenseService struct {
	store        repositories.LicenseStore
	activities   ActivityService
	storeTimeout time.Duration
}

func NewLicenseService(store repositories.LicenseStore, activities ActivityService, storeTimeout time.Duration) LicenseService {
	return &licenseService{store: store, activities: activities, storeTimeout: storeTimeout}
}

func (s *licenseService) Get(ctx context.Context, caller models.CallerIdentity, id uuid.UUID) (*models.License, error) {
	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	license, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, storeError("find license", err)
	}
	if license == nil {
		return nil, common.NewError(common.CodeNotFound, "License not found")
	}
	if err := NewAccessScope(caller).CanView(license); err != nil {
		return nil, err
	}

	device, err := s.store.FindDevice(ctx, license.DeviceID)
	if err != nil {
		return nil, storeError("find device", err)
	}
	license.Device = device
	return license, nil
}

func (s *licenseService) List(ctx context.Context, caller models.CallerIdentity, filters models.LicenseFilters, page, limit int) ([]*models.License, int, error) {
	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	licenses, total, err := s.store.CountAndList(ctx, NewAccessScope(caller).ListFilters(filters), page, limit)
	if err != nil {
		return nil, 0, storeError("list licenses", err)
	}
	return licenses, total, nil
}

func (s *licenseService) ExportRows(ctx context.Context, caller models.CallerIdentity, filters models.LicenseFilters) ([]*models.License, error) {
	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	licenses, _, err := s.store.CountAndList(ctx, NewAccessScope(caller).ExportFilters(filters), 1, 0)
	if err != nil {
		return nil, storeError("export licenses", err)
	}
	return licenses, nil
}

func (s *licenseService) Devices(ctx context.Context, caller models.CallerIdentity, filters models.DeviceFilters, page, limit int) ([]*models.Device, int, error) {
	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	devices, total, err := s.store.ListDevices(ctx, NewAccessScope(caller).DeviceFilters(filters), page, limit)
	if err != nil {
		return nil, 0, storeError("list devices", err)
	}
	return devices, total, nil
}

func (s *licenseService) Stats(ctx context.Context, caller models.CallerIdentity) (*DashboardStats, error) {
	scope := NewAccessScope(caller)
	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	stats := &DashboardStats{RecentActivities: []*models.ActivityLog{}}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		summary, err := s.store.Summarize(gctx, scope.ListFilters(models.LicenseFilters{}))
		if err != nil {
			return storeError("summarize licenses", err)
		}
		stats.LicenseSummary = *summary
		return nil
	})

	g.Go(func() error {
		_, total, err := s.store.ListDevices(gctx, scope.DeviceFilters(models.DeviceFilters{}), 1, 1)
		if err != nil {
			return storeError("count devices", err)
		}
		stats.TotalDevices = total
		return nil
	})

	if s.activities != nil {
		g.Go(func() error {
			recent, _, err := s.activities.List(gctx, caller, models.ActivityLogFilters{}, 1, recentActivityCount)
			if err != nil {
				return err
			}
			stats.RecentActivities = recent
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *licenseService) ResellerStats(ctx context.Context, caller models.CallerIdentity) (*models.LicenseSummary, error) {
	scope := NewAccessScope(caller)
	if err := scope.RequireReseller(); err != nil {
		return nil, err
	}

	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	summary, err := s.store.Summarize(ctx, scope.OwnFilters(models.LicenseFilters{}))
	if err != nil {
		return nil, storeError("summarize licenses", err)
	}
	return summary, nil
}
