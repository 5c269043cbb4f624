package services

import (
	"context"
	"time"

	"licensehub/internal/common"
	"licensehub/internal/models"
	"licensehub/internal/repositories"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// ActivitySink receives one record per successful privileged mutation
type ActivitySink interface {
	Record(ctx context.Context, entry *models.ActivityLog) error
}

type ActivityService interface {
	ActivitySink

	// List returns activities visible to the caller; resellers only see their own
	List(ctx context.Context, caller models.CallerIdentity, filters models.ActivityLogFilters, page, limit int) ([]*models.ActivityLog, int, error)

	// Own returns the caller's own activities regardless of role
	Own(ctx context.Context, caller models.CallerIdentity, page, limit int) ([]*models.ActivityLog, int, error)
}

type activityService struct {
	repo         repositories.ActivityLogRepository
	clock        clockwork.Clock
	storeTimeout time.Duration
}

func NewActivityService(repo repositories.ActivityLogRepository, clock clockwork.Clock, storeTimeout time.Duration) ActivityService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &activityService{repo: repo, clock: clock, storeTimeout: storeTimeout}
}

// Record appends one activity entry
func (s *activityService) Record(ctx context.Context, entry *models.ActivityLog) error {
	if entry.AdminID == uuid.Nil {
		return common.NewError(common.CodeInvalidField, "activity actor is required")
	}
	if entry.Action == "" {
		return common.NewError(common.CodeInvalidField, "activity action is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now().UTC()
	}

	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()
	return storeError("record activity", s.repo.Create(ctx, entry))
}

func (s *activityService) List(ctx context.Context, caller models.CallerIdentity, filters models.ActivityLogFilters, page, limit int) ([]*models.ActivityLog, int, error) {
	if !caller.IsAdmin() {
		id := caller.ID
		filters.AdminID = &id
	}
	return s.list(ctx, filters, page, limit)
}

func (s *activityService) Own(ctx context.Context, caller models.CallerIdentity, page, limit int) ([]*models.ActivityLog, int, error) {
	id := caller.ID
	return s.list(ctx, models.ActivityLogFilters{AdminID: &id}, page, limit)
}

func (s *activityService) list(ctx context.Context, filters models.ActivityLogFilters, page, limit int) ([]*models.ActivityLog, int, error) {
	if page < 1 {
		page = 1
	}
	filters.Limit = limit
	filters.Offset = (page - 1) * limit

	ctx, cancel := withStoreTimeout(ctx, s.storeTimeout)
	defer cancel()

	activities, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, 0, storeError("list activities", err)
	}
	return activities, total, nil
}
