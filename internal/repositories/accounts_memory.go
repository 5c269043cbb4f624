package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"

	"licensehub/internal/models"

	"github.com/google/uuid"
)

type memoryAdminRepo struct {
	mu         sync.RWMutex
	admins     map[uuid.UUID]*models.Admin
	activities ActivityLogRepository
}

// NewMemoryAdminRepo keeps accounts in process memory. Activity counts are
// read from activities when it is non-nil.
func NewMemoryAdminRepo(activities ActivityLogRepository) AdminRepository {
	return &memoryAdminRepo{admins: make(map[uuid.UUID]*models.Admin), activities: activities}
}

func cloneAdmin(a *models.Admin) *models.Admin {
	if a == nil {
		return nil
	}
	c := *a
	if a.Name != nil {
		name := *a.Name
		c.Name = &name
	}
	return &c
}

func (r *memoryAdminRepo) Create(ctx context.Context, admin *models.Admin) error {
	if err := ctxErr(ctx, "create admin"); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if admin.ID == uuid.Nil {
		admin.ID = uuid.New()
	}
	for id, a := range r.admins {
		if id == admin.ID || strings.EqualFold(a.Email, admin.Email) {
			return classify("create admin", ErrDuplicate)
		}
	}
	admin.UpdatedAt = admin.CreatedAt
	r.admins[admin.ID] = cloneAdmin(admin)
	return nil
}

func (r *memoryAdminRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Admin, error) {
	if err := ctxErr(ctx, "get admin by id"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAdmin(r.admins[id]), nil
}

func (r *memoryAdminRepo) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	if err := ctxErr(ctx, "get admin by email"); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.admins {
		if a.Email == email {
			return cloneAdmin(a), nil
		}
	}
	return nil, nil
}

func (r *memoryAdminRepo) ListByRole(ctx context.Context, role models.Role, limit, offset int) ([]*models.Admin, int, error) {
	if err := ctxErr(ctx, "list admins"); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	var matched []*models.Admin
	for _, a := range r.admins {
		if a.Role == role {
			matched = append(matched, cloneAdmin(a))
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if offset > total {
		offset = total
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}

	if r.activities != nil {
		for _, a := range matched {
			id := a.ID
			_, count, err := r.activities.List(ctx, models.ActivityLogFilters{AdminID: &id, Limit: 1})
			if err != nil {
				return nil, 0, err
			}
			a.ActivityCount = count
		}
	}
	return append([]*models.Admin{}, matched...), total, nil
}

// MemoryActivityLogRepo keeps activity entries in process memory
type MemoryActivityLogRepo struct {
	mu      sync.RWMutex
	entries []*models.ActivityLog
	admins  func(ctx context.Context, id uuid.UUID) (*models.Admin, error)
}

// NewMemoryActivityLogRepo returns an empty in-memory activity sink
func NewMemoryActivityLogRepo() *MemoryActivityLogRepo {
	return &MemoryActivityLogRepo{}
}

// AttachAdmins lets List fill in the actor's email and name
func (r *MemoryActivityLogRepo) AttachAdmins(admins AdminRepository) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins = admins.GetByID
}

func (r *MemoryActivityLogRepo) Create(ctx context.Context, activity *models.ActivityLog) error {
	if err := ctxErr(ctx, "create activity"); err != nil {
		return err
	}
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}
	c := *activity
	c.Details = activity.Details.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &c)
	return nil
}

func (r *MemoryActivityLogRepo) List(ctx context.Context, filters models.ActivityLogFilters) ([]*models.ActivityLog, int, error) {
	if err := ctxErr(ctx, "list activities"); err != nil {
		return nil, 0, err
	}
	r.mu.RLock()
	var matched []*models.ActivityLog
	for _, e := range r.entries {
		if filters.AdminID != nil && e.AdminID != *filters.AdminID {
			continue
		}
		if filters.Action != nil && e.Action != *filters.Action {
			continue
		}
		c := *e
		c.Details = e.Details.Clone()
		matched = append(matched, &c)
	}
	lookup := r.admins
	r.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	offset := filters.Offset
	if offset > total {
		offset = total
	}
	matched = matched[offset:]
	if filters.Limit > 0 && filters.Limit < len(matched) {
		matched = matched[:filters.Limit]
	}

	if lookup != nil {
		for _, e := range matched {
			admin, err := lookup(ctx, e.AdminID)
			if err != nil {
				return nil, 0, err
			}
			if admin != nil {
				email := admin.Email
				e.AdminEmail = &email
				e.AdminName = admin.Name
			}
		}
	}
	return append([]*models.ActivityLog{}, matched...), total, nil
}
