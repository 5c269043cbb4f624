package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"

	"licensehub/internal/models"

	"github.com/google/uuid"
)

// memState holds every record of the in-memory store. Records are cloned
// on the way in and out so callers never share pointers with the store.
type memState struct {
	licenses map[uuid.UUID]*models.License
	devices  map[string]*models.Device
}

func newMemState() *memState {
	return &memState{
		licenses: make(map[uuid.UUID]*models.License),
		devices:  make(map[string]*models.Device),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for id, l := range s.licenses {
		c.licenses[id] = l.Clone()
	}
	for id, d := range s.devices {
		c.devices[id] = d.Clone()
	}
	return c
}

type memoryLicenseStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryLicenseStore returns a process-local LicenseStore for development
// and tests. It enforces the same uniqueness rules as the PostgreSQL schema.
func NewMemoryLicenseStore() LicenseStore {
	return &memoryLicenseStore{state: newMemState()}
}

func (m *memoryLicenseStore) read() *memoryTx {
	m.mu.RLock()
	return &memoryTx{state: m.state}
}

func (m *memoryLicenseStore) write() *memoryTx {
	m.mu.Lock()
	return &memoryTx{state: m.state}
}

func (m *memoryLicenseStore) FindActiveLicense(ctx context.Context, deviceID, toolType string) (*models.License, error) {
	tx := m.read()
	defer m.mu.RUnlock()
	return tx.FindActiveLicense(ctx, deviceID, toolType)
}

func (m *memoryLicenseStore) FindByKey(ctx context.Context, licenseKey string) (*models.License, error) {
	tx := m.read()
	defer m.mu.RUnlock()
	return tx.FindByKey(ctx, licenseKey)
}

func (m *memoryLicenseStore) FindByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	tx := m.read()
	defer m.mu.RUnlock()
	return tx.FindByID(ctx, id)
}

func (m *memoryLicenseStore) FindAnyTrial(ctx context.Context, deviceID string) (*models.License, error) {
	tx := m.read()
	defer m.mu.RUnlock()
	return tx.FindAnyTrial(ctx, deviceID)
}

func (m *memoryLicenseStore) FindTrialForTool(ctx context.Context, deviceID, toolType string) (*models.License, error) {
	tx := m.read()
	defer m.mu.RUnlock()
	return tx.FindTrialForTool(ctx, deviceID, toolType)
}

func (m *memoryLicenseStore) Create(ctx context.Context, license *models.License) error {
	tx := m.write()
	defer m.mu.Unlock()
	return tx.Create(ctx, license)
}

func (m *memoryLicenseStore) Update(ctx context.Context, id uuid.UUID, update models.LicenseUpdate) (*models.License, error) {
	tx := m.write()
	defer m.mu.Unlock()
	return tx.Update(ctx, id, update)
}

func (m *memoryLicenseStore) UpsertDevice(ctx context.Context, deviceID string, fields models.DeviceFields) (*models.Device, error) {
	tx := m.write()
	defer m.mu.Unlock()
	return tx.UpsertDevice(ctx, deviceID, fields)
}

func (m *memoryLicenseStore) FindDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	tx := m.read()
	defer m.mu.RUnlock()
	return tx.FindDevice(ctx, deviceID)
}

func (m *memoryLicenseStore) CountAndList(ctx context.Context, filters models.LicenseFilters, page, limit int) ([]*models.License, int, error) {
	tx := m.read()
	defer m.mu.RUnlock()
	return tx.CountAndList(ctx, filters, page, limit)
}

func (m *memoryLicenseStore) ListDevices(ctx context.Context, filters models.DeviceFilters, page, limit int) ([]*models.Device, int, error) {
	tx := m.read()
	defer m.mu.RUnlock()
	return tx.ListDevices(ctx, filters, page, limit)
}

func (m *memoryLicenseStore) Summarize(ctx context.Context, filters models.LicenseFilters) (*models.LicenseSummary, error) {
	tx := m.read()
	defer m.mu.RUnlock()
	return tx.Summarize(ctx, filters)
}

// WithTransaction serializes fn against all other writers and applies its
// changes only when fn succeeds.
func (m *memoryLicenseStore) WithTransaction(ctx context.Context, fn func(store LicenseStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	draft := m.state.clone()
	if err := fn(&memoryTx{state: draft}); err != nil {
		return err
	}
	if err := ctxErr(ctx, "commit"); err != nil {
		return err
	}
	m.state = draft
	return nil
}

func (m *memoryLicenseStore) Ping(ctx context.Context) error {
	return ctxErr(ctx, "ping")
}

// memoryTx operates on a state whose lock is already held by the caller
type memoryTx struct {
	state *memState
}

func (t *memoryTx) findOne(ctx context.Context, op string, match func(l *models.License) bool) (*models.License, error) {
	if err := ctxErr(ctx, op); err != nil {
		return nil, err
	}
	var found *models.License
	for _, l := range t.state.licenses {
		if match(l) && (found == nil || l.IssuedAt.After(found.IssuedAt)) {
			found = l
		}
	}
	return found.Clone(), nil
}

func (t *memoryTx) FindActiveLicense(ctx context.Context, deviceID, toolType string) (*models.License, error) {
	return t.findOne(ctx, "find active license", func(l *models.License) bool {
		return l.DeviceID == deviceID && l.ToolType == toolType && l.Status == models.LicenseStatusActive
	})
}

func (t *memoryTx) FindByKey(ctx context.Context, licenseKey string) (*models.License, error) {
	return t.findOne(ctx, "find license by key", func(l *models.License) bool {
		return l.LicenseKey == licenseKey
	})
}

func (t *memoryTx) FindByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	if err := ctxErr(ctx, "find license by id"); err != nil {
		return nil, err
	}
	return t.state.licenses[id].Clone(), nil
}

func (t *memoryTx) FindAnyTrial(ctx context.Context, deviceID string) (*models.License, error) {
	return t.findOne(ctx, "find trial", func(l *models.License) bool {
		return l.DeviceID == deviceID && l.IsTrial()
	})
}

func (t *memoryTx) FindTrialForTool(ctx context.Context, deviceID, toolType string) (*models.License, error) {
	return t.findOne(ctx, "find trial for tool", func(l *models.License) bool {
		return l.DeviceID == deviceID && l.ToolType == toolType && l.IsTrial()
	})
}

// conflicts reports whether candidate would violate a uniqueness rule
func (t *memoryTx) conflicts(candidate *models.License) bool {
	for id, l := range t.state.licenses {
		if id == candidate.ID {
			continue
		}
		if l.LicenseKey == candidate.LicenseKey {
			return true
		}
		sameLineage := l.DeviceID == candidate.DeviceID && l.ToolType == candidate.ToolType
		if sameLineage && l.IsTrial() && candidate.IsTrial() {
			return true
		}
		if sameLineage && l.Status == models.LicenseStatusActive && candidate.Status == models.LicenseStatusActive {
			return true
		}
	}
	return false
}

func (t *memoryTx) Create(ctx context.Context, license *models.License) error {
	if err := ctxErr(ctx, "create license"); err != nil {
		return err
	}
	if license.ID == uuid.Nil {
		license.ID = uuid.New()
	}
	if _, exists := t.state.licenses[license.ID]; exists || t.conflicts(license) {
		return classify("create license", ErrDuplicate)
	}
	t.state.licenses[license.ID] = license.Clone()
	return nil
}

func (t *memoryTx) Update(ctx context.Context, id uuid.UUID, update models.LicenseUpdate) (*models.License, error) {
	if err := ctxErr(ctx, "update license"); err != nil {
		return nil, err
	}
	stored, ok := t.state.licenses[id]
	if !ok {
		return nil, nil
	}

	next := stored.Clone()
	if update.Status != nil {
		next.Status = *update.Status
	}
	if update.LicenseKey != nil {
		next.LicenseKey = *update.LicenseKey
	}
	if update.ExpiresAt != nil {
		next.ExpiresAt = *update.ExpiresAt
	}
	if update.RevokedAt != nil {
		v := *update.RevokedAt
		next.RevokedAt = &v
	}
	if update.LastUsed != nil {
		v := *update.LastUsed
		next.LastUsed = &v
	}
	if update.ActivatedAt != nil && next.ActivatedAt == nil {
		v := *update.ActivatedAt
		next.ActivatedAt = &v
	}
	next.Activations += update.ActivationsDelta
	if update.Metadata != nil {
		next.Metadata = update.Metadata.Clone()
	}

	if t.conflicts(next) {
		return nil, classify("update license", ErrDuplicate)
	}
	t.state.licenses[id] = next
	return next.Clone(), nil
}

func (t *memoryTx) UpsertDevice(ctx context.Context, deviceID string, fields models.DeviceFields) (*models.Device, error) {
	if err := ctxErr(ctx, "upsert device"); err != nil {
		return nil, err
	}
	device, ok := t.state.devices[deviceID]
	if !ok {
		device = &models.Device{DeviceID: deviceID, FirstSeen: fields.SeenAt}
		t.state.devices[deviceID] = device
	}
	if fields.Hostname != nil {
		v := *fields.Hostname
		device.Hostname = &v
	}
	if fields.IPAddress != nil {
		v := *fields.IPAddress
		device.IPAddress = &v
	}
	device.LastSeen = fields.SeenAt
	device.TrialGranted = device.TrialGranted || fields.TrialGranted
	return device.Clone(), nil
}

func (t *memoryTx) FindDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	if err := ctxErr(ctx, "find device"); err != nil {
		return nil, err
	}
	return t.state.devices[deviceID].Clone(), nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func matchLicense(l *models.License, f models.LicenseFilters) bool {
	if f.IssuerIdentity != nil && !l.IssuedBy(*f.IssuerIdentity) && !(f.IncludeTrials && l.IsTrial()) {
		return false
	}
	if f.Status != nil && l.Status != *f.Status {
		return false
	}
	if f.ToolType != nil && l.ToolType != *f.ToolType {
		return false
	}
	if f.Type != nil && l.Type != *f.Type {
		return false
	}
	if f.DeviceID != nil && !containsFold(l.DeviceID, *f.DeviceID) {
		return false
	}
	if f.Search != nil {
		owner := ""
		if l.Owner != nil {
			owner = *l.Owner
		}
		if !containsFold(l.DeviceID, *f.Search) && !containsFold(owner, *f.Search) && !containsFold(l.LicenseKey, *f.Search) {
			return false
		}
	}
	return true
}

func pageBounds(total, page, limit int) (int, int) {
	if limit <= 0 {
		return 0, total
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return start, end
}

func (t *memoryTx) CountAndList(ctx context.Context, filters models.LicenseFilters, page, limit int) ([]*models.License, int, error) {
	if err := ctxErr(ctx, "list licenses"); err != nil {
		return nil, 0, err
	}
	var matched []*models.License
	for _, l := range t.state.licenses {
		if matchLicense(l, filters) {
			matched = append(matched, l)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].IssuedAt.After(matched[j].IssuedAt)
	})

	start, end := pageBounds(len(matched), page, limit)
	licenses := make([]*models.License, 0, end-start)
	for _, l := range matched[start:end] {
		c := l.Clone()
		c.Device = &models.Device{DeviceID: l.DeviceID}
		if d, ok := t.state.devices[l.DeviceID]; ok {
			c.Device = d.Clone()
		}
		licenses = append(licenses, c)
	}
	return licenses, len(matched), nil
}

func (t *memoryTx) ListDevices(ctx context.Context, filters models.DeviceFilters, page, limit int) ([]*models.Device, int, error) {
	if err := ctxErr(ctx, "list devices"); err != nil {
		return nil, 0, err
	}
	counts := make(map[string]int)
	for _, l := range t.state.licenses {
		if filters.IssuerIdentity == nil || l.IssuedBy(*filters.IssuerIdentity) {
			counts[l.DeviceID]++
		}
	}

	var matched []*models.Device
	for id, d := range t.state.devices {
		if filters.IssuerIdentity != nil && counts[id] == 0 {
			continue
		}
		if filters.DeviceID != nil && !containsFold(id, *filters.DeviceID) {
			continue
		}
		matched = append(matched, d)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].LastSeen.After(matched[j].LastSeen)
	})

	start, end := pageBounds(len(matched), page, limit)
	devices := make([]*models.Device, 0, end-start)
	for _, d := range matched[start:end] {
		c := d.Clone()
		c.LicenseCount = counts[d.DeviceID]
		devices = append(devices, c)
	}
	return devices, len(matched), nil
}

func (t *memoryTx) Summarize(ctx context.Context, filters models.LicenseFilters) (*models.LicenseSummary, error) {
	if err := ctxErr(ctx, "summarize licenses"); err != nil {
		return nil, err
	}
	summary := newSummary()
	for _, l := range t.state.licenses {
		if matchLicense(l, filters) {
			summary.add(l.Status, l.ToolType, l.Metadata.String(models.MetaPackage), 1)
		}
	}
	return summary.LicenseSummary, nil
}

func (t *memoryTx) WithTransaction(ctx context.Context, fn func(store LicenseStore) error) error {
	draft := t.state.clone()
	if err := fn(&memoryTx{state: draft}); err != nil {
		return err
	}
	*t.state = *draft
	return nil
}

func (t *memoryTx) Ping(ctx context.Context) error {
	return ctxErr(ctx, "ping")
}
