package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"licensehub/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MemoryLicenseStoreTestSuite struct {
	suite.Suite
	store   LicenseStore
	now     time.Time
	context context.Context
}

func (suite *MemoryLicenseStoreTestSuite) SetupTest() {
	suite.store = NewMemoryLicenseStore()
	suite.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	suite.context = context.Background()
}

func TestMemoryLicenseStoreTestSuite(t *testing.T) {
	suite.Run(t, new(MemoryLicenseStoreTestSuite))
}

func (suite *MemoryLicenseStoreTestSuite) newLicense(deviceID, toolType string, licenseType models.LicenseType, issuer *string) *models.License {
	return &models.License{
		DeviceID:       deviceID,
		ToolType:       toolType,
		LicenseKey:     deviceID + "|" + toolType + "|" + uuid.NewString(),
		Type:           licenseType,
		Status:         models.LicenseStatusActive,
		IssuerIdentity: issuer,
		IssuedAt:       suite.now,
		ExpiresAt:      suite.now.AddDate(0, 0, 30),
	}
}

func (suite *MemoryLicenseStoreTestSuite) TestCreateAndFind() {
	license := suite.newLicense("D1", "veo", models.LicenseTypeMonthly, nil)
	require.NoError(suite.T(), suite.store.Create(suite.context, license))
	assert.NotEqual(suite.T(), uuid.Nil, license.ID)

	found, err := suite.store.FindByKey(suite.context, license.LicenseKey)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), license.ID, found.ID)

	found.Status = models.LicenseStatusRevoked
	again, err := suite.store.FindByID(suite.context, license.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.LicenseStatusActive, again.Status, "returned records must be copies")

	missing, err := suite.store.FindByID(suite.context, uuid.New())
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), missing)
}

func (suite *MemoryLicenseStoreTestSuite) TestUniqueness() {
	trial := suite.newLicense("D1", "veo", models.LicenseTypeTrial, nil)
	require.NoError(suite.T(), suite.store.Create(suite.context, trial))

	secondTrial := suite.newLicense("D1", "veo", models.LicenseTypeTrial, nil)
	secondTrial.Status = models.LicenseStatusExpired
	assert.ErrorIs(suite.T(), suite.store.Create(suite.context, secondTrial), ErrDuplicate)

	secondActive := suite.newLicense("D1", "veo", models.LicenseTypeMonthly, nil)
	assert.ErrorIs(suite.T(), suite.store.Create(suite.context, secondActive), ErrDuplicate)

	otherTool := suite.newLicense("D1", "voice", models.LicenseTypeTrial, nil)
	assert.NoError(suite.T(), suite.store.Create(suite.context, otherTool))
}

func (suite *MemoryLicenseStoreTestSuite) TestWithTransaction_RollsBackOnError() {
	active := suite.newLicense("D1", "veo", models.LicenseTypeMonthly, nil)
	require.NoError(suite.T(), suite.store.Create(suite.context, active))

	boom := errors.New("boom")
	revoked := models.LicenseStatusRevoked
	err := suite.store.WithTransaction(suite.context, func(tx LicenseStore) error {
		if _, err := tx.Update(suite.context, active.ID, models.LicenseUpdate{Status: &revoked}); err != nil {
			return err
		}
		if err := tx.Create(suite.context, suite.newLicense("D1", "veo", models.LicenseTypeYearly, nil)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(suite.T(), err, boom)

	current, err := suite.store.FindActiveLicense(suite.context, "D1", "veo")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), active.ID, current.ID)

	_, total, err := suite.store.CountAndList(suite.context, models.LicenseFilters{}, 1, 10)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, total)
}

func (suite *MemoryLicenseStoreTestSuite) TestWithTransaction_Commits() {
	active := suite.newLicense("D1", "veo", models.LicenseTypeMonthly, nil)
	require.NoError(suite.T(), suite.store.Create(suite.context, active))

	replacement := suite.newLicense("D1", "veo", models.LicenseTypeYearly, nil)
	revoked := models.LicenseStatusRevoked
	err := suite.store.WithTransaction(suite.context, func(tx LicenseStore) error {
		if _, err := tx.Update(suite.context, active.ID, models.LicenseUpdate{Status: &revoked, RevokedAt: &suite.now}); err != nil {
			return err
		}
		return tx.Create(suite.context, replacement)
	})
	require.NoError(suite.T(), err)

	current, err := suite.store.FindActiveLicense(suite.context, "D1", "veo")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), replacement.ID, current.ID)

	old, err := suite.store.FindByID(suite.context, active.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.LicenseStatusRevoked, old.Status)
	assert.NotNil(suite.T(), old.RevokedAt)
}

func (suite *MemoryLicenseStoreTestSuite) TestUpdate_ActivatedAtSetOnce() {
	license := suite.newLicense("D1", "veo", models.LicenseTypeMonthly, nil)
	require.NoError(suite.T(), suite.store.Create(suite.context, license))

	first := suite.now.Add(time.Hour)
	second := suite.now.Add(2 * time.Hour)
	_, err := suite.store.Update(suite.context, license.ID, models.LicenseUpdate{ActivatedAt: &first, LastUsed: &first, ActivationsDelta: 1})
	require.NoError(suite.T(), err)
	updated, err := suite.store.Update(suite.context, license.ID, models.LicenseUpdate{ActivatedAt: &second, LastUsed: &second, ActivationsDelta: 1})
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), first, *updated.ActivatedAt)
	assert.Equal(suite.T(), second, *updated.LastUsed)
	assert.Equal(suite.T(), 2, updated.Activations)
}

func (suite *MemoryLicenseStoreTestSuite) TestUpsertDevice_TrialGrantedNeverReverts() {
	host := "box"
	device, err := suite.store.UpsertDevice(suite.context, "D1", models.DeviceFields{Hostname: &host, SeenAt: suite.now})
	require.NoError(suite.T(), err)
	assert.False(suite.T(), device.TrialGranted)

	_, err = suite.store.UpsertDevice(suite.context, "D1", models.DeviceFields{TrialGranted: true, SeenAt: suite.now.Add(time.Minute)})
	require.NoError(suite.T(), err)

	later := suite.now.Add(time.Hour)
	device, err = suite.store.UpsertDevice(suite.context, "D1", models.DeviceFields{SeenAt: later})
	require.NoError(suite.T(), err)
	assert.True(suite.T(), device.TrialGranted)
	assert.Equal(suite.T(), "box", *device.Hostname)
	assert.Equal(suite.T(), suite.now, device.FirstSeen)
	assert.Equal(suite.T(), later, device.LastSeen)
}

func (suite *MemoryLicenseStoreTestSuite) TestVisibilityFilters() {
	reseller := "r@x.com"
	lookalike := "r@x.com.evil"
	require.NoError(suite.T(), suite.store.Create(suite.context, suite.newLicense("D1", "veo", models.LicenseTypeCustom, &reseller)))
	require.NoError(suite.T(), suite.store.Create(suite.context, suite.newLicense("D2", "veo", models.LicenseTypeCustom, &lookalike)))
	require.NoError(suite.T(), suite.store.Create(suite.context, suite.newLicense("D3", "veo", models.LicenseTypeTrial, nil)))
	for _, id := range []string{"D1", "D2", "D3"} {
		_, err := suite.store.UpsertDevice(suite.context, id, models.DeviceFields{SeenAt: suite.now})
		require.NoError(suite.T(), err)
	}

	own, total, err := suite.store.CountAndList(suite.context, models.LicenseFilters{IssuerIdentity: &reseller}, 1, 10)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, total)
	assert.Equal(suite.T(), "D1", own[0].DeviceID)

	_, total, err = suite.store.CountAndList(suite.context, models.LicenseFilters{IssuerIdentity: &reseller, IncludeTrials: true}, 1, 10)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 2, total)

	devices, total, err := suite.store.ListDevices(suite.context, models.DeviceFilters{IssuerIdentity: &reseller}, 1, 10)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, total)
	assert.Equal(suite.T(), "D1", devices[0].DeviceID)

	nobody := "nobody@x.com"
	devices, total, err = suite.store.ListDevices(suite.context, models.DeviceFilters{IssuerIdentity: &nobody}, 1, 10)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 0, total)
	assert.Empty(suite.T(), devices)
}

func (suite *MemoryLicenseStoreTestSuite) TestCountAndList_Paging() {
	for i := 0; i < 5; i++ {
		l := suite.newLicense("D1", "tool-"+string(rune('a'+i)), models.LicenseTypeMonthly, nil)
		l.IssuedAt = suite.now.Add(time.Duration(i) * time.Minute)
		require.NoError(suite.T(), suite.store.Create(suite.context, l))
	}

	page, total, err := suite.store.CountAndList(suite.context, models.LicenseFilters{}, 2, 2)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 5, total)
	require.Len(suite.T(), page, 2)
	assert.Equal(suite.T(), "tool-c", page[0].ToolType)
	assert.Equal(suite.T(), "tool-b", page[1].ToolType)

	page, _, err = suite.store.CountAndList(suite.context, models.LicenseFilters{}, 9, 2)
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), page)
}

func (suite *MemoryLicenseStoreTestSuite) TestCancelledContext() {
	ctx, cancel := context.WithCancel(suite.context)
	cancel()

	_, err := suite.store.FindByKey(ctx, "k")
	assert.ErrorIs(suite.T(), err, ErrStoreUnavailable)
	assert.ErrorIs(suite.T(), err, context.Canceled)
}
