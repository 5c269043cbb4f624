package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	"licensehub/internal/models"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var licenseRowColumns = []string{
	"id", "device_id", "tool_type", "license_key", "type", "status", "owner", "issuer_identity",
	"expires_at", "issued_at", "activated_at", "last_used", "revoked_at", "activations", "metadata",
}

func stringPtr(s string) *string {
	return &s
}

type LicenseStoreTestSuite struct {
	suite.Suite
	mock      pgxmock.PgxPoolIface
	store     LicenseStore
	licenseID uuid.UUID
	issuedAt  time.Time
	context   context.Context
}

func (suite *LicenseStoreTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	assert.NoError(suite.T(), err)
	suite.mock = mock

	suite.store = NewLicenseStore(mock)
	suite.licenseID = uuid.New()
	suite.issuedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	suite.context = context.Background()
}

func (suite *LicenseStoreTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestLicenseStoreTestSuite(t *testing.T) {
	suite.Run(t, new(LicenseStoreTestSuite))
}

func (suite *LicenseStoreTestSuite) licenseRows(status string, issuer *string, metadata []byte) *pgxmock.Rows {
	return pgxmock.NewRows(licenseRowColumns).AddRow(
		suite.licenseID, "D1", "veo", "D1|Acme|2026-04-01|c2ln", "MONTHLY", status,
		stringPtr("Acme"), issuer,
		suite.issuedAt.AddDate(0, 0, 30), suite.issuedAt,
		(*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil),
		0, metadata,
	)
}

func (suite *LicenseStoreTestSuite) TestFindByKey_Success() {
	key := "D1|Acme|2026-04-01|c2ln"
	suite.mock.ExpectQuery(`SELECT .* FROM licenses l WHERE l.license_key = \$1 ORDER BY l.issued_at DESC LIMIT 1`).
		WithArgs(key).
		WillReturnRows(suite.licenseRows("ACTIVE", stringPtr("r@x.com"), []byte(`{"package":"1_MONTH","days":30}`)))

	license, err := suite.store.FindByKey(suite.context, key)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), license)
	assert.Equal(suite.T(), suite.licenseID, license.ID)
	assert.Equal(suite.T(), models.LicenseTypeMonthly, license.Type)
	assert.Equal(suite.T(), models.LicenseStatusActive, license.Status)
	assert.True(suite.T(), license.IssuedBy("r@x.com"))
	assert.Equal(suite.T(), "1_MONTH", license.Metadata.String(models.MetaPackage))
}

func (suite *LicenseStoreTestSuite) TestFindByKey_NotFound() {
	suite.mock.ExpectQuery(`FROM licenses l WHERE l.license_key = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	license, err := suite.store.FindByKey(suite.context, "missing")
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), license)
}

func (suite *LicenseStoreTestSuite) TestFindActiveLicense_StoreUnavailable() {
	suite.mock.ExpectQuery(`FROM licenses l WHERE l.device_id = \$1 AND l.tool_type = \$2 AND l.status = 'ACTIVE'`).
		WithArgs("D1", "veo").
		WillReturnError(errors.New("connection refused"))

	license, err := suite.store.FindActiveLicense(suite.context, "D1", "veo")
	assert.Nil(suite.T(), license)
	assert.ErrorIs(suite.T(), err, ErrStoreUnavailable)
	assert.Contains(suite.T(), err.Error(), "connection refused")
}

func (suite *LicenseStoreTestSuite) TestFindTrialForTool_Query() {
	suite.mock.ExpectQuery(`FROM licenses l WHERE l.device_id = \$1 AND l.tool_type = \$2 AND l.type = 'TRIAL'`).
		WithArgs("D1", "voice").
		WillReturnError(pgx.ErrNoRows)

	license, err := suite.store.FindTrialForTool(suite.context, "D1", "voice")
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), license)
}

func (suite *LicenseStoreTestSuite) TestCreate_Success() {
	license := &models.License{
		ID:         suite.licenseID,
		DeviceID:   "D1",
		ToolType:   "veo",
		LicenseKey: "D1|AUTO_TRIAL_veo|2026-03-02|c2ln",
		Type:       models.LicenseTypeTrial,
		Status:     models.LicenseStatusActive,
		Owner:      stringPtr("AUTO_TRIAL_veo"),
		ExpiresAt:  suite.issuedAt.AddDate(0, 0, 1),
		IssuedAt:   suite.issuedAt,
	}

	suite.mock.ExpectExec(`INSERT INTO licenses \(id, device_id, tool_type, license_key, type, status`).
		WithArgs(license.ID, "D1", "veo", license.LicenseKey, "TRIAL", "ACTIVE", license.Owner, (*string)(nil),
			license.ExpiresAt, license.IssuedAt, (*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil), 0, []byte(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := suite.store.Create(suite.context, license)
	assert.NoError(suite.T(), err)
}

func (suite *LicenseStoreTestSuite) TestCreate_UniqueViolation() {
	license := &models.License{ID: suite.licenseID, DeviceID: "D1", ToolType: "veo", Type: models.LicenseTypeTrial, Status: models.LicenseStatusActive}

	suite.mock.ExpectExec(`INSERT INTO licenses`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "licenses_one_trial_per_tool"})

	err := suite.store.Create(suite.context, license)
	assert.ErrorIs(suite.T(), err, ErrDuplicate)
	assert.NotErrorIs(suite.T(), err, ErrStoreUnavailable)
}

func (suite *LicenseStoreTestSuite) TestUpdate_BuildsSetClause() {
	revoked := models.LicenseStatusRevoked
	now := suite.issuedAt.Add(time.Hour)

	suite.mock.ExpectQuery(`UPDATE licenses l SET status = \$1, revoked_at = \$2, metadata = \$3 WHERE l.id = \$4 RETURNING`).
		WithArgs("REVOKED", now, []byte(`{"revokeReason":"refund"}`), suite.licenseID).
		WillReturnRows(suite.licenseRows("REVOKED", nil, []byte(`{"revokeReason":"refund"}`)))

	license, err := suite.store.Update(suite.context, suite.licenseID, models.LicenseUpdate{
		Status:    &revoked,
		RevokedAt: &now,
		Metadata:  models.JSONB{models.MetaRevokeReason: "refund"},
	})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.LicenseStatusRevoked, license.Status)
	assert.Equal(suite.T(), "refund", license.Metadata.String(models.MetaRevokeReason))
}

func (suite *LicenseStoreTestSuite) TestUpdate_ActivationBookkeeping() {
	now := suite.issuedAt.Add(time.Hour)

	suite.mock.ExpectQuery(`UPDATE licenses l SET last_used = \$1, activated_at = COALESCE\(activated_at, \$2\), activations = activations \+ \$3 WHERE l.id = \$4`).
		WithArgs(now, now, 1, suite.licenseID).
		WillReturnError(pgx.ErrNoRows)

	license, err := suite.store.Update(suite.context, suite.licenseID, models.LicenseUpdate{
		LastUsed:         &now,
		ActivatedAt:      &now,
		ActivationsDelta: 1,
	})
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), license)
}

func (suite *LicenseStoreTestSuite) TestUpsertDevice() {
	seen := suite.issuedAt
	hostname := stringPtr("workstation")

	suite.mock.ExpectQuery(`INSERT INTO devices AS d .* ON CONFLICT \(device_id\) DO UPDATE SET .* trial_granted = d.trial_granted OR EXCLUDED.trial_granted`).
		WithArgs("D1", hostname, (*string)(nil), seen, true).
		WillReturnRows(pgxmock.NewRows([]string{"device_id", "hostname", "ip_address", "first_seen", "last_seen", "trial_granted"}).
			AddRow("D1", hostname, (*string)(nil), seen, seen, true))

	device, err := suite.store.UpsertDevice(suite.context, "D1", models.DeviceFields{Hostname: hostname, TrialGranted: true, SeenAt: seen})
	require.NoError(suite.T(), err)
	assert.True(suite.T(), device.TrialGranted)
	assert.Equal(suite.T(), "workstation", *device.Hostname)
}

func (suite *LicenseStoreTestSuite) TestWithTransaction_Commit() {
	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(`UPDATE licenses l SET status = \$1, revoked_at = \$2 WHERE l.id = \$3`).
		WithArgs("REVOKED", suite.issuedAt, suite.licenseID).
		WillReturnRows(suite.licenseRows("REVOKED", nil, nil))
	suite.mock.ExpectCommit()

	revoked := models.LicenseStatusRevoked
	err := suite.store.WithTransaction(suite.context, func(tx LicenseStore) error {
		_, err := tx.Update(suite.context, suite.licenseID, models.LicenseUpdate{Status: &revoked, RevokedAt: &suite.issuedAt})
		return err
	})
	assert.NoError(suite.T(), err)
}

func (suite *LicenseStoreTestSuite) TestWithTransaction_RollbackKeepsCallbackError() {
	sentinel := errors.New("trial already used")

	suite.mock.ExpectBegin()
	suite.mock.ExpectRollback()

	err := suite.store.WithTransaction(suite.context, func(tx LicenseStore) error {
		return sentinel
	})
	assert.ErrorIs(suite.T(), err, sentinel)
	assert.NotErrorIs(suite.T(), err, ErrStoreUnavailable)
}

func (suite *LicenseStoreTestSuite) TestWithTransaction_BeginFails() {
	suite.mock.ExpectBegin().WillReturnError(errors.New("pool closed"))

	called := false
	err := suite.store.WithTransaction(suite.context, func(tx LicenseStore) error {
		called = true
		return nil
	})
	assert.ErrorIs(suite.T(), err, ErrStoreUnavailable)
	assert.False(suite.T(), called)
}

func (suite *LicenseStoreTestSuite) TestCountAndList_ResellerScopeWithTrials() {
	issuer := "r@x.com"
	filters := models.LicenseFilters{IssuerIdentity: &issuer, IncludeTrials: true}

	suite.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM licenses l WHERE TRUE AND \(l.issuer_identity = \$1 OR l.type = 'TRIAL'\)`).
		WithArgs(issuer).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))

	suite.mock.ExpectQuery(`LEFT JOIN devices d ON d.device_id = l.device_id WHERE TRUE AND \(l.issuer_identity = \$1 OR l.type = 'TRIAL'\) ORDER BY l.issued_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs(issuer, 50, 50).
		WillReturnRows(pgxmock.NewRows(append(append([]string{}, licenseRowColumns...), "hostname")).
			AddRow(suite.licenseID, "D1", "veo", "D1|Acme|2026-04-01|c2ln", "MONTHLY", "ACTIVE",
				stringPtr("Acme"), &issuer, suite.issuedAt.AddDate(0, 0, 30), suite.issuedAt,
				(*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil), 0, []byte(nil), stringPtr("host-1")))

	licenses, total, err := suite.store.CountAndList(suite.context, filters, 2, 50)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, total)
	require.Len(suite.T(), licenses, 1)
	assert.Equal(suite.T(), "host-1", *licenses[0].Device.Hostname)
}

func (suite *LicenseStoreTestSuite) TestCountAndList_SearchEscapesWildcards() {
	search := "dev_1%"
	filters := models.LicenseFilters{Search: &search}

	suite.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM licenses l WHERE TRUE AND \(l.device_id ILIKE \$1 ESCAPE`).
		WithArgs(`%dev\_1\%%`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	suite.mock.ExpectQuery(`FROM licenses l LEFT JOIN devices d`).
		WithArgs(`%dev\_1\%%`).
		WillReturnRows(pgxmock.NewRows(append(append([]string{}, licenseRowColumns...), "hostname")))

	licenses, total, err := suite.store.CountAndList(suite.context, filters, 1, 0)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 0, total)
	assert.Empty(suite.T(), licenses)
}

func (suite *LicenseStoreTestSuite) TestListDevices_ResellerScope() {
	issuer := "r@x.com"
	seen := suite.issuedAt

	suite.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM devices d WHERE TRUE AND EXISTS \(SELECT 1 FROM licenses l WHERE l.device_id = d.device_id AND l.issuer_identity = \$1\)`).
		WithArgs(issuer).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	suite.mock.ExpectQuery(`FROM devices d WHERE TRUE AND EXISTS .* ORDER BY d.last_seen DESC LIMIT \$2 OFFSET \$3`).
		WithArgs(issuer, 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{"device_id", "hostname", "ip_address", "first_seen", "last_seen", "trial_granted", "license_count"}).
			AddRow("D2", (*string)(nil), (*string)(nil), seen, seen, false, 2))

	devices, total, err := suite.store.ListDevices(suite.context, models.DeviceFilters{IssuerIdentity: &issuer}, 1, 20)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, total)
	require.Len(suite.T(), devices, 1)
	assert.Equal(suite.T(), 2, devices[0].LicenseCount)
}

func (suite *LicenseStoreTestSuite) TestSummarize_Aggregates() {
	suite.mock.ExpectQuery(`SELECT l.status, l.tool_type, COALESCE\(l.metadata->>'package', ''\), COUNT\(\*\) FROM licenses l WHERE TRUE GROUP BY 1, 2, 3`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "tool_type", "package", "count"}).
			AddRow("ACTIVE", "veo", "1_YEAR", 3).
			AddRow("REVOKED", "veo", "", 1).
			AddRow("EXPIRED", "voice", "1_MONTH", 2))

	summary, err := suite.store.Summarize(suite.context, models.LicenseFilters{})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 6, summary.Total)
	assert.Equal(suite.T(), 3, summary.Active)
	assert.Equal(suite.T(), 1, summary.Revoked)
	assert.Equal(suite.T(), 2, summary.Expired)
	assert.Equal(suite.T(), map[string]int{"veo": 4, "voice": 2}, summary.ByTool)
	assert.Equal(suite.T(), map[string]int{"1_YEAR": 3, "1_MONTH": 2}, summary.ByPackage)
}
