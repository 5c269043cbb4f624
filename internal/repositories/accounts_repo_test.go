package repositories

import (
	"context"
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

type AccountsRepoTestSuite struct {
	suite.Suite
	mock       pgxmock.PgxPoolIface
	admins     AdminRepository
	activities ActivityLogRepository
	adminID    uuid.UUID
	now        time.Time
	context    context.Context
}

func (suite *AccountsRepoTestSuite) SetupTest() {
	mock, err := pgxmock.NewPool()
	assert.NoError(suite.T(), err)
	suite.mock = mock

	suite.admins = NewAdminRepo(mock)
	suite.activities = NewActivityLogRepo(mock)
	suite.adminID = uuid.New()
	suite.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	suite.context = context.Background()
}

func (suite *AccountsRepoTestSuite) TearDownTest() {
	assert.NoError(suite.T(), suite.mock.ExpectationsWereMet())
	suite.mock.Close()
}

func TestAccountsRepoTestSuite(t *testing.T) {
	suite.Run(t, new(AccountsRepoTestSuite))
}

func (suite *AccountsRepoTestSuite) TestCreateAdmin_DuplicateEmail() {
	admin := &models.Admin{ID: suite.adminID, Email: "r@x.com", PasswordHash: "hash", Role: models.RoleReseller, CreatedAt: suite.now}

	suite.mock.ExpectExec(`INSERT INTO admins \(id, email, password_hash, name, role, created_at, updated_at\)`).
		WithArgs(suite.adminID, "r@x.com", "hash", (*string)(nil), "RESELLER", suite.now).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "admins_email_key"})

	err := suite.admins.Create(suite.context, admin)
	assert.ErrorIs(suite.T(), err, ErrDuplicate)
}

func (suite *AccountsRepoTestSuite) TestGetByEmail() {
	suite.mock.ExpectQuery(`SELECT .* FROM admins a WHERE a.email = \$1`).
		WithArgs("admin@x.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "password_hash", "name", "role", "created_at", "updated_at"}).
			AddRow(suite.adminID, "admin@x.com", "hash", stringPtr("Root"), "SUPER_ADMIN", suite.now, suite.now))

	admin, err := suite.admins.GetByEmail(suite.context, "admin@x.com")
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), models.RoleSuperAdmin, admin.Role)
	assert.True(suite.T(), admin.Role.IsAdmin())

	suite.mock.ExpectQuery(`FROM admins a WHERE a.email = \$1`).
		WithArgs("nobody@x.com").
		WillReturnError(pgx.ErrNoRows)

	admin, err = suite.admins.GetByEmail(suite.context, "nobody@x.com")
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), admin)
}

func (suite *AccountsRepoTestSuite) TestListByRole_WithActivityCounts() {
	suite.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM admins a WHERE a.role = \$1`).
		WithArgs("RESELLER").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	suite.mock.ExpectQuery(`FROM admins a WHERE a.role = \$1 ORDER BY a.created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("RESELLER", 20, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "password_hash", "name", "role", "created_at", "updated_at", "activity_count"}).
			AddRow(suite.adminID, "r@x.com", "hash", (*string)(nil), "RESELLER", suite.now, suite.now, 4))

	admins, total, err := suite.admins.ListByRole(suite.context, models.RoleReseller, 20, 0)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, total)
	assert.Equal(suite.T(), 4, admins[0].ActivityCount)
}

func (suite *AccountsRepoTestSuite) TestCreateActivity() {
	activity := &models.ActivityLog{
		AdminID:   suite.adminID,
		Action:    models.ActionRevokeLicense,
		Details:   models.JSONB{"licenseId": "abc"},
		CreatedAt: suite.now,
	}

	suite.mock.ExpectExec(`INSERT INTO activity_logs \(id, admin_id, action, details, ip_address, user_agent, created_at\)`).
		WithArgs(pgxmock.AnyArg(), suite.adminID, "REVOKE_LICENSE", []byte(`{"licenseId":"abc"}`), (*string)(nil), (*string)(nil), suite.now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(suite.T(), suite.activities.Create(suite.context, activity))
	assert.NotEqual(suite.T(), uuid.Nil, activity.ID)
}

func (suite *AccountsRepoTestSuite) TestListActivities_FilteredByAdmin() {
	suite.mock.ExpectQuery(`SELECT COUNT\(\*\) FROM activity_logs al WHERE TRUE AND al.admin_id = \$1`).
		WithArgs(suite.adminID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	suite.mock.ExpectQuery(`LEFT JOIN admins a ON a.id = al.admin_id WHERE TRUE AND al.admin_id = \$1 ORDER BY al.created_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs(suite.adminID, 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "admin_id", "action", "details", "ip_address", "user_agent", "created_at", "email", "name"}).
			AddRow(uuid.New(), suite.adminID, "LOGIN", []byte(`{"email":"r@x.com"}`), stringPtr("10.0.0.1"), (*string)(nil), suite.now, stringPtr("r@x.com"), (*string)(nil)))

	activities, total, err := suite.activities.List(suite.context, models.ActivityLogFilters{AdminID: &suite.adminID, Limit: 10})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), 1, total)
	assert.Equal(suite.T(), "r@x.com", activities[0].Details.String("email"))
	assert.Equal(suite.T(), "r@x.com", *activities[0].AdminEmail)
}

func TestMemoryAccounts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	activities := NewMemoryActivityLogRepo()
	admins := NewMemoryAdminRepo(activities)
	activities.AttachAdmins(admins)

	reseller := &models.Admin{Email: "r@x.com", Role: models.RoleReseller, CreatedAt: now}
	require.NoError(t, admins.Create(ctx, reseller))
	assert.ErrorIs(t, admins.Create(ctx, &models.Admin{Email: "R@x.com", Role: models.RoleReseller}), ErrDuplicate)

	for i := 0; i < 3; i++ {
		require.NoError(t, activities.Create(ctx, &models.ActivityLog{
			AdminID:   reseller.ID,
			Action:    models.ActionSellerAdd,
			CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, total, err := admins.ListByRole(ctx, models.RoleReseller, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 3, list[0].ActivityCount)

	entries, total, err := activities.List(ctx, models.ActivityLogFilters{AdminID: &reseller.ID, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].CreatedAt.After(entries[1].CreatedAt))
	assert.Equal(t, "r@x.com", *entries[0].AdminEmail)
}
