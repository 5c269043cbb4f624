package services

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"licensehub/internal/common"
	"licensehub/internal/models"
	"licensehub/internal/repositories"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type MockObjectStore struct {
	mock.Mock
	uploaded string
}

func (m *MockObjectStore) EnsureBucket(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockObjectStore) Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	body, _ := io.ReadAll(reader)
	m.uploaded = string(body)
	args := m.Called(ctx, objectName, size, contentType)
	return args.Error(0)
}

func (m *MockObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockObjectStore) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, objectName, expiry)
	return args.String(0), args.Error(1)
}

type ArchiveServiceTestSuite struct {
	suite.Suite
	objects *MockObjectStore
	store   repositories.LicenseStore
	service ArchiveService
	admin   models.CallerIdentity
	context context.Context
}

func (suite *ArchiveServiceTestSuite) SetupTest() {
	suite.objects = &MockObjectStore{}
	suite.store = repositories.NewMemoryLicenseStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC))
	suite.service = NewArchiveService(suite.objects, suite.store, NewExportService(), clock, time.Second, nil)
	suite.admin = models.CallerIdentity{ID: uuid.New(), Email: "admin@x.com", Role: models.RoleAdmin}
	suite.context = context.Background()
}

func (suite *ArchiveServiceTestSuite) TearDownTest() {
	suite.objects.AssertExpectations(suite.T())
}

func TestArchiveServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ArchiveServiceTestSuite))
}

func (suite *ArchiveServiceTestSuite) TestArchiveExport_UploadsFullCSV() {
	issuer := "r@x.com"
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(suite.T(), suite.store.Create(suite.context, &models.License{
		DeviceID: "D1", ToolType: "veo", LicenseKey: "k1", Type: models.LicenseTypeCustom,
		Status: models.LicenseStatusActive, IssuerIdentity: &issuer, IssuedAt: now, ExpiresAt: now.AddDate(0, 0, 30),
	}))

	suite.objects.On("Put", mock.Anything, "exports/licenses_2026-03-10.csv", mock.AnythingOfType("int64"), "text/csv").Return(nil).Once()

	name, err := suite.service.ArchiveExport(suite.context)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "exports/licenses_2026-03-10.csv", name)
	assert.True(suite.T(), strings.HasPrefix(suite.objects.uploaded, strings.Join(ExportHeader, ",")))
	assert.Contains(suite.T(), suite.objects.uploaded, "D1")
}

func (suite *ArchiveServiceTestSuite) TestArchiveExport_UploadFailure() {
	suite.objects.On("Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection timeout")).Once()

	_, err := suite.service.ArchiveExport(suite.context)
	assert.ErrorContains(suite.T(), err, "connection timeout")
}

func (suite *ArchiveServiceTestSuite) TestLatestURL_PicksNewest() {
	suite.objects.On("List", mock.Anything, "exports/").
		Return([]string{"exports/licenses_2026-03-09.csv", "exports/licenses_2026-03-10.csv", "exports/licenses_2026-02-28.csv"}, nil).Once()
	suite.objects.On("PresignedURL", mock.Anything, "exports/licenses_2026-03-10.csv", time.Hour).
		Return("https://minio.local/exports/licenses_2026-03-10.csv?sig", nil).Once()

	name, url, err := suite.service.LatestURL(suite.context, suite.admin, time.Hour)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "exports/licenses_2026-03-10.csv", name)
	assert.Contains(suite.T(), url, "sig")
}

func (suite *ArchiveServiceTestSuite) TestLatestURL_NoArchives() {
	suite.objects.On("List", mock.Anything, "exports/").Return([]string{}, nil).Once()

	_, _, err := suite.service.LatestURL(suite.context, suite.admin, time.Hour)
	assert.True(suite.T(), common.IsCode(err, common.CodeNotFound))
}

func (suite *ArchiveServiceTestSuite) TestLatestURL_ResellerDenied() {
	reseller := models.CallerIdentity{ID: uuid.New(), Email: "r@x.com", Role: models.RoleReseller}

	_, _, err := suite.service.LatestURL(suite.context, reseller, time.Hour)
	assert.True(suite.T(), common.IsCode(err, common.CodeAccessDenied))
}
