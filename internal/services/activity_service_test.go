package services

import (
	"context"
	"testing"
	"time"

	"licensehub/internal/common"
	"licensehub/internal/models"
	"licensehub/internal/repositories"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ActivityServiceTestSuite struct {
	suite.Suite
	clock    *clockwork.FakeClock
	service  ActivityService
	admin    models.CallerIdentity
	reseller models.CallerIdentity
	ctx      context.Context
}

func (suite *ActivityServiceTestSuite) SetupTest() {
	suite.clock = clockwork.NewFakeClockAt(time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC))
	suite.service = NewActivityService(repositories.NewMemoryActivityLogRepo(), suite.clock, time.Second)
	suite.admin = models.CallerIdentity{ID: uuid.New(), Email: "admin@x.com", Role: models.RoleAdmin}
	suite.reseller = models.CallerIdentity{ID: uuid.New(), Email: "r@x.com", Role: models.RoleReseller}
	suite.ctx = context.Background()

	suite.record(suite.admin, models.ActionLogin)
	suite.record(suite.admin, models.ActionCreateReseller)
	suite.record(suite.reseller, models.ActionLogin)
	suite.record(suite.reseller, models.ActionSellerAdd)
}

func TestActivityServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ActivityServiceTestSuite))
}

func (suite *ActivityServiceTestSuite) record(caller models.CallerIdentity, action string) {
	suite.clock.Advance(time.Minute)
	suite.Require().NoError(suite.service.Record(suite.ctx, &models.ActivityLog{AdminID: caller.ID, Action: action}))
}

func (suite *ActivityServiceTestSuite) TestRecord_StampsTime() {
	entry := &models.ActivityLog{AdminID: suite.admin.ID, Action: models.ActionRevokeLicense}
	suite.Require().NoError(suite.service.Record(suite.ctx, entry))
	assert.Equal(suite.T(), suite.clock.Now().UTC(), entry.CreatedAt)
	assert.NotEqual(suite.T(), uuid.Nil, entry.ID)
}

func (suite *ActivityServiceTestSuite) TestRecord_RequiresActorAndAction() {
	err := suite.service.Record(suite.ctx, &models.ActivityLog{Action: models.ActionLogin})
	assert.True(suite.T(), common.IsCode(err, common.CodeInvalidField))

	err = suite.service.Record(suite.ctx, &models.ActivityLog{AdminID: suite.admin.ID})
	assert.True(suite.T(), common.IsCode(err, common.CodeInvalidField))
}

func (suite *ActivityServiceTestSuite) TestList_AdminSeesAll() {
	entries, total, err := suite.service.List(suite.ctx, suite.admin, models.ActivityLogFilters{}, 1, 10)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 4, total)
	assert.Equal(suite.T(), models.ActionSellerAdd, entries[0].Action)

	action := models.ActionLogin
	_, total, err = suite.service.List(suite.ctx, suite.admin, models.ActivityLogFilters{Action: &action}, 1, 10)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 2, total)
}

func (suite *ActivityServiceTestSuite) TestList_ResellerSeesOwn() {
	other := suite.admin.ID
	entries, total, err := suite.service.List(suite.ctx, suite.reseller, models.ActivityLogFilters{AdminID: &other}, 1, 10)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 2, total)
	for _, e := range entries {
		assert.Equal(suite.T(), suite.reseller.ID, e.AdminID)
	}
}

func (suite *ActivityServiceTestSuite) TestOwn_Pagination() {
	entries, total, err := suite.service.Own(suite.ctx, suite.admin, 2, 1)
	suite.Require().NoError(err)
	assert.Equal(suite.T(), 2, total)
	suite.Require().Len(entries, 1)
	assert.Equal(suite.T(), models.ActionLogin, entries[0].Action)
}
