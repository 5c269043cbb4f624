package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"licensehub/internal/common"
	"licensehub/internal/models"
	"licensehub/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// PageLimits bounds the page size of list endpoints
type PageLimits struct {
	Default int
	Max     int
}

func (p PageLimits) parse(c echo.Context) (int, int) {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	return common.ValidatePaginationParams(page, limit, p.Default, p.Max)
}

type dataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

type listResponse struct {
	Success    bool              `json:"success"`
	Data       interface{}       `json:"data"`
	Pagination common.Pagination `json:"pagination"`
}

func sendData(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, dataResponse{Success: true, Data: data})
}

func sendList(c echo.Context, data interface{}, total, page, limit int) error {
	return c.JSON(http.StatusOK, listResponse{
		Success:    true,
		Data:       data,
		Pagination: common.NewPagination(total, page, limit),
	})
}

// callerFrom returns the identity resolved by the JWT middleware
func callerFrom(c echo.Context) (models.CallerIdentity, error) {
	caller, ok := common.GetCallerFromContext(c.Request().Context())
	if !ok {
		return models.CallerIdentity{}, common.NewError(common.CodeUnauthorized, "Authentication required")
	}
	return caller, nil
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, common.NewError(common.CodeInvalidField, field+" must be a UUID")
	}
	return id, nil
}

func requestMeta(c echo.Context) services.RequestMeta {
	return services.RequestMeta{
		IPAddress: common.OptionalString(c.RealIP()),
		UserAgent: common.OptionalString(c.Request().UserAgent()),
	}
}

// licenseView is the client-facing summary of a license
func licenseView(l *models.License, daysRemaining int) models.LicenseView {
	return models.LicenseView{
		ID:            l.ID,
		LicenseKey:    l.LicenseKey,
		DeviceID:      l.DeviceID,
		ToolType:      l.ToolType,
		Type:          l.Type,
		Package:       l.Metadata.String(models.MetaPackage),
		Owner:         l.Owner,
		ExpiresAt:     l.ExpiresAt,
		DaysRemaining: daysRemaining,
	}
}
