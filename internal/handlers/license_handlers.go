package handlers

import (
	"bytes"
	"net/http"
	"strings"

	"licensehub/internal/common"
	"licensehub/internal/models"
	"licensehub/internal/services"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
)

// LicenseHandlers serves the license check endpoint and license administration
type LicenseHandlers struct {
	lifecycle services.LifecycleService
	licenses  services.LicenseService
	exporter  services.ExportService
	clock     clockwork.Clock
	limits    PageLimits
}

func NewLicenseHandlers(lifecycle services.LifecycleService, licenses services.LicenseService, exporter services.ExportService, clock clockwork.Clock, limits PageLimits) *LicenseHandlers {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &LicenseHandlers{
		lifecycle: lifecycle,
		licenses:  licenses,
		exporter:  exporter,
		clock:     clock,
		limits:    limits,
	}
}

type CheckLicenseRequest struct {
	DeviceID   string `json:"deviceId"`
	ToolType   string `json:"toolType"`
	LicenseKey string `json:"licenseKey"`
	Hostname   string `json:"hostname"`
	IPAddress  string `json:"ipAddress"`
}

type licenseResponse struct {
	Success      bool               `json:"success"`
	Trial        bool               `json:"trial,omitempty"`
	License      models.LicenseView `json:"license"`
	SupersededID string             `json:"supersededLicenseId,omitempty"`
	Message      string             `json:"message,omitempty"`
}

// Check handles POST /api/license/check
func (h *LicenseHandlers) Check(c echo.Context) error {
	var req CheckLicenseRequest
	if err := c.Bind(&req); err != nil {
		return common.SendValidationError(c, "body", "Invalid request format")
	}

	ip := common.OptionalString(req.IPAddress)
	if ip == nil {
		ip = common.OptionalString(c.RealIP())
	}

	result, err := h.lifecycle.CheckOrGrant(c.Request().Context(), services.CheckRequest{
		DeviceID:   req.DeviceID,
		ToolType:   req.ToolType,
		LicenseKey: req.LicenseKey,
		Hostname:   common.OptionalString(req.Hostname),
		IPAddress:  ip,
	})
	if err != nil {
		return err
	}

	resp := licenseResponse{
		Success: true,
		Trial:   result.Trial,
		License: licenseView(result.License, result.DaysRemaining),
	}
	switch {
	case result.Trial:
		resp.Message = "Trial license granted"
	case result.Verified:
		resp.Message = "License verified"
	}
	return c.JSON(http.StatusOK, resp)
}

type AdminCreateLicenseRequest struct {
	DeviceID string `json:"deviceId" validate:"required"`
	ToolType string `json:"toolType" validate:"required"`
	Owner    string `json:"owner"`
	Type     string `json:"type"`
	Days     int    `json:"days" validate:"omitempty,gt=0"`
	Package  string `json:"package"`
}

// Create handles POST /api/admin/license/create
func (h *LicenseHandlers) Create(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}

	var req AdminCreateLicenseRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	return h.issue(c, caller, services.IssueRequest{
		DeviceID: req.DeviceID,
		ToolType: req.ToolType,
		Owner:    req.Owner,
		Type:     models.LicenseType(strings.ToUpper(strings.TrimSpace(req.Type))),
		Days:     req.Days,
		Package:  req.Package,
	})
}

type ResellerCreateLicenseRequest struct {
	DeviceID string `json:"deviceId" validate:"required"`
	ToolType string `json:"toolType" validate:"required"`
	Owner    string `json:"owner"`
	Package  string `json:"package" validate:"required,oneof=1_MONTH 3_MONTHS 6_MONTHS 1_YEAR 2_YEARS"`
}

// ResellerCreate handles POST /api/reseller/license/create
func (h *LicenseHandlers) ResellerCreate(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}

	var req ResellerCreateLicenseRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	return h.issue(c, caller, services.IssueRequest{
		DeviceID: req.DeviceID,
		ToolType: req.ToolType,
		Owner:    req.Owner,
		Package:  req.Package,
	})
}

func (h *LicenseHandlers) issue(c echo.Context, caller models.CallerIdentity, req services.IssueRequest) error {
	result, err := h.lifecycle.Issue(c.Request().Context(), caller, req)
	if err != nil {
		return err
	}

	resp := licenseResponse{
		Success: true,
		License: licenseView(result.License, result.DaysRemaining),
		Message: "License created",
	}
	if result.Superseded != nil {
		resp.SupersededID = result.Superseded.ID.String()
	}
	return c.JSON(http.StatusCreated, resp)
}

type ExtendLicenseRequest struct {
	LicenseID string `json:"licenseId" validate:"required"`
	Days      int    `json:"days" validate:"required,gt=0"`
	Reason    string `json:"reason"`
}

// Extend handles POST /api/admin/license/extend
func (h *LicenseHandlers) Extend(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}

	var req ExtendLicenseRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	id, err := parseID(req.LicenseID, "licenseId")
	if err != nil {
		return err
	}

	license, err := h.lifecycle.Extend(c.Request().Context(), caller, id, req.Days, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, licenseResponse{
		Success: true,
		License: licenseView(license, services.DaysRemaining(license.ExpiresAt, h.clock.Now())),
		Message: "License extended",
	})
}

type RevokeLicenseRequest struct {
	LicenseID string `json:"licenseId" validate:"required"`
	Reason    string `json:"reason"`
}

// Revoke handles POST /api/admin/license/revoke
func (h *LicenseHandlers) Revoke(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}

	var req RevokeLicenseRequest
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}
	id, err := parseID(req.LicenseID, "licenseId")
	if err != nil {
		return err
	}

	license, err := h.lifecycle.Revoke(c.Request().Context(), caller, id, req.Reason)
	if err != nil {
		return err
	}
	return sendData(c, http.StatusOK, license)
}

// Get handles GET /api/admin/license/:id
func (h *LicenseHandlers) Get(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		return err
	}

	license, err := h.licenses.Get(c.Request().Context(), caller, id)
	if err != nil {
		return err
	}
	return sendData(c, http.StatusOK, license)
}

func licenseFilters(c echo.Context) (models.LicenseFilters, error) {
	var filters models.LicenseFilters
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		status := models.LicenseStatus(strings.ToUpper(raw))
		if !status.Valid() {
			return filters, common.NewError(common.CodeInvalidField, "Unknown status "+raw)
		}
		filters.Status = &status
	}
	if raw := strings.TrimSpace(c.QueryParam("type")); raw != "" {
		licenseType := models.LicenseType(strings.ToUpper(raw))
		if !licenseType.Valid() {
			return filters, common.NewError(common.CodeInvalidField, "Unknown license type "+raw)
		}
		filters.Type = &licenseType
	}
	filters.ToolType = common.OptionalString(c.QueryParam("toolType"))
	filters.DeviceID = common.OptionalString(c.QueryParam("deviceId"))
	filters.Search = common.OptionalString(common.SanitizeSearchQuery(c.QueryParam("search")))
	return filters, nil
}

// List handles GET /api/admin/licenses
func (h *LicenseHandlers) List(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	filters, err := licenseFilters(c)
	if err != nil {
		return err
	}
	page, limit := h.limits.parse(c)

	licenses, total, err := h.licenses.List(c.Request().Context(), caller, filters, page, limit)
	if err != nil {
		return err
	}
	return sendList(c, licenses, total, page, limit)
}

// Export handles GET /api/admin/licenses/export?format=csv|xlsx
func (h *LicenseHandlers) Export(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}

	format := services.ExportFormat(strings.ToLower(c.QueryParam("format")))
	switch format {
	case "":
		format = services.ExportCSV
	case services.ExportCSV, services.ExportXLSX:
	default:
		return common.NewError(common.CodeInvalidField, "format must be csv or xlsx")
	}

	filters, err := licenseFilters(c)
	if err != nil {
		return err
	}
	rows, err := h.licenses.ExportRows(c.Request().Context(), caller, filters)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := h.exporter.Write(&buf, format, rows); err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+format.FileName(h.clock.Now())+`"`)
	return c.Blob(http.StatusOK, format.ContentType(), buf.Bytes())
}

// Devices handles GET /api/admin/devices
func (h *LicenseHandlers) Devices(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	page, limit := h.limits.parse(c)
	filters := models.DeviceFilters{DeviceID: common.OptionalString(c.QueryParam("deviceId"))}

	devices, total, err := h.licenses.Devices(c.Request().Context(), caller, filters, page, limit)
	if err != nil {
		return err
	}
	return sendList(c, devices, total, page, limit)
}

// Stats handles GET /api/admin/stats
func (h *LicenseHandlers) Stats(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	stats, err := h.licenses.Stats(c.Request().Context(), caller)
	if err != nil {
		return err
	}
	return sendData(c, http.StatusOK, stats)
}

// ResellerStats handles GET /api/admin/stats/reseller
func (h *LicenseHandlers) ResellerStats(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	summary, err := h.licenses.ResellerStats(c.Request().Context(), caller)
	if err != nil {
		return err
	}
	return sendData(c, http.StatusOK, summary)
}
