package handlers

import (
	"strings"

	"licensehub/internal/common"
	"licensehub/internal/models"
	"licensehub/internal/services"

	"github.com/labstack/echo/v4"
)

// ActivityHandlers exposes the operator activity log
type ActivityHandlers struct {
	activities services.ActivityService
	limits     PageLimits
}

func NewActivityHandlers(activities services.ActivityService, limits PageLimits) *ActivityHandlers {
	return &ActivityHandlers{activities: activities, limits: limits}
}

// List handles GET /api/admin/activities
func (h *ActivityHandlers) List(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}

	var filters models.ActivityLogFilters
	if raw := strings.TrimSpace(c.QueryParam("adminId")); raw != "" {
		id, err := parseID(raw, "adminId")
		if err != nil {
			return err
		}
		filters.AdminID = &id
	}
	if action := common.OptionalString(c.QueryParam("action")); action != nil {
		upper := strings.ToUpper(*action)
		filters.Action = &upper
	}
	page, limit := h.limits.parse(c)

	entries, total, err := h.activities.List(c.Request().Context(), caller, filters, page, limit)
	if err != nil {
		return err
	}
	return sendList(c, entries, total, page, limit)
}

// Own handles GET /api/admin/activities/own
func (h *ActivityHandlers) Own(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}
	page, limit := h.limits.parse(c)

	entries, total, err := h.activities.Own(c.Request().Context(), caller, page, limit)
	if err != nil {
		return err
	}
	return sendList(c, entries, total, page, limit)
}
