package handlers

import (
	"net/http"
	"time"

	"licensehub/internal/services"

	"github.com/labstack/echo/v4"
)

const archiveURLExpiry = 15 * time.Minute

// ArchiveHandlers serves archived export downloads
type ArchiveHandlers struct {
	archives services.ArchiveService
}

func NewArchiveHandlers(archives services.ArchiveService) *ArchiveHandlers {
	return &ArchiveHandlers{archives: archives}
}

type archiveLink struct {
	ObjectName string    `json:"objectName"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Latest handles GET /api/admin/exports/archive/latest
func (h *ArchiveHandlers) Latest(c echo.Context) error {
	caller, err := callerFrom(c)
	if err != nil {
		return err
	}

	name, url, err := h.archives.LatestURL(c.Request().Context(), caller, archiveURLExpiry)
	if err != nil {
		return err
	}
	return sendData(c, http.StatusOK, archiveLink{
		ObjectName: name,
		URL:        url,
		ExpiresAt:  time.Now().UTC().Add(archiveURLExpiry),
	})
}
