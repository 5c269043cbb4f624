package services

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"licensehub/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func exportFixture() []*models.License {
	owner := `Acme, "Tools" Inc`
	host := "build\nbox"
	lastUsed := time.Date(2026, 3, 12, 8, 0, 0, 0, time.UTC)
	return []*models.License{
		{
			ID:         uuid.MustParse("5b2c3a5e-0d7e-4c1b-9f3a-2f1e4d5c6b7a"),
			DeviceID:   "D1",
			ToolType:   "veo",
			LicenseKey: "D1|Acme|2026-04-09|c2ln",
			Type:       models.LicenseTypeCustom,
			Status:     models.LicenseStatusActive,
			Owner:      &owner,
			IssuedAt:   time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC),
			ExpiresAt:  time.Date(2026, 4, 9, 15, 30, 0, 0, time.UTC),
			LastUsed:   &lastUsed,
			Device:     &models.Device{DeviceID: "D1", Hostname: &host},
		},
		{
			ID:         uuid.MustParse("6c3d4b6f-1e8f-4d2c-8a4b-3a2f5e6d7c8b"),
			DeviceID:   "D2",
			ToolType:   "voice",
			LicenseKey: "D2|AUTO_TRIAL_voice|2026-03-11|c2ln",
			Type:       models.LicenseTypeTrial,
			Status:     models.LicenseStatusExpired,
			IssuedAt:   time.Date(2026, 3, 10, 15, 30, 0, 0, time.UTC),
			ExpiresAt:  time.Date(2026, 3, 11, 15, 30, 0, 0, time.UTC),
		},
	}
}

func TestExportCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewExportService().Write(&buf, ExportCSV, exportFixture()))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "License ID,Device ID,Hostname,License Key,Tool Type,Type,Status,Owner,Issued At,Expires At,Last Used\n"))
	assert.Contains(t, out, `"Acme, ""Tools"" Inc"`)
	assert.Contains(t, out, "\"build\nbox\"")

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{
		"5b2c3a5e-0d7e-4c1b-9f3a-2f1e4d5c6b7a", "D1", "build\nbox", "D1|Acme|2026-04-09|c2ln", "veo", "CUSTOM",
		"ACTIVE", `Acme, "Tools" Inc`, "2026-03-10", "2026-04-09", "2026-03-12",
	}, records[1])
	assert.Equal(t, "", records[2][2])
	assert.Equal(t, "", records[2][7])
	assert.Equal(t, "", records[2][10])
}

func TestExportCSV_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewExportService().Write(&buf, ExportCSV, nil))
	assert.Equal(t, strings.Join(ExportHeader, ",")+"\n", buf.String())
}

func TestExportXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewExportService().Write(&buf, ExportXLSX, exportFixture()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ExportHeader, rows[0])
	assert.Equal(t, "D1", rows[1][1])
	assert.Equal(t, `Acme, "Tools" Inc`, rows[1][7])
	assert.Equal(t, "TRIAL", rows[2][5])
}

func TestExportFormat(t *testing.T) {
	now := time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "licenses_2026-03-10.csv", ExportCSV.FileName(now))
	assert.Equal(t, "licenses_2026-03-10.xlsx", ExportXLSX.FileName(now))
	assert.Equal(t, "text/csv", ExportCSV.ContentType())
	assert.Contains(t, ExportXLSX.ContentType(), "spreadsheetml")

	assert.Error(t, NewExportService().Write(&bytes.Buffer{}, "pdf", nil))
}
