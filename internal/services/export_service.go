package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"licensehub/internal/models"
	"licensehub/internal/signing"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Licenses"

// ExportHeader is the column order of every license export
var ExportHeader = []string{
	"License ID", "Device ID", "Hostname", "License Key", "Tool Type", "Type",
	"Status", "Owner", "Issued At", "Expires At", "Last Used",
}

type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportXLSX ExportFormat = "xlsx"
)

// ContentType returns the MIME type of the format
func (f ExportFormat) ContentType() string {
	if f == ExportXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// FileName returns the download name for an export made at now
func (f ExportFormat) FileName(now time.Time) string {
	return fmt.Sprintf("licenses_%s.%s", signing.FormatDate(now), f)
}

type ExportService interface {
	Write(w io.Writer, format ExportFormat, licenses []*models.License) error
}

type exportService struct{}

func NewExportService() ExportService {
	return exportService{}
}

func exportDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return signing.FormatDate(*t)
}

func exportRow(l *models.License) []string {
	hostname := ""
	if l.Device != nil && l.Device.Hostname != nil {
		hostname = *l.Device.Hostname
	}
	owner := ""
	if l.Owner != nil {
		owner = *l.Owner
	}
	return []string{
		l.ID.String(),
		l.DeviceID,
		hostname,
		l.LicenseKey,
		l.ToolType,
		string(l.Type),
		string(l.Status),
		owner,
		exportDate(&l.IssuedAt),
		exportDate(&l.ExpiresAt),
		exportDate(l.LastUsed),
	}
}

func (s exportService) Write(w io.Writer, format ExportFormat, licenses []*models.License) error {
	switch format {
	case ExportCSV, "":
		return writeCSV(w, licenses)
	case ExportXLSX:
		return writeXLSX(w, licenses)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func writeCSV(w io.Writer, licenses []*models.License) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, l := range licenses {
		if err := cw.Write(exportRow(l)); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeXLSX(w io.Writer, licenses []*models.License) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), exportSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	setRow := func(rowNum int, values []string) error {
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		row := make([]interface{}, len(values))
		for i, v := range values {
			row[i] = v
		}
		return f.SetSheetRow(exportSheet, cell, &row)
	}

	if err := setRow(1, ExportHeader); err != nil {
		return fmt.Errorf("failed to write xlsx header: %w", err)
	}
	for i, l := range licenses {
		if err := setRow(i+2, exportRow(l)); err != nil {
			return fmt.Errorf("failed to write xlsx row: %w", err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}
