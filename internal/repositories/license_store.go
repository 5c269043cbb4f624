package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"licensehub/internal/common"
	"licensehub/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LicenseStore is the persistence contract of the license lifecycle.
// Finders return (nil, nil) when no record matches.
//
// Implementations must reject a second TRIAL license for the same
// (device, tool) and a second ACTIVE license for the same (device, tool)
// with ErrDuplicate, so concurrent trial grants cannot both succeed.
type LicenseStore interface {
	FindActiveLicense(ctx context.Context, deviceID, toolType string) (*models.License, error)
	FindByKey(ctx context.Context, licenseKey string) (*models.License, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.License, error)
	FindAnyTrial(ctx context.Context, deviceID string) (*models.License, error)
	FindTrialForTool(ctx context.Context, deviceID, toolType string) (*models.License, error)
	Create(ctx context.Context, license *models.License) error
	Update(ctx context.Context, id uuid.UUID, update models.LicenseUpdate) (*models.License, error)

	UpsertDevice(ctx context.Context, deviceID string, fields models.DeviceFields) (*models.Device, error)
	FindDevice(ctx context.Context, deviceID string) (*models.Device, error)

	CountAndList(ctx context.Context, filters models.LicenseFilters, page, limit int) ([]*models.License, int, error)
	ListDevices(ctx context.Context, filters models.DeviceFilters, page, limit int) ([]*models.Device, int, error)
	Summarize(ctx context.Context, filters models.LicenseFilters) (*models.LicenseSummary, error)

	// WithTransaction runs fn against a store bound to one transaction.
	// The transaction commits when fn returns nil and rolls back otherwise.
	WithTransaction(ctx context.Context, fn func(store LicenseStore) error) error

	Ping(ctx context.Context) error
}

const licenseColumns = `l.id, l.device_id, l.tool_type, l.license_key, l.type, l.status, l.owner, l.issuer_identity,
	l.expires_at, l.issued_at, l.activated_at, l.last_used, l.revoked_at, l.activations, l.metadata`

const deviceColumns = `d.device_id, d.hostname, d.ip_address, d.first_seen, d.last_seen, d.trial_granted`

type licenseStore struct {
	db Database
}

func NewLicenseStore(db Database) LicenseStore {
	return &licenseStore{db: db}
}

func scanLicense(row pgx.Row, extra ...interface{}) (*models.License, error) {
	l := &models.License{}
	var licenseType, status string
	var metadata []byte

	dest := []interface{}{
		&l.ID,
		&l.DeviceID,
		&l.ToolType,
		&l.LicenseKey,
		&licenseType,
		&status,
		&l.Owner,
		&l.IssuerIdentity,
		&l.ExpiresAt,
		&l.IssuedAt,
		&l.ActivatedAt,
		&l.LastUsed,
		&l.RevokedAt,
		&l.Activations,
		&metadata,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	l.Type = models.LicenseType(licenseType)
	l.Status = models.LicenseStatus(status)
	meta, err := models.ParseJSONB(metadata)
	if err != nil {
		return nil, err
	}
	l.Metadata = meta
	return l, nil
}

func (r *licenseStore) findOne(ctx context.Context, op, where string, args ...interface{}) (*models.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses l WHERE ` + where + ` ORDER BY l.issued_at DESC LIMIT 1`

	license, err := scanLicense(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return license, nil
}

func (r *licenseStore) FindActiveLicense(ctx context.Context, deviceID, toolType string) (*models.License, error) {
	return r.findOne(ctx, "find active license",
		`l.device_id = $1 AND l.tool_type = $2 AND l.status = 'ACTIVE'`, deviceID, toolType)
}

func (r *licenseStore) FindByKey(ctx context.Context, licenseKey string) (*models.License, error) {
	return r.findOne(ctx, "find license by key", `l.license_key = $1`, licenseKey)
}

func (r *licenseStore) FindByID(ctx context.Context, id uuid.UUID) (*models.License, error) {
	return r.findOne(ctx, "find license by id", `l.id = $1`, id)
}

func (r *licenseStore) FindAnyTrial(ctx context.Context, deviceID string) (*models.License, error) {
	return r.findOne(ctx, "find trial", `l.device_id = $1 AND l.type = 'TRIAL'`, deviceID)
}

func (r *licenseStore) FindTrialForTool(ctx context.Context, deviceID, toolType string) (*models.License, error) {
	return r.findOne(ctx, "find trial for tool",
		`l.device_id = $1 AND l.tool_type = $2 AND l.type = 'TRIAL'`, deviceID, toolType)
}

func (r *licenseStore) Create(ctx context.Context, license *models.License) error {
	if license.ID == uuid.Nil {
		license.ID = uuid.New()
	}

	metadata, err := license.Metadata.Bytes()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO licenses (id, device_id, tool_type, license_key, type, status, owner, issuer_identity,
			expires_at, issued_at, activated_at, last_used, revoked_at, activations, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err = r.db.Exec(ctx, query,
		license.ID,
		license.DeviceID,
		license.ToolType,
		license.LicenseKey,
		string(license.Type),
		string(license.Status),
		license.Owner,
		license.IssuerIdentity,
		license.ExpiresAt,
		license.IssuedAt,
		license.ActivatedAt,
		license.LastUsed,
		license.RevokedAt,
		license.Activations,
		metadata,
	)
	return classify("create license", err)
}

func (r *licenseStore) Update(ctx context.Context, id uuid.UUID, update models.LicenseUpdate) (*models.License, error) {
	var sets []string
	var args []interface{}
	argIdx := 0

	set := func(expr string, value interface{}) {
		argIdx++
		sets = append(sets, fmt.Sprintf(expr, argIdx))
		args = append(args, value)
	}

	if update.Status != nil {
		set("status = $%d", string(*update.Status))
	}
	if update.LicenseKey != nil {
		set("license_key = $%d", *update.LicenseKey)
	}
	if update.ExpiresAt != nil {
		set("expires_at = $%d", *update.ExpiresAt)
	}
	if update.RevokedAt != nil {
		set("revoked_at = $%d", *update.RevokedAt)
	}
	if update.LastUsed != nil {
		set("last_used = $%d", *update.LastUsed)
	}
	if update.ActivatedAt != nil {
		set("activated_at = COALESCE(activated_at, $%d)", *update.ActivatedAt)
	}
	if update.ActivationsDelta != 0 {
		set("activations = activations + $%d", update.ActivationsDelta)
	}
	if update.Metadata != nil {
		metadata, err := update.Metadata.Bytes()
		if err != nil {
			return nil, err
		}
		set("metadata = $%d", metadata)
	}

	if len(sets) == 0 {
		return r.FindByID(ctx, id)
	}

	argIdx++
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE licenses l SET %s WHERE l.id = $%d RETURNING %s`,
		strings.Join(sets, ", "), argIdx, licenseColumns)

	license, err := scanLicense(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("update license", err)
	}
	return license, nil
}

func scanDevice(row pgx.Row, extra ...interface{}) (*models.Device, error) {
	d := &models.Device{}
	dest := []interface{}{&d.DeviceID, &d.Hostname, &d.IPAddress, &d.FirstSeen, &d.LastSeen, &d.TrialGranted}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *licenseStore) UpsertDevice(ctx context.Context, deviceID string, fields models.DeviceFields) (*models.Device, error) {
	query := `
		INSERT INTO devices AS d (device_id, hostname, ip_address, first_seen, last_seen, trial_granted)
		VALUES ($1, $2, $3, $4, $4, $5)
		ON CONFLICT (device_id) DO UPDATE SET
			hostname = COALESCE(EXCLUDED.hostname, d.hostname),
			ip_address = COALESCE(EXCLUDED.ip_address, d.ip_address),
			last_seen = EXCLUDED.last_seen,
			trial_granted = d.trial_granted OR EXCLUDED.trial_granted
		RETURNING ` + deviceColumns

	device, err := scanDevice(r.db.QueryRow(ctx, query,
		deviceID, fields.Hostname, fields.IPAddress, fields.SeenAt, fields.TrialGranted))
	if err != nil {
		return nil, classify("upsert device", err)
	}
	return device, nil
}

func (r *licenseStore) FindDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices d WHERE d.device_id = $1`

	device, err := scanDevice(r.db.QueryRow(ctx, query, deviceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("find device", err)
	}
	return device, nil
}

// licenseWhere renders filters as a WHERE clause over licenses aliased l
func licenseWhere(filters models.LicenseFilters) (string, []interface{}) {
	clauses := []string{"TRUE"}
	var args []interface{}
	argIdx := 0

	if filters.IssuerIdentity != nil {
		argIdx++
		if filters.IncludeTrials {
			clauses = append(clauses, fmt.Sprintf("(l.issuer_identity = $%d OR l.type = 'TRIAL')", argIdx))
		} else {
			clauses = append(clauses, fmt.Sprintf("l.issuer_identity = $%d", argIdx))
		}
		args = append(args, *filters.IssuerIdentity)
	}

	if filters.Status != nil {
		argIdx++
		clauses = append(clauses, fmt.Sprintf("l.status = $%d", argIdx))
		args = append(args, string(*filters.Status))
	}

	if filters.ToolType != nil {
		argIdx++
		clauses = append(clauses, fmt.Sprintf("l.tool_type = $%d", argIdx))
		args = append(args, *filters.ToolType)
	}

	if filters.Type != nil {
		argIdx++
		clauses = append(clauses, fmt.Sprintf("l.type = $%d", argIdx))
		args = append(args, string(*filters.Type))
	}

	if filters.DeviceID != nil {
		argIdx++
		clauses = append(clauses, fmt.Sprintf(`l.device_id ILIKE $%d ESCAPE '\'`, argIdx))
		args = append(args, common.ContainsPattern(*filters.DeviceID))
	}

	if filters.Search != nil {
		argIdx++
		clauses = append(clauses, fmt.Sprintf(
			`(l.device_id ILIKE $%[1]d ESCAPE '\' OR l.owner ILIKE $%[1]d ESCAPE '\' OR l.license_key ILIKE $%[1]d ESCAPE '\')`, argIdx))
		args = append(args, common.ContainsPattern(*filters.Search))
	}

	return strings.Join(clauses, " AND "), args
}

func (r *licenseStore) CountAndList(ctx context.Context, filters models.LicenseFilters, page, limit int) ([]*models.License, int, error) {
	where, args := licenseWhere(filters)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM licenses l WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, classify("count licenses", err)
	}

	query := `SELECT ` + licenseColumns + `, d.hostname FROM licenses l
		LEFT JOIN devices d ON d.device_id = l.device_id
		WHERE ` + where + ` ORDER BY l.issued_at DESC`
	if limit > 0 {
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, limit, (page-1)*limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, classify("list licenses", err)
	}
	defer rows.Close()

	licenses := []*models.License{}
	for rows.Next() {
		var hostname *string
		license, err := scanLicense(rows, &hostname)
		if err != nil {
			return nil, 0, classify("scan license", err)
		}
		license.Device = &models.Device{DeviceID: license.DeviceID, Hostname: hostname}
		licenses = append(licenses, license)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("list licenses", err)
	}
	return licenses, total, nil
}

func (r *licenseStore) ListDevices(ctx context.Context, filters models.DeviceFilters, page, limit int) ([]*models.Device, int, error) {
	clauses := []string{"TRUE"}
	var args []interface{}
	countExpr := `(SELECT COUNT(*) FROM licenses l WHERE l.device_id = d.device_id)`

	if filters.IssuerIdentity != nil {
		args = append(args, *filters.IssuerIdentity)
		clauses = append(clauses, `EXISTS (SELECT 1 FROM licenses l WHERE l.device_id = d.device_id AND l.issuer_identity = $1)`)
		countExpr = `(SELECT COUNT(*) FROM licenses l WHERE l.device_id = d.device_id AND l.issuer_identity = $1)`
	}
	if filters.DeviceID != nil {
		args = append(args, common.ContainsPattern(*filters.DeviceID))
		clauses = append(clauses, fmt.Sprintf(`d.device_id ILIKE $%d ESCAPE '\'`, len(args)))
	}
	where := strings.Join(clauses, " AND ")

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM devices d WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, classify("count devices", err)
	}

	query := `SELECT ` + deviceColumns + `, ` + countExpr + ` FROM devices d WHERE ` + where + ` ORDER BY d.last_seen DESC`
	if limit > 0 {
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, limit, (page-1)*limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, classify("list devices", err)
	}
	defer rows.Close()

	devices := []*models.Device{}
	for rows.Next() {
		var count int
		device, err := scanDevice(rows, &count)
		if err != nil {
			return nil, 0, classify("scan device", err)
		}
		device.LicenseCount = count
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("list devices", err)
	}
	return devices, total, nil
}

func (r *licenseStore) Summarize(ctx context.Context, filters models.LicenseFilters) (*models.LicenseSummary, error) {
	where, args := licenseWhere(filters)
	query := `SELECT l.status, l.tool_type, COALESCE(l.metadata->>'package', ''), COUNT(*)
		FROM licenses l WHERE ` + where + ` GROUP BY 1, 2, 3`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("summarize licenses", err)
	}
	defer rows.Close()

	summary := newSummary()
	for rows.Next() {
		var status, toolType, pkg string
		var count int
		if err := rows.Scan(&status, &toolType, &pkg, &count); err != nil {
			return nil, classify("scan summary", err)
		}
		summary.add(models.LicenseStatus(status), toolType, pkg, count)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("summarize licenses", err)
	}
	return summary.LicenseSummary, nil
}

func (r *licenseStore) WithTransaction(ctx context.Context, fn func(store LicenseStore) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return classify("begin transaction", err)
	}

	if err := fn(&licenseStore{db: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return classify("commit transaction", tx.Commit(ctx))
}

func (r *licenseStore) Ping(ctx context.Context) error {
	var one int
	return classify("ping", r.db.QueryRow(ctx, `SELECT 1`).Scan(&one))
}

type summaryBuilder struct {
	*models.LicenseSummary
}

func newSummary() summaryBuilder {
	return summaryBuilder{&models.LicenseSummary{ByTool: map[string]int{}, ByPackage: map[string]int{}}}
}

func (s summaryBuilder) add(status models.LicenseStatus, toolType, pkg string, count int) {
	s.Total += count
	switch status {
	case models.LicenseStatusActive:
		s.Active += count
	case models.LicenseStatusExpired:
		s.Expired += count
	case models.LicenseStatusRevoked:
		s.Revoked += count
	}
	s.ByTool[toolType] += count
	if pkg != "" {
		s.ByPackage[pkg] += count
	}
}
