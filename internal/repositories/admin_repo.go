package repositories

import (
	"context"
	"errors"

	"licensehub/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type AdminRepository interface {
	Create(ctx context.Context, admin *models.Admin) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Admin, error)
	GetByEmail(ctx context.Context, email string) (*models.Admin, error)

	// ListByRole returns one page of accounts with their activity counts
	ListByRole(ctx context.Context, role models.Role, limit, offset int) ([]*models.Admin, int, error)
}

type adminRepo struct {
	db Database
}

func NewAdminRepo(db Database) AdminRepository {
	return &adminRepo{db: db}
}

const adminColumns = `a.id, a.email, a.password_hash, a.name, a.role, a.created_at, a.updated_at`

func scanAdmin(row pgx.Row, extra ...interface{}) (*models.Admin, error) {
	admin := &models.Admin{}
	var role string
	dest := []interface{}{&admin.ID, &admin.Email, &admin.PasswordHash, &admin.Name, &role, &admin.CreatedAt, &admin.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	admin.Role = models.Role(role)
	return admin, nil
}

func (r *adminRepo) Create(ctx context.Context, admin *models.Admin) error {
	if admin.ID == uuid.Nil {
		admin.ID = uuid.New()
	}

	query := `
		INSERT INTO admins (id, email, password_hash, name, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`
	_, err := r.db.Exec(ctx, query, admin.ID, admin.Email, admin.PasswordHash, admin.Name, string(admin.Role), admin.CreatedAt)
	if err != nil {
		return classify("create admin", err)
	}
	admin.UpdatedAt = admin.CreatedAt
	return nil
}

func (r *adminRepo) getOne(ctx context.Context, op, where string, arg interface{}) (*models.Admin, error) {
	admin, err := scanAdmin(r.db.QueryRow(ctx, `SELECT `+adminColumns+` FROM admins a WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(op, err)
	}
	return admin, nil
}

func (r *adminRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Admin, error) {
	return r.getOne(ctx, "get admin by id", `a.id = $1`, id)
}

func (r *adminRepo) GetByEmail(ctx context.Context, email string) (*models.Admin, error) {
	return r.getOne(ctx, "get admin by email", `a.email = $1`, email)
}

func (r *adminRepo) ListByRole(ctx context.Context, role models.Role, limit, offset int) ([]*models.Admin, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM admins a WHERE a.role = $1`, string(role)).Scan(&total); err != nil {
		return nil, 0, classify("count admins", err)
	}

	query := `
		SELECT ` + adminColumns + `, (SELECT COUNT(*) FROM activity_logs al WHERE al.admin_id = a.id)
		FROM admins a
		WHERE a.role = $1
		ORDER BY a.created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, string(role), limit, offset)
	if err != nil {
		return nil, 0, classify("list admins", err)
	}
	defer rows.Close()

	admins := []*models.Admin{}
	for rows.Next() {
		var count int
		admin, err := scanAdmin(rows, &count)
		if err != nil {
			return nil, 0, classify("scan admin", err)
		}
		admin.ActivityCount = count
		admins = append(admins, admin)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("list admins", err)
	}
	return admins, total, nil
}
