package repositories

import (
	"context"
	"fmt"

	"licensehub/internal/models"

	"github.com/google/uuid"
)

// ActivityLogRepository is the append-only activity sink plus its read side
type ActivityLogRepository interface {
	Create(ctx context.Context, activity *models.ActivityLog) error

	// List returns the newest entries first together with the total match count
	List(ctx context.Context, filters models.ActivityLogFilters) ([]*models.ActivityLog, int, error)
}

type activityLogRepo struct {
	db Database
}

func NewActivityLogRepo(db Database) ActivityLogRepository {
	return &activityLogRepo{db: db}
}

func (r *activityLogRepo) Create(ctx context.Context, activity *models.ActivityLog) error {
	if activity.ID == uuid.Nil {
		activity.ID = uuid.New()
	}

	details, err := activity.Details.Bytes()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO activity_logs (id, admin_id, action, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.db.Exec(ctx, query,
		activity.ID,
		activity.AdminID,
		activity.Action,
		details,
		activity.IPAddress,
		activity.UserAgent,
		activity.CreatedAt,
	)
	return classify("create activity", err)
}

func (r *activityLogRepo) List(ctx context.Context, filters models.ActivityLogFilters) ([]*models.ActivityLog, int, error) {
	where := " WHERE TRUE"
	var args []interface{}

	if filters.AdminID != nil {
		args = append(args, *filters.AdminID)
		where += fmt.Sprintf(" AND al.admin_id = $%d", len(args))
	}
	if filters.Action != nil {
		args = append(args, *filters.Action)
		where += fmt.Sprintf(" AND al.action = $%d", len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM activity_logs al`+where, args...).Scan(&total); err != nil {
		return nil, 0, classify("count activities", err)
	}

	query := `
		SELECT al.id, al.admin_id, al.action, al.details, al.ip_address, al.user_agent, al.created_at, a.email, a.name
		FROM activity_logs al
		LEFT JOIN admins a ON a.id = al.admin_id` + where + `
		ORDER BY al.created_at DESC`
	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, filters.Limit, filters.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, classify("list activities", err)
	}
	defer rows.Close()

	activities := []*models.ActivityLog{}
	for rows.Next() {
		activity := &models.ActivityLog{}
		var details []byte
		err := rows.Scan(
			&activity.ID,
			&activity.AdminID,
			&activity.Action,
			&details,
			&activity.IPAddress,
			&activity.UserAgent,
			&activity.CreatedAt,
			&activity.AdminEmail,
			&activity.AdminName,
		)
		if err != nil {
			return nil, 0, classify("scan activity", err)
		}
		if activity.Details, err = models.ParseJSONB(details); err != nil {
			return nil, 0, err
		}
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify("list activities", err)
	}
	return activities, total, nil
}
