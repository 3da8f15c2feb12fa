package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labreport/labreport/internal/platform/db"
)

type directoryPG struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) Directory {
	return &directoryPG{pool: pool}
}

func (d *directoryPG) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := db.Conn(ctx, d.pool).QueryRow(ctx, `
		SELECT id, email, full_name, role, is_active FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (d *directoryPG) LabTypesForUser(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := db.Conn(ctx, d.pool).Query(ctx,
		`SELECT lab_type_id FROM user_lab_types WHERE user_id = $1 ORDER BY lab_type_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user lab types: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
