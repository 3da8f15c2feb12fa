package middleware

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGAuditRecorder writes audit entries to the activity_logs table.
type PGAuditRecorder struct {
	pool *pgxpool.Pool
}

func NewPGAuditRecorder(pool *pgxpool.Pool) *PGAuditRecorder {
	return &PGAuditRecorder{pool: pool}
}

func (r *PGAuditRecorder) RecordActivity(ctx context.Context, e AuditEntry) error {
	var userID *int64
	if e.UserID != 0 {
		userID = &e.UserID
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO activity_logs
			(user_id, action, target_type, target_id, method, path, status_code, request_id, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		userID, e.Action, e.TargetType, e.TargetID, e.Method, e.Path,
		e.StatusCode, e.RequestID, e.IPAddress, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert activity log: %w", err)
	}
	return nil
}
