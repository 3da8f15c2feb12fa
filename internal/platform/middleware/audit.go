package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/labreport/labreport/internal/platform/auth"
)

// AuditEntry is one row of the activity log: who changed which report, how,
// and with what outcome.
type AuditEntry struct {
	UserID     int64
	Role       auth.Role
	Action     string // create, update, results, sign, approve, reject, delete
	TargetType string
	TargetID   *int64
	Method     string
	Path       string
	StatusCode int
	RequestID  string
	IPAddress  string
	Timestamp  time.Time
}

// AuditRecorder persists audit entries. Tests provide their own.
type AuditRecorder interface {
	RecordActivity(ctx context.Context, entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(ctx context.Context, entry AuditEntry) error

func (f AuditRecorderFunc) RecordActivity(ctx context.Context, entry AuditEntry) error {
	return f(ctx, entry)
}

const auditRecordTimeout = 2 * time.Second

type auditRoute struct {
	method string
	path   string
	action string
}

// auditRoutes maps matched route templates to activity actions. Reads are
// not logged.
var auditRoutes = []auditRoute{
	{http.MethodPost, "/api/v1/reports", "create"},
	{http.MethodPut, "/api/v1/reports/:id", "update"},
	{http.MethodPut, "/api/v1/reports/:id/results", "results"},
	{http.MethodPut, "/api/v1/reports/:id/sign", "sign"},
	{http.MethodPut, "/api/v1/reports/:id/approve", "approve"},
	{http.MethodPut, "/api/v1/reports/:id/reject", "reject"},
	{http.MethodDelete, "/api/v1/reports/:id", "delete"},
}

func matchAuditRoute(method, path string) (string, bool) {
	for _, r := range auditRoutes {
		if r.method == method && r.path == path {
			return r.action, true
		}
	}
	return "", false
}

// Audit returns Echo middleware that records successful report writes to the
// activity log. It must run after the auth middleware so the caller identity
// is available. Failed requests and reads pass through unrecorded.
//
// Recording errors are logged and never change the response.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			action, ok := matchAuditRoute(req.Method, c.Path())
			if !ok {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			if status >= http.StatusBadRequest {
				return err
			}

			entry := AuditEntry{
				Action:     action,
				TargetType: "report",
				Method:     req.Method,
				Path:       req.URL.Path,
				StatusCode: status,
				IPAddress:  c.RealIP(),
				Timestamp:  time.Now().UTC(),
			}
			if id, ok := auth.IdentityFromContext(req.Context()); ok {
				entry.UserID = id.UserID
				entry.Role = id.Role
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}
			if raw := c.Param("id"); raw != "" {
				if id, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
					entry.TargetID = &id
				}
			}

			if len(recorders) > 0 && recorders[0] != nil {
				ctx, cancel := context.WithTimeout(context.WithoutCancel(req.Context()), auditRecordTimeout)
				if recErr := recorders[0].RecordActivity(ctx, entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record activity")
				}
				cancel()
			}

			evt := logger.Info().
				Str("type", "activity").
				Str("request_id", entry.RequestID).
				Int64("user_id", entry.UserID).
				Str("role", string(entry.Role)).
				Str("action", entry.Action).
				Str("target_type", entry.TargetType)
			if entry.TargetID != nil {
				evt = evt.Int64("target_id", *entry.TargetID)
			}
			evt.Str("method", entry.Method).
				Str("path", entry.Path).
				Int("status", entry.StatusCode).
				Msg("report_activity")

			return err
		}
	}
}
