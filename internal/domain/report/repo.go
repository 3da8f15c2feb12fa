package report

import (
	"context"

	"github.com/labreport/labreport/internal/platform/notification"
)

// Repository is the report store. Every write method must be called inside
// WithTx; LockReport takes the row lock that serialises writers.
type Repository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	LockReport(ctx context.Context, id int64) (*Report, error)
	InsertReport(ctx context.Context, r *Report) error
	UpdateReport(ctx context.Context, r *Report) error
	InsertComment(ctx context.Context, c *Comment) error

	LoadState(ctx context.Context, reportID int64) (*State, error)
	ApplyPlan(ctx context.Context, p *Plan) error
	IndicatorRefs(ctx context.Context, ids []int64) (map[int64]IndicatorRef, error)
	UpsertResults(ctx context.Context, items []ResultInput) error
	CountIncomplete(ctx context.Context, reportID int64) (int, error)

	ListReports(ctx context.Context, scope Scope, f ListFilter) ([]Summary, error)
	ListArchive(ctx context.Context, q ArchiveQuery) ([]Summary, error)
	GetDetail(ctx context.Context, id int64) (*Detail, error)
}

// Directory answers questions about users. GetUser returns nil, nil for an
// unknown id.
type Directory interface {
	GetUser(ctx context.Context, id int64) (*User, error)
	LabTypesForUser(ctx context.Context, userID int64) ([]int64, error)
}

// CredentialVerifier re-checks a user's password before a signature.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, userID int64, credential string) error
}

// Notifier must not block and has no failure mode visible to the caller.
type Notifier interface {
	Notify(ctx context.Context, n notification.Notification)
}

type Observer interface {
	ObserveOperation(op, outcome string)
}
