package report

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/labreport/labreport/internal/platform/notification"
)

// Service owns the report lifecycle. Each write operation runs as one
// transaction that starts by locking the report row.
type Service struct {
	repo     Repository
	dir      Directory
	creds    CredentialVerifier
	notifier Notifier
	observer Observer
	validate *validator.Validate
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, dir Directory, creds CredentialVerifier, notifier Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		dir:      dir,
		creds:    creds,
		notifier: notifier,
		validate: newValidator(),
		logger:   logger.With().Str("component", "report").Logger(),
		now:      time.Now,
	}
}

// SetObserver attaches an optional metrics sink.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// SetClock replaces the time source used for signed, approved and end dates.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// track normalises the returned error and records the outcome.
func (s *Service) track(ctx context.Context, op string, reportID int64, errp *error) {
	*errp = classify(op, *errp)
	res := outcome(*errp)
	if s.observer != nil {
		s.observer.ObserveOperation(op, res)
	}

	switch res {
	case "ok":
		s.logger.Debug().Str("op", op).Int64("report_id", reportID).Msg("report operation")
	case "storage":
		s.logger.Error().Err(*errp).Str("op", op).Int64("report_id", reportID).Msg("report operation failed")
	default:
		s.logger.Info().Err(*errp).Str("op", op).Int64("report_id", reportID).Str("outcome", res).Msg("report operation refused")
	}
}

// notify hands notifications to the dispatcher. Only called after commit.
func (s *Service) notify(ctx context.Context, ns ...notification.Notification) {
	if s.notifier == nil {
		return
	}
	for _, n := range ns {
		s.notifier.Notify(ctx, n)
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationErrorf turns a validator failure on element idx of list into a
// ValidationError naming the offending field.
func validationErrorf(list string, idx int, err error) error {
	return &ValidationError{Msg: fmt.Sprintf("%s[%d].%s", list, idx, describe(err))}
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " must contain at least " + fe.Param() + " item(s)"
	case "gt", "gte":
		return field + " must be a positive id"
	default:
		return field + " is invalid"
	}
}
