package notification

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

const cleanupJobName = "notification-cleanup"

// Pruner deletes notifications older than a cutoff.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ScheduleCleanup registers a daily 03:00 job removing notifications older
// than retention.
func ScheduleCleanup(ctx context.Context, s gocron.Scheduler, p Pruner, retention time.Duration, logger zerolog.Logger) (gocron.Job, error) {
	return s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(3, 0, 0))),
		gocron.NewTask(func() {
			runCleanup(ctx, p, retention, time.Now(), logger)
		}),
		gocron.WithName(cleanupJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
}

func runCleanup(ctx context.Context, p Pruner, retention time.Duration, now time.Time, logger zerolog.Logger) (int64, error) {
	cutoff := now.Add(-retention)
	n, err := p.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		logger.Error().Err(err).Time("cutoff", cutoff).Msg("notification cleanup failed")
		return 0, err
	}
	logger.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("notification cleanup finished")
	return n, nil
}
