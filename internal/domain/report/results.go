package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/labreport/labreport/internal/platform/auth"
)

// SaveResults upserts a batch of measurements and derives the new status.
// With complete set, the caller decides between tested and incomplete;
// otherwise the report is tested only when every active assignment has a
// complete result. Every item must belong to reportID or nothing is written.
func (s *Service) SaveResults(ctx context.Context, caller auth.Identity, reportID int64, items []ResultInput, complete *bool) (status Status, err error) {
	defer s.track(ctx, "save_results", reportID, &err)

	if len(items) == 0 {
		return "", validationf("at least one result is required")
	}
	ids := make([]int64, 0, len(items))
	for i := range items {
		if err := s.validate.Struct(&items[i]); err != nil {
			return "", validationErrorf("results", i, err)
		}
		ids = append(ids, items[i].SampleIndicatorID)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.LockReport(ctx, reportID)
		if err != nil {
			return err
		}
		if !r.Status.AcceptsResults() {
			return &PreconditionError{Current: r.Status, Msg: "results cannot change in this state"}
		}

		refs, err := s.repo.IndicatorRefs(ctx, ids)
		if err != nil {
			return err
		}
		if err := checkOwnership(reportID, ids, refs); err != nil {
			return err
		}

		if err := s.repo.UpsertResults(ctx, items); err != nil {
			return err
		}

		var next Status
		if complete != nil {
			next = StatusIncomplete
			if *complete {
				next = StatusTested
			}
		} else {
			n, err := s.repo.CountIncomplete(ctx, reportID)
			if err != nil {
				return err
			}
			next = StatusTested
			if n > 0 {
				next = StatusPendingSamples
			}
		}
		if !r.Status.CanTransition(next) {
			return &PreconditionError{Current: r.Status, Msg: fmt.Sprintf("cannot move to %s", next)}
		}

		r.Status = next
		if next == StatusTested {
			end := truncateDay(s.clock())
			r.TestEndDate = &end
		}
		if err := s.repo.UpdateReport(ctx, r); err != nil {
			return err
		}
		status = r.Status
		return nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// checkOwnership rejects the batch when any id is unknown, owned by another
// report, or hangs off a deleted sample or assignment.
func checkOwnership(reportID int64, ids []int64, refs map[int64]IndicatorRef) error {
	var foreign, removed []int64
	for _, id := range ids {
		ref, ok := refs[id]
		switch {
		case !ok || ref.ReportID != reportID:
			foreign = append(foreign, id)
		case !ref.Active:
			removed = append(removed, id)
		}
	}
	if len(foreign) > 0 {
		sort.Slice(foreign, func(i, j int) bool { return foreign[i] < foreign[j] })
		return &OwnershipError{Msg: fmt.Sprintf("sample indicators %v do not belong to report %d", foreign, reportID)}
	}
	if len(removed) > 0 {
		return validationf("sample indicators %v have been removed from the report", removed)
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
