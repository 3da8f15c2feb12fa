package report

import (
	"context"
	"strings"

	"github.com/labreport/labreport/internal/platform/auth"
)

// Create inserts a report with its samples and indicator assignments. The
// report is born in draft and leaves the transaction as pending_samples.
func (s *Service) Create(ctx context.Context, caller auth.Identity, d Draft) (out *Created, err error) {
	defer s.track(ctx, "create", 0, &err)

	for i := range d.Samples {
		d.Samples[i].Name = strings.TrimSpace(d.Samples[i].Name)
	}
	if err := s.validate.Struct(&d); err != nil {
		return nil, &ValidationError{Msg: describe(err)}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		r := &Report{
			TestStartDate: d.TestStartDate,
			Status:        StatusDraft,
			CreatedBy:     caller.UserID,
			AssignedTo:    d.AssignedTo,
		}
		if err := s.repo.InsertReport(ctx, r); err != nil {
			return err
		}

		plan := composePlan(r.ID, d.Samples)
		if err := s.repo.ApplyPlan(ctx, plan); err != nil {
			return err
		}

		r.Status = StatusPendingSamples
		if err := s.repo.UpdateReport(ctx, r); err != nil {
			return err
		}

		out = &Created{ReportID: r.ID, SampleIDs: make([]int64, 0, len(plan.InsertSamples))}
		for _, ns := range plan.InsertSamples {
			out.SampleIDs = append(out.SampleIDs, ns.Sample.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// composePlan is an insert-only plan. Repeated indicator ids within a sample
// collapse to one assignment.
func composePlan(reportID int64, samples []DraftSample) *Plan {
	p := &Plan{}
	for _, ds := range samples {
		ns := &NewSample{Sample: Sample{
			ReportID:   reportID,
			LabTypeID:  ds.LabTypeID,
			Name:       ds.Name,
			Amount:     ds.Amount,
			Location:   ds.Location,
			SampleDate: ds.SampleDate,
			SampledBy:  ds.SampledBy,
			Status:     SamplePending,
		}}
		seen := make(map[int64]bool, len(ds.IndicatorIDs))
		for _, id := range ds.IndicatorIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			ns.Indicators = append(ns.Indicators, &SampleIndicator{IndicatorID: id, Status: IndicatorPending})
		}
		p.InsertSamples = append(p.InsertSamples, ns)
	}
	return p
}
