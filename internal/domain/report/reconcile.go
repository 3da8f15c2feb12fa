package report

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/labreport/labreport/internal/platform/auth"
)

// Plan is the full set of row changes for one compose or reconcile, applied by
// the store in a single batch. Pointers let the store fill in generated ids;
// Results refer to the same SampleIndicator values so the upsert that follows
// sees the final ids.
type Plan struct {
	DeleteSamples     []int64
	UpdateSamples     []Sample
	InsertSamples     []*NewSample
	DeleteIndicators  []int64
	RestoreIndicators []int64
	InsertIndicators  []*SampleIndicator
	Results           []PlannedResult
}

type NewSample struct {
	Sample     Sample
	Indicators []*SampleIndicator
}

type PlannedResult struct {
	Indicator *SampleIndicator
	Values    ResultValues
}

// ResultInputs resolves planned results once the store has assigned ids.
func (p *Plan) ResultInputs() []ResultInput {
	out := make([]ResultInput, 0, len(p.Results))
	for _, r := range p.Results {
		out = append(out, ResultInput{SampleIndicatorID: r.Indicator.ID, ResultValues: r.Values})
	}
	return out
}

// BuildPlan diffs the desired sample list against the stored state of report
// reportID. Existing samples missing from desired are soft-deleted, id-bearing
// samples are updated in place and marked edited_and_pending, id-less ones are
// inserted. Inside each kept sample indicators are matched by indicator id:
// active rows are kept, soft-deleted rows are restored and missing ones are
// inserted. Replaying the same desired list yields the same plan shape and
// touches no new rows.
func BuildPlan(reportID int64, state *State, desired []DesiredSample) (*Plan, error) {
	stored := make(map[int64]Sample, len(state.Samples))
	for _, s := range state.Samples {
		stored[s.ID] = s
	}
	rows := make(map[int64][]SampleIndicator)
	for _, si := range state.Indicators {
		rows[si.SampleID] = append(rows[si.SampleID], si)
	}

	keep := make(map[int64]bool)
	for _, d := range desired {
		if d.ID == 0 {
			continue
		}
		if _, ok := stored[d.ID]; !ok {
			return nil, &OwnershipError{Msg: fmt.Sprintf("sample %d does not belong to report %d", d.ID, reportID)}
		}
		if keep[d.ID] {
			return nil, validationf("sample %d appears more than once", d.ID)
		}
		keep[d.ID] = true
	}

	p := &Plan{}
	for _, s := range sortedSamples(state.Samples) {
		if s.Status != SampleDeleted && !keep[s.ID] {
			p.DeleteSamples = append(p.DeleteSamples, s.ID)
		}
	}

	for _, d := range desired {
		wanted := dedupeIndicators(d.Indicators)
		sample := Sample{
			ID:         d.ID,
			ReportID:   reportID,
			LabTypeID:  d.LabTypeID,
			Name:       d.Name,
			Amount:     d.Amount,
			Location:   d.Location,
			SampleDate: d.SampleDate,
			SampledBy:  d.SampledBy,
		}

		if d.ID == 0 {
			sample.Status = SamplePending
			ns := &NewSample{Sample: sample}
			for _, w := range wanted {
				si := &SampleIndicator{IndicatorID: w.IndicatorID, Status: IndicatorPending}
				ns.Indicators = append(ns.Indicators, si)
				p.addResult(si, w.Result)
			}
			p.InsertSamples = append(p.InsertSamples, ns)
			continue
		}

		sample.Status = SampleEditedAndPending
		p.UpdateSamples = append(p.UpdateSamples, sample)

		existing := make(map[int64]SampleIndicator)
		for _, si := range sortedIndicators(rows[d.ID]) {
			if _, dup := existing[si.IndicatorID]; !dup {
				existing[si.IndicatorID] = si
			}
		}
		want := make(map[int64]bool, len(wanted))
		for _, w := range wanted {
			want[w.IndicatorID] = true
		}
		for _, si := range sortedIndicators(rows[d.ID]) {
			if si.Status != IndicatorDeleted && !want[si.IndicatorID] {
				p.DeleteIndicators = append(p.DeleteIndicators, si.ID)
			}
		}

		for _, w := range wanted {
			row, ok := existing[w.IndicatorID]
			var si *SampleIndicator
			switch {
			case !ok:
				si = &SampleIndicator{SampleID: d.ID, IndicatorID: w.IndicatorID, Status: IndicatorPending}
				p.InsertIndicators = append(p.InsertIndicators, si)
			case row.Status == IndicatorDeleted:
				p.RestoreIndicators = append(p.RestoreIndicators, row.ID)
				row.Status = IndicatorPending
				si = &row
			default:
				si = &row
			}
			p.addResult(si, w.Result)
		}
	}
	return p, nil
}

func (p *Plan) addResult(si *SampleIndicator, v *ResultValues) {
	if v != nil {
		p.Results = append(p.Results, PlannedResult{Indicator: si, Values: *v})
	}
}

// dedupeIndicators keeps the first occurrence of each indicator id.
func dedupeIndicators(in []DesiredIndicator) []DesiredIndicator {
	seen := make(map[int64]bool, len(in))
	out := make([]DesiredIndicator, 0, len(in))
	for _, di := range in {
		if seen[di.IndicatorID] {
			continue
		}
		seen[di.IndicatorID] = true
		out = append(out, di)
	}
	return out
}

func sortedSamples(in []Sample) []Sample {
	out := append([]Sample(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedIndicators(in []SampleIndicator) []SampleIndicator {
	out := append([]SampleIndicator(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Reconcile replaces the report's sample and indicator set with desired.
// Nested results are upserted afterwards, except on a signed report where
// they are refused. A tested report whose new set has gaps falls back to
// incomplete.
func (s *Service) Reconcile(ctx context.Context, caller auth.Identity, reportID int64, desired []DesiredSample) (err error) {
	defer s.track(ctx, "reconcile", reportID, &err)

	if len(desired) == 0 {
		return validationf("at least one sample is required")
	}
	for i := range desired {
		desired[i].Name = strings.TrimSpace(desired[i].Name)
		if err := s.validate.Struct(&desired[i]); err != nil {
			return validationErrorf("samples", i, err)
		}
	}

	return s.repo.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.LockReport(ctx, reportID)
		if err != nil {
			return err
		}
		if !r.Status.Editable() {
			return &PreconditionError{Current: r.Status, Msg: "report can no longer be edited"}
		}
		if r.CreatedBy != caller.UserID && !caller.Role.IsReviewer() {
			return &PermissionError{Msg: "only the creator or an admin can edit this report"}
		}

		state, err := s.repo.LoadState(ctx, reportID)
		if err != nil {
			return err
		}
		plan, err := BuildPlan(reportID, state, desired)
		if err != nil {
			return err
		}
		if r.Status == StatusSigned && len(plan.Results) > 0 {
			return &PreconditionError{Current: r.Status, Msg: "results cannot change while the report is under review"}
		}
		if err := s.repo.ApplyPlan(ctx, plan); err != nil {
			return err
		}
		if items := plan.ResultInputs(); len(items) > 0 {
			if err := s.repo.UpsertResults(ctx, items); err != nil {
				return err
			}
		}

		if r.Status == StatusTested {
			n, err := s.repo.CountIncomplete(ctx, reportID)
			if err != nil {
				return err
			}
			if n > 0 {
				r.Status = StatusIncomplete
			}
		}
		return s.repo.UpdateReport(ctx, r)
	})
}
