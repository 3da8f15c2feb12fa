package report

import (
	"context"

	"github.com/labreport/labreport/internal/platform/auth"
)

// List returns the caller's active reports, newest first. Approved and
// deleted reports live in the archive.
func (s *Service) List(ctx context.Context, caller auth.Identity, f ListFilter) (out []Summary, err error) {
	defer s.track(ctx, "list", 0, &err)

	if f.Status != nil && !f.Status.Valid() {
		return nil, validationf("unknown status %q", *f.Status)
	}
	scope, err := s.scope(ctx, caller)
	if err != nil {
		return nil, err
	}
	return s.repo.ListReports(ctx, scope, f)
}

// Archive lists reports in a closed or review state. Mode defaults to approved.
func (s *Service) Archive(ctx context.Context, caller auth.Identity, mode Status) (out []Summary, err error) {
	defer s.track(ctx, "archive", 0, &err)

	if mode == "" {
		mode = StatusApproved
	}
	if !mode.Valid() {
		return nil, validationf("unknown archive mode %q", mode)
	}
	return s.repo.ListArchive(ctx, archiveQuery(caller, mode))
}

// GetDetail returns a report with its active samples, assignments, results
// and comments.
func (s *Service) GetDetail(ctx context.Context, caller auth.Identity, reportID int64) (d *Detail, err error) {
	defer s.track(ctx, "get_detail", reportID, &err)

	d, err = s.repo.GetDetail(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if publicStatus(d.Report.Status) {
		return d, nil
	}
	scope, err := s.scope(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !scope.Allows(d.Report.CreatedBy, d.Report.AssignedTo, d.LabTypeIDs) {
		return nil, &PermissionError{Msg: "report is outside your lab types"}
	}
	return d, nil
}

func (s *Service) scope(ctx context.Context, caller auth.Identity) (Scope, error) {
	if caller.IsSuperadmin() {
		return ScopeFor(caller, nil), nil
	}
	labTypes, err := s.dir.LabTypesForUser(ctx, caller.UserID)
	if err != nil {
		return Scope{}, err
	}
	return ScopeFor(caller, labTypes), nil
}
