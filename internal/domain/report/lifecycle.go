package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/labreport/labreport/internal/platform/auth"
	"github.com/labreport/labreport/internal/platform/notification"
)

// Sign hands a tested (or previously rejected) report to a reviewer. Only the
// creator may sign, and only once every active assignment has a result.
func (s *Service) Sign(ctx context.Context, caller auth.Identity, reportID int64, in SignInput) (err error) {
	defer s.track(ctx, "sign", reportID, &err)

	var pending []notification.Notification
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.LockReport(ctx, reportID)
		if err != nil {
			return err
		}
		// Ownership is settled before the credential or assignee are looked at.
		if r.CreatedBy != caller.UserID {
			return &PermissionError{Msg: "only the creator can sign this report"}
		}
		if r.Status != StatusTested && r.Status != StatusRejected {
			return &PreconditionError{Current: r.Status, Msg: "only tested or rejected reports can be signed"}
		}
		if in.AssigneeID <= 0 {
			return validationf("assignee is required")
		}
		if err := s.verify(ctx, caller, in.Credential); err != nil {
			return err
		}
		assignee, err := s.dir.GetUser(ctx, in.AssigneeID)
		if err != nil {
			return err
		}
		if assignee == nil || !assignee.Active || !assignee.Role.IsReviewer() {
			return validationf("user %d cannot review reports", in.AssigneeID)
		}

		n, err := s.repo.CountIncomplete(ctx, reportID)
		if err != nil {
			return err
		}
		if n > 0 {
			return &PreconditionError{Current: r.Status, Msg: fmt.Sprintf("%d result(s) still missing", n)}
		}

		resubmit := r.Status == StatusRejected
		now := s.clock()
		signer, reviewer := caller.UserID, assignee.ID
		r.Status = StatusSigned
		r.SignedBy = &signer
		r.SignedAt = &now
		r.AssignedTo = &reviewer
		if err := s.repo.UpdateReport(ctx, r); err != nil {
			return err
		}

		if note := strings.TrimSpace(in.Note); resubmit && note != "" {
			c := &Comment{ReportID: reportID, UserID: caller.UserID, Text: note, Action: ActionResubmitted}
			if err := s.repo.InsertComment(ctx, c); err != nil {
				return err
			}
		}

		pending = append(pending, newNotification(reviewer, notification.TypeReportSigned, reportID,
			fmt.Sprintf("Report #%d has been signed and is waiting for your approval", reportID)))
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, pending...)
	return nil
}

// Approve finalises a signed report. Approved is terminal.
func (s *Service) Approve(ctx context.Context, caller auth.Identity, reportID int64, credential string) (err error) {
	defer s.track(ctx, "approve", reportID, &err)

	if err := s.verify(ctx, caller, credential); err != nil {
		return err
	}

	var pending []notification.Notification
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.reviewable(ctx, caller, reportID)
		if err != nil {
			return err
		}
		now := s.clock()
		approver := caller.UserID
		r.Status = StatusApproved
		r.ApprovedBy = &approver
		r.ApprovedAt = &now
		if err := s.repo.UpdateReport(ctx, r); err != nil {
			return err
		}
		pending = append(pending, newNotification(r.CreatedBy, notification.TypeReportApproved, reportID,
			fmt.Sprintf("Report #%d has been approved", reportID)))
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, pending...)
	return nil
}

// Reject sends a signed report back to its creator with a mandatory comment.
func (s *Service) Reject(ctx context.Context, caller auth.Identity, reportID int64, credential, comment string) (err error) {
	defer s.track(ctx, "reject", reportID, &err)

	comment = strings.TrimSpace(comment)
	if comment == "" {
		return validationf("a rejection comment is required")
	}
	if err := s.verify(ctx, caller, credential); err != nil {
		return err
	}

	var pending []notification.Notification
	err = s.repo.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.reviewable(ctx, caller, reportID)
		if err != nil {
			return err
		}
		r.Status = StatusRejected
		if err := s.repo.UpdateReport(ctx, r); err != nil {
			return err
		}
		c := &Comment{ReportID: reportID, UserID: caller.UserID, Text: comment, Action: ActionRejected}
		if err := s.repo.InsertComment(ctx, c); err != nil {
			return err
		}
		pending = append(pending, newNotification(r.CreatedBy, notification.TypeReportRejected, reportID,
			fmt.Sprintf("Report #%d has been rejected: %s", reportID, comment)))
		return nil
	})
	if err != nil {
		return err
	}
	s.notify(ctx, pending...)
	return nil
}

// Delete soft-deletes a report. Samples, assignments and results stay.
func (s *Service) Delete(ctx context.Context, caller auth.Identity, reportID int64) (err error) {
	defer s.track(ctx, "delete", reportID, &err)

	return s.repo.WithTx(ctx, func(ctx context.Context) error {
		r, err := s.repo.LockReport(ctx, reportID)
		if err != nil {
			return err
		}
		if !r.Status.CanTransition(StatusDeleted) {
			return &PreconditionError{Current: r.Status, Msg: "report cannot be deleted"}
		}
		if r.CreatedBy != caller.UserID && !caller.Role.IsReviewer() {
			return &PermissionError{Msg: "only the creator or an admin can delete this report"}
		}
		r.Status = StatusDeleted
		return s.repo.UpdateReport(ctx, r)
	})
}

// reviewable locks a signed report and checks the caller may review it.
func (s *Service) reviewable(ctx context.Context, caller auth.Identity, reportID int64) (*Report, error) {
	r, err := s.repo.LockReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	if r.Status != StatusSigned {
		return nil, &PreconditionError{Current: r.Status, Msg: "only signed reports can be reviewed"}
	}
	if !caller.IsSuperadmin() && (r.AssignedTo == nil || *r.AssignedTo != caller.UserID) {
		return nil, &PermissionError{Msg: "report is assigned to another reviewer"}
	}
	return r, nil
}

func (s *Service) verify(ctx context.Context, caller auth.Identity, credential string) error {
	if credential == "" {
		return &AuthenticationError{}
	}
	if err := s.creds.VerifyCredential(ctx, caller.UserID, credential); err != nil {
		if errors.Is(err, auth.ErrInvalidCredential) {
			return &AuthenticationError{}
		}
		return fmt.Errorf("verify credential: %w", err)
	}
	return nil
}

func newNotification(recipient int64, typ notification.Type, reportID int64, msg string) notification.Notification {
	id := reportID
	return notification.Notification{RecipientID: recipient, Type: typ, Message: msg, ReportID: &id}
}
