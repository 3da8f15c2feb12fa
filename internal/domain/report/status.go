package report

import "fmt"

// Status is the persisted report lifecycle state.
type Status string

const (
	StatusDraft          Status = "draft"
	StatusPendingSamples Status = "pending_samples"
	StatusIncomplete     Status = "incomplete"
	StatusTested         Status = "tested"
	StatusSigned         Status = "signed"
	StatusApproved       Status = "approved"
	StatusRejected       Status = "rejected"
	StatusDeleted        Status = "deleted"
)

var allStatuses = []Status{
	StatusDraft, StatusPendingSamples, StatusIncomplete, StatusTested,
	StatusSigned, StatusApproved, StatusRejected, StatusDeleted,
}

// transitions lists the states reachable from each state. Result entry moves
// between pending_samples, incomplete and tested; rejected loops back into
// that cycle or straight to signed after a reconcile.
var transitions = map[Status][]Status{
	StatusDraft:          {StatusPendingSamples, StatusDeleted},
	StatusPendingSamples: {StatusPendingSamples, StatusIncomplete, StatusTested, StatusDeleted},
	StatusIncomplete:     {StatusPendingSamples, StatusIncomplete, StatusTested, StatusDeleted},
	StatusTested:         {StatusPendingSamples, StatusIncomplete, StatusTested, StatusSigned, StatusDeleted},
	StatusSigned:         {StatusApproved, StatusRejected, StatusDeleted},
	StatusRejected:       {StatusPendingSamples, StatusIncomplete, StatusTested, StatusSigned, StatusDeleted},
	StatusApproved:       {},
	StatusDeleted:        {StatusDeleted},
}

func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown report status %q", s)
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Editable reports whether samples and indicators may still be reconciled.
func (s Status) Editable() bool {
	return s != StatusApproved && s != StatusDeleted
}

// AcceptsResults reports whether measurements may be saved in this state.
func (s Status) AcceptsResults() bool {
	return s.CanTransition(StatusTested)
}

type SampleStatus string

const (
	SamplePending          SampleStatus = "pending"
	SampleEditedAndPending SampleStatus = "edited_and_pending"
	SampleDeleted          SampleStatus = "deleted"
)

type IndicatorStatus string

const (
	IndicatorPending IndicatorStatus = "pending"
	IndicatorDeleted IndicatorStatus = "deleted"
)

type CommentAction string

const (
	ActionRejected    CommentAction = "rejected"
	ActionResubmitted CommentAction = "resubmitted"
)
