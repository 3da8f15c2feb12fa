package report

import (
	"github.com/labreport/labreport/internal/platform/auth"
)

// Scope describes the reports a caller may see in the active list.
//
//	superadmin: everything
//	admin:      reports on its lab types, reports assigned to it, its own
//	engineer:   reports on its lab types, its own
type Scope struct {
	All             bool
	UserID          int64
	LabTypeIDs      []int64
	IncludeAssigned bool
}

func ScopeFor(caller auth.Identity, labTypeIDs []int64) Scope {
	if caller.IsSuperadmin() {
		return Scope{All: true, UserID: caller.UserID}
	}
	return Scope{
		UserID:          caller.UserID,
		LabTypeIDs:      labTypeIDs,
		IncludeAssigned: caller.Role == auth.RoleAdmin,
	}
}

// Allows reports whether a report with the given creator, assignee and active
// sample lab types falls inside the scope.
func (s Scope) Allows(createdBy int64, assignedTo *int64, labTypeIDs []int64) bool {
	if s.All || createdBy == s.UserID {
		return true
	}
	if s.IncludeAssigned && assignedTo != nil && *assignedTo == s.UserID {
		return true
	}
	for _, lt := range labTypeIDs {
		for _, mine := range s.LabTypeIDs {
			if lt == mine {
				return true
			}
		}
	}
	return false
}

// archiveQuery builds the archive filter for mode. Approved and deleted
// reports are public; any other mode is limited to the caller's assignments.
func archiveQuery(caller auth.Identity, mode Status) ArchiveQuery {
	q := ArchiveQuery{Status: mode}
	if mode == StatusApproved || mode == StatusDeleted || caller.IsSuperadmin() {
		return q
	}
	id := caller.UserID
	q.AssignedTo = &id
	return q
}

// publicStatus reports whether any authenticated caller may read a report's detail.
func publicStatus(s Status) bool {
	return s == StatusApproved || s == StatusDeleted
}
