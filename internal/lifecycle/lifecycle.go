package lifecycle

import "meritline/internal/authority"

// Track identifies which of a WorkItem's two independent status tracks a
// transition targets.
type Track string

const (
	TrackFirstLine Track = "first-line"
	TrackFinal     Track = "final"
)

// Status values. First-line and final tracks share the string type; the
// table below keeps them disjoint per track.
type Status string

const (
	FirstLineUnset    Status = "unset"
	FirstLineApproved Status = "approved"
	FirstLineRejected Status = "rejected"

	FinalPending    Status = "pending"
	FinalApproved   Status = "approved"
	FinalRejected   Status = "rejected"
	FinalOverridden Status = "overridden"
	FinalFinalized  Status = "finalized"
)

// transitions is the closed-world edge set. A pair absent here is illegal,
// never silently permitted.
var transitions = map[Track]map[Status][]Status{
	TrackFirstLine: {
		FirstLineUnset: {FirstLineApproved, FirstLineRejected},
		// rejected returns to unset only through a revision request
		FirstLineRejected: {FirstLineUnset},
		FirstLineApproved: {},
	},
	TrackFinal: {
		FinalPending:  {FinalApproved, FinalRejected, FinalOverridden},
		FinalApproved: {FinalFinalized, FinalOverridden},
		// rejected is terminal unless overridden
		FinalRejected:   {FinalOverridden},
		FinalOverridden: {},
		FinalFinalized:  {},
	},
}

// permitted maps each reachable target status to the roles allowed to cause
// it. Investor holds no transition authority on either track.
var permitted = map[Track]map[Status][]authority.Role{
	TrackFirstLine: {
		FirstLineApproved: {authority.RoleTeamLead, authority.RoleDomainAdmin, authority.RoleSupreme},
		FirstLineRejected: {authority.RoleTeamLead, authority.RoleDomainAdmin, authority.RoleSupreme},
		FirstLineUnset:    {authority.RoleTeamLead, authority.RoleDomainAdmin, authority.RoleSupreme},
	},
	TrackFinal: {
		FinalApproved:   {authority.RoleDomainAdmin, authority.RoleSupreme},
		FinalRejected:   {authority.RoleDomainAdmin, authority.RoleSupreme},
		FinalFinalized:  {authority.RoleDomainAdmin, authority.RoleSupreme},
		FinalOverridden: {authority.RoleDomainAdmin, authority.RoleSupreme},
	},
}

// AllowedTransitions returns the legal next statuses for a track and current
// status. Unknown current statuses have no outgoing edges.
func AllowedTransitions(track Track, current Status) []Status {
	next, ok := transitions[track][current]
	if !ok {
		return nil
	}
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// TransitionLegal reports whether current -> target exists in the table.
func TransitionLegal(track Track, current, target Status) bool {
	for _, s := range transitions[track][current] {
		if s == target {
			return true
		}
	}
	return false
}

// TransitionAllowedFor reports whether a role may cause the target status on
// the given track.
func TransitionAllowedFor(track Track, target Status, role authority.Role) bool {
	for _, r := range permitted[track][target] {
		if r == role {
			return true
		}
	}
	return false
}

// Terminal reports whether a final-track status admits no further
// transitions.
func Terminal(status Status) bool {
	return len(transitions[TrackFinal][status]) == 0
}
