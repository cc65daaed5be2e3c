package authority

import "fmt"

// Role is an externally assigned identity attribute. The mapping from role to
// tier and capabilities is static data; changing it means redeploying.
type Role string

const (
	RoleWorker      Role = "worker"
	RoleTeamLead    Role = "team-lead"
	RoleDomainAdmin Role = "domain-admin"
	RoleSupreme     Role = "supreme-authority"
	// RoleInvestor sits outside the approval hierarchy; it carries the
	// invest capability and nothing else.
	RoleInvestor Role = "investor"
)

type Capability string

const (
	CapSubmit       Capability = "submit"
	CapFirstReview  Capability = "first-review"
	CapFinalize     Capability = "approve-work"
	CapOverride     Capability = "override"
	CapManageDomain Capability = "manage-domain"
	CapInvest       Capability = "invest"
)

// Tier ranks. 0 is supreme; larger numbers are subordinate.
const (
	TierSupreme     = 0
	TierDomainAdmin = 1
	TierTeamLead    = 2
	TierWorker      = 3
)

// UnknownRoleError indicates a role outside the static table.
type UnknownRoleError struct {
	Role Role
}

func (e UnknownRoleError) Error() string {
	return fmt.Sprintf("unknown role %s", e.Role)
}

// Authority is a role's tier and capability set.
type Authority struct {
	Tier         int
	capabilities map[Capability]bool
}

func (a Authority) Has(c Capability) bool {
	return a.capabilities[c]
}

func (a Authority) Capabilities() []Capability {
	out := make([]Capability, 0, len(a.capabilities))
	for _, c := range []Capability{CapSubmit, CapFirstReview, CapFinalize, CapOverride, CapManageDomain, CapInvest} {
		if a.capabilities[c] {
			out = append(out, c)
		}
	}
	return out
}

func caps(list ...Capability) map[Capability]bool {
	m := make(map[Capability]bool, len(list))
	for _, c := range list {
		m[c] = true
	}
	return m
}

// The single role table. Every call site consults this map; capabilities
// cannot drift between screens or handlers.
var table = map[Role]Authority{
	RoleWorker: {
		Tier:         TierWorker,
		capabilities: caps(CapSubmit),
	},
	RoleTeamLead: {
		Tier:         TierTeamLead,
		capabilities: caps(CapSubmit, CapFirstReview),
	},
	RoleDomainAdmin: {
		Tier:         TierDomainAdmin,
		capabilities: caps(CapSubmit, CapFirstReview, CapFinalize, CapOverride, CapManageDomain),
	},
	RoleSupreme: {
		Tier:         TierSupreme,
		capabilities: caps(CapSubmit, CapFirstReview, CapFinalize, CapOverride),
	},
	RoleInvestor: {
		Tier:         TierWorker,
		capabilities: caps(CapInvest),
	},
}

// Of returns the static authority for a role.
func Of(role Role) (Authority, error) {
	a, ok := table[role]
	if !ok {
		return Authority{}, UnknownRoleError{Role: role}
	}
	return a, nil
}

// Known reports whether the role exists in the table.
func Known(role Role) bool {
	_, ok := table[role]
	return ok
}

// Roles lists all roles in the table, supreme first.
func Roles() []Role {
	return []Role{RoleSupreme, RoleDomainAdmin, RoleTeamLead, RoleWorker, RoleInvestor}
}

// TierAllows reports whether an actor tier may act on a transition owned by
// requiredTier. Tier 0 satisfies any requirement; otherwise the actor must be
// strictly senior, unless the transition is explicitly same-tier-allowed
// (a domain-admin approving within their own domain).
func TierAllows(actorTier, requiredTier int, sameTierOK bool) bool {
	if actorTier == TierSupreme {
		return true
	}
	if sameTierOK && actorTier == requiredTier {
		return true
	}
	return actorTier < requiredTier
}

// JustificationRequired is the one mandatory-reason predicate. The supreme
// tier never acts without recorded reasoning; everyone else may omit it.
func JustificationRequired(role Role) bool {
	a, ok := table[role]
	return ok && a.Tier == TierSupreme
}
