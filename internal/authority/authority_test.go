package authority

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOfKnownRoles(t *testing.T) {
	for _, role := range Roles() {
		a, err := Of(role)
		require.NoError(t, err, "role %s", role)
		assert.GreaterOrEqual(t, a.Tier, TierSupreme)
	}
}

func TestOfUnknownRole(t *testing.T) {
	_, err := Of("intern")
	var ure UnknownRoleError
	require.True(t, errors.As(err, &ure))
	assert.Equal(t, Role("intern"), ure.Role)
}

func TestCapabilityAssignments(t *testing.T) {
	cases := []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RoleWorker, CapSubmit, true},
		{RoleWorker, CapFirstReview, false},
		{RoleWorker, CapOverride, false},
		{RoleTeamLead, CapFirstReview, true},
		{RoleTeamLead, CapFinalize, false},
		{RoleDomainAdmin, CapOverride, true},
		{RoleDomainAdmin, CapManageDomain, true},
		{RoleSupreme, CapOverride, true},
		{RoleSupreme, CapFinalize, true},
		{RoleInvestor, CapInvest, true},
		{RoleInvestor, CapSubmit, false},
	}
	for _, tc := range cases {
		a, err := Of(tc.role)
		require.NoError(t, err)
		assert.Equal(t, tc.want, a.Has(tc.cap), "%s has %s", tc.role, tc.cap)
	}
}

func TestTiers(t *testing.T) {
	supreme, _ := Of(RoleSupreme)
	admin, _ := Of(RoleDomainAdmin)
	lead, _ := Of(RoleTeamLead)
	worker, _ := Of(RoleWorker)
	assert.Equal(t, TierSupreme, supreme.Tier)
	assert.Less(t, admin.Tier, lead.Tier)
	assert.Less(t, lead.Tier, worker.Tier)
}

func TestTierAllows(t *testing.T) {
	// supreme satisfies anything
	assert.True(t, TierAllows(TierSupreme, TierSupreme, false))
	assert.True(t, TierAllows(TierSupreme, TierWorker, false))
	// strictly-senior rule
	assert.True(t, TierAllows(TierDomainAdmin, TierTeamLead, false))
	assert.False(t, TierAllows(TierTeamLead, TierTeamLead, false))
	assert.False(t, TierAllows(TierWorker, TierTeamLead, false))
	// same-tier escape hatch
	assert.True(t, TierAllows(TierDomainAdmin, TierDomainAdmin, true))
	assert.False(t, TierAllows(TierWorker, TierDomainAdmin, true))
}

func TestJustificationRequiredOnlyForSupremeTier(t *testing.T) {
	assert.True(t, JustificationRequired(RoleSupreme))
	assert.False(t, JustificationRequired(RoleDomainAdmin))
	assert.False(t, JustificationRequired(RoleTeamLead))
	assert.False(t, JustificationRequired(RoleWorker))
	assert.False(t, JustificationRequired(RoleInvestor))
	assert.False(t, JustificationRequired("intern"))
}
