package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"meritline/internal/authority"
)

func TestFirstLineEdges(t *testing.T) {
	assert.ElementsMatch(t, []Status{FirstLineApproved, FirstLineRejected}, AllowedTransitions(TrackFirstLine, FirstLineUnset))
	assert.ElementsMatch(t, []Status{FirstLineUnset}, AllowedTransitions(TrackFirstLine, FirstLineRejected))
	assert.Empty(t, AllowedTransitions(TrackFirstLine, FirstLineApproved))
}

func TestFinalEdges(t *testing.T) {
	assert.ElementsMatch(t, []Status{FinalApproved, FinalRejected, FinalOverridden}, AllowedTransitions(TrackFinal, FinalPending))
	assert.ElementsMatch(t, []Status{FinalFinalized, FinalOverridden}, AllowedTransitions(TrackFinal, FinalApproved))
	assert.ElementsMatch(t, []Status{FinalOverridden}, AllowedTransitions(TrackFinal, FinalRejected))
	assert.Empty(t, AllowedTransitions(TrackFinal, FinalOverridden))
	assert.Empty(t, AllowedTransitions(TrackFinal, FinalFinalized))
}

func TestClosedWorld(t *testing.T) {
	// edges not in the table are rejected
	assert.False(t, TransitionLegal(TrackFinal, FinalOverridden, FinalPending))
	assert.False(t, TransitionLegal(TrackFinal, FinalRejected, FinalApproved))
	assert.False(t, TransitionLegal(TrackFirstLine, FirstLineApproved, FirstLineRejected))
	// unknown statuses have no edges at all
	assert.Empty(t, AllowedTransitions(TrackFinal, "archived"))
	assert.False(t, TransitionLegal(TrackFinal, "archived", FinalApproved))
}

func TestTransitionAllowedFor(t *testing.T) {
	assert.True(t, TransitionAllowedFor(TrackFirstLine, FirstLineApproved, authority.RoleTeamLead))
	assert.True(t, TransitionAllowedFor(TrackFirstLine, FirstLineRejected, authority.RoleSupreme))
	assert.False(t, TransitionAllowedFor(TrackFirstLine, FirstLineApproved, authority.RoleWorker))
	assert.False(t, TransitionAllowedFor(TrackFirstLine, FirstLineApproved, authority.RoleInvestor))

	assert.False(t, TransitionAllowedFor(TrackFinal, FinalApproved, authority.RoleTeamLead))
	assert.True(t, TransitionAllowedFor(TrackFinal, FinalApproved, authority.RoleDomainAdmin))
	assert.True(t, TransitionAllowedFor(TrackFinal, FinalOverridden, authority.RoleSupreme))
	assert.False(t, TransitionAllowedFor(TrackFinal, FinalOverridden, authority.RoleWorker))
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(FinalOverridden))
	assert.True(t, Terminal(FinalFinalized))
	assert.False(t, Terminal(FinalPending))
	assert.False(t, Terminal(FinalApproved))
	assert.False(t, Terminal(FinalRejected))
}
