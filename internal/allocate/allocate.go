package allocate

import (
	"fmt"
	"math"
	"sort"
)

// Contribution is one collaborator's weighted claim on a shared total.
type Contribution struct {
	CollaboratorID string
	Weight         float64
}

// Share is the computed payout for one collaborator, in integer cents.
type Share struct {
	CollaboratorID string
	AmountCents    int64
}

// InvalidAllocationError reports an input the allocator cannot split.
type InvalidAllocationError struct {
	Reason string
}

func (e InvalidAllocationError) Error() string {
	return fmt.Sprintf("invalid allocation: %s", e.Reason)
}

// EqualSplit builds an equal-weight contribution list for collaborators with
// no assigned weights.
func EqualSplit(collaboratorIDs []string) []Contribution {
	if len(collaboratorIDs) == 0 {
		return nil
	}
	w := 1.0 / float64(len(collaboratorIDs))
	out := make([]Contribution, len(collaboratorIDs))
	for i, id := range collaboratorIDs {
		out[i] = Contribution{CollaboratorID: id, Weight: w}
	}
	return out
}

// Allocate splits totalCents across the contributions by weight. Weights that
// do not sum to 1.0 are normalized by their sum first, so the resulting
// amounts always total exactly totalCents. Remainder cents after flooring are
// handed out by largest fractional part, input order breaking ties.
//
// A single zero weight is legal (acknowledged but unpaid participation); an
// empty list, a negative weight, a negative total, or a weight sum of zero is
// an InvalidAllocationError.
func Allocate(totalCents int64, contribs []Contribution) ([]Share, error) {
	if len(contribs) == 0 {
		return nil, InvalidAllocationError{Reason: "no collaborators"}
	}
	if totalCents < 0 {
		return nil, InvalidAllocationError{Reason: "negative total"}
	}
	var sum float64
	for _, c := range contribs {
		if c.Weight < 0 {
			return nil, InvalidAllocationError{Reason: fmt.Sprintf("negative weight for %s", c.CollaboratorID)}
		}
		sum += c.Weight
	}
	if sum == 0 {
		return nil, InvalidAllocationError{Reason: "weights sum to zero"}
	}

	shares := make([]Share, len(contribs))
	fracs := make([]float64, len(contribs))
	var allocated int64
	for i, c := range contribs {
		exact := float64(totalCents) * (c.Weight / sum)
		floor := math.Floor(exact)
		shares[i] = Share{CollaboratorID: c.CollaboratorID, AmountCents: int64(floor)}
		fracs[i] = exact - floor
		allocated += int64(floor)
	}

	remainder := totalCents - allocated
	if remainder > 0 {
		order := make([]int, len(contribs))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return fracs[order[a]] > fracs[order[b]] })
		for i := int64(0); i < remainder; i++ {
			shares[order[i%int64(len(order))]].AmountCents++
		}
	}
	return shares, nil
}
