package allocate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumShares(shares []Share) int64 {
	var total int64
	for _, s := range shares {
		total += s.AmountCents
	}
	return total
}

func TestNormalizationBeforeSplit(t *testing.T) {
	// weights sum to 0.8, so they normalize to [0.625, 0.375, 0.0]
	shares, err := Allocate(10000, []Contribution{
		{CollaboratorID: "a", Weight: 0.5},
		{CollaboratorID: "b", Weight: 0.3},
		{CollaboratorID: "c", Weight: 0.0},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(6250), shares[0].AmountCents)
	assert.Equal(t, int64(3750), shares[1].AmountCents)
	assert.Equal(t, int64(0), shares[2].AmountCents)
	assert.Equal(t, int64(10000), sumShares(shares))
}

func TestEqualSplit(t *testing.T) {
	contribs := EqualSplit([]string{"a", "b", "c"})
	require.Len(t, contribs, 3)
	shares, err := Allocate(10000, contribs)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), sumShares(shares))
	for _, s := range shares {
		assert.InDelta(t, 3333, s.AmountCents, 1)
	}
}

func TestRemainderDistribution(t *testing.T) {
	// 100 cents over three equal weights cannot split evenly; the sum must
	// still be exact and no share may drift more than a cent.
	shares, err := Allocate(100, EqualSplit([]string{"a", "b", "c"}))
	require.NoError(t, err)
	assert.Equal(t, int64(100), sumShares(shares))
	for _, s := range shares {
		assert.InDelta(t, 33, s.AmountCents, 1)
	}
}

func TestAllZeroButOne(t *testing.T) {
	shares, err := Allocate(5000, []Contribution{
		{CollaboratorID: "a", Weight: 0},
		{CollaboratorID: "b", Weight: 0.4},
		{CollaboratorID: "c", Weight: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), shares[0].AmountCents)
	assert.Equal(t, int64(5000), shares[1].AmountCents)
	assert.Equal(t, int64(0), shares[2].AmountCents)
}

func TestSumInvariantAcrossDistributions(t *testing.T) {
	cases := [][]Contribution{
		{{CollaboratorID: "a", Weight: 1}},
		{{CollaboratorID: "a", Weight: 0.1}, {CollaboratorID: "b", Weight: 0.9}},
		{{CollaboratorID: "a", Weight: 3}, {CollaboratorID: "b", Weight: 2}, {CollaboratorID: "c", Weight: 1}},
		EqualSplit([]string{"a", "b", "c", "d", "e", "f", "g"}),
	}
	for _, totalCents := range []int64{0, 1, 99, 10000, 1234567} {
		for _, contribs := range cases {
			shares, err := Allocate(totalCents, contribs)
			require.NoError(t, err)
			assert.Equal(t, totalCents, sumShares(shares), "total=%d n=%d", totalCents, len(contribs))
		}
	}
}

func TestInvalidInputs(t *testing.T) {
	var iae InvalidAllocationError

	_, err := Allocate(100, nil)
	require.True(t, errors.As(err, &iae))

	_, err = Allocate(100, []Contribution{{CollaboratorID: "a", Weight: -0.5}, {CollaboratorID: "b", Weight: 1.5}})
	require.True(t, errors.As(err, &iae))

	_, err = Allocate(100, []Contribution{{CollaboratorID: "a", Weight: 0}, {CollaboratorID: "b", Weight: 0}})
	require.True(t, errors.As(err, &iae))

	_, err = Allocate(-1, []Contribution{{CollaboratorID: "a", Weight: 1}})
	require.True(t, errors.As(err, &iae))
}
