package permutation_test

import (
	"math/rand"
	"testing"

	"github.com/launix-de/nomad-sgd/pkg/permutation"
	"github.com/stretchr/testify/require"
)

func TestBuildCoversOnlyLocalTeam(t *testing.T) {
	local := []int{1, 2, 3}
	tbl := permutation.Build(40, local, rand.New(rand.NewSource(7)))

	require.True(t, tbl.ContainsOnlyLocalTeam(local))
	require.False(t, tbl.ContainsOnlyLocalTeam([]int{1, 2})) // excludes rank 3: must fail
	require.Equal(t, 40*3, tbl.Len())
	require.Equal(t, 40*3, tbl.PMax())
}

func TestBuildPanicsOnEmptyLocalTeam(t *testing.T) {
	require.Panics(t, func() {
		permutation.Build(40, nil, rand.New(rand.NewSource(1)))
	})
}

func TestAtWrapsAndRejectsNegative(t *testing.T) {
	tbl := permutation.Build(2, []int{1, 2}, rand.New(rand.NewSource(3)))

	_, err := tbl.At(-1)
	require.Error(t, err)

	r1, err := tbl.At(0)
	require.NoError(t, err)
	r2, err := tbl.At(tbl.Len()) // wraps back to index 0
	require.NoError(t, err)
	require.Equal(t, r1, r2)
}

// Scenario S4's grid shape: N_local=2, n_retries=3. Build draws the cells
// at random, so only the table's dimensions are checked here.
func TestScenarioS4Layout(t *testing.T) {
	tbl := permutation.Build(3, []int{1, 2}, rand.New(rand.NewSource(1)))
	require.Equal(t, 3, tbl.NRetries())
	require.Equal(t, 2, tbl.LocalSize())
}
