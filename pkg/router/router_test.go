package router_test

import (
	"math/rand"
	"testing"

	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/launix-de/nomad-sgd/pkg/permutation"
	"github.com/launix-de/nomad-sgd/pkg/router"
	"github.com/stretchr/testify/require"
)

func TestRouteSingleMachinePicksOtherWorker(t *testing.T) {
	topo := router.Topology{
		Self:          1,
		WorkerRanks:   []int{1, 2, 3},
		SingleMachine: true,
	}
	col := model.Column{Item: 5}
	next, out, err := router.Route(topo, nil, col, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.NotEqual(t, 1, next)
	require.Equal(t, 1, out.PermIndex) // sentinel: set to self, unused for routing
}

func TestRouteOffMachineResetsPermIndex(t *testing.T) {
	topo := router.Topology{
		Self:           1,
		WorkerRanks:    []int{1, 2, 3, 4},
		LocalTeamRanks: []int{1, 2},
	}
	tbl := permutation.Build(3, []int{1, 2}, rand.New(rand.NewSource(5)))
	col := model.Column{Item: 9, PermIndex: tbl.PMax()} // at threshold: forward off-machine

	next, out, err := router.Route(topo, tbl, col, rand.New(rand.NewSource(2)))
	require.NoError(t, err)
	require.Contains(t, []int{3, 4}, next) // never the local team
	require.Equal(t, 0, out.PermIndex)
}

func TestRouteOnMachineSkipsSelf(t *testing.T) {
	topo := router.Topology{
		Self:           1,
		WorkerRanks:    []int{1, 2, 3, 4},
		LocalTeamRanks: []int{1, 2},
	}
	// The table is drawn at random; whether or not index 0 is self, the
	// scan must land on a rank other than self.
	tbl := permutation.Build(3, []int{1, 2}, rand.New(rand.NewSource(1)))
	col := model.Column{Item: 9, PermIndex: 0}

	next, out, err := router.Route(topo, tbl, col, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.NotEqual(t, topo.Self, next)
	require.Greater(t, out.PermIndex, col.PermIndex)
}

func TestRouteOffMachineExhaustionDropsColumn(t *testing.T) {
	topo := router.Topology{
		Self:           1,
		WorkerRanks:    []int{1, 2}, // every worker is local: off-machine pick always fails
		LocalTeamRanks: []int{1, 2},
	}
	tbl := permutation.Build(1, []int{1, 2}, rand.New(rand.NewSource(1)))
	col := model.Column{Item: 9, PermIndex: tbl.PMax()}

	_, _, err := router.Route(topo, tbl, col, rand.New(rand.NewSource(1)))
	require.ErrorIs(t, err, router.ErrRoutingExhausted)
}
