// Package router implements the forwarding policy that decides, after a
// column has been updated, which rank receives it next (§4.5).
package router

import (
	"fmt"
	"math/rand"

	"github.com/launix-de/nomad-sgd/pkg/model"
	"github.com/launix-de/nomad-sgd/pkg/permutation"
	"github.com/rs/zerolog/log"
)

// maxOffMachineRetries bounds the off-machine destination search (§4.5,
// §7 error kind 3): if every one of these picks lands inside the local
// team, the column is dropped rather than retried forever.
const maxOffMachineRetries = 100

// ErrRoutingExhausted is returned when Route could not find an
// off-machine destination within maxOffMachineRetries attempts. The
// caller drops the column and increments the routing-exhaustion counter.
var ErrRoutingExhausted = fmt.Errorf("router: exhausted %d off-machine routing attempts", maxOffMachineRetries)

// Topology describes the cluster shape the Router needs to make a
// decision: the calling rank, every worker rank in the world, and the
// ranks co-located with the caller (its local team, excluding rank 0).
type Topology struct {
	Self            int
	WorkerRanks     []int // every worker rank in the cluster (excludes rank 0)
	LocalTeamRanks  []int // workers co-located with Self (excludes rank 0), includes Self
	SingleMachine   bool  // true when the whole world is one local team
}

// Route chooses the next destination for col, already updated by the
// kernel, and returns the column with perm_index advanced per §4.5. rng
// must not be nil in production; tests may pass a seeded source for
// determinism.
func Route(topo Topology, tbl *permutation.Table, col model.Column, rng *rand.Rand) (next int, out model.Column, err error) {
	if topo.SingleMachine {
		return routeSingleMachine(topo, col, rng)
	}

	nLocal := localWorkerCount(topo)
	pMax := 0
	if tbl != nil {
		pMax = tbl.PMax()
	}

	if col.PermIndex >= pMax {
		return routeOffMachine(topo, col, rng)
	}
	return routeOnMachine(topo, tbl, col, nLocal)
}

// Case A: the whole cluster is one machine. Pick uniformly among workers
// other than self; perm_index becomes self (a sentinel, unused for
// routing logic in this case, per §4.5).
func routeSingleMachine(topo Topology, col model.Column, rng *rand.Rand) (int, model.Column, error) {
	others := without(topo.WorkerRanks, topo.Self)
	if len(others) == 0 {
		return 0, col, fmt.Errorf("router: no other worker to route to on a single-machine cluster")
	}
	next := others[rng.Intn(len(others))]
	out := col
	out.PermIndex = topo.Self
	return next, out, nil
}

// Case B, off-machine: reject picks that land inside the local team,
// up to maxOffMachineRetries times.
func routeOffMachine(topo Topology, col model.Column, rng *rand.Rand) (int, model.Column, error) {
	inLocalTeam := make(map[int]struct{}, len(topo.LocalTeamRanks))
	for _, r := range topo.LocalTeamRanks {
		inLocalTeam[r] = struct{}{}
	}

	for attempt := 0; attempt < maxOffMachineRetries; attempt++ {
		candidate := topo.WorkerRanks[rng.Intn(len(topo.WorkerRanks))]
		if _, local := inLocalTeam[candidate]; !local {
			out := col
			out.PermIndex = 0
			return candidate, out, nil
		}
	}

	log.Warn().Int("item", col.Item).Msg("routing exhaustion: dropping column after 100 off-machine retries")
	return 0, model.Column{}, ErrRoutingExhausted
}

// Case B, on-machine: scan PERM starting at perm_index, skipping entries
// equal to self, until a different rank is found.
func routeOnMachine(topo Topology, tbl *permutation.Table, col model.Column, nLocal int) (int, model.Column, error) {
	idx := col.PermIndex
	for scanned := 0; scanned <= tbl.Len(); scanned++ {
		rank, err := tbl.At(idx)
		if err != nil {
			return 0, col, err
		}
		if rank != topo.Self {
			out := col
			out.PermIndex = idx + 1
			return rank, out, nil
		}
		idx++
	}
	return 0, col, fmt.Errorf("router: permutation table for this machine names only self (rank %d); nothing to route to on-machine", topo.Self)
}

func localWorkerCount(topo Topology) int {
	return len(topo.LocalTeamRanks)
}

func without(ranks []int, exclude int) []int {
	out := make([]int, 0, len(ranks))
	for _, r := range ranks {
		if r != exclude {
			out = append(out, r)
		}
	}
	return out
}
